// Package cache provides the redis-backed read-through cache for approval
// rule sets. Rules are read on every workflow initiation but change rarely,
// so they are the one piece of state this service caches. Workflow and
// approval state is never cached: completion is always re-derived from rows.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pesio-ai/be-ppm-changes/internal/repository"
)

const rulesKeyPrefix = "ppm:approval_rules:"

// RulesCache caches the active rule set per project. A nil *RulesCache is
// valid and disables caching.
type RulesCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a RulesCache over an existing redis client.
func New(client *redis.Client, ttl time.Duration) *RulesCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RulesCache{client: client, ttl: ttl}
}

func key(projectID string) string {
	return rulesKeyPrefix + projectID
}

// Get returns the cached rule set for a project. The second return value is
// false on miss, decode failure, or redis error; callers fall back to the
// database.
func (c *RulesCache) Get(ctx context.Context, projectID string) ([]*repository.ApprovalRule, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, key(projectID)).Bytes()
	if err != nil {
		return nil, false
	}

	var rules []*repository.ApprovalRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, false
	}
	return rules, true
}

// Set stores a project's rule set. Failures are silent; the cache is an
// optimization, never a source of truth.
func (c *RulesCache) Set(ctx context.Context, projectID string, rules []*repository.ApprovalRule) {
	if c == nil || c.client == nil {
		return
	}

	data, err := json.Marshal(rules)
	if err != nil {
		return
	}
	c.client.Set(ctx, key(projectID), data, c.ttl)
}

// Invalidate drops a project's cached rule set after a rule mutation.
func (c *RulesCache) Invalidate(ctx context.Context, projectID string) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Del(ctx, key(projectID))
}
