package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ppm-changes/internal/apperrors"
	"github.com/pesio-ai/be-ppm-changes/internal/database"
)

// RuleCache is the read-through cache fronting per-project rule sets.
// Implemented by cache.RulesCache; nil-safe implementations disable caching.
type RuleCache interface {
	Get(ctx context.Context, projectID string) ([]*ApprovalRule, bool)
	Set(ctx context.Context, projectID string, rules []*ApprovalRule)
	Invalidate(ctx context.Context, projectID string)
}

// ApprovalRulesRepository handles CRUD for change_order_approval_rules.
type ApprovalRulesRepository struct {
	db    *database.DB
	cache RuleCache
}

// NewApprovalRulesRepository creates a new ApprovalRulesRepository. cache may
// be nil.
func NewApprovalRulesRepository(db *database.DB, cache RuleCache) *ApprovalRulesRepository {
	return &ApprovalRulesRepository{db: db, cache: cache}
}

const ruleColumns = `
	id, project_id, rule_name, is_active,
	min_cost_cents, max_cost_cents,
	approval_steps, priority, created_at, updated_at
`

// Create inserts a new approval rule and invalidates the project's cached
// rule set.
func (r *ApprovalRulesRepository) Create(ctx context.Context, rule *ApprovalRule) error {
	stepsJSON, err := json.Marshal(rule.ApprovalSteps)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal approval steps")
	}

	query := `
		INSERT INTO change_order_approval_rules
		    (project_id, rule_name, is_active,
		     min_cost_cents, max_cost_cents,
		     approval_steps, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rule.ProjectID,
		rule.RuleName,
		rule.IsActive,
		rule.MinCostCents,
		rule.MaxCostCents,
		stepsJSON,
		rule.Priority,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create approval rule")
	}

	if r.cache != nil {
		r.cache.Invalidate(ctx, rule.ProjectID)
	}
	return nil
}

// GetByID retrieves a rule by primary key.
func (r *ApprovalRulesRepository) GetByID(ctx context.Context, id string) (*ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM change_order_approval_rules WHERE id = $1`

	rule, err := r.scanRule(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("approval_rule", id)
	}
	return rule, err
}

// ListActive returns the active rules for a project ordered by priority,
// served from cache when possible.
func (r *ApprovalRulesRepository) ListActive(ctx context.Context, projectID string) ([]*ApprovalRule, error) {
	if r.cache != nil {
		if rules, ok := r.cache.Get(ctx, projectID); ok {
			return rules, nil
		}
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM change_order_approval_rules
		WHERE project_id = $1
		  AND is_active = TRUE
		ORDER BY priority ASC, rule_name ASC
	`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	var rules []*ApprovalRule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan approval rule")
		}
		rules = append(rules, rule)
	}

	if r.cache != nil {
		r.cache.Set(ctx, projectID, rules)
	}
	return rules, nil
}

// List returns all rules for a project, active or not. Admin surface; always
// reads the database.
func (r *ApprovalRulesRepository) List(ctx context.Context, projectID string) ([]*ApprovalRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM change_order_approval_rules
		WHERE project_id = $1
		ORDER BY priority ASC, rule_name ASC
	`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	var rules []*ApprovalRule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan approval rule")
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// FindMatchingRule evaluates active rules in priority order and returns the
// first whose cost band contains the change order's cost impact. Returns nil
// (no error) when no rule matches; the caller falls back to the default
// threshold tiers.
func (r *ApprovalRulesRepository) FindMatchingRule(ctx context.Context, projectID string, costCents int64) (*ApprovalRule, error) {
	rules, err := r.ListActive(ctx, projectID)
	if err != nil {
		return nil, err
	}

	for _, rule := range rules {
		if ruleMatches(rule, costCents) {
			return rule, nil
		}
	}
	return nil, nil
}

func ruleMatches(rule *ApprovalRule, costCents int64) bool {
	if len(rule.ApprovalSteps) == 0 {
		return false
	}
	if rule.MinCostCents != nil && costCents < *rule.MinCostCents {
		return false
	}
	if rule.MaxCostCents != nil && costCents >= *rule.MaxCostCents {
		return false
	}
	return true
}

// Update persists changes to an existing rule and invalidates the cache.
func (r *ApprovalRulesRepository) Update(ctx context.Context, rule *ApprovalRule) error {
	stepsJSON, err := json.Marshal(rule.ApprovalSteps)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal approval steps")
	}

	query := `
		UPDATE change_order_approval_rules
		SET rule_name      = $2,
		    is_active      = $3,
		    min_cost_cents = $4,
		    max_cost_cents = $5,
		    approval_steps = $6,
		    priority       = $7,
		    updated_at     = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rule.ID,
		rule.RuleName,
		rule.IsActive,
		rule.MinCostCents,
		rule.MaxCostCents,
		stepsJSON,
		rule.Priority,
	).Scan(&rule.UpdatedAt)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("approval_rule", rule.ID)
	}
	if err != nil {
		return err
	}

	if r.cache != nil {
		r.cache.Invalidate(ctx, rule.ProjectID)
	}
	return nil
}

// Deactivate soft-disables a rule. Rules are never hard-deleted once a
// workflow may have been routed by them.
func (r *ApprovalRulesRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE change_order_approval_rules
		SET is_active  = FALSE,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING project_id
	`

	var projectID string
	err := r.db.QueryRow(ctx, query, id).Scan(&projectID)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("approval_rule", id)
	}
	if err != nil {
		return err
	}

	if r.cache != nil {
		r.cache.Invalidate(ctx, projectID)
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type ruleScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRulesRepository) scanRule(row ruleScanner) (*ApprovalRule, error) {
	rule := &ApprovalRule{}
	var stepsJSON []byte

	err := row.Scan(
		&rule.ID,
		&rule.ProjectID,
		&rule.RuleName,
		&rule.IsActive,
		&rule.MinCostCents,
		&rule.MaxCostCents,
		&stepsJSON,
		&rule.Priority,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stepsJSON, &rule.ApprovalSteps); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal approval steps")
	}
	return rule, nil
}
