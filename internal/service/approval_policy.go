package service

import "github.com/pesio-ai/be-ppm-changes/internal/repository"

// Approver roles used by the default threshold tiers.
const (
	RoleProjectManager   = "project_manager"
	RolePortfolioManager = "portfolio_manager"
	RoleExecutive        = "executive"
)

// Default cost ceilings, in cents.
const (
	projectManagerLimitCents   int64 = 5_000_000  // $50,000
	portfolioManagerLimitCents int64 = 20_000_000 // $200,000
)

// ApprovalLevel is one tier in the chain of required sign-offs for a change
// order, derived from cost impact. Levels are ordered 1..N with strictly
// increasing ceilings; the final tier is always open-ended.
type ApprovalLevel struct {
	Level      int    `json:"level"`
	Role       string `json:"role"`
	LimitCents *int64 `json:"limit_cents,omitempty"` // nil = no ceiling
	Required   bool   `json:"required"`
}

// DefaultApprovalTiers returns the built-in tier table: project manager up
// to $50k, portfolio manager up to $200k, executive above that.
func DefaultApprovalTiers() []ApprovalLevel {
	pmLimit := projectManagerLimitCents
	portLimit := portfolioManagerLimitCents
	return []ApprovalLevel{
		{Level: 1, Role: RoleProjectManager, LimitCents: &pmLimit, Required: true},
		{Level: 2, Role: RolePortfolioManager, LimitCents: &portLimit, Required: true},
		{Level: 3, Role: RoleExecutive, Required: true},
	}
}

// LevelsForCost returns the ordered approval levels a change order of the
// given cost impact requires under the default tiers. Deterministic for
// identical input; audit history replays depend on that.
func LevelsForCost(costCents int64) []ApprovalLevel {
	return levelsForCost(DefaultApprovalTiers(), costCents)
}

// levelsForCost walks the tier table in order, including each tier and
// stopping at the first whose ceiling covers the cost. A cost above every
// finite ceiling requires all tiers including the open-ended one.
func levelsForCost(tiers []ApprovalLevel, costCents int64) []ApprovalLevel {
	if len(tiers) == 0 {
		// Never return zero levels; a change order always needs at
		// least one sign-off.
		return []ApprovalLevel{{Level: 1, Role: RoleProjectManager, Required: true}}
	}

	var levels []ApprovalLevel
	for _, tier := range tiers {
		levels = append(levels, tier)
		if tier.LimitCents != nil && costCents <= *tier.LimitCents {
			break
		}
	}
	return levels
}

// levelsFromRule converts a configured approval rule's steps into levels.
// Rule steps carry no cost ceilings; the rule's own cost band already
// selected them.
func levelsFromRule(rule *repository.ApprovalRule) []ApprovalLevel {
	levels := make([]ApprovalLevel, 0, len(rule.ApprovalSteps))
	for _, step := range rule.ApprovalSteps {
		levels = append(levels, ApprovalLevel{
			Level:    step.Level,
			Role:     step.Role,
			Required: step.Required,
		})
	}
	return levels
}
