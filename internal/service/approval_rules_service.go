package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-ppm-changes/internal/apperrors"
	"github.com/pesio-ai/be-ppm-changes/internal/repository"
)

// ApprovalRulesService manages configurable per-project routing rules.
type ApprovalRulesService struct {
	rules RuleStore
	log   zerolog.Logger
}

// NewApprovalRulesService creates a new ApprovalRulesService.
func NewApprovalRulesService(rules RuleStore, log zerolog.Logger) *ApprovalRulesService {
	return &ApprovalRulesService{rules: rules, log: log}
}

// SaveRuleRequest carries the writable fields of an approval rule.
type SaveRuleRequest struct {
	ProjectID     string                        `json:"project_id" binding:"required"`
	RuleName      string                        `json:"rule_name" binding:"required"`
	IsActive      *bool                         `json:"is_active"`
	MinCostCents  *int64                        `json:"min_cost_cents"`
	MaxCostCents  *int64                        `json:"max_cost_cents"`
	ApprovalSteps []repository.ApprovalRuleStep `json:"approval_steps" binding:"required"`
	Priority      int                           `json:"priority"`
}

func (r SaveRuleRequest) validate() error {
	if len(r.ApprovalSteps) == 0 {
		return apperrors.InvalidInput("approval_steps", "at least one step is required")
	}
	for _, step := range r.ApprovalSteps {
		if step.Level <= 0 {
			return apperrors.InvalidInput("approval_steps", "step levels must be positive")
		}
		if step.Role == "" {
			return apperrors.InvalidInput("approval_steps", "every step needs a role")
		}
	}
	if r.MinCostCents != nil && *r.MinCostCents < 0 {
		return apperrors.InvalidInput("min_cost_cents", "must not be negative")
	}
	if r.MinCostCents != nil && r.MaxCostCents != nil && *r.MaxCostCents <= *r.MinCostCents {
		return apperrors.InvalidInput("max_cost_cents", "must be greater than min_cost_cents")
	}
	return nil
}

// Create stores a new rule. New rules are active unless is_active is
// explicitly false.
func (s *ApprovalRulesService) Create(ctx context.Context, req SaveRuleRequest) (*repository.ApprovalRule, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	rule := &repository.ApprovalRule{
		ProjectID:     req.ProjectID,
		RuleName:      req.RuleName,
		IsActive:      req.IsActive == nil || *req.IsActive,
		MinCostCents:  req.MinCostCents,
		MaxCostCents:  req.MaxCostCents,
		ApprovalSteps: req.ApprovalSteps,
		Priority:      req.Priority,
	}

	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("rule_id", rule.ID).
		Str("project_id", rule.ProjectID).
		Str("rule_name", rule.RuleName).
		Msg("Approval rule created")

	return rule, nil
}

// Update replaces a rule's writable fields.
func (s *ApprovalRulesService) Update(ctx context.Context, id string, req SaveRuleRequest) (*repository.ApprovalRule, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rule.RuleName = req.RuleName
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	rule.MinCostCents = req.MinCostCents
	rule.MaxCostCents = req.MaxCostCents
	rule.ApprovalSteps = req.ApprovalSteps
	rule.Priority = req.Priority

	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// GetByID retrieves one rule.
func (s *ApprovalRulesService) GetByID(ctx context.Context, id string) (*repository.ApprovalRule, error) {
	return s.rules.GetByID(ctx, id)
}

// List returns all rules for a project, active or not.
func (s *ApprovalRulesService) List(ctx context.Context, projectID string) ([]*repository.ApprovalRule, error) {
	return s.rules.List(ctx, projectID)
}

// Deactivate soft-disables a rule. Matching falls through to the remaining
// rules, then to the default threshold tiers.
func (s *ApprovalRulesService) Deactivate(ctx context.Context, id string) error {
	if err := s.rules.Deactivate(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("rule_id", id).Msg("Approval rule deactivated")
	return nil
}

// Preview reports which levels a hypothetical cost impact would route
// through under the current rule set.
func (s *ApprovalRulesService) Preview(ctx context.Context, projectID string, costCents int64) ([]ApprovalLevel, error) {
	if costCents < 0 {
		return nil, apperrors.InvalidInput("cost_impact_cents", "must not be negative")
	}
	rule, err := s.rules.FindMatchingRule(ctx, projectID, costCents)
	if err != nil {
		return nil, err
	}
	if rule != nil {
		return levelsFromRule(rule), nil
	}
	return LevelsForCost(costCents), nil
}
