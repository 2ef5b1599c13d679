package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-ppm-changes/internal/apperrors"
	"github.com/pesio-ai/be-ppm-changes/internal/repository"
)

// ApprovalWorkflowService orchestrates the multi-level change order approval
// workflow: it builds approval chains from cost impact, resolves approvers,
// records decisions, and rolls the aggregate outcome up into the change
// order's status.
//
// Completion is always re-derived from the persisted approval rows, never
// cached, so the completion check is safe to re-run after concurrent
// decisions.
type ApprovalWorkflowService struct {
	changeOrders ChangeOrderStore
	workflows    WorkflowStore
	approvals    ApprovalStore
	rules        RuleStore
	members      MembershipStore
	audit        AuditStore
	notifier     Notifier
	log          zerolog.Logger
}

// NewApprovalWorkflowService creates a new ApprovalWorkflowService.
// rules, audit and notifier may be nil.
func NewApprovalWorkflowService(
	changeOrders ChangeOrderStore,
	workflows WorkflowStore,
	approvals ApprovalStore,
	rules RuleStore,
	members MembershipStore,
	audit AuditStore,
	notifier Notifier,
	log zerolog.Logger,
) *ApprovalWorkflowService {
	return &ApprovalWorkflowService{
		changeOrders: changeOrders,
		workflows:    workflows,
		approvals:    approvals,
		rules:        rules,
		members:      members,
		audit:        audit,
		notifier:     notifier,
		log:          log,
	}
}

// WorkflowConfig optionally overrides the tier table for one workflow run.
type WorkflowConfig struct {
	Tiers []ApprovalLevel
}

// DecisionRequest carries an approver's comments and conditions.
type DecisionRequest struct {
	Comments   *string
	Conditions *string
}

// DecisionResult summarizes a recorded decision.
type DecisionResult struct {
	ApprovalID string `json:"approval_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// WorkflowSummary is returned by InitiateWorkflow.
type WorkflowSummary struct {
	WorkflowID       string                       `json:"workflow_id"`
	ChangeOrderID    string                       `json:"change_order_id"`
	Status           string                       `json:"status"`
	CurrentLevel     int                          `json:"current_level"`
	TotalLevels      int                          `json:"total_levels"`
	PendingApprovals []*repository.ApprovalRecord `json:"pending_approvals"`
}

// WorkflowLevelStatus projects one approval record for status display.
type WorkflowLevelStatus struct {
	Level              int        `json:"level"`
	Role               string     `json:"role"`
	Status             string     `json:"status"`
	ApproverUserID     string     `json:"approver_user_id"`
	DelegatedTo        *string    `json:"delegated_to,omitempty"`
	ApprovalLimitCents *int64     `json:"approval_limit_cents,omitempty"`
	ApprovalDate       *time.Time `json:"approval_date,omitempty"`
	Comments           *string    `json:"comments,omitempty"`
	Conditions         *string    `json:"conditions,omitempty"`
}

// WorkflowStatus is the full level breakdown for a change order.
type WorkflowStatus struct {
	WorkflowID    string                `json:"workflow_id"`
	ChangeOrderID string                `json:"change_order_id"`
	Status        string                `json:"status"`
	CurrentLevel  int                   `json:"current_level"`
	TotalLevels   int                   `json:"total_levels"`
	Levels        []WorkflowLevelStatus `json:"levels"`
	IsComplete    bool                  `json:"is_complete"`
	CanProceed    bool                  `json:"can_proceed"`
}

// ── Workflow creation ─────────────────────────────────────────────────────────

// InitiateWorkflow computes the required approval levels for a change order,
// resolves an approver for each, and persists the workflow instance with one
// pending approval record per level. The change order's own status is not
// touched here.
func (s *ApprovalWorkflowService) InitiateWorkflow(ctx context.Context, changeOrderID string, cfg *WorkflowConfig, initiatedBy string) (*WorkflowSummary, error) {
	co, err := s.changeOrders.GetByID(ctx, changeOrderID)
	if err != nil {
		return nil, err
	}

	switch co.Status {
	case repository.ChangeOrderStatusApproved, repository.ChangeOrderStatusRejected, repository.ChangeOrderStatusCancelled:
		return nil, apperrors.Newf(apperrors.ErrCodeConflict,
			"cannot start approval workflow for change order with status '%s'", co.Status)
	}

	existing, err := s.workflows.GetActiveByChangeOrderID(ctx, changeOrderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.New(apperrors.ErrCodeConflict,
			"change order already has an active approval workflow")
	}

	levels, err := s.resolveLevels(ctx, co, cfg)
	if err != nil {
		return nil, err
	}

	records := make([]*repository.ApprovalRecord, 0, len(levels))
	for i, lvl := range levels {
		approver := s.resolveApprover(ctx, co.ProjectID, lvl.Role)
		if approver == "" {
			// No role assignment: fall back to the creator so the
			// workflow can never stall for lack of an assignable human.
			approver = co.CreatedBy
		}
		records = append(records, &repository.ApprovalRecord{
			ApprovalLevel:      lvl.Level,
			ApproverRole:       lvl.Role,
			ApproverUserID:     approver,
			ApprovalLimitCents: lvl.LimitCents,
			Status:             repository.ApprovalStatusPending,
			IsRequired:         lvl.Required,
			SequenceOrder:      i + 1,
		})
	}

	if initiatedBy == "" {
		initiatedBy = co.CreatedBy
	}

	wf := &repository.ApprovalWorkflow{
		ChangeOrderID: co.ID,
		ProjectID:     co.ProjectID,
		Status:        repository.WorkflowStatusActive,
		TotalLevels:   len(records),
		CurrentLevel:  1,
		InitiatedBy:   initiatedBy,
	}

	if err := s.workflows.Create(ctx, wf, records); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		ChangeOrderID: co.ID,
		WorkflowID:    &wf.ID,
		ProjectID:     co.ProjectID,
		Action:        "workflow_created",
		PerformedBy:   initiatedBy,
		Metadata: map[string]any{
			"total_levels":      len(records),
			"cost_impact_cents": co.CostImpactCents,
		},
	})

	s.notify(ctx, "approval_required", co, initiatedBy, approverIDs(records), map[string]any{
		"change_order_number": co.ChangeOrderNumber,
		"title":               co.Title,
	})

	s.log.Info().
		Str("change_order_id", co.ID).
		Str("workflow_id", wf.ID).
		Int("total_levels", wf.TotalLevels).
		Msg("Approval workflow created")

	return &WorkflowSummary{
		WorkflowID:       wf.ID,
		ChangeOrderID:    co.ID,
		Status:           wf.Status,
		CurrentLevel:     wf.CurrentLevel,
		TotalLevels:      wf.TotalLevels,
		PendingApprovals: records,
	}, nil
}

// resolveLevels picks the tier source for one workflow run: an explicit
// config override, then a matching configured rule, then the default
// threshold tiers.
func (s *ApprovalWorkflowService) resolveLevels(ctx context.Context, co *repository.ChangeOrder, cfg *WorkflowConfig) ([]ApprovalLevel, error) {
	if cfg != nil && len(cfg.Tiers) > 0 {
		return levelsForCost(cfg.Tiers, co.CostImpactCents), nil
	}

	if s.rules != nil {
		rule, err := s.rules.FindMatchingRule(ctx, co.ProjectID, co.CostImpactCents)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			s.log.Debug().
				Str("change_order_id", co.ID).
				Str("rule_id", rule.ID).
				Msg("approval rule matched")
			return levelsFromRule(rule), nil
		}
	}

	return LevelsForCost(co.CostImpactCents), nil
}

// resolveApprover looks up the user holding a role on the project. Lookup
// failures are treated the same as "not assigned" so that approver
// resolution never blocks workflow creation.
func (s *ApprovalWorkflowService) resolveApprover(ctx context.Context, projectID, role string) string {
	userID, err := s.members.FindUserWithRole(ctx, projectID, role)
	if err != nil {
		s.log.Warn().Err(err).
			Str("project_id", projectID).
			Str("role", role).
			Msg("approver lookup failed; falling back to creator")
		return ""
	}
	if userID == nil {
		return ""
	}
	return *userID
}

// ── Decisions ─────────────────────────────────────────────────────────────────

// Approve records an approval for one level, then re-derives the workflow's
// completion state. When every required record is approved the change order
// flips to approved exactly once (the update is idempotent).
func (s *ApprovalWorkflowService) Approve(ctx context.Context, approvalID string, req DecisionRequest, actingUserID string) (*DecisionResult, error) {
	rec, err := s.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if rec.Status != repository.ApprovalStatusPending {
		return nil, apperrors.Newf(apperrors.ErrCodeConflict,
			"approval is not pending (status: %s)", rec.Status)
	}
	if err := s.assertCanAct(rec, actingUserID); err != nil {
		return nil, err
	}

	if err := s.approvals.RecordDecision(ctx, rec.ID, repository.ApprovalStatusApproved, req.Comments, req.Conditions); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		ChangeOrderID: rec.ChangeOrderID,
		WorkflowID:    &rec.WorkflowID,
		ApprovalID:    &rec.ID,
		Action:        "approved",
		PerformedBy:   actingUserID,
		Metadata:      map[string]any{"level": rec.ApprovalLevel},
	})

	if err := s.checkWorkflowCompletion(ctx, rec.WorkflowID, actingUserID); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("approval_id", rec.ID).
		Str("change_order_id", rec.ChangeOrderID).
		Int("level", rec.ApprovalLevel).
		Str("acted_by", actingUserID).
		Msg("Approval recorded")

	return &DecisionResult{
		ApprovalID: rec.ID,
		Status:     repository.ApprovalStatusApproved,
		Message:    "approval recorded",
	}, nil
}

// Reject records a rejection and immediately fails the change order. The
// remaining pending levels are left untouched; they become moot once the
// parent is rejected.
func (s *ApprovalWorkflowService) Reject(ctx context.Context, approvalID string, req DecisionRequest, actingUserID string) (*DecisionResult, error) {
	rec, err := s.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if rec.Status != repository.ApprovalStatusPending {
		return nil, apperrors.Newf(apperrors.ErrCodeConflict,
			"approval is not pending (status: %s)", rec.Status)
	}
	if err := s.assertCanAct(rec, actingUserID); err != nil {
		return nil, err
	}

	if err := s.approvals.RecordDecision(ctx, rec.ID, repository.ApprovalStatusRejected, req.Comments, req.Conditions); err != nil {
		return nil, err
	}

	var updatedBy *string
	if actingUserID != "" {
		updatedBy = &actingUserID
	}
	if err := s.changeOrders.UpdateStatus(ctx, rec.ChangeOrderID, repository.ChangeOrderStatusRejected, updatedBy); err != nil {
		return nil, err
	}

	statusBefore := repository.ChangeOrderStatusPendingApproval
	statusAfter := repository.ChangeOrderStatusRejected
	s.appendAudit(ctx, &repository.AuditEntry{
		ChangeOrderID: rec.ChangeOrderID,
		WorkflowID:    &rec.WorkflowID,
		ApprovalID:    &rec.ID,
		Action:        "rejected",
		PerformedBy:   actingUserID,
		StatusBefore:  &statusBefore,
		StatusAfter:   &statusAfter,
		Metadata:      map[string]any{"level": rec.ApprovalLevel},
	})

	if co, coErr := s.changeOrders.GetByID(ctx, rec.ChangeOrderID); coErr == nil {
		s.notify(ctx, "change_order_rejected", co, actingUserID, []string{co.CreatedBy}, map[string]any{
			"change_order_number": co.ChangeOrderNumber,
			"level":               rec.ApprovalLevel,
		})
	}

	s.log.Info().
		Str("approval_id", rec.ID).
		Str("change_order_id", rec.ChangeOrderID).
		Int("level", rec.ApprovalLevel).
		Str("acted_by", actingUserID).
		Msg("Approval rejected; change order failed")

	return &DecisionResult{
		ApprovalID: rec.ID,
		Status:     repository.ApprovalStatusRejected,
		Message:    "rejection recorded",
	}, nil
}

// Delegate reassigns a pending approval to another user. Delegation is not a
// decision: the record stays pending and the delegate becomes an alternate
// acting identity who may still approve or reject.
func (s *ApprovalWorkflowService) Delegate(ctx context.Context, approvalID, delegateToUserID, actingUserID string) (*DecisionResult, error) {
	if delegateToUserID == "" {
		return nil, apperrors.InvalidInput("delegate_to_user_id", "required")
	}

	rec, err := s.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if rec.Status != repository.ApprovalStatusPending {
		return nil, apperrors.Newf(apperrors.ErrCodeConflict,
			"approval is not pending (status: %s)", rec.Status)
	}
	if err := s.assertCanAct(rec, actingUserID); err != nil {
		return nil, err
	}

	if err := s.approvals.Delegate(ctx, rec.ID, delegateToUserID); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		ChangeOrderID: rec.ChangeOrderID,
		WorkflowID:    &rec.WorkflowID,
		ApprovalID:    &rec.ID,
		Action:        "delegated",
		PerformedBy:   actingUserID,
		Metadata: map[string]any{
			"delegated_to": delegateToUserID,
			"level":        rec.ApprovalLevel,
		},
	})

	if co, coErr := s.changeOrders.GetByID(ctx, rec.ChangeOrderID); coErr == nil {
		s.notify(ctx, "approval_delegated", co, actingUserID, []string{delegateToUserID}, map[string]any{
			"change_order_number": co.ChangeOrderNumber,
			"level":               rec.ApprovalLevel,
		})
	}

	s.log.Info().
		Str("approval_id", rec.ID).
		Str("delegated_to", delegateToUserID).
		Str("acted_by", actingUserID).
		Msg("Approval delegated")

	return &DecisionResult{
		ApprovalID: rec.ID,
		Status:     repository.ApprovalStatusPending,
		Message:    "approval delegated",
	}, nil
}

// ── Cancellation ──────────────────────────────────────────────────────────────

// CancelWorkflow closes out the active workflow for a change order, if one
// exists. Pending records are cancelled so no approver can act on them;
// already-decided records keep their outcome for history.
func (s *ApprovalWorkflowService) CancelWorkflow(ctx context.Context, changeOrderID, cancelledBy string) error {
	wf, err := s.workflows.GetActiveByChangeOrderID(ctx, changeOrderID)
	if err != nil {
		return err
	}
	if wf == nil {
		return nil
	}

	if err := s.approvals.CancelPending(ctx, wf.ID); err != nil {
		return err
	}
	if err := s.workflows.Cancel(ctx, wf.ID, time.Now()); err != nil {
		return err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		ChangeOrderID: changeOrderID,
		WorkflowID:    &wf.ID,
		ProjectID:     wf.ProjectID,
		Action:        "workflow_cancelled",
		PerformedBy:   cancelledBy,
	})

	s.log.Info().
		Str("workflow_id", wf.ID).
		Str("change_order_id", changeOrderID).
		Msg("Approval workflow cancelled")

	return nil
}

// checkWorkflowCompletion reloads every approval record for the instance and
// derives the aggregate outcome fresh. Any rejection means the reject path
// already owns the terminal transition; otherwise, all required records
// approved completes the workflow and approves the change order.
func (s *ApprovalWorkflowService) checkWorkflowCompletion(ctx context.Context, workflowID, actingUserID string) error {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status != repository.WorkflowStatusActive {
		return nil
	}

	records, err := s.approvals.ListByWorkflowID(ctx, workflowID)
	if err != nil {
		return err
	}

	lowestPendingLevel := 0
	pendingRequired := 0
	for _, rec := range records {
		if rec.Status == repository.ApprovalStatusRejected {
			return nil
		}
		if rec.Status == repository.ApprovalStatusPending {
			if lowestPendingLevel == 0 || rec.ApprovalLevel < lowestPendingLevel {
				lowestPendingLevel = rec.ApprovalLevel
			}
			if rec.IsRequired {
				pendingRequired++
			}
		}
	}

	if pendingRequired > 0 {
		if lowestPendingLevel > 0 && lowestPendingLevel != wf.CurrentLevel {
			return s.workflows.SetCurrentLevel(ctx, wf.ID, lowestPendingLevel)
		}
		return nil
	}

	now := time.Now()
	if err := s.workflows.Complete(ctx, wf.ID, now); err != nil {
		return err
	}
	if err := s.changeOrders.Approve(ctx, wf.ChangeOrderID, now); err != nil {
		return err
	}

	statusBefore := repository.ChangeOrderStatusPendingApproval
	statusAfter := repository.ChangeOrderStatusApproved
	s.appendAudit(ctx, &repository.AuditEntry{
		ChangeOrderID: wf.ChangeOrderID,
		WorkflowID:    &wf.ID,
		ProjectID:     wf.ProjectID,
		Action:        "workflow_completed",
		PerformedBy:   actingUserID,
		StatusBefore:  &statusBefore,
		StatusAfter:   &statusAfter,
	})

	if co, coErr := s.changeOrders.GetByID(ctx, wf.ChangeOrderID); coErr == nil {
		s.notify(ctx, "change_order_approved", co, actingUserID, []string{co.CreatedBy}, map[string]any{
			"change_order_number": co.ChangeOrderNumber,
		})
	}

	s.log.Info().
		Str("workflow_id", wf.ID).
		Str("change_order_id", wf.ChangeOrderID).
		Msg("All required approvals complete; change order approved")

	return nil
}

// ── Query surface ─────────────────────────────────────────────────────────────

// GetPendingApprovals returns all records awaiting action from a user,
// whether assigned directly or via delegation.
func (s *ApprovalWorkflowService) GetPendingApprovals(ctx context.Context, userID string) ([]*repository.PendingApproval, error) {
	return s.approvals.ListPendingForUser(ctx, userID)
}

// GetWorkflowStatus returns the full level breakdown for a change order's
// most recent workflow.
func (s *ApprovalWorkflowService) GetWorkflowStatus(ctx context.Context, changeOrderID string) (*WorkflowStatus, error) {
	wf, err := s.workflows.GetByChangeOrderID(ctx, changeOrderID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, apperrors.NotFound("approval_workflow", changeOrderID)
	}

	records, err := s.approvals.ListByWorkflowID(ctx, wf.ID)
	if err != nil {
		return nil, err
	}

	status := &WorkflowStatus{
		WorkflowID:    wf.ID,
		ChangeOrderID: wf.ChangeOrderID,
		Status:        wf.Status,
		CurrentLevel:  wf.CurrentLevel,
		TotalLevels:   wf.TotalLevels,
		Levels:        make([]WorkflowLevelStatus, 0, len(records)),
		IsComplete:    true,
	}

	for _, rec := range records {
		if rec.Status == repository.ApprovalStatusPending {
			status.IsComplete = false
		}
		status.Levels = append(status.Levels, WorkflowLevelStatus{
			Level:              rec.ApprovalLevel,
			Role:               rec.ApproverRole,
			Status:             rec.Status,
			ApproverUserID:     rec.ApproverUserID,
			DelegatedTo:        rec.DelegatedTo,
			ApprovalLimitCents: rec.ApprovalLimitCents,
			ApprovalDate:       rec.ApprovalDate,
			Comments:           rec.Comments,
			Conditions:         rec.Conditions,
		})
	}
	status.CanProceed = !status.IsComplete

	return status, nil
}

// GetApprovalHistory returns the audit trail for a change order.
func (s *ApprovalWorkflowService) GetApprovalHistory(ctx context.Context, changeOrderID string) ([]*repository.AuditEntry, error) {
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.ListByChangeOrderID(ctx, changeOrderID)
}

// ── Authorization helper ──────────────────────────────────────────────────────

// assertCanAct checks that userID is the assigned approver or the current
// delegate. An empty userID bypasses the gate: internal callers may act
// without an identity.
func (s *ApprovalWorkflowService) assertCanAct(rec *repository.ApprovalRecord, userID string) error {
	if userID == "" {
		return nil
	}
	if rec.ApproverUserID == userID {
		return nil
	}
	if rec.DelegatedTo != nil && *rec.DelegatedTo == userID {
		return nil
	}
	return apperrors.New(apperrors.ErrCodeForbidden,
		"only the assigned approver or delegate can act on this approval")
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// appendAudit writes an audit entry, logging a warning on failure. Audit
// writes never fail an approval operation.
func (s *ApprovalWorkflowService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("change_order_id", entry.ChangeOrderID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

func (s *ApprovalWorkflowService) notify(ctx context.Context, eventType string, co *repository.ChangeOrder, actorID string, recipients []string, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishApprovalEvent(ctx, eventType, co.ID, co.ProjectID, actorID, recipients, payload)
}

func approverIDs(records []*repository.ApprovalRecord) []string {
	seen := make(map[string]struct{}, len(records))
	var ids []string
	for _, rec := range records {
		if _, ok := seen[rec.ApproverUserID]; !ok {
			seen[rec.ApproverUserID] = struct{}{}
			ids = append(ids, rec.ApproverUserID)
		}
	}
	return ids
}
