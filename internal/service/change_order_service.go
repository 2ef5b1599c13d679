package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-ppm-changes/internal/apperrors"
	"github.com/pesio-ai/be-ppm-changes/internal/repository"
)

// ChangeOrderService handles change order CRUD and the submission handoff
// into the approval workflow.
type ChangeOrderService struct {
	changeOrders ChangeOrderStore
	workflow     *ApprovalWorkflowService
	audit        AuditStore
	notifier     Notifier
	log          zerolog.Logger
}

// NewChangeOrderService creates a new ChangeOrderService. audit and notifier
// may be nil.
func NewChangeOrderService(
	changeOrders ChangeOrderStore,
	workflow *ApprovalWorkflowService,
	audit AuditStore,
	notifier Notifier,
	log zerolog.Logger,
) *ChangeOrderService {
	return &ChangeOrderService{
		changeOrders: changeOrders,
		workflow:     workflow,
		audit:        audit,
		notifier:     notifier,
		log:          log,
	}
}

// CreateChangeOrderRequest carries the fields accepted on creation.
type CreateChangeOrderRequest struct {
	ProjectID          string  `json:"project_id" binding:"required"`
	Title              string  `json:"title" binding:"required"`
	Description        *string `json:"description"`
	Justification      *string `json:"justification"`
	CostImpactCents    int64   `json:"cost_impact_cents"`
	ScheduleImpactDays int     `json:"schedule_impact_days"`
	DueDate            *string `json:"due_date"`
}

// SubmitResult pairs the submitted change order with its new workflow.
type SubmitResult struct {
	ChangeOrder *repository.ChangeOrder `json:"change_order"`
	Workflow    *WorkflowSummary        `json:"workflow"`
}

// Create stores a new draft change order and allocates its number.
func (s *ChangeOrderService) Create(ctx context.Context, req CreateChangeOrderRequest, createdBy string) (*repository.ChangeOrder, error) {
	if req.CostImpactCents < 0 {
		return nil, apperrors.InvalidInput("cost_impact_cents", "must not be negative")
	}

	number, err := s.changeOrders.NextNumber(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	co := &repository.ChangeOrder{
		ProjectID:          req.ProjectID,
		ChangeOrderNumber:  number,
		Title:              req.Title,
		Description:        req.Description,
		Justification:      req.Justification,
		CostImpactCents:    req.CostImpactCents,
		ScheduleImpactDays: req.ScheduleImpactDays,
		DueDate:            req.DueDate,
		Status:             repository.ChangeOrderStatusDraft,
		CreatedBy:          createdBy,
	}

	if err := s.changeOrders.Create(ctx, co); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("change_order_id", co.ID).
		Str("project_id", co.ProjectID).
		Str("number", co.ChangeOrderNumber).
		Msg("Change order created")

	return co, nil
}

// GetByID retrieves a single change order.
func (s *ChangeOrderService) GetByID(ctx context.Context, id string) (*repository.ChangeOrder, error) {
	return s.changeOrders.GetByID(ctx, id)
}

// List retrieves change orders with filters and pagination.
func (s *ChangeOrderService) List(ctx context.Context, f repository.ChangeOrderFilter) ([]*repository.ChangeOrder, int64, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.changeOrders.List(ctx, f)
}

// SubmitForApproval moves a draft change order to pending_approval and starts
// its approval workflow. Only drafts can be submitted.
func (s *ChangeOrderService) SubmitForApproval(ctx context.Context, id string, cfg *WorkflowConfig, submittedBy string) (*SubmitResult, error) {
	co, err := s.changeOrders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if co.Status != repository.ChangeOrderStatusDraft {
		return nil, apperrors.Newf(apperrors.ErrCodeConflict,
			"only draft change orders can be submitted (status: %s)", co.Status)
	}

	var updatedBy *string
	if submittedBy != "" {
		updatedBy = &submittedBy
	}
	if err := s.changeOrders.UpdateStatus(ctx, co.ID, repository.ChangeOrderStatusPendingApproval, updatedBy); err != nil {
		return nil, err
	}
	co.Status = repository.ChangeOrderStatusPendingApproval

	statusBefore := repository.ChangeOrderStatusDraft
	statusAfter := repository.ChangeOrderStatusPendingApproval
	s.appendAudit(ctx, &repository.AuditEntry{
		ChangeOrderID: co.ID,
		ProjectID:     co.ProjectID,
		Action:        "submitted",
		PerformedBy:   submittedBy,
		StatusBefore:  &statusBefore,
		StatusAfter:   &statusAfter,
	})

	wf, err := s.workflow.InitiateWorkflow(ctx, co.ID, cfg, submittedBy)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.PublishApprovalEvent(ctx, "change_order_submitted", co.ID, co.ProjectID, submittedBy,
			[]string{co.CreatedBy}, map[string]any{
				"change_order_number": co.ChangeOrderNumber,
				"total_levels":        wf.TotalLevels,
			})
	}

	s.log.Info().
		Str("change_order_id", co.ID).
		Str("workflow_id", wf.WorkflowID).
		Msg("Change order submitted for approval")

	return &SubmitResult{ChangeOrder: co, Workflow: wf}, nil
}

// Cancel withdraws a change order that has not reached a terminal state.
func (s *ChangeOrderService) Cancel(ctx context.Context, id, cancelledBy string) error {
	co, err := s.changeOrders.GetByID(ctx, id)
	if err != nil {
		return err
	}
	switch co.Status {
	case repository.ChangeOrderStatusApproved, repository.ChangeOrderStatusRejected, repository.ChangeOrderStatusCancelled:
		return apperrors.Newf(apperrors.ErrCodeConflict,
			"change order with status '%s' cannot be cancelled", co.Status)
	}

	var updatedBy *string
	if cancelledBy != "" {
		updatedBy = &cancelledBy
	}
	if err := s.changeOrders.UpdateStatus(ctx, co.ID, repository.ChangeOrderStatusCancelled, updatedBy); err != nil {
		return err
	}

	// A cancelled change order must not keep a live approval chain around.
	if err := s.workflow.CancelWorkflow(ctx, co.ID, cancelledBy); err != nil {
		return err
	}

	statusBefore := co.Status
	statusAfter := repository.ChangeOrderStatusCancelled
	s.appendAudit(ctx, &repository.AuditEntry{
		ChangeOrderID: co.ID,
		ProjectID:     co.ProjectID,
		Action:        "cancelled",
		PerformedBy:   cancelledBy,
		StatusBefore:  &statusBefore,
		StatusAfter:   &statusAfter,
	})

	s.log.Info().Str("change_order_id", co.ID).Msg("Change order cancelled")
	return nil
}

// Delete removes a draft change order. Anything past draft stays on the
// record for audit.
func (s *ChangeOrderService) Delete(ctx context.Context, id string) error {
	co, err := s.changeOrders.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if co.Status != repository.ChangeOrderStatusDraft {
		return apperrors.Newf(apperrors.ErrCodeConflict,
			"only draft change orders can be deleted (status: %s)", co.Status)
	}
	return s.changeOrders.Delete(ctx, id)
}

func (s *ChangeOrderService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
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
