package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ppm-changes/internal/apperrors"
	"github.com/pesio-ai/be-ppm-changes/internal/database"
)

// ApprovalRecordsRepository handles reads and updates on individual approval
// records. Record creation is handled by ApprovalWorkflowRepository.Create
// (transactionally).
type ApprovalRecordsRepository struct {
	db *database.DB
}

// NewApprovalRecordsRepository creates a new ApprovalRecordsRepository.
func NewApprovalRecordsRepository(db *database.DB) *ApprovalRecordsRepository {
	return &ApprovalRecordsRepository{db: db}
}

const approvalColumns = `
	id, workflow_id, change_order_id,
	approval_level, approver_role, approver_user_id,
	approval_limit_cents, status, is_required, sequence_order,
	delegated_to, delegated_at, comments, conditions, approval_date,
	created_at, updated_at
`

// GetByID returns a single approval record.
func (r *ApprovalRecordsRepository) GetByID(ctx context.Context, id string) (*ApprovalRecord, error) {
	query := `SELECT ` + approvalColumns + ` FROM change_order_approvals WHERE id = $1`

	rec, err := r.scanRecord(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("approval", id)
	}
	return rec, err
}

// ListByWorkflowID returns all records for a workflow ordered by
// sequence_order.
func (r *ApprovalRecordsRepository) ListByWorkflowID(ctx context.Context, workflowID string) ([]*ApprovalRecord, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM change_order_approvals
		WHERE workflow_id = $1
		ORDER BY sequence_order ASC
	`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list approval records")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListPendingForUser returns all pending records the user can act on, either
// as assigned approver or as delegate, joined with change order metadata.
func (r *ApprovalRecordsRepository) ListPendingForUser(ctx context.Context, userID string) ([]*PendingApproval, error) {
	query := `
		SELECT a.id, a.workflow_id, a.change_order_id,
		       a.approval_level, a.approver_role, a.approver_user_id,
		       a.approval_limit_cents, a.status, a.is_required, a.sequence_order,
		       a.delegated_to, a.delegated_at, a.comments, a.conditions, a.approval_date,
		       a.created_at, a.updated_at,
		       co.change_order_number, co.title, co.project_id,
		       co.cost_impact_cents, co.due_date
		FROM change_order_approvals a
		JOIN change_orders co ON co.id = a.change_order_id
		WHERE a.status = 'pending'::co_approval_status
		  AND (a.approver_user_id = $1 OR a.delegated_to = $1)
		ORDER BY co.due_date ASC NULLS LAST, a.created_at ASC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list pending approvals")
	}
	defer rows.Close()

	var pending []*PendingApproval
	for rows.Next() {
		rec := &ApprovalRecord{}
		p := &PendingApproval{Record: rec}
		err := rows.Scan(
			&rec.ID, &rec.WorkflowID, &rec.ChangeOrderID,
			&rec.ApprovalLevel, &rec.ApproverRole, &rec.ApproverUserID,
			&rec.ApprovalLimitCents, &rec.Status, &rec.IsRequired, &rec.SequenceOrder,
			&rec.DelegatedTo, &rec.DelegatedAt, &rec.Comments, &rec.Conditions, &rec.ApprovalDate,
			&rec.CreatedAt, &rec.UpdatedAt,
			&p.ChangeOrderNumber, &p.Title, &p.ProjectID,
			&p.CostImpactCents, &p.DueDate,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan pending approval")
		}
		pending = append(pending, p)
	}
	return pending, nil
}

// RecordDecision stores an approve/reject outcome. Guarded on pending status
// so two racing decisions cannot both land.
func (r *ApprovalRecordsRepository) RecordDecision(ctx context.Context, id, status string, comments, conditions *string) error {
	query := `
		UPDATE change_order_approvals
		SET status        = $2::co_approval_status,
		    comments      = $3,
		    conditions    = $4,
		    approval_date = NOW(),
		    updated_at    = NOW()
		WHERE id = $1
		  AND status = 'pending'::co_approval_status
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status, comments, conditions).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.New(apperrors.ErrCodeConflict, "approval is no longer pending")
	}
	return err
}

// CancelPending marks every still-pending record in a workflow cancelled.
// Decided records keep their outcome for history.
func (r *ApprovalRecordsRepository) CancelPending(ctx context.Context, workflowID string) error {
	query := `
		UPDATE change_order_approvals
		SET status     = 'cancelled'::co_approval_status,
		    updated_at = NOW()
		WHERE workflow_id = $1
		  AND status = 'pending'::co_approval_status
	`

	_, err := r.db.Exec(ctx, query, workflowID)
	return err
}

// Delegate reassigns a pending record to another user. The record stays
// pending; the delegate becomes an alternate acting identity.
func (r *ApprovalRecordsRepository) Delegate(ctx context.Context, id, delegatedTo string) error {
	query := `
		UPDATE change_order_approvals
		SET delegated_to = $2,
		    delegated_at = NOW(),
		    updated_at   = NOW()
		WHERE id = $1
		  AND status = 'pending'::co_approval_status
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, delegatedTo).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.New(apperrors.ErrCodeConflict, "approval is no longer pending")
	}
	return err
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type approvalScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRecordsRepository) scanRecord(row approvalScanner) (*ApprovalRecord, error) {
	rec := &ApprovalRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.WorkflowID,
		&rec.ChangeOrderID,
		&rec.ApprovalLevel,
		&rec.ApproverRole,
		&rec.ApproverUserID,
		&rec.ApprovalLimitCents,
		&rec.Status,
		&rec.IsRequired,
		&rec.SequenceOrder,
		&rec.DelegatedTo,
		&rec.DelegatedAt,
		&rec.Comments,
		&rec.Conditions,
		&rec.ApprovalDate,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *ApprovalRecordsRepository) scanRows(rows pgx.Rows) ([]*ApprovalRecord, error) {
	var records []*ApprovalRecord
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan approval record")
		}
		records = append(records, rec)
	}
	return records, nil
}
