package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ppm-changes/internal/apperrors"
	"github.com/pesio-ai/be-ppm-changes/internal/database"
)

// ApprovalWorkflowRepository manages workflow instances. Workflow + record
// creation is always done together in a single transaction.
type ApprovalWorkflowRepository struct {
	db *database.DB
}

// NewApprovalWorkflowRepository creates a new ApprovalWorkflowRepository.
func NewApprovalWorkflowRepository(db *database.DB) *ApprovalWorkflowRepository {
	return &ApprovalWorkflowRepository{db: db}
}

const workflowColumns = `
	id, change_order_id, project_id, status,
	total_levels, current_level,
	initiated_by, initiated_at, completed_at,
	created_at, updated_at
`

// Create inserts a workflow and its approval records in one transaction.
func (r *ApprovalWorkflowRepository) Create(ctx context.Context, wf *ApprovalWorkflow, records []*ApprovalRecord) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		wfQuery := `
			INSERT INTO change_order_approval_workflows
			    (change_order_id, project_id, status,
			     total_levels, current_level, initiated_by)
			VALUES ($1, $2, $3::co_workflow_status, $4, $5, $6)
			RETURNING id, initiated_at, created_at, updated_at
		`

		err := tx.QueryRow(ctx, wfQuery,
			wf.ChangeOrderID,
			wf.ProjectID,
			wf.Status,
			wf.TotalLevels,
			wf.CurrentLevel,
			wf.InitiatedBy,
		).Scan(&wf.ID, &wf.InitiatedAt, &wf.CreatedAt, &wf.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create approval workflow")
		}

		recQuery := `
			INSERT INTO change_order_approvals
			    (workflow_id, change_order_id,
			     approval_level, approver_role, approver_user_id,
			     approval_limit_cents, status, is_required, sequence_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7::co_approval_status, $8, $9)
			RETURNING id, created_at, updated_at
		`

		for _, rec := range records {
			rec.WorkflowID = wf.ID
			rec.ChangeOrderID = wf.ChangeOrderID

			err := tx.QueryRow(ctx, recQuery,
				rec.WorkflowID,
				rec.ChangeOrderID,
				rec.ApprovalLevel,
				rec.ApproverRole,
				rec.ApproverUserID,
				rec.ApprovalLimitCents,
				rec.Status,
				rec.IsRequired,
				rec.SequenceOrder,
			).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create approval record")
			}
		}

		return nil
	})
}

// GetByID retrieves a workflow instance by primary key.
func (r *ApprovalWorkflowRepository) GetByID(ctx context.Context, id string) (*ApprovalWorkflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM change_order_approval_workflows WHERE id = $1`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("approval_workflow", id)
	}
	return wf, err
}

// GetByChangeOrderID returns the most recent workflow for a change order
// regardless of status. Returns nil when no workflow exists yet.
func (r *ApprovalWorkflowRepository) GetByChangeOrderID(ctx context.Context, changeOrderID string) (*ApprovalWorkflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM change_order_approval_workflows
		WHERE change_order_id = $1
		ORDER BY initiated_at DESC
		LIMIT 1
	`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, changeOrderID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return wf, err
}

// GetActiveByChangeOrderID returns the active workflow for a change order,
// or nil when none is running.
func (r *ApprovalWorkflowRepository) GetActiveByChangeOrderID(ctx context.Context, changeOrderID string) (*ApprovalWorkflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM change_order_approval_workflows
		WHERE change_order_id = $1
		  AND status = 'active'::co_workflow_status
		ORDER BY initiated_at DESC
		LIMIT 1
	`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, changeOrderID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return wf, err
}

// SetCurrentLevel records the lowest still-pending level.
func (r *ApprovalWorkflowRepository) SetCurrentLevel(ctx context.Context, id string, level int) error {
	query := `
		UPDATE change_order_approval_workflows
		SET current_level = $2,
		    updated_at    = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, level).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("approval_workflow", id)
	}
	return err
}

// Complete marks the workflow complete and stamps completed_at.
func (r *ApprovalWorkflowRepository) Complete(ctx context.Context, id string, completedAt time.Time) error {
	query := `
		UPDATE change_order_approval_workflows
		SET status       = 'complete'::co_workflow_status,
		    completed_at = $2,
		    updated_at   = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, completedAt).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("approval_workflow", id)
	}
	return err
}

// Cancel marks the workflow cancelled. completed_at is stamped so the run
// still reads as closed.
func (r *ApprovalWorkflowRepository) Cancel(ctx context.Context, id string, cancelledAt time.Time) error {
	query := `
		UPDATE change_order_approval_workflows
		SET status       = 'cancelled'::co_workflow_status,
		    completed_at = $2,
		    updated_at   = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, cancelledAt).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("approval_workflow", id)
	}
	return err
}

// ── scan helper ───────────────────────────────────────────────────────────────

type workflowScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalWorkflowRepository) scanWorkflow(row workflowScanner) (*ApprovalWorkflow, error) {
	wf := &ApprovalWorkflow{}
	err := row.Scan(
		&wf.ID,
		&wf.ChangeOrderID,
		&wf.ProjectID,
		&wf.Status,
		&wf.TotalLevels,
		&wf.CurrentLevel,
		&wf.InitiatedBy,
		&wf.InitiatedAt,
		&wf.CompletedAt,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return wf, nil
}
