package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ppm-changes/internal/apperrors"
	"github.com/pesio-ai/be-ppm-changes/internal/database"
)

// ChangeOrder is the parent entity whose status the approval workflow
// governs. The workflow engine's write access is limited to status and
// approved_date.
type ChangeOrder struct {
	ID                 string     `json:"id"`
	ProjectID          string     `json:"project_id"`
	ChangeOrderNumber  string     `json:"change_order_number"`
	Title              string     `json:"title"`
	Description        *string    `json:"description,omitempty"`
	Justification      *string    `json:"justification,omitempty"`
	CostImpactCents    int64      `json:"cost_impact_cents"`
	ScheduleImpactDays int        `json:"schedule_impact_days"`
	DueDate            *string    `json:"due_date,omitempty"`
	Status             string     `json:"status"`
	ApprovedDate       *time.Time `json:"approved_date,omitempty"`
	CreatedBy          string     `json:"created_by"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedBy          *string    `json:"updated_by,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ChangeOrderFilter narrows List results.
type ChangeOrderFilter struct {
	ProjectID *string
	Status    *string
	Limit     int
	Offset    int
}

// ChangeOrderRepository handles change order persistence.
type ChangeOrderRepository struct {
	db *database.DB
}

// NewChangeOrderRepository creates a new ChangeOrderRepository.
func NewChangeOrderRepository(db *database.DB) *ChangeOrderRepository {
	return &ChangeOrderRepository{db: db}
}

const changeOrderColumns = `
	id, project_id, change_order_number, title, description, justification,
	cost_impact_cents, schedule_impact_days, due_date,
	status, approved_date,
	created_by, created_at, updated_by, updated_at
`

// Create inserts a new draft change order.
func (r *ChangeOrderRepository) Create(ctx context.Context, co *ChangeOrder) error {
	query := `
		INSERT INTO change_orders
		    (project_id, change_order_number, title, description, justification,
		     cost_impact_cents, schedule_impact_days, due_date,
		     status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::change_order_status, $10)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		co.ProjectID,
		co.ChangeOrderNumber,
		co.Title,
		co.Description,
		co.Justification,
		co.CostImpactCents,
		co.ScheduleImpactDays,
		co.DueDate,
		co.Status,
		co.CreatedBy,
	).Scan(&co.ID, &co.CreatedAt, &co.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create change order")
	}
	return nil
}

// GetByID retrieves a change order by primary key.
func (r *ChangeOrderRepository) GetByID(ctx context.Context, id string) (*ChangeOrder, error) {
	query := `SELECT ` + changeOrderColumns + ` FROM change_orders WHERE id = $1`

	co, err := r.scanChangeOrder(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("change_order", id)
	}
	return co, err
}

// List retrieves change orders with optional filters and pagination.
func (r *ChangeOrderRepository) List(ctx context.Context, f ChangeOrderFilter) ([]*ChangeOrder, int64, error) {
	where := " WHERE 1=1"
	args := []any{}
	argN := 0

	if f.ProjectID != nil {
		argN++
		where += fmt.Sprintf(" AND project_id = $%d", argN)
		args = append(args, *f.ProjectID)
	}
	if f.Status != nil {
		argN++
		where += fmt.Sprintf(" AND status = $%d::change_order_status", argN)
		args = append(args, *f.Status)
	}

	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM change_orders"+where, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to count change orders")
	}

	query := `SELECT ` + changeOrderColumns + ` FROM change_orders` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argN+1, argN+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list change orders")
	}
	defer rows.Close()

	var orders []*ChangeOrder
	for rows.Next() {
		co, err := r.scanChangeOrder(rows)
		if err != nil {
			return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan change order")
		}
		orders = append(orders, co)
	}
	return orders, total, nil
}

// UpdateStatus sets the change order status. Used for submission, rejection
// and cancellation; approval goes through Approve so approved_date is
// stamped atomically.
func (r *ChangeOrderRepository) UpdateStatus(ctx context.Context, id, status string, updatedBy *string) error {
	query := `
		UPDATE change_orders
		SET status     = $2::change_order_status,
		    updated_by = $3,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status, updatedBy).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("change_order", id)
	}
	return err
}

// Approve flips the change order to approved and stamps approved_date.
// Guarded on pending_approval so a terminal status (cancelled, rejected) is
// never overwritten by a late completion check.
func (r *ChangeOrderRepository) Approve(ctx context.Context, id string, approvedDate time.Time) error {
	query := `
		UPDATE change_orders
		SET status        = 'approved'::change_order_status,
		    approved_date = $2,
		    updated_at    = NOW()
		WHERE id = $1
		  AND status = 'pending_approval'::change_order_status
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, approvedDate).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.New(apperrors.ErrCodeConflict, "change order is not awaiting approval")
	}
	return err
}

// Delete removes a change order. The service layer restricts this to drafts.
func (r *ChangeOrderRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM change_orders WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to delete change order")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("change_order", id)
	}
	return nil
}

// NextNumber allocates the next change order number for a project,
// e.g. CO-0042.
func (r *ChangeOrderRepository) NextNumber(ctx context.Context, projectID string) (string, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM change_orders WHERE project_id = $1`, projectID,
	).Scan(&count)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to number change order")
	}
	return fmt.Sprintf("CO-%04d", count+1), nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type changeOrderScanner interface {
	Scan(dest ...any) error
}

func (r *ChangeOrderRepository) scanChangeOrder(row changeOrderScanner) (*ChangeOrder, error) {
	co := &ChangeOrder{}
	err := row.Scan(
		&co.ID,
		&co.ProjectID,
		&co.ChangeOrderNumber,
		&co.Title,
		&co.Description,
		&co.Justification,
		&co.CostImpactCents,
		&co.ScheduleImpactDays,
		&co.DueDate,
		&co.Status,
		&co.ApprovedDate,
		&co.CreatedBy,
		&co.CreatedAt,
		&co.UpdatedBy,
		&co.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return co, nil
}
