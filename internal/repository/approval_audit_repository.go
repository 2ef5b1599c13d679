package repository

import (
	"context"
	"encoding/json"

	"github.com/pesio-ai/be-ppm-changes/internal/apperrors"
	"github.com/pesio-ai/be-ppm-changes/internal/database"
)

// ApprovalAuditRepository appends and reads immutable approval audit entries.
type ApprovalAuditRepository struct {
	db *database.DB
}

// NewApprovalAuditRepository creates a new ApprovalAuditRepository.
func NewApprovalAuditRepository(db *database.DB) *ApprovalAuditRepository {
	return &ApprovalAuditRepository{db: db}
}

// Append inserts one audit entry. The table has a delete-prevention trigger
// so this is the only mutation operation exposed.
func (r *ApprovalAuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO change_order_approval_audit_log
		    (change_order_id, workflow_id, approval_id, project_id,
		     action, performed_by,
		     status_before, status_after, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, performed_at
	`

	return r.db.QueryRow(ctx, query,
		entry.ChangeOrderID,
		entry.WorkflowID,
		entry.ApprovalID,
		entry.ProjectID,
		entry.Action,
		entry.PerformedBy,
		entry.StatusBefore,
		entry.StatusAfter,
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
}

// ListByChangeOrderID returns the full audit trail for a change order,
// oldest first.
func (r *ApprovalAuditRepository) ListByChangeOrderID(ctx context.Context, changeOrderID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, change_order_id, workflow_id, approval_id, project_id,
		       action, performed_by, performed_at,
		       status_before, status_after, metadata
		FROM change_order_approval_audit_log
		WHERE change_order_id = $1
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, changeOrderID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list audit entries")
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		var metadataJSON []byte
		err := rows.Scan(
			&e.ID,
			&e.ChangeOrderID,
			&e.WorkflowID,
			&e.ApprovalID,
			&e.ProjectID,
			&e.Action,
			&e.PerformedBy,
			&e.PerformedAt,
			&e.StatusBefore,
			&e.StatusAfter,
			&metadataJSON,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan audit entry")
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}
