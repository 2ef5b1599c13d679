package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-ppm-changes/internal/repository"
)

// Persistence boundaries consumed by the services. The pgx repositories in
// internal/repository implement them; tests substitute in-memory fakes.

// ChangeOrderStore is the parent-entity boundary. The workflow engine only
// uses GetByID, UpdateStatus and Approve; the change order service uses the
// rest.
type ChangeOrderStore interface {
	Create(ctx context.Context, co *repository.ChangeOrder) error
	GetByID(ctx context.Context, id string) (*repository.ChangeOrder, error)
	List(ctx context.Context, f repository.ChangeOrderFilter) ([]*repository.ChangeOrder, int64, error)
	UpdateStatus(ctx context.Context, id, status string, updatedBy *string) error
	Approve(ctx context.Context, id string, approvedDate time.Time) error
	Delete(ctx context.Context, id string) error
	NextNumber(ctx context.Context, projectID string) (string, error)
}

// WorkflowStore persists workflow instances.
type WorkflowStore interface {
	Create(ctx context.Context, wf *repository.ApprovalWorkflow, records []*repository.ApprovalRecord) error
	GetByID(ctx context.Context, id string) (*repository.ApprovalWorkflow, error)
	GetByChangeOrderID(ctx context.Context, changeOrderID string) (*repository.ApprovalWorkflow, error)
	GetActiveByChangeOrderID(ctx context.Context, changeOrderID string) (*repository.ApprovalWorkflow, error)
	SetCurrentLevel(ctx context.Context, id string, level int) error
	Complete(ctx context.Context, id string, completedAt time.Time) error
	Cancel(ctx context.Context, id string, cancelledAt time.Time) error
}

// ApprovalStore persists per-level approval records.
type ApprovalStore interface {
	GetByID(ctx context.Context, id string) (*repository.ApprovalRecord, error)
	ListByWorkflowID(ctx context.Context, workflowID string) ([]*repository.ApprovalRecord, error)
	ListPendingForUser(ctx context.Context, userID string) ([]*repository.PendingApproval, error)
	RecordDecision(ctx context.Context, id, status string, comments, conditions *string) error
	Delegate(ctx context.Context, id, delegatedTo string) error
	CancelPending(ctx context.Context, workflowID string) error
}

// RuleStore matches configured approval rules to change orders.
type RuleStore interface {
	GetByID(ctx context.Context, id string) (*repository.ApprovalRule, error)
	List(ctx context.Context, projectID string) ([]*repository.ApprovalRule, error)
	Create(ctx context.Context, rule *repository.ApprovalRule) error
	Update(ctx context.Context, rule *repository.ApprovalRule) error
	Deactivate(ctx context.Context, id string) error
	FindMatchingRule(ctx context.Context, projectID string, costCents int64) (*repository.ApprovalRule, error)
}

// MembershipStore resolves project role assignments to users.
type MembershipStore interface {
	FindUserWithRole(ctx context.Context, projectID, role string) (*string, error)
}

// AuditStore appends immutable approval audit entries.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	ListByChangeOrderID(ctx context.Context, changeOrderID string) ([]*repository.AuditEntry, error)
}

// Notifier publishes approval events to the notifications service.
// Implementations must be non-fatal: failures are logged, never returned.
type Notifier interface {
	PublishApprovalEvent(ctx context.Context, eventType, changeOrderID, projectID, actorID string, recipients []string, payload map[string]any)
}
