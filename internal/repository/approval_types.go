package repository

import "time"

// ── Domain types for the change order approval workflow ──────────────────────

// Approval record states. Delegation is a reassignment, not a decision: a
// delegated record keeps status pending with delegated_to set, and ultimately
// still resolves to approved or rejected. Cancelled records belong to a
// withdrawn workflow and can no longer be acted on.
const (
	ApprovalStatusPending   = "pending"
	ApprovalStatusApproved  = "approved"
	ApprovalStatusRejected  = "rejected"
	ApprovalStatusCancelled = "cancelled"
)

// Workflow instance states.
const (
	WorkflowStatusActive    = "active"
	WorkflowStatusComplete  = "complete"
	WorkflowStatusCancelled = "cancelled"
)

// Change order states.
const (
	ChangeOrderStatusDraft           = "draft"
	ChangeOrderStatusPendingApproval = "pending_approval"
	ChangeOrderStatusApproved        = "approved"
	ChangeOrderStatusRejected        = "rejected"
	ChangeOrderStatusCancelled       = "cancelled"
)

// ApprovalRuleStep is one entry in an approval rule's approval_steps JSONB
// array.
type ApprovalRuleStep struct {
	Level    int    `json:"level"`
	Role     string `json:"role"`
	Required bool   `json:"required"`
}

// ApprovalRule is a configurable per-project routing rule. When no active
// rule matches a change order's cost impact, the built-in threshold tiers
// apply instead.
type ApprovalRule struct {
	ID            string             `json:"id"`
	ProjectID     string             `json:"project_id"`
	RuleName      string             `json:"rule_name"`
	IsActive      bool               `json:"is_active"`
	MinCostCents  *int64             `json:"min_cost_cents"` // nil = no lower bound
	MaxCostCents  *int64             `json:"max_cost_cents"` // nil = no upper bound
	ApprovalSteps []ApprovalRuleStep `json:"approval_steps"`
	Priority      int                `json:"priority"` // lower = evaluated first
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// ApprovalWorkflow is one approval run for one change order. Instances are
// never deleted; terminal runs stay queryable for audit.
type ApprovalWorkflow struct {
	ID            string     `json:"id"`
	ChangeOrderID string     `json:"change_order_id"`
	ProjectID     string     `json:"project_id"`
	Status        string     `json:"status"` // active | complete | cancelled
	TotalLevels   int        `json:"total_levels"`
	CurrentLevel  int        `json:"current_level"`
	InitiatedBy   string     `json:"initiated_by"`
	InitiatedAt   time.Time  `json:"initiated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ApprovalRecord is one required sign-off level within a workflow instance.
// Exactly one record exists per (workflow, level).
type ApprovalRecord struct {
	ID                 string     `json:"id"`
	WorkflowID         string     `json:"workflow_id"`
	ChangeOrderID      string     `json:"change_order_id"`
	ApprovalLevel      int        `json:"approval_level"`
	ApproverRole       string     `json:"approver_role"`
	ApproverUserID     string     `json:"approver_user_id"`
	ApprovalLimitCents *int64     `json:"approval_limit_cents,omitempty"` // cost ceiling carried from policy; nil = open-ended
	Status             string     `json:"status"`                         // pending | approved | rejected | cancelled
	IsRequired         bool       `json:"is_required"`
	SequenceOrder      int        `json:"sequence_order"`
	DelegatedTo        *string    `json:"delegated_to,omitempty"`
	DelegatedAt        *time.Time `json:"delegated_at,omitempty"`
	Comments           *string    `json:"comments,omitempty"`
	Conditions         *string    `json:"conditions,omitempty"`
	ApprovalDate       *time.Time `json:"approval_date,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// PendingApproval is an ApprovalRecord joined with the change order metadata
// needed to render a worklist row.
type PendingApproval struct {
	Record            *ApprovalRecord `json:"approval"`
	ChangeOrderNumber string          `json:"change_order_number"`
	Title             string          `json:"title"`
	ProjectID         string          `json:"project_id"`
	CostImpactCents   int64           `json:"cost_impact_cents"`
	DueDate           *string         `json:"due_date,omitempty"`
}

// AuditEntry is one immutable record in the approval audit log.
type AuditEntry struct {
	ID            string         `json:"id"`
	ChangeOrderID string         `json:"change_order_id"`
	WorkflowID    *string        `json:"workflow_id,omitempty"`
	ApprovalID    *string        `json:"approval_id,omitempty"`
	ProjectID     string         `json:"project_id,omitempty"`
	Action        string         `json:"action"` // submitted | workflow_created | approved | rejected | delegated | workflow_completed | workflow_cancelled | cancelled
	PerformedBy   string         `json:"performed_by"`
	PerformedAt   time.Time      `json:"performed_at"`
	StatusBefore  *string        `json:"status_before,omitempty"`
	StatusAfter   *string        `json:"status_after,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}
