package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-ppm-changes/internal/apperrors"
	"github.com/pesio-ai/be-ppm-changes/internal/repository"
)

// In-memory store fakes backing the service tests. They mirror the pgx
// repositories' guard behavior: pending-only decision updates, not-found
// errors, latest-workflow-first ordering.

type fakeChangeOrders struct {
	orders map[string]*repository.ChangeOrder
	nextID int
}

func newFakeChangeOrders() *fakeChangeOrders {
	return &fakeChangeOrders{orders: map[string]*repository.ChangeOrder{}}
}

func (f *fakeChangeOrders) Create(_ context.Context, co *repository.ChangeOrder) error {
	f.nextID++
	co.ID = fmt.Sprintf("co-%d", f.nextID)
	co.CreatedAt = time.Now()
	co.UpdatedAt = co.CreatedAt
	f.orders[co.ID] = co
	return nil
}

func (f *fakeChangeOrders) GetByID(_ context.Context, id string) (*repository.ChangeOrder, error) {
	co, ok := f.orders[id]
	if !ok {
		return nil, apperrors.NotFound("change_order", id)
	}
	cp := *co
	return &cp, nil
}

func (f *fakeChangeOrders) List(_ context.Context, filter repository.ChangeOrderFilter) ([]*repository.ChangeOrder, int64, error) {
	var out []*repository.ChangeOrder
	for _, co := range f.orders {
		if filter.ProjectID != nil && co.ProjectID != *filter.ProjectID {
			continue
		}
		if filter.Status != nil && co.Status != *filter.Status {
			continue
		}
		cp := *co
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (f *fakeChangeOrders) UpdateStatus(_ context.Context, id, status string, updatedBy *string) error {
	co, ok := f.orders[id]
	if !ok {
		return apperrors.NotFound("change_order", id)
	}
	co.Status = status
	co.UpdatedBy = updatedBy
	co.UpdatedAt = time.Now()
	return nil
}

func (f *fakeChangeOrders) Approve(_ context.Context, id string, approvedDate time.Time) error {
	co, ok := f.orders[id]
	if !ok {
		return apperrors.NotFound("change_order", id)
	}
	if co.Status != repository.ChangeOrderStatusPendingApproval {
		return apperrors.New(apperrors.ErrCodeConflict, "change order is not awaiting approval")
	}
	co.Status = repository.ChangeOrderStatusApproved
	co.ApprovedDate = &approvedDate
	return nil
}

func (f *fakeChangeOrders) Delete(_ context.Context, id string) error {
	if _, ok := f.orders[id]; !ok {
		return apperrors.NotFound("change_order", id)
	}
	delete(f.orders, id)
	return nil
}

func (f *fakeChangeOrders) NextNumber(_ context.Context, projectID string) (string, error) {
	n := 1
	for _, co := range f.orders {
		if co.ProjectID == projectID {
			n++
		}
	}
	return fmt.Sprintf("CO-%04d", n), nil
}

type fakeApprovals struct {
	records      map[string]*repository.ApprovalRecord
	changeOrders *fakeChangeOrders
	nextID       int
}

func newFakeApprovals(changeOrders *fakeChangeOrders) *fakeApprovals {
	return &fakeApprovals{
		records:      map[string]*repository.ApprovalRecord{},
		changeOrders: changeOrders,
	}
}

func (f *fakeApprovals) GetByID(_ context.Context, id string) (*repository.ApprovalRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, apperrors.NotFound("approval", id)
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeApprovals) ListByWorkflowID(_ context.Context, workflowID string) ([]*repository.ApprovalRecord, error) {
	var out []*repository.ApprovalRecord
	for _, rec := range f.records {
		if rec.WorkflowID == workflowID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out, nil
}

func (f *fakeApprovals) ListPendingForUser(_ context.Context, userID string) ([]*repository.PendingApproval, error) {
	var out []*repository.PendingApproval
	for _, rec := range f.records {
		if rec.Status != repository.ApprovalStatusPending {
			continue
		}
		assigned := rec.ApproverUserID == userID ||
			(rec.DelegatedTo != nil && *rec.DelegatedTo == userID)
		if !assigned {
			continue
		}
		cp := *rec
		p := &repository.PendingApproval{Record: &cp}
		if co, ok := f.changeOrders.orders[rec.ChangeOrderID]; ok {
			p.ChangeOrderNumber = co.ChangeOrderNumber
			p.Title = co.Title
			p.ProjectID = co.ProjectID
			p.CostImpactCents = co.CostImpactCents
			p.DueDate = co.DueDate
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Record.ID < out[j].Record.ID })
	return out, nil
}

func (f *fakeApprovals) RecordDecision(_ context.Context, id, status string, comments, conditions *string) error {
	rec, ok := f.records[id]
	if !ok {
		return apperrors.NotFound("approval", id)
	}
	if rec.Status != repository.ApprovalStatusPending {
		return apperrors.New(apperrors.ErrCodeConflict, "approval is no longer pending")
	}
	now := time.Now()
	rec.Status = status
	rec.Comments = comments
	rec.Conditions = conditions
	rec.ApprovalDate = &now
	return nil
}

func (f *fakeApprovals) CancelPending(_ context.Context, workflowID string) error {
	for _, rec := range f.records {
		if rec.WorkflowID == workflowID && rec.Status == repository.ApprovalStatusPending {
			rec.Status = repository.ApprovalStatusCancelled
		}
	}
	return nil
}

func (f *fakeApprovals) Delegate(_ context.Context, id, delegatedTo string) error {
	rec, ok := f.records[id]
	if !ok {
		return apperrors.NotFound("approval", id)
	}
	if rec.Status != repository.ApprovalStatusPending {
		return apperrors.New(apperrors.ErrCodeConflict, "approval is no longer pending")
	}
	now := time.Now()
	rec.DelegatedTo = &delegatedTo
	rec.DelegatedAt = &now
	return nil
}

type fakeWorkflows struct {
	workflows map[string]*repository.ApprovalWorkflow
	approvals *fakeApprovals
	nextID    int
}

func newFakeWorkflows(approvals *fakeApprovals) *fakeWorkflows {
	return &fakeWorkflows{
		workflows: map[string]*repository.ApprovalWorkflow{},
		approvals: approvals,
	}
}

func (f *fakeWorkflows) Create(_ context.Context, wf *repository.ApprovalWorkflow, records []*repository.ApprovalRecord) error {
	f.nextID++
	wf.ID = fmt.Sprintf("wf-%d", f.nextID)
	wf.InitiatedAt = time.Now()
	wf.CreatedAt = wf.InitiatedAt
	f.workflows[wf.ID] = wf
	for _, rec := range records {
		f.approvals.nextID++
		rec.ID = fmt.Sprintf("ap-%d", f.approvals.nextID)
		rec.WorkflowID = wf.ID
		rec.ChangeOrderID = wf.ChangeOrderID
		cp := *rec
		f.approvals.records[rec.ID] = &cp
	}
	return nil
}

func (f *fakeWorkflows) GetByID(_ context.Context, id string) (*repository.ApprovalWorkflow, error) {
	wf, ok := f.workflows[id]
	if !ok {
		return nil, apperrors.NotFound("approval_workflow", id)
	}
	cp := *wf
	return &cp, nil
}

func (f *fakeWorkflows) GetByChangeOrderID(_ context.Context, changeOrderID string) (*repository.ApprovalWorkflow, error) {
	var latest *repository.ApprovalWorkflow
	for _, wf := range f.workflows {
		if wf.ChangeOrderID != changeOrderID {
			continue
		}
		if latest == nil || wf.ID > latest.ID {
			latest = wf
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeWorkflows) GetActiveByChangeOrderID(_ context.Context, changeOrderID string) (*repository.ApprovalWorkflow, error) {
	for _, wf := range f.workflows {
		if wf.ChangeOrderID == changeOrderID && wf.Status == repository.WorkflowStatusActive {
			cp := *wf
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeWorkflows) SetCurrentLevel(_ context.Context, id string, level int) error {
	wf, ok := f.workflows[id]
	if !ok {
		return apperrors.NotFound("approval_workflow", id)
	}
	wf.CurrentLevel = level
	return nil
}

func (f *fakeWorkflows) Complete(_ context.Context, id string, completedAt time.Time) error {
	wf, ok := f.workflows[id]
	if !ok {
		return apperrors.NotFound("approval_workflow", id)
	}
	wf.Status = repository.WorkflowStatusComplete
	wf.CompletedAt = &completedAt
	return nil
}

func (f *fakeWorkflows) Cancel(_ context.Context, id string, cancelledAt time.Time) error {
	wf, ok := f.workflows[id]
	if !ok {
		return apperrors.NotFound("approval_workflow", id)
	}
	wf.Status = repository.WorkflowStatusCancelled
	wf.CompletedAt = &cancelledAt
	return nil
}

type fakeRules struct {
	rules  []*repository.ApprovalRule
	nextID int
}

func (f *fakeRules) GetByID(_ context.Context, id string) (*repository.ApprovalRule, error) {
	for _, r := range f.rules {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("approval_rule", id)
}

func (f *fakeRules) List(_ context.Context, projectID string) ([]*repository.ApprovalRule, error) {
	var out []*repository.ApprovalRule
	for _, r := range f.rules {
		if r.ProjectID == projectID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRules) Create(_ context.Context, rule *repository.ApprovalRule) error {
	f.nextID++
	rule.ID = fmt.Sprintf("rule-%d", f.nextID)
	rule.CreatedAt = time.Now()
	cp := *rule
	f.rules = append(f.rules, &cp)
	return nil
}

func (f *fakeRules) Update(_ context.Context, rule *repository.ApprovalRule) error {
	for i, r := range f.rules {
		if r.ID == rule.ID {
			cp := *rule
			f.rules[i] = &cp
			return nil
		}
	}
	return apperrors.NotFound("approval_rule", rule.ID)
}

func (f *fakeRules) Deactivate(_ context.Context, id string) error {
	for _, r := range f.rules {
		if r.ID == id {
			r.IsActive = false
			return nil
		}
	}
	return apperrors.NotFound("approval_rule", id)
}

func (f *fakeRules) FindMatchingRule(_ context.Context, projectID string, costCents int64) (*repository.ApprovalRule, error) {
	var candidates []*repository.ApprovalRule
	for _, r := range f.rules {
		if r.ProjectID == projectID && r.IsActive {
			candidates = append(candidates, r)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Priority < candidates[j].Priority })
	for _, r := range candidates {
		if r.MinCostCents != nil && costCents < *r.MinCostCents {
			continue
		}
		if r.MaxCostCents != nil && costCents >= *r.MaxCostCents {
			continue
		}
		if len(r.ApprovalSteps) == 0 {
			continue
		}
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

type fakeMembers struct {
	// projectID -> role -> userID
	assignments map[string]map[string]string
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{assignments: map[string]map[string]string{}}
}

func (f *fakeMembers) assign(projectID, role, userID string) {
	if f.assignments[projectID] == nil {
		f.assignments[projectID] = map[string]string{}
	}
	f.assignments[projectID][role] = userID
}

func (f *fakeMembers) FindUserWithRole(_ context.Context, projectID, role string) (*string, error) {
	if userID, ok := f.assignments[projectID][role]; ok {
		return &userID, nil
	}
	return nil, nil
}

type fakeAudit struct {
	entries []*repository.AuditEntry
	nextID  int
}

func (f *fakeAudit) Append(_ context.Context, entry *repository.AuditEntry) error {
	f.nextID++
	entry.ID = fmt.Sprintf("audit-%d", f.nextID)
	entry.PerformedAt = time.Now()
	cp := *entry
	f.entries = append(f.entries, &cp)
	return nil
}

func (f *fakeAudit) ListByChangeOrderID(_ context.Context, changeOrderID string) ([]*repository.AuditEntry, error) {
	var out []*repository.AuditEntry
	for _, e := range f.entries {
		if e.ChangeOrderID == changeOrderID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeAudit) actions() []string {
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

type publishedEvent struct {
	EventType     string
	ChangeOrderID string
	Recipients    []string
}

type fakeNotifier struct {
	events []publishedEvent
}

func (f *fakeNotifier) PublishApprovalEvent(_ context.Context, eventType, changeOrderID, _, _ string, recipients []string, _ map[string]any) {
	f.events = append(f.events, publishedEvent{
		EventType:     eventType,
		ChangeOrderID: changeOrderID,
		Recipients:    recipients,
	})
}

// testEnv wires real services over the fakes.
type testEnv struct {
	changeOrders *fakeChangeOrders
	workflows    *fakeWorkflows
	approvals    *fakeApprovals
	rules        *fakeRules
	members      *fakeMembers
	audit        *fakeAudit
	notifier     *fakeNotifier

	workflowSvc    *ApprovalWorkflowService
	changeOrderSvc *ChangeOrderService
	rulesSvc       *ApprovalRulesService
}

func newTestEnv() *testEnv {
	changeOrders := newFakeChangeOrders()
	approvals := newFakeApprovals(changeOrders)
	workflows := newFakeWorkflows(approvals)
	rules := &fakeRules{}
	members := newFakeMembers()
	audit := &fakeAudit{}
	notifier := &fakeNotifier{}
	log := zerolog.Nop()

	workflowSvc := NewApprovalWorkflowService(
		changeOrders, workflows, approvals, rules, members, audit, notifier, log)
	changeOrderSvc := NewChangeOrderService(changeOrders, workflowSvc, audit, notifier, log)
	rulesSvc := NewApprovalRulesService(rules, log)

	return &testEnv{
		changeOrders:   changeOrders,
		workflows:      workflows,
		approvals:      approvals,
		rules:          rules,
		members:        members,
		audit:          audit,
		notifier:       notifier,
		workflowSvc:    workflowSvc,
		changeOrderSvc: changeOrderSvc,
		rulesSvc:       rulesSvc,
	}
}

// seedChangeOrder inserts a change order directly into the fake store.
func (e *testEnv) seedChangeOrder(costCents int64, status string) *repository.ChangeOrder {
	co := &repository.ChangeOrder{
		ProjectID:         "proj-1",
		ChangeOrderNumber: "CO-0001",
		Title:             "Replace HVAC units",
		CostImpactCents:   costCents,
		Status:            status,
		CreatedBy:         "user-creator",
	}
	_ = e.changeOrders.Create(context.Background(), co)
	return co
}
