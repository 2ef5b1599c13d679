package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-ppm-changes/internal/apperrors"
	"github.com/pesio-ai/be-ppm-changes/internal/auth"
	"github.com/pesio-ai/be-ppm-changes/internal/repository"
	"github.com/pesio-ai/be-ppm-changes/internal/service"
)

const testSecret = "test-secret"

func signToken(t *testing.T, userID string, perms ...string) string {
	t.Helper()
	claims := auth.Claims{
		UserID:      userID,
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func allPerms() []string {
	return []string{auth.PermChangeRead, auth.PermChangeWrite, auth.PermChangeApprove}
}

// ── in-memory stores ──────────────────────────────────────────────────────────

type memChangeOrders struct {
	orders map[string]*repository.ChangeOrder
	nextID int
}

func (m *memChangeOrders) Create(_ context.Context, co *repository.ChangeOrder) error {
	m.nextID++
	co.ID = fmt.Sprintf("co-%d", m.nextID)
	m.orders[co.ID] = co
	return nil
}

func (m *memChangeOrders) GetByID(_ context.Context, id string) (*repository.ChangeOrder, error) {
	co, ok := m.orders[id]
	if !ok {
		return nil, apperrors.NotFound("change_order", id)
	}
	cp := *co
	return &cp, nil
}

func (m *memChangeOrders) List(_ context.Context, f repository.ChangeOrderFilter) ([]*repository.ChangeOrder, int64, error) {
	var out []*repository.ChangeOrder
	for _, co := range m.orders {
		if f.ProjectID != nil && co.ProjectID != *f.ProjectID {
			continue
		}
		if f.Status != nil && co.Status != *f.Status {
			continue
		}
		cp := *co
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (m *memChangeOrders) UpdateStatus(_ context.Context, id, status string, updatedBy *string) error {
	co, ok := m.orders[id]
	if !ok {
		return apperrors.NotFound("change_order", id)
	}
	co.Status = status
	co.UpdatedBy = updatedBy
	return nil
}

func (m *memChangeOrders) Approve(_ context.Context, id string, approvedDate time.Time) error {
	co, ok := m.orders[id]
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

func (m *memChangeOrders) Delete(_ context.Context, id string) error {
	if _, ok := m.orders[id]; !ok {
		return apperrors.NotFound("change_order", id)
	}
	delete(m.orders, id)
	return nil
}

func (m *memChangeOrders) NextNumber(_ context.Context, projectID string) (string, error) {
	n := 1
	for _, co := range m.orders {
		if co.ProjectID == projectID {
			n++
		}
	}
	return fmt.Sprintf("CO-%04d", n), nil
}

type memApprovals struct {
	records      map[string]*repository.ApprovalRecord
	changeOrders *memChangeOrders
	nextID       int
}

func (m *memApprovals) GetByID(_ context.Context, id string) (*repository.ApprovalRecord, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, apperrors.NotFound("approval", id)
	}
	cp := *rec
	return &cp, nil
}

func (m *memApprovals) ListByWorkflowID(_ context.Context, workflowID string) ([]*repository.ApprovalRecord, error) {
	var out []*repository.ApprovalRecord
	for _, rec := range m.records {
		if rec.WorkflowID == workflowID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out, nil
}

func (m *memApprovals) ListPendingForUser(_ context.Context, userID string) ([]*repository.PendingApproval, error) {
	var out []*repository.PendingApproval
	for _, rec := range m.records {
		if rec.Status != repository.ApprovalStatusPending {
			continue
		}
		if rec.ApproverUserID != userID &&
			(rec.DelegatedTo == nil || *rec.DelegatedTo != userID) {
			continue
		}
		cp := *rec
		p := &repository.PendingApproval{Record: &cp}
		if co, ok := m.changeOrders.orders[rec.ChangeOrderID]; ok {
			p.ChangeOrderNumber = co.ChangeOrderNumber
			p.Title = co.Title
			p.ProjectID = co.ProjectID
			p.CostImpactCents = co.CostImpactCents
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memApprovals) RecordDecision(_ context.Context, id, status string, comments, conditions *string) error {
	rec, ok := m.records[id]
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

func (m *memApprovals) Delegate(_ context.Context, id, delegatedTo string) error {
	rec, ok := m.records[id]
	if !ok {
		return apperrors.NotFound("approval", id)
	}
	if rec.Status != repository.ApprovalStatusPending {
		return apperrors.New(apperrors.ErrCodeConflict, "approval is no longer pending")
	}
	rec.DelegatedTo = &delegatedTo
	return nil
}

func (m *memApprovals) CancelPending(_ context.Context, workflowID string) error {
	for _, rec := range m.records {
		if rec.WorkflowID == workflowID && rec.Status == repository.ApprovalStatusPending {
			rec.Status = repository.ApprovalStatusCancelled
		}
	}
	return nil
}

type memWorkflows struct {
	workflows map[string]*repository.ApprovalWorkflow
	approvals *memApprovals
	nextID    int
}

func (m *memWorkflows) Create(_ context.Context, wf *repository.ApprovalWorkflow, records []*repository.ApprovalRecord) error {
	m.nextID++
	wf.ID = fmt.Sprintf("wf-%d", m.nextID)
	m.workflows[wf.ID] = wf
	for _, rec := range records {
		m.approvals.nextID++
		rec.ID = fmt.Sprintf("ap-%d", m.approvals.nextID)
		rec.WorkflowID = wf.ID
		rec.ChangeOrderID = wf.ChangeOrderID
		cp := *rec
		m.approvals.records[rec.ID] = &cp
	}
	return nil
}

func (m *memWorkflows) GetByID(_ context.Context, id string) (*repository.ApprovalWorkflow, error) {
	wf, ok := m.workflows[id]
	if !ok {
		return nil, apperrors.NotFound("approval_workflow", id)
	}
	cp := *wf
	return &cp, nil
}

func (m *memWorkflows) GetByChangeOrderID(_ context.Context, changeOrderID string) (*repository.ApprovalWorkflow, error) {
	var latest *repository.ApprovalWorkflow
	for _, wf := range m.workflows {
		if wf.ChangeOrderID == changeOrderID && (latest == nil || wf.ID > latest.ID) {
			latest = wf
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *memWorkflows) GetActiveByChangeOrderID(_ context.Context, changeOrderID string) (*repository.ApprovalWorkflow, error) {
	for _, wf := range m.workflows {
		if wf.ChangeOrderID == changeOrderID && wf.Status == repository.WorkflowStatusActive {
			cp := *wf
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memWorkflows) SetCurrentLevel(_ context.Context, id string, level int) error {
	wf, ok := m.workflows[id]
	if !ok {
		return apperrors.NotFound("approval_workflow", id)
	}
	wf.CurrentLevel = level
	return nil
}

func (m *memWorkflows) Complete(_ context.Context, id string, completedAt time.Time) error {
	wf, ok := m.workflows[id]
	if !ok {
		return apperrors.NotFound("approval_workflow", id)
	}
	wf.Status = repository.WorkflowStatusComplete
	wf.CompletedAt = &completedAt
	return nil
}

func (m *memWorkflows) Cancel(_ context.Context, id string, cancelledAt time.Time) error {
	wf, ok := m.workflows[id]
	if !ok {
		return apperrors.NotFound("approval_workflow", id)
	}
	wf.Status = repository.WorkflowStatusCancelled
	wf.CompletedAt = &cancelledAt
	return nil
}

type memRules struct{}

func (memRules) GetByID(_ context.Context, id string) (*repository.ApprovalRule, error) {
	return nil, apperrors.NotFound("approval_rule", id)
}
func (memRules) List(context.Context, string) ([]*repository.ApprovalRule, error) { return nil, nil }
func (memRules) Create(_ context.Context, rule *repository.ApprovalRule) error {
	rule.ID = "rule-1"
	return nil
}
func (memRules) Update(context.Context, *repository.ApprovalRule) error { return nil }
func (memRules) Deactivate(context.Context, string) error               { return nil }
func (memRules) FindMatchingRule(context.Context, string, int64) (*repository.ApprovalRule, error) {
	return nil, nil
}

type memMembers struct {
	assignments map[string]string // role -> userID
}

func (m *memMembers) FindUserWithRole(_ context.Context, _, role string) (*string, error) {
	if userID, ok := m.assignments[role]; ok {
		return &userID, nil
	}
	return nil, nil
}

type memAudit struct {
	entries []*repository.AuditEntry
}

func (m *memAudit) Append(_ context.Context, entry *repository.AuditEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memAudit) ListByChangeOrderID(_ context.Context, changeOrderID string) ([]*repository.AuditEntry, error) {
	var out []*repository.AuditEntry
	for _, e := range m.entries {
		if e.ChangeOrderID == changeOrderID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ── router setup ──────────────────────────────────────────────────────────────

type testServer struct {
	router       *gin.Engine
	changeOrders *memChangeOrders
	members      *memMembers
}

func newTestServer() *testServer {
	gin.SetMode(gin.TestMode)

	changeOrders := &memChangeOrders{orders: map[string]*repository.ChangeOrder{}}
	approvals := &memApprovals{records: map[string]*repository.ApprovalRecord{}, changeOrders: changeOrders}
	workflows := &memWorkflows{workflows: map[string]*repository.ApprovalWorkflow{}, approvals: approvals}
	members := &memMembers{assignments: map[string]string{}}
	audit := &memAudit{}
	log := zerolog.Nop()

	workflowSvc := service.NewApprovalWorkflowService(
		changeOrders, workflows, approvals, memRules{}, members, audit, nil, log)
	changeOrderSvc := service.NewChangeOrderService(changeOrders, workflowSvc, audit, nil, log)
	rulesSvc := service.NewApprovalRulesService(memRules{}, log)

	h := NewHandlers(
		NewChangeOrderHandler(changeOrderSvc),
		NewApprovalHandler(workflowSvc),
		NewApprovalRulesHandler(rulesSvc),
	)

	router := gin.New()
	h.RegisterRoutes(router, testSecret)

	return &testServer{router: router, changeOrders: changeOrders, members: members}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer()

	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutesRequireToken(t *testing.T) {
	s := newTestServer()

	w := s.do(t, http.MethodGet, "/api/v1/change-orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWriteRequiresPermission(t *testing.T) {
	s := newTestServer()
	token := signToken(t, "user-1", auth.PermChangeRead)

	w := s.do(t, http.MethodPost, "/api/v1/change-orders", token, gin.H{
		"project_id": "proj-1", "title": "x",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreateChangeOrder(t *testing.T) {
	s := newTestServer()
	token := signToken(t, "user-creator", allPerms()...)

	w := s.do(t, http.MethodPost, "/api/v1/change-orders", token, gin.H{
		"project_id":        "proj-1",
		"title":             "Upgrade substation",
		"cost_impact_cents": 1_000_000,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var co repository.ChangeOrder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &co))
	assert.Equal(t, "CO-0001", co.ChangeOrderNumber)
	assert.Equal(t, repository.ChangeOrderStatusDraft, co.Status)
	assert.Equal(t, "user-creator", co.CreatedBy)
}

func TestCreateChangeOrder_MissingTitle(t *testing.T) {
	s := newTestServer()
	token := signToken(t, "user-creator", allPerms()...)

	w := s.do(t, http.MethodPost, "/api/v1/change-orders", token, gin.H{"project_id": "proj-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetChangeOrder_NotFound(t *testing.T) {
	s := newTestServer()
	token := signToken(t, "user-1", allPerms()...)

	w := s.do(t, http.MethodGet, "/api/v1/change-orders/missing", token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(apperrors.ErrCodeNotFound), resp.Code)
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	s := newTestServer()
	s.members.assignments[service.RoleProjectManager] = "user-pm"

	creatorToken := signToken(t, "user-creator", allPerms()...)
	pmToken := signToken(t, "user-pm", allPerms()...)

	// Create a draft.
	w := s.do(t, http.MethodPost, "/api/v1/change-orders", creatorToken, gin.H{
		"project_id":        "proj-1",
		"title":             "Re-route fiber",
		"cost_impact_cents": 1_000_000,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var co repository.ChangeOrder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &co))

	// Submit it.
	w = s.do(t, http.MethodPost, "/api/v1/change-orders/"+co.ID+"/submit", creatorToken, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var submit struct {
		Workflow struct {
			PendingApprovals []struct {
				ID string `json:"id"`
			} `json:"pending_approvals"`
		} `json:"workflow"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submit))
	require.Len(t, submit.Workflow.PendingApprovals, 1)
	approvalID := submit.Workflow.PendingApprovals[0].ID

	// The worklist shows it for the assigned approver.
	w = s.do(t, http.MethodGet, "/api/v1/change-approvals/pending/user-pm", pmToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), co.ChangeOrderNumber)

	// A stranger cannot decide.
	strangerToken := signToken(t, "user-stranger", allPerms()...)
	w = s.do(t, http.MethodPost, "/api/v1/change-approvals/approve/"+approvalID, strangerToken, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	// The approver can.
	w = s.do(t, http.MethodPost, "/api/v1/change-approvals/approve/"+approvalID, pmToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// A second decision conflicts.
	w = s.do(t, http.MethodPost, "/api/v1/change-approvals/approve/"+approvalID, pmToken, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	// The change order is approved.
	w = s.do(t, http.MethodGet, "/api/v1/change-orders/"+co.ID, creatorToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var final repository.ChangeOrder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &final))
	assert.Equal(t, repository.ChangeOrderStatusApproved, final.Status)

	// And the status projection says complete.
	w = s.do(t, http.MethodGet, "/api/v1/change-approvals/workflow-status/"+co.ID, creatorToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status service.WorkflowStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.IsComplete)
	assert.Equal(t, repository.WorkflowStatusComplete, status.Status)
}

func TestDelegateOverHTTP(t *testing.T) {
	s := newTestServer()
	s.members.assignments[service.RoleProjectManager] = "user-pm"

	creatorToken := signToken(t, "user-creator", allPerms()...)
	pmToken := signToken(t, "user-pm", allPerms()...)
	deputyToken := signToken(t, "user-deputy", allPerms()...)

	w := s.do(t, http.MethodPost, "/api/v1/change-orders", creatorToken, gin.H{
		"project_id": "proj-1", "title": "Swap pump", "cost_impact_cents": 1_000_000,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var co repository.ChangeOrder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &co))

	w = s.do(t, http.MethodPost, "/api/v1/change-orders/"+co.ID+"/submit", creatorToken, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var submit struct {
		Workflow struct {
			PendingApprovals []struct {
				ID string `json:"id"`
			} `json:"pending_approvals"`
		} `json:"workflow"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submit))
	approvalID := submit.Workflow.PendingApprovals[0].ID

	// Delegation without a target is invalid.
	w = s.do(t, http.MethodPost, "/api/v1/change-approvals/delegate/"+approvalID, pmToken, gin.H{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/change-approvals/delegate/"+approvalID, pmToken, gin.H{
		"delegate_to_user_id": "user-deputy",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/change-approvals/approve/"+approvalID, deputyToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestInitiateWorkflowDirectly(t *testing.T) {
	s := newTestServer()
	s.members.assignments[service.RoleProjectManager] = "user-pm"
	s.changeOrders.orders["co-1"] = &repository.ChangeOrder{
		ID:                "co-1",
		ProjectID:         "proj-1",
		ChangeOrderNumber: "CO-0001",
		Title:             "Migrated change order",
		CostImpactCents:   1_000_000,
		Status:            repository.ChangeOrderStatusPendingApproval,
		CreatedBy:         "user-creator",
	}

	token := signToken(t, "user-admin", allPerms()...)

	w := s.do(t, http.MethodPost, "/api/v1/change-approvals/workflow/co-1", token, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var wf service.WorkflowSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &wf))
	assert.Equal(t, 1, wf.TotalLevels)
	assert.Equal(t, repository.WorkflowStatusActive, wf.Status)

	// A second initiation conflicts with the active workflow.
	w = s.do(t, http.MethodPost, "/api/v1/change-approvals/workflow/co-1", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCancelThenApproveConflicts(t *testing.T) {
	s := newTestServer()
	s.members.assignments[service.RoleProjectManager] = "user-pm"

	creatorToken := signToken(t, "user-creator", allPerms()...)
	pmToken := signToken(t, "user-pm", allPerms()...)

	w := s.do(t, http.MethodPost, "/api/v1/change-orders", creatorToken, gin.H{
		"project_id": "proj-1", "title": "x", "cost_impact_cents": 1_000_000,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var co repository.ChangeOrder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &co))

	w = s.do(t, http.MethodPost, "/api/v1/change-orders/"+co.ID+"/submit", creatorToken, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var submit struct {
		Workflow struct {
			PendingApprovals []struct {
				ID string `json:"id"`
			} `json:"pending_approvals"`
		} `json:"workflow"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submit))
	require.NotEmpty(t, submit.Workflow.PendingApprovals)
	approvalID := submit.Workflow.PendingApprovals[0].ID

	w = s.do(t, http.MethodPost, "/api/v1/change-orders/"+co.ID+"/cancel", creatorToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The approval record was closed out with the workflow.
	w = s.do(t, http.MethodPost, "/api/v1/change-approvals/approve/"+approvalID, pmToken, nil)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/change-orders/"+co.ID, creatorToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stored repository.ChangeOrder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stored))
	assert.Equal(t, repository.ChangeOrderStatusCancelled, stored.Status)
}

func TestSubmitTwiceConflicts(t *testing.T) {
	s := newTestServer()
	token := signToken(t, "user-creator", allPerms()...)

	w := s.do(t, http.MethodPost, "/api/v1/change-orders", token, gin.H{
		"project_id": "proj-1", "title": "x", "cost_impact_cents": 100,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var co repository.ChangeOrder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &co))

	w = s.do(t, http.MethodPost, "/api/v1/change-orders/"+co.ID+"/submit", token, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/change-orders/"+co.ID+"/submit", token, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(apperrors.ErrCodeConflict), resp.Code)
}
