package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pesio-ai/be-ppm-changes/internal/auth"
	"github.com/pesio-ai/be-ppm-changes/internal/service"
)

// ApprovalHandler serves the approval workflow routes: decisions, delegation,
// pending worklists and workflow status.
type ApprovalHandler struct {
	svc *service.ApprovalWorkflowService
}

// NewApprovalHandler creates a new ApprovalHandler.
func NewApprovalHandler(svc *service.ApprovalWorkflowService) *ApprovalHandler {
	return &ApprovalHandler{svc: svc}
}

// initiateRequest optionally overrides the approval chain.
type initiateRequest struct {
	Levels []levelOverride `json:"levels"`
}

// Initiate handles POST /change-approvals/workflow/:changeOrderId. Used to
// start a workflow for a change order that was moved to pending_approval out
// of band; the usual path is the change order submit endpoint.
func (h *ApprovalHandler) Initiate(c *gin.Context) {
	var req initiateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBadRequest(c, "invalid request body: "+err.Error())
			return
		}
	}

	var cfg *service.WorkflowConfig
	if len(req.Levels) > 0 {
		cfg = &service.WorkflowConfig{Tiers: levelsFromOverrides(req.Levels)}
	}

	wf, err := h.svc.InitiateWorkflow(c.Request.Context(), c.Param("changeOrderId"), cfg, auth.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, wf)
}

// decisionRequest is the body for approve and reject.
type decisionRequest struct {
	Comments   *string `json:"comments"`
	Conditions *string `json:"conditions"`
}

func (r decisionRequest) toService() service.DecisionRequest {
	return service.DecisionRequest{Comments: r.Comments, Conditions: r.Conditions}
}

// Approve handles POST /change-approvals/approve/:approvalId.
func (h *ApprovalHandler) Approve(c *gin.Context) {
	var req decisionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBadRequest(c, "invalid request body: "+err.Error())
			return
		}
	}

	res, err := h.svc.Approve(c.Request.Context(), c.Param("approvalId"), req.toService(), auth.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Reject handles POST /change-approvals/reject/:approvalId.
func (h *ApprovalHandler) Reject(c *gin.Context) {
	var req decisionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBadRequest(c, "invalid request body: "+err.Error())
			return
		}
	}

	res, err := h.svc.Reject(c.Request.Context(), c.Param("approvalId"), req.toService(), auth.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// delegateRequest is the body for delegation.
type delegateRequest struct {
	DelegateToUserID string `json:"delegate_to_user_id" binding:"required"`
}

// Delegate handles POST /change-approvals/delegate/:approvalId.
func (h *ApprovalHandler) Delegate(c *gin.Context) {
	var req delegateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	res, err := h.svc.Delegate(c.Request.Context(), c.Param("approvalId"), req.DelegateToUserID, auth.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Pending handles GET /change-approvals/pending/:userId.
func (h *ApprovalHandler) Pending(c *gin.Context) {
	userID := c.Param("userId")

	pending, err := h.svc.GetPendingApprovals(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending_approvals": pending, "count": len(pending)})
}

// Status handles GET /change-approvals/workflow-status/:changeOrderId.
func (h *ApprovalHandler) Status(c *gin.Context) {
	status, err := h.svc.GetWorkflowStatus(c.Request.Context(), c.Param("changeOrderId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// History handles GET /change-approvals/history/:changeOrderId.
func (h *ApprovalHandler) History(c *gin.Context) {
	entries, err := h.svc.GetApprovalHistory(c.Request.Context(), c.Param("changeOrderId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}
