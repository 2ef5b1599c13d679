package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pesio-ai/be-ppm-changes/internal/service"
)

// ApprovalRulesHandler serves the routing rule admin routes.
type ApprovalRulesHandler struct {
	svc *service.ApprovalRulesService
}

// NewApprovalRulesHandler creates a new ApprovalRulesHandler.
func NewApprovalRulesHandler(svc *service.ApprovalRulesService) *ApprovalRulesHandler {
	return &ApprovalRulesHandler{svc: svc}
}

// Create handles POST /approval-rules.
func (h *ApprovalRulesHandler) Create(c *gin.Context) {
	var req service.SaveRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	rule, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// Update handles PUT /approval-rules/:id.
func (h *ApprovalRulesHandler) Update(c *gin.Context) {
	var req service.SaveRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	rule, err := h.svc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// Get handles GET /approval-rules/:id.
func (h *ApprovalRulesHandler) Get(c *gin.Context) {
	rule, err := h.svc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// List handles GET /approval-rules?project_id=...
func (h *ApprovalRulesHandler) List(c *gin.Context) {
	projectID := c.Query("project_id")
	if projectID == "" {
		writeBadRequest(c, "project_id is required")
		return
	}

	rules, err := h.svc.List(c.Request.Context(), projectID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"approval_rules": rules})
}

// Deactivate handles DELETE /approval-rules/:id.
func (h *ApprovalRulesHandler) Deactivate(c *gin.Context) {
	if err := h.svc.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Preview handles GET /approval-rules/preview?project_id=...&cost_impact_cents=...
func (h *ApprovalRulesHandler) Preview(c *gin.Context) {
	projectID := c.Query("project_id")
	if projectID == "" {
		writeBadRequest(c, "project_id is required")
		return
	}
	costCents, err := strconv.ParseInt(c.Query("cost_impact_cents"), 10, 64)
	if err != nil {
		writeBadRequest(c, "cost_impact_cents must be an integer")
		return
	}

	levels, err := h.svc.Preview(c.Request.Context(), projectID, costCents)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"levels": levels})
}
