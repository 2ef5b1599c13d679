package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pesio-ai/be-ppm-changes/internal/auth"
	"github.com/pesio-ai/be-ppm-changes/internal/repository"
	"github.com/pesio-ai/be-ppm-changes/internal/service"
)

// ChangeOrderHandler serves change order CRUD and submission.
type ChangeOrderHandler struct {
	svc *service.ChangeOrderService
}

// NewChangeOrderHandler creates a new ChangeOrderHandler.
func NewChangeOrderHandler(svc *service.ChangeOrderService) *ChangeOrderHandler {
	return &ChangeOrderHandler{svc: svc}
}

// Create handles POST /change-orders.
func (h *ChangeOrderHandler) Create(c *gin.Context) {
	var req service.CreateChangeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	co, err := h.svc.Create(c.Request.Context(), req, auth.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, co)
}

// Get handles GET /change-orders/:id.
func (h *ChangeOrderHandler) Get(c *gin.Context) {
	co, err := h.svc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, co)
}

// List handles GET /change-orders.
func (h *ChangeOrderHandler) List(c *gin.Context) {
	limit, offset := parsePagination(c)

	filter := repository.ChangeOrderFilter{Limit: limit, Offset: offset}
	if projectID := c.Query("project_id"); projectID != "" {
		filter.ProjectID = &projectID
	}
	if status := c.Query("status"); status != "" {
		filter.Status = &status
	}

	orders, total, err := h.svc.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"change_orders": orders,
		"meta":          listMeta{Total: total, Limit: limit, Offset: offset},
	})
}

// submitRequest optionally overrides the approval chain for one submission.
type submitRequest struct {
	Levels []levelOverride `json:"levels"`
}

type levelOverride struct {
	Level    int    `json:"level" binding:"required"`
	Role     string `json:"role" binding:"required"`
	Required *bool  `json:"required"`
}

func levelsFromOverrides(overrides []levelOverride) []service.ApprovalLevel {
	tiers := make([]service.ApprovalLevel, 0, len(overrides))
	for _, lvl := range overrides {
		tiers = append(tiers, service.ApprovalLevel{
			Level:    lvl.Level,
			Role:     lvl.Role,
			Required: lvl.Required == nil || *lvl.Required,
		})
	}
	return tiers
}

// Submit handles POST /change-orders/:id/submit.
func (h *ChangeOrderHandler) Submit(c *gin.Context) {
	var req submitRequest
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

	res, err := h.svc.SubmitForApproval(c.Request.Context(), c.Param("id"), cfg, auth.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Cancel handles POST /change-orders/:id/cancel.
func (h *ChangeOrderHandler) Cancel(c *gin.Context) {
	if err := h.svc.Cancel(c.Request.Context(), c.Param("id"), auth.UserID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": repository.ChangeOrderStatusCancelled})
}

// Delete handles DELETE /change-orders/:id.
func (h *ChangeOrderHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
