package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pesio-ai/be-ppm-changes/internal/auth"
)

// RegisterRoutes mounts the API under /api/v1. All routes require a valid
// token; writes and decisions additionally require their permission.
func (h *Handlers) RegisterRoutes(r *gin.Engine, jwtSecret string) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	api.Use(auth.JWTAuth(jwtSecret))

	read := api.Group("")
	read.Use(auth.RequirePermission(auth.PermChangeRead))
	{
		read.GET("/change-orders", h.ChangeOrders.List)
		read.GET("/change-orders/:id", h.ChangeOrders.Get)
		read.GET("/change-approvals/pending/:userId", h.Approvals.Pending)
		read.GET("/change-approvals/workflow-status/:changeOrderId", h.Approvals.Status)
		read.GET("/change-approvals/history/:changeOrderId", h.Approvals.History)
		read.GET("/approval-rules", h.Rules.List)
		read.GET("/approval-rules/preview", h.Rules.Preview)
		read.GET("/approval-rules/:id", h.Rules.Get)
	}

	write := api.Group("")
	write.Use(auth.RequirePermission(auth.PermChangeWrite))
	{
		write.POST("/change-orders", h.ChangeOrders.Create)
		write.POST("/change-orders/:id/submit", h.ChangeOrders.Submit)
		write.POST("/change-orders/:id/cancel", h.ChangeOrders.Cancel)
		write.DELETE("/change-orders/:id", h.ChangeOrders.Delete)
		write.POST("/approval-rules", h.Rules.Create)
		write.PUT("/approval-rules/:id", h.Rules.Update)
		write.DELETE("/approval-rules/:id", h.Rules.Deactivate)
	}

	approve := api.Group("")
	approve.Use(auth.RequirePermission(auth.PermChangeApprove))
	{
		approve.POST("/change-approvals/workflow/:changeOrderId", h.Approvals.Initiate)
		approve.POST("/change-approvals/approve/:approvalId", h.Approvals.Approve)
		approve.POST("/change-approvals/reject/:approvalId", h.Approvals.Reject)
		approve.POST("/change-approvals/delegate/:approvalId", h.Approvals.Delegate)
	}
}
