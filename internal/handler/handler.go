package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pesio-ai/be-ppm-changes/internal/apperrors"
)

// Handlers bundles the HTTP handlers for route registration.
type Handlers struct {
	ChangeOrders *ChangeOrderHandler
	Approvals    *ApprovalHandler
	Rules        *ApprovalRulesHandler
}

// NewHandlers creates the handler set.
func NewHandlers(changeOrders *ChangeOrderHandler, approvals *ApprovalHandler, rules *ApprovalRulesHandler) *Handlers {
	return &Handlers{
		ChangeOrders: changeOrders,
		Approvals:    approvals,
		Rules:        rules,
	}
}

// errorResponse is the JSON error body.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps a typed error code to an HTTP status. Unknown codes are
// internal errors and their details are not exposed to clients.
func writeError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)

	var status int
	switch code {
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeConflict:
		status = http.StatusConflict
	case apperrors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case apperrors.ErrCodeUnauthorized:
		status = http.StatusUnauthorized
	case apperrors.ErrCodeForbidden:
		status = http.StatusForbidden
	default:
		status = http.StatusInternalServerError
	}

	message := apperrors.MessageOf(err)
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}

	c.JSON(status, errorResponse{Code: string(code), Message: message})
}

func writeBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorResponse{
		Code:    string(apperrors.ErrCodeInvalidInput),
		Message: message,
	})
}

// listMeta is the pagination block on list responses.
type listMeta struct {
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

func parsePagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
