package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ukydev/fleet-maintenance/internal/maintenance"
	"github.com/ukydev/fleet-maintenance/internal/service"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	// OrderID is the open order that blocks a locked task.
	OrderID string `json:"order_id,omitempty"`
}

// writeError maps an operation error to its HTTP status.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	body := ErrorResponse{Code: service.Reason(err), Message: err.Error()}

	var (
		validation *maintenance.ValidationError
		locked     *maintenance.LockedError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
		body.Detail = validation.Field
	case errors.As(err, &locked):
		status = http.StatusConflict
		body.OrderID = locked.OrderID
	case errors.Is(err, maintenance.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, maintenance.ErrTerminal), errors.Is(err, maintenance.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, maintenance.ErrUnitMismatch):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrPersist):
		// The change is committed in memory; retrying with the same
		// idempotency key returns it.
		body.Code = "persist_failed"
		status = http.StatusServiceUnavailable
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Code:    "invalid_json",
		Message: "request body is not valid JSON",
		Detail:  err.Error(),
	})
}
