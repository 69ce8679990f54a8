package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"boardflow/internal/automation"
	"boardflow/internal/services"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// limitParam reads ?limit=, clamped to [1, maxListLimit].
func limitParam(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, automation.ErrInvalidEvent), errors.Is(err, services.ErrInvalidRule):
		return http.StatusBadRequest
	case errors.Is(err, automation.ErrRuleNotFound), errors.Is(err, automation.ErrEntityNotFound):
		return http.StatusNotFound
	case errors.Is(err, automation.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, summary string, err error) {
	status := statusFor(err)
	c.JSON(status, ErrorResponse{Error: summary, Message: err.Error(), Code: status})
}
