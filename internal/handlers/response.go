package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/dreamcanvas-backend/internal/services"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondServiceError translates service error types into their HTTP shape.
func RespondServiceError(c *gin.Context, err error) {
	var vErr *services.ValidationError
	if errors.As(err, &vErr) {
		RespondError(c, http.StatusUnprocessableEntity, "validation_error", err)
		return
	}
	var rlErr *services.RateLimitError
	if errors.As(err, &rlErr) {
		c.Header("Retry-After", "3600")
		RespondError(c, http.StatusTooManyRequests, "rate_limited", err)
		return
	}
	var nfErr *services.NotFoundError
	if errors.As(err, &nfErr) {
		RespondError(c, http.StatusNotFound, "not_found", err)
		return
	}
	RespondError(c, http.StatusInternalServerError, "internal_error", err)
}
