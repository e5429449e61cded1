package handler

import (
	"errors"
	"net/http"

	"commerce-core/internal/domain"
	"commerce-core/internal/platform/observability"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrSignatureInvalid):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrGiftCardExpired),
		errors.Is(err, domain.ErrGiftCardInactive),
		errors.Is(err, domain.ErrGiftCardDepleted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrUpstreamGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the structured error. Unclassified errors are logged
// and replaced by a generic message.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := errorBody{Error: domain.Kind(err), Message: err.Error()}
	if status == http.StatusInternalServerError {
		observability.FromContext(c.Request.Context(), nil).Error("request failed", zap.Error(err))
		body.Message = "internal error"
	}
	if errors.Is(err, domain.ErrUpstreamGateway) {
		body.Message = "payment provider unavailable, please retry"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func respondStatus(c *gin.Context, status int, kind, message string) {
	c.AbortWithStatusJSON(status, errorBody{Error: kind, Message: message})
}

func badRequest(c *gin.Context, message string) {
	respondStatus(c, http.StatusBadRequest, "validation_error", message)
}
