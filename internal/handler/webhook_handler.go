package handler

import (
	"errors"
	"net/http"

	"commerce-core/internal/domain"
	"commerce-core/internal/platform/observability"
	"commerce-core/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SignatureHeader carries the gateway's HMAC signature of the raw body.
const SignatureHeader = "Stripe-Signature"

// maxWebhookBody bounds the payload read before verification.
const maxWebhookBody = 64 << 10

type WebhookHandler struct {
	webhooks service.WebhookService
}

func NewWebhookHandler(webhooks service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

func (h *WebhookHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/webhook", h.Receive)
}

// Receive acknowledges with 200 once the event is applied or known to be
// irrelevant. Rejected signatures get 400; other failures get 500 so the
// gateway redelivers.
func (h *WebhookHandler) Receive(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	payload, err := c.GetRawData()
	if err != nil {
		badRequest(c, "unable to read request body")
		return
	}

	outcome, err := h.webhooks.Handle(c.Request.Context(), payload, c.GetHeader(SignatureHeader))
	if err != nil {
		if errors.Is(err, domain.ErrSignatureInvalid) || errors.Is(err, domain.ErrValidation) {
			respondStatus(c, http.StatusBadRequest, domain.Kind(err), "webhook error: "+err.Error())
			return
		}
		observability.FromContext(c.Request.Context(), nil).Error("webhook processing failed", zap.Error(err))
		_ = c.Error(err)
		respondStatus(c, http.StatusInternalServerError, "internal", "webhook processing failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": outcome})
}
