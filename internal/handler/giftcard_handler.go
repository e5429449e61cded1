package handler

import (
	"net/http"
	"strings"
	"time"

	"commerce-core/internal/domain"
	"commerce-core/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type GiftCardHandler struct {
	giftCards service.GiftCardService
	// lookupPerMinute caps validate and balance lookups per client address.
	lookupPerMinute int
}

func NewGiftCardHandler(giftCards service.GiftCardService, lookupPerMinute int) *GiftCardHandler {
	return &GiftCardHandler{giftCards: giftCards, lookupPerMinute: lookupPerMinute}
}

func (h *GiftCardHandler) RegisterRoutes(router gin.IRouter) {
	limited := rateLimit(h.lookupPerMinute)

	cards := router.Group("/gift-cards")
	{
		cards.POST("/validate", limited, h.Validate)
		cards.POST("/balance", limited, h.Balance)
		cards.POST("/admin", requireAdmin(), h.IssueAsAdmin)
		cards.GET("/admin", requireAdmin(), h.ListAll)
		cards.GET("/admin/:id/usages", requireAdmin(), h.Usages)
		cards.POST("/vendor", h.IssueAsVendor)
		cards.GET("/vendor", h.ListForVendor)
	}
}

type codeRequest struct {
	Code string `json:"code"`
}

func bindCode(c *gin.Context) (string, bool) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return "", false
	}
	if strings.TrimSpace(req.Code) == "" {
		badRequest(c, "code is required")
		return "", false
	}
	return req.Code, true
}

func (h *GiftCardHandler) Validate(c *gin.Context) {
	code, ok := bindCode(c)
	if !ok {
		return
	}
	summary, err := h.giftCards.Validate(c.Request.Context(), code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type balanceResponse struct {
	Code      string          `json:"code"`
	Balance   decimal.Decimal `json:"balance"`
	Amount    decimal.Decimal `json:"amount"`
	IsActive  bool            `json:"isActive"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
}

func (h *GiftCardHandler) Balance(c *gin.Context) {
	code, ok := bindCode(c)
	if !ok {
		return
	}
	card, err := h.giftCards.Balance(c.Request.Context(), code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceResponse{
		Code:      card.Code,
		Balance:   card.Balance,
		Amount:    card.Amount,
		IsActive:  card.IsActive,
		ExpiresAt: card.ExpiresAt,
	})
}

type issueRequest struct {
	Code      string          `json:"code"`
	Amount    decimal.Decimal `json:"amount"`
	ExpiresAt *time.Time      `json:"expiresAt"`
	VendorID  *uuid.UUID      `json:"vendorId"`
}

func (h *GiftCardHandler) IssueAsAdmin(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	h.issue(c, domain.IssueGiftCardInput{
		Code:      req.Code,
		Amount:    req.Amount,
		ExpiresAt: req.ExpiresAt,
		VendorID:  req.VendorID,
	})
}

// IssueAsVendor always assigns the card to the calling vendor.
func (h *GiftCardHandler) IssueAsVendor(c *gin.Context) {
	vendorID, ok := headerID(c, HeaderVendorID)
	if !ok {
		return
	}
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	h.issue(c, domain.IssueGiftCardInput{
		Code:      req.Code,
		Amount:    req.Amount,
		ExpiresAt: req.ExpiresAt,
		VendorID:  &vendorID,
	})
}

func (h *GiftCardHandler) issue(c *gin.Context, in domain.IssueGiftCardInput) {
	card, err := h.giftCards.Issue(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, card)
}

func (h *GiftCardHandler) ListAll(c *gin.Context) {
	cards, err := h.giftCards.ListAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(cards))
}

func (h *GiftCardHandler) ListForVendor(c *gin.Context) {
	vendorID, ok := headerID(c, HeaderVendorID)
	if !ok {
		return
	}
	cards, err := h.giftCards.ListByVendor(c.Request.Context(), vendorID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(cards))
}

func (h *GiftCardHandler) Usages(c *gin.Context) {
	giftCardID, ok := pathID(c, "id")
	if !ok {
		return
	}
	usages, err := h.giftCards.Usages(c.Request.Context(), giftCardID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(usages))
}
