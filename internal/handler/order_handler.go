package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"commerce-core/internal/domain"
	"commerce-core/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderHandler struct {
	orders   service.OrderService
	payments service.PaymentService
	stats    service.StatsService
}

func NewOrderHandler(orders service.OrderService, payments service.PaymentService, stats service.StatsService) *OrderHandler {
	return &OrderHandler{orders: orders, payments: payments, stats: stats}
}

func (h *OrderHandler) RegisterRoutes(router gin.IRouter) {
	orders := router.Group("/orders")
	{
		orders.POST("", h.CreateOrder)
		orders.GET("/my-orders", h.MyOrders)
		orders.GET("/vendor/orders", h.VendorOrders)
		orders.GET("/vendor/stats", h.VendorStats)
		orders.GET("/stats", requireAdmin(), h.GlobalStats)
		orders.GET("/extended-stats", requireAdmin(), h.ExtendedStats)
		orders.GET("/:id", h.GetOrder)
		orders.PATCH("/:id", requireAdmin(), h.UpdateOrder)
		orders.POST("/:id/payment", h.CreatePayment)
		orders.GET("/:id/payments", requireAdmin(), h.ListPayments)
		orders.POST("/:id/gift-card", h.ApplyGiftCard)
	}
}

// Client supplied prices, totals and statuses are not read; the catalog
// price is snapshotted and every order starts pending.
type orderLineRequest struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

type createOrderRequest struct {
	UserID          *uuid.UUID         `json:"userId"`
	Items           []orderLineRequest `json:"items"`
	ShippingAddress json.RawMessage    `json:"shippingAddress"`
}

// shippingAddress accepts either a JSON object or a string holding JSON text.
func shippingAddress(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if !json.Valid([]byte(text)) {
			return nil, errInvalidShippingAddress
		}
		return json.RawMessage(text), nil
	}
	return raw, nil
}

var errInvalidShippingAddress = errors.New("shipping address is not valid JSON")

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	userID := uuid.Nil
	if c.GetHeader(HeaderUserID) != "" {
		id, ok := headerID(c, HeaderUserID)
		if !ok {
			return
		}
		userID = id
	} else if req.UserID != nil {
		userID = *req.UserID
	}

	address, err := shippingAddress(req.ShippingAddress)
	if err != nil {
		badRequest(c, "shippingAddress must be valid JSON")
		return
	}

	in := domain.CreateOrderInput{UserID: userID, ShippingAddress: address}
	for _, line := range req.Items {
		in.Items = append(in.Items, domain.OrderLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	order, ok := h.ownedOrder(c, orderID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, order)
}

// ownedOrder loads the order and checks the caller may act on it.
func (h *OrderHandler) ownedOrder(c *gin.Context, orderID uuid.UUID) (*domain.Order, bool) {
	if isAdmin(c) {
		order, err := h.orders.FindOne(c.Request.Context(), orderID)
		if err != nil {
			respondError(c, err)
			return nil, false
		}
		return order, true
	}

	userID, ok := headerID(c, HeaderUserID)
	if !ok {
		return nil, false
	}
	order, err := h.orders.FindOne(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if order.UserID != userID {
		respondStatus(c, http.StatusForbidden, "forbidden", "you are not authorized to access this order")
		return nil, false
	}
	return order, true
}

func (h *OrderHandler) MyOrders(c *gin.Context) {
	userID, ok := headerID(c, HeaderUserID)
	if !ok {
		return
	}
	orders, err := h.orders.FindByUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(orders))
}

func (h *OrderHandler) VendorOrders(c *gin.Context) {
	vendorID, ok := headerID(c, HeaderVendorID)
	if !ok {
		return
	}
	orders, err := h.orders.FindByVendor(c.Request.Context(), vendorID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(orders))
}

func (h *OrderHandler) UpdateOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var patch domain.OrderPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	order, err := h.orders.UpdateOrder(c.Request.Context(), orderID, patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type createPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *OrderHandler) CreatePayment(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if _, ok := h.ownedOrder(c, orderID); !ok {
		return
	}
	result, err := h.payments.CreateIntent(c.Request.Context(), orderID, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *OrderHandler) ListPayments(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	payments, err := h.payments.Payments(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(payments))
}

type applyGiftCardRequest struct {
	GiftCardCode string          `json:"giftCardCode"`
	AmountToUse  decimal.Decimal `json:"amountToUse"`
}

func (h *OrderHandler) ApplyGiftCard(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req applyGiftCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.GiftCardCode == "" {
		badRequest(c, "giftCardCode is required")
		return
	}
	if _, ok := h.ownedOrder(c, orderID); !ok {
		return
	}
	result, err := h.orders.ApplyGiftCard(c.Request.Context(), orderID, req.GiftCardCode, req.AmountToUse)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *OrderHandler) windowQuery(c *gin.Context) service.WindowQuery {
	return service.WindowQuery{
		Filter:    c.Query("filter"),
		StartDate: c.Query("startDate"),
		EndDate:   c.Query("endDate"),
	}
}

func (h *OrderHandler) VendorStats(c *gin.Context) {
	vendorID, ok := headerID(c, HeaderVendorID)
	if !ok {
		return
	}
	h.dashboard(c, domain.VendorScope(vendorID))
}

func (h *OrderHandler) GlobalStats(c *gin.Context) {
	h.dashboard(c, domain.GlobalScope())
}

func (h *OrderHandler) dashboard(c *gin.Context, scope domain.Scope) {
	w, err := h.stats.ResolveWindow(h.windowQuery(c))
	if err != nil {
		respondError(c, err)
		return
	}
	d, err := h.stats.Dashboard(c.Request.Context(), scope, w)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// ExtendedStats is global unless a vendorId query parameter narrows it.
func (h *OrderHandler) ExtendedStats(c *gin.Context) {
	scope := domain.GlobalScope()
	if raw := c.Query("vendorId"); raw != "" {
		vendorID, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, "invalid vendorId format")
			return
		}
		scope = domain.VendorScope(vendorID)
	}
	w, err := h.stats.ResolveWindow(h.windowQuery(c))
	if err != nil {
		respondError(c, err)
		return
	}
	stats, err := h.stats.Extended(c.Request.Context(), scope, w)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
