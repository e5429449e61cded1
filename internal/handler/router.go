package handler

import (
	"net/http"
	"time"

	"commerce-core/internal/database"
	"commerce-core/internal/platform/observability"
	"commerce-core/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Services struct {
	Orders    service.OrderService
	Payments  service.PaymentService
	GiftCards service.GiftCardService
	Webhooks  service.WebhookService
	Stats     service.StatsService
	// Health may be nil, in which case /health always reports up.
	Health database.Service
}

type RouterOptions struct {
	CORSOrigins []string
	// TrustedProxies may set X-Forwarded-For; nil trusts no proxy.
	TrustedProxies        []string
	GiftCardRatePerMinute int
	Logger                *zap.Logger
}

func NewRouter(svc Services, opts RouterOptions) *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		// Config validation rejects bad entries, so fall back to the peer address.
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(opts.Logger))

	corsCfg := cors.DefaultConfig()
	if len(opts.CORSOrigins) == 0 || (len(opts.CORSOrigins) == 1 && opts.CORSOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = opts.CORSOrigins
		corsCfg.AllowCredentials = true
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "PATCH", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", HeaderUserID, HeaderVendorID, HeaderRole, observability.RequestIDHeader}
	corsCfg.MaxAge = 12 * time.Hour
	r.Use(cors.New(corsCfg))

	r.GET("/health", healthHandler(svc.Health))

	NewOrderHandler(svc.Orders, svc.Payments, svc.Stats).RegisterRoutes(r)
	NewGiftCardHandler(svc.GiftCards, opts.GiftCardRatePerMinute).RegisterRoutes(r)
	NewWebhookHandler(svc.Webhooks).RegisterRoutes(r)

	return r
}

func healthHandler(db database.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			c.JSON(http.StatusOK, gin.H{"status": "up"})
			return
		}
		stats := db.Health(c.Request.Context())
		status := http.StatusOK
		if stats["status"] != "up" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, stats)
	}
}
