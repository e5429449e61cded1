// Package app assembles repositories, gateways and services from Config.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"commerce-core/internal/config"
	"commerce-core/internal/database"
	"commerce-core/internal/handler"
	"commerce-core/internal/infrastructure/payment"
	"commerce-core/internal/platform/dedupe"
	"commerce-core/internal/repo"
	"commerce-core/internal/service"
	"commerce-core/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *sql.DB
	Database database.Service

	Orders     repo.OrderRepo
	Products   repo.ProductRepo
	GiftCards  repo.GiftCardRepo
	Payments   repo.PaymentRepo
	StatsStore repo.StatsRepo

	Gateway payment.PaymentGateway
	// Mock is set when no Stripe key is configured.
	Mock *payment.MockGateway

	Services   handler.Services
	Reconciler service.PaymentReconciler
	Worker     *worker.ReconciliationWorker

	closers []func() error
}

// New connects to Postgres, applies the schema and wires every component.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := database.NewPostgres(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a, err := Wire(ctx, db, cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// Wire builds the component graph on an open database.
func Wire(ctx context.Context, db *sql.DB, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config:     cfg,
		Logger:     logger,
		DB:         db,
		Database:   database.New(db, cfg.Database.Database, logger),
		Orders:     repo.NewOrderRepo(db),
		Products:   repo.NewProductRepo(db),
		GiftCards:  repo.NewGiftCardRepo(db),
		Payments:   repo.NewPaymentRepo(db),
		StatsStore: repo.NewStatsRepo(db),
	}
	a.closers = append(a.closers, a.Database.Close)

	if cfg.Payment.StripeSecretKey != "" {
		gw, err := payment.NewStripeGateway(payment.StripeGatewayConfig{
			APIKey: cfg.Payment.StripeSecretKey,
			Logger: logger.Named("stripe"),
		})
		if err != nil {
			return nil, err
		}
		a.Gateway = gw
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, using the in-memory payment gateway")
		a.Mock = payment.NewMockGateway()
		a.Gateway = a.Mock
	}
	if cfg.Payment.StripeWebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set, every webhook will be rejected")
	}
	verifier := payment.NewStripeVerifier(cfg.Payment.StripeWebhookSecret, payment.DefaultSignatureTolerance)

	var seen dedupe.Store
	if cfg.RedisAddr != "" {
		rdb, err := dedupe.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
		seen = dedupe.NewRedisStore(rdb, "commerce")
	} else {
		seen = dedupe.NewMemoryStore()
	}

	giftCardSvc := service.NewGiftCardService(db, a.GiftCards, logger.Named("giftcard"))
	a.Reconciler = service.NewPaymentReconciler(db, a.Orders, a.Payments, logger.Named("reconciler"))
	a.Services = handler.Services{
		Orders:    service.NewOrderService(db, a.Orders, a.Products, giftCardSvc, logger.Named("order")),
		GiftCards: giftCardSvc,
		Payments: service.NewPaymentService(db, a.Orders, a.Payments, a.Gateway, a.Reconciler, service.PaymentConfig{
			MinAmount:      cfg.Payment.MinAmount,
			Currency:       cfg.Payment.Currency,
			GatewayTimeout: cfg.Payment.GatewayTimeout,
		}, logger.Named("payment")),
		Webhooks: service.NewWebhookService(verifier, a.Reconciler, seen, cfg.WebhookDedupeTTL, logger.Named("webhook")),
		Stats:    service.NewStatsService(a.StatsStore, cfg.StatsLocation()),
		Health:   a.Database,
	}
	a.Worker = worker.NewReconciliationWorker(
		a.Orders, a.GiftCards, a.Gateway, a.Reconciler,
		cfg.ReconcileInterval, cfg.ReconcileStuckAge, logger.Named("worker"),
	)
	return a, nil
}

func (a *App) Router() *gin.Engine {
	return handler.NewRouter(a.Services, handler.RouterOptions{
		CORSOrigins:           a.Config.CORSOrigins,
		TrustedProxies:        a.Config.TrustedProxies,
		GiftCardRatePerMinute: a.Config.GiftCardRatePerMinute,
		Logger:                a.Logger,
	})
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	return err
}
