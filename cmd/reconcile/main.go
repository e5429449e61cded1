// Command reconcile runs a single reconciliation pass and exits. It is meant
// for cron-style scheduling when the in-process worker is disabled.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"commerce-core/internal/app"
	"commerce-core/internal/config"
	"commerce-core/internal/platform/observability"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	err = run(cfg, logger)
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", zap.Error(err))
		return err
	}
	defer func() { _ = a.Close() }()

	report, err := a.Worker.RunOnce(ctx)
	if err != nil {
		logger.Error("reconciliation pass failed", zap.Error(err))
		return err
	}
	logger.Info("reconciliation pass finished",
		zap.Int("checked", report.Checked),
		zap.Int("applied", report.Applied),
		zap.Int("still_pending", report.StillPending),
		zap.Int("errors", report.Errors),
		zap.Int64("gift_cards_expired", report.GiftCardsExpired),
	)
	return nil
}
