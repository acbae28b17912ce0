package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fr0stylo/payhook/internal/audit"
	"github.com/fr0stylo/payhook/internal/config"
	"github.com/fr0stylo/payhook/internal/db"
	"github.com/fr0stylo/payhook/internal/docs"
	"github.com/fr0stylo/payhook/internal/ledger"
	"github.com/fr0stylo/payhook/internal/notify"
	"github.com/fr0stylo/payhook/internal/payments"
	"github.com/fr0stylo/payhook/internal/security"
	"github.com/fr0stylo/payhook/internal/server"
	"github.com/fr0stylo/payhook/internal/server/routes"
	"github.com/fr0stylo/payhook/internal/webhooks/dispatch"
	"github.com/fr0stylo/payhook/internal/webhooks/verify"
)

func main() {
	log := slog.New(audit.WrapSlogHandler(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		return
	}
	isLocalEnv := cfg.IsLocalDevelopment()
	if isLocalEnv {
		slog.Warn("Running in local development mode, unsigned webhook fallback is enabled")
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		return
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}()

	sec := security.NewService(security.Config{
		MaxTimestampAge:     cfg.TimestampMaxAge(),
		MaxTimestampFuture:  cfg.TimestampMaxFuture(),
		IdempotencyCapacity: cfg.Security.IdempotencyCapacity,
		IdempotencyTTL:      cfg.IdempotencyTTL(),
		FailureWindow:       cfg.FailureWindow(),
		FailureThreshold:    cfg.Security.FailureThreshold,
	}, log)

	notifier := notify.NewAdminNotifier(cfg.Services.NotifyWebhook, cfg.Services.AlertBudget, cfg.AlertWindow(), log)

	var ledgerClient ledger.Client = ledger.NewHTTPClient(cfg.Services.LedgerURL, 15*time.Second, log)
	var documents payments.DocumentGenerator
	if cfg.Services.DocumentsURL != "" {
		documents = docs.NewHTTPClient(cfg.Services.DocumentsURL, log)
	}

	retrier := payments.NewRetrier(cfg.Payments.RetryAttempts, log)
	orchestrator := payments.NewOrchestrator(
		payments.Config{HighValueAlertMinor: cfg.Payments.HighValueAlertMinor},
		ledgerClient,
		documents,
		notify.LogEmailSender{Log: log},
		notifier,
		retrier,
		log,
	)

	recorder := audit.NewRecorder(log, database)
	dispatcher := dispatch.New(sec, recorder, notifier, orchestrator, database, !isLocalEnv, log)

	srv := server.New(log, cfg.Server.BodyLimit)
	srv.RegisterRouter(routes.NewWebhookRoutes(dispatcher,
		verify.NewStripeVerifier(cfg.Providers.StripeWebhookSecret),
		verify.NewPayPalVerifier(cfg.Providers.PayPalWebhookID, log),
		verify.NewSvixVerifier(cfg.Providers.ClerkWebhookSecret),
	))
	srv.RegisterRouter(routes.NewHealthRoutes())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(addr)
	}()
	slog.Info("Starting server", "port", cfg.Server.Port, "environment", cfg.Environment)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
		}
	case <-ctx.Done():
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Shutdown failed", "error", err)
		}
	}
}
