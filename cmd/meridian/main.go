package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-his/meridian-his/internal/app"
	"github.com/meridian-his/meridian-his/internal/approval"
	"github.com/meridian-his/meridian-his/internal/audit"
	"github.com/meridian-his/meridian-his/internal/catalog"
	"github.com/meridian-his/meridian-his/internal/ledger"
	"github.com/meridian-his/meridian-his/internal/movement"
	"github.com/meridian-his/meridian-his/internal/observability"
	"github.com/meridian-his/meridian-his/internal/platform/cache"
	"github.com/meridian-his/meridian-his/internal/platform/db"
	"github.com/meridian-his/meridian-his/internal/procurement"
	"github.com/meridian-his/meridian-his/internal/receiving"
	"github.com/meridian-his/meridian-his/internal/shared"
	"github.com/meridian-his/meridian-his/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, db.Config{DSN: cfg.PGDSN})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	auditLogger := shared.NewAuditLogger(dbpool)
	auditRecorder := observability.NewInstrumentedAudit(auditLogger, metrics.Registerer())
	idempotency := shared.NewIdempotencyStore(dbpool)
	directory := catalog.NewRepository(dbpool)

	ledgerCache := ledger.NewCache(redisClient, cfg.AvailabilityCacheTTL)
	ledgerService := ledger.NewService(ledger.NewRepository(dbpool), directory, auditRecorder, ledgerCache, ledger.ServiceConfig{
		ExpiryHorizon: cfg.ExpiryHorizon,
	})

	gate := approval.NewGate(approval.NewRepository(dbpool), auditRecorder)
	procurementService := procurement.NewService(procurement.NewRepository(dbpool), gate, directory, auditRecorder, logger)
	receivingService := receiving.NewService(receiving.NewRepository(dbpool), ledgerService, directory, procurementService, idempotency, auditRecorder, logger)
	movementService := movement.NewService(movement.NewRepository(dbpool), ledgerService, directory, idempotency, auditRecorder, logger)
	auditService := audit.NewService(auditLogger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		ApprovalHandler:    approval.NewHandler(logger, gate),
		ProcurementHandler: procurement.NewHandler(logger, procurementService),
		ReceivingHandler:   receiving.NewHandler(logger, receivingService),
		LedgerHandler:      ledger.NewHandler(logger, ledgerService),
		MovementHandler:    movement.NewHandler(logger, movementService),
		AuditHandler:       audit.NewHandler(logger, auditService),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Pool:               dbpool,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
