package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/storably/overstay/internal/app"
	"github.com/storably/overstay/internal/booking"
	jobmetrics "github.com/storably/overstay/internal/jobs"
	"github.com/storably/overstay/internal/observability"
	"github.com/storably/overstay/internal/overstay"
	"github.com/storably/overstay/internal/payments"
	"github.com/storably/overstay/internal/platform/db"
	"github.com/storably/overstay/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	engineMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	bookingRepo := booking.NewRepository(pool)
	overstayRepo := overstay.NewRepository(pool)
	resolver := overstay.NewResolver(bookingRepo, logger)
	processor := payments.NewStripeProcessor(cfg.StripeAPIKey)
	service := overstay.NewService(overstayRepo, bookingRepo, resolver, processor, logger).
		WithCollectedHook(engineMetrics.AddCollected)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("close job client", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(redisOpts)

	handler := overstay.NewHandler(logger, service, app.NewSweepTrigger(jobClient))
	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		OverstayHandler: handler,
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", slog.Any("error", err))
		}
	}()

	logger.Info("overstay api listening", slog.String("addr", cfg.AppAddr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}
