package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/storably/overstay/internal/app"
	"github.com/storably/overstay/internal/booking"
	jobmetrics "github.com/storably/overstay/internal/jobs"
	"github.com/storably/overstay/internal/overstay"
	"github.com/storably/overstay/internal/payments"
	"github.com/storably/overstay/internal/platform/cache"
	"github.com/storably/overstay/internal/platform/db"
	"github.com/storably/overstay/internal/shared"
	"github.com/storably/overstay/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	bookingRepo := booking.NewRepository(pool)
	overstayRepo := overstay.NewRepository(pool)
	resolver := overstay.NewResolver(bookingRepo, logger)
	processor := payments.NewStripeProcessor(cfg.StripeAPIKey)
	service := overstay.NewService(overstayRepo, bookingRepo, resolver, processor, logger)

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

	sweepLock := shared.NewSweepLock(redisClient, cfg.SweepLockTTL)
	detectJob := jobs.NewOverstayDetectJob(service, sweepLock, jobClient, logger, jobmetrics.NewMetrics(nil))

	detectTask, err := jobs.NewDetectTask("cron")
	if err != nil {
		logger.Error("build detect task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskOverstayDetect, Handler: detectJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCron, Task: detectTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("overstay worker starting", slog.String("sweep_cron", cfg.SweepCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker failed", slog.Any("error", err))
		os.Exit(1)
	}
}
