package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/storably/overstay/internal/jobs"
	"github.com/storably/overstay/internal/overstay"
	"github.com/storably/overstay/internal/shared"
)

// Notifier enqueues notification emails emitted by a sweep.
type Notifier interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// OverstayDetectJob runs the detection sweep under the Redis sweep lock.
type OverstayDetectJob struct {
	Service  *overstay.Service
	Lock     *shared.SweepLock
	Notifier Notifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewOverstayDetectJob initialises the sweep handler.
func NewOverstayDetectJob(service *overstay.Service, lock *shared.SweepLock, notifier Notifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverstayDetectJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverstayDetectJob{
		Service:  service,
		Lock:     lock,
		Notifier: notifier,
		Logger:   logger,
		Metrics:  metrics,
	}
}

// Handle executes one detection sweep. A sweep already in progress on
// another worker is skipped, not retried: the running sweep covers the
// same bookings.
func (j *OverstayDetectJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("overstay detect: handler not configured")
	}
	var payload DetectPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	logger := j.Logger.With(slog.String("trigger", payload.Trigger))

	if j.Lock != nil {
		if err := j.Lock.Acquire(ctx); err != nil {
			if errors.Is(err, shared.ErrSweepInProgress) {
				logger.Info("detection sweep skipped, another run holds the lock")
				return nil
			}
			return err
		}
		defer func() {
			if err := j.Lock.Release(ctx); err != nil {
				logger.Warn("release sweep lock", slog.Any("error", err))
			}
		}()
	}

	tracker := j.Metrics.Track(TaskOverstayDetect)
	start := time.Now()
	logger.Info("starting detection sweep")

	results, err := j.Service.DetectOverstays(ctx)
	if err != nil {
		logger.Error("detection sweep failed", slog.Any("error", err))
		return tracker.End(err)
	}

	byStatus := map[overstay.Status]int{}
	for _, res := range results {
		byStatus[res.Status]++
		j.notify(ctx, logger, res)
	}
	for status, count := range byStatus {
		j.Metrics.AddDetected(string(status), count)
	}

	logger.Info("completed detection sweep",
		slog.Int("bookings", len(results)),
		slog.Int("pending_review", byStatus[overstay.StatusPendingReview]),
		slog.Int("grace_period", byStatus[overstay.StatusGracePeriod]),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

// notify hands newly actionable records to the notification system:
// grace-period warnings for the chef, review alerts for managers.
func (j *OverstayDetectJob) notify(ctx context.Context, logger *slog.Logger, res overstay.DetectionResult) {
	if j.Notifier == nil || !res.Created {
		return
	}
	template := "overstay_grace_warning"
	if res.Status == overstay.StatusPendingReview {
		template = "overstay_pending_review"
	}
	_, err := j.Notifier.EnqueueSendEmail(ctx, SendEmailPayload{
		Template: template,
		RecordID: res.RecordID.String(),
	})
	if err != nil {
		logger.Warn("enqueue overstay notification",
			slog.Int64("booking_id", res.BookingID),
			slog.Any("error", err),
		)
	}
}
