package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueMail carries outbound notification mail so a backlog there never
	// starves maintenance tasks.
	QueueMail = "mail"

	// TaskTypeSendEmail is the task type for sending notification emails.
	TaskTypeSendEmail = "mail:send"
	// TaskFeaturesWarm pre-populates the feature catalog cache.
	TaskFeaturesWarm = "features:warm"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	if payload.To == "" {
		return nil, fmt.Errorf("send email: recipient required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.Queue(QueueMail), asynq.MaxRetry(5)), nil
}

// FeaturesWarmPayload carries scheduling metadata.
type FeaturesWarmPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewFeaturesWarmTask constructs the catalog warmup task.
func NewFeaturesWarmTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(FeaturesWarmPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFeaturesWarm, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload sets how long processed keys are retained.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// Retention returns the retention window, defaulting to seven days.
func (p IdempotencyCleanupPayload) Retention() time.Duration {
	if p.RetentionHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(p.RetentionHours) * time.Hour
}

// NewIdempotencyCleanupTask constructs the key purge task.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// NewTaskByName builds a task for manual triggering from the CLI.
func NewTaskByName(name string, now time.Time) (*asynq.Task, error) {
	switch name {
	case TaskFeaturesWarm, "features-warm":
		return NewFeaturesWarmTask(now)
	case TaskIdempotencyCleanup, "idempotency-cleanup":
		return NewIdempotencyCleanupTask(0)
	}
	return nil, fmt.Errorf("unknown job %q", name)
}
