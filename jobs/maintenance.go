package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/teamaccess/team-access-manager/internal/jobs"
)

// CatalogWarmer refreshes the cached feature catalog.
type CatalogWarmer interface {
	Warm(ctx context.Context) (int, error)
}

// FeaturesWarmJob pre-populates the feature catalog cache.
type FeaturesWarmJob struct {
	Warmer  CatalogWarmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewFeaturesWarmJob wires the warmup handler.
func NewFeaturesWarmJob(warmer CatalogWarmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *FeaturesWarmJob {
	return &FeaturesWarmJob{Warmer: warmer, Logger: logger, Metrics: metrics}
}

// Handle processes TaskFeaturesWarm tasks.
func (j *FeaturesWarmJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Warmer == nil {
		return errors.New("features warm: handler not configured")
	}
	var payload FeaturesWarmPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("features warm: bad payload: %w", asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskFeaturesWarm)
	defer func() { err = tracker.End(err) }()

	start := time.Now()
	count, err := j.Warmer.Warm(ctx)
	logger := jobLogger(j.Logger, TaskFeaturesWarm)
	if err != nil {
		logger.Error("warm feature catalog", slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskFeaturesWarm, count)
	logger.Info("feature catalog warmed", slog.Int("features", count), slog.Duration("duration", time.Since(start)))
	return nil
}

// KeyCleaner deletes idempotency keys older than a retention window.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob purges processed decision keys.
type IdempotencyCleanupJob struct {
	Cleaner KeyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob wires the cleanup handler.
func NewIdempotencyCleanupJob(cleaner KeyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Cleaner: cleaner, Logger: logger, Metrics: metrics}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Cleaner == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("idempotency cleanup: bad payload: %w", asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()

	removed, err := j.Cleaner.Cleanup(ctx, payload.Retention())
	logger := jobLogger(j.Logger, TaskIdempotencyCleanup)
	if err != nil {
		logger.Error("purge idempotency keys", slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskIdempotencyCleanup, int(removed))
	logger.Info("idempotency keys purged", slog.Int64("removed", removed), slog.Duration("retention", payload.Retention()))
	return nil
}
