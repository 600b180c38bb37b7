package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/profarm-erp/profarm-erp/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
	// TaskOrderIntegrity re-verifies stored order totals against their items.
	TaskOrderIntegrity = "orders:integrity_scan"
)

// IdempotencyCleanupPayload controls the retention window for a cleanup run.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs an Asynq task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// NewIdempotencyCleanupHandler builds the handler for cleanup tasks.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.Retention <= 0 {
			payload.Retention = 7 * 24 * time.Hour
		}
		if err := store.Cleanup(ctx, payload.Retention); err != nil {
			return err
		}
		logger.Info("idempotency cleanup executed", slog.Duration("retention", payload.Retention))
		return nil
	}
}

// NewOrderIntegrityTask constructs an Asynq task.
func NewOrderIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskOrderIntegrity, nil)
}

// NewOrderIntegrityHandler builds the handler for integrity scans.
func NewOrderIntegrityHandler(scanner *IntegrityScanner) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		_, err := scanner.Run(ctx)
		return err
	}
}
