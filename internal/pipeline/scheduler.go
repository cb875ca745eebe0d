package pipeline

import (
	"context"
	"log/slog"

	"github.com/vectorhive/embedding-be/internal/pipeline/domain"
)

// RecordSource selects records still waiting for an embedding.
type RecordSource interface {
	SelectPendingRecordIDs(ctx context.Context, limit int) ([]int64, error)
}

// Enqueuer places one batch job on the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload domain.BatchPayload) (string, error)
}

// SchedulerConfig holds BatchScheduler settings
type SchedulerConfig struct {
	DefaultBatchSize int
}

// BatchScheduler runs one scheduling cycle: find pending records, cap them at
// the batch size, and enqueue exactly one job carrying their ids.
//
// Selection does not mark records in flight, so a cycle triggered before the
// previous batch finishes can select the same ids again. That duplicate work
// is accepted: attaching an embedding is idempotent per record, and the
// worker skips records that were embedded in the meantime.
type BatchScheduler struct {
	records          RecordSource
	queue            Enqueuer
	logger           *slog.Logger
	defaultBatchSize int
}

// NewBatchScheduler creates a new BatchScheduler
func NewBatchScheduler(records RecordSource, queue Enqueuer, logger *slog.Logger, cfg SchedulerConfig) *BatchScheduler {
	s := &BatchScheduler{
		records:          records,
		queue:            queue,
		logger:           logger,
		defaultBatchSize: cfg.DefaultBatchSize,
	}
	if s.defaultBatchSize <= 0 {
		s.defaultBatchSize = 100
	}
	return s
}

// Schedule runs one cycle. batchSize <= 0 means use the configured default.
// Returns the number of record ids placed in the enqueued batch; zero with a
// nil error means no pending work remains and nothing was enqueued.
func (s *BatchScheduler) Schedule(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = s.defaultBatchSize
	}

	ids, err := s.records.SelectPendingRecordIDs(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	if len(ids) == 0 {
		s.logger.Info("No pending records, nothing scheduled")
		return 0, nil
	}

	jobID, err := s.queue.Enqueue(ctx, domain.BatchPayload{RecordIDs: ids})
	if err != nil {
		s.logger.Error("Failed to enqueue batch",
			slog.Int("batch_size", len(ids)),
			slog.Any("error", err),
		)
		return 0, err
	}

	s.logger.Info("Batch scheduled",
		slog.String("job_id", jobID),
		slog.Int("scheduled", len(ids)),
	)

	return len(ids), nil
}
