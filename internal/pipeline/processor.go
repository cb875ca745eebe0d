package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vectorhive/embedding-be/internal/pipeline/domain"
)

// RecordStore is the per-record view of the record table the processor needs.
type RecordStore interface {
	GetRecordByID(ctx context.Context, id int64) (*domain.Record, error)
	AttachEmbedding(ctx context.Context, id int64, vector []float32) error
}

// AssetFetcher retrieves the raw asset bytes behind a record's locator.
type AssetFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// EmbeddingInferer turns asset bytes into a vector.
type EmbeddingInferer interface {
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)
}

// BatchProcessor executes the items of one batch sequentially. Failures are
// values here, not control flow: every id produces exactly one ItemOutcome,
// and no item's failure can stop the items after it.
type BatchProcessor struct {
	records RecordStore
	fetcher AssetFetcher
	inferer EmbeddingInferer
	logger  *slog.Logger
}

// NewBatchProcessor creates a new BatchProcessor
func NewBatchProcessor(records RecordStore, fetcher AssetFetcher, inferer EmbeddingInferer, logger *slog.Logger) *BatchProcessor {
	return &BatchProcessor{
		records: records,
		fetcher: fetcher,
		inferer: inferer,
		logger:  logger,
	}
}

// Execute processes every id in the batch and returns the aggregated result.
// Outcomes appear in the same order as the ids in the payload.
func (p *BatchProcessor) Execute(ctx context.Context, batch domain.BatchPayload) domain.BatchResult {
	outcomes := make([]domain.ItemOutcome, 0, len(batch.RecordIDs))

	for _, id := range batch.RecordIDs {
		outcome := p.processItem(ctx, id)
		outcomes = append(outcomes, outcome)

		if outcome.Success {
			p.logger.Debug("Record embedded",
				slog.Int64("record_id", id),
				slog.Duration("elapsed", outcome.Elapsed),
			)
		} else {
			p.logger.Warn("Record processing failed",
				slog.Int64("record_id", id),
				slog.String("stage", outcome.Stage),
				slog.String("reason", outcome.Reason),
				slog.Duration("elapsed", outcome.Elapsed),
			)
		}
	}

	result := domain.Summarize(outcomes)

	p.logger.Info("Batch executed",
		slog.Int("total", len(outcomes)),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
	)

	return result
}

// processItem runs one record through lookup -> fetch -> infer -> persist.
// A panic inside any stage is trapped here and converted into a failed
// outcome, so a poisoned item cannot take down the whole job.
func (p *BatchProcessor) processItem(ctx context.Context, id int64) (outcome domain.ItemOutcome) {
	start := time.Now()
	outcome = domain.ItemOutcome{RecordID: id}
	stage := domain.StageLookup

	defer func() {
		outcome.Elapsed = time.Since(start)
		if r := recover(); r != nil {
			outcome.Success = false
			outcome.Stage = stage
			outcome.Reason = fmt.Sprintf("panic: %v", r)
		}
	}()

	rec, err := p.records.GetRecordByID(ctx, id)
	if err != nil {
		outcome.Stage = domain.StageLookup
		outcome.Reason = err.Error()
		return outcome
	}

	// Another batch may have embedded this record since selection; the
	// duplicate is a no-op, not an error.
	if !rec.NeedsEmbedding() {
		outcome.Success = true
		return outcome
	}

	stage = domain.StageFetch
	data, err := p.fetcher.Fetch(ctx, rec.AssetURL)
	if err != nil {
		outcome.Stage = domain.StageFetch
		outcome.Reason = err.Error()
		return outcome
	}
	if len(data) == 0 {
		outcome.Stage = domain.StageFetch
		outcome.Reason = domain.ErrEmptyAsset.Error()
		return outcome
	}

	stage = domain.StageInfer
	vector, err := p.inferer.EmbedImage(ctx, data)
	if err != nil {
		outcome.Stage = domain.StageInfer
		outcome.Reason = err.Error()
		return outcome
	}
	if len(vector) == 0 {
		outcome.Stage = domain.StageInfer
		outcome.Reason = domain.ErrEmptyEmbedding.Error()
		return outcome
	}

	stage = domain.StagePersist
	if err := p.records.AttachEmbedding(ctx, id, vector); err != nil {
		outcome.Stage = domain.StagePersist
		outcome.Reason = err.Error()
		return outcome
	}

	outcome.Success = true
	return outcome
}
