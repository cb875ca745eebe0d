package handler

import (
	"context"
	"log/slog"

	"github.com/vectorhive/embedding-be/internal/pipeline/storage"
)

// CycleScheduler runs one scheduling cycle of the backfill pipeline.
type CycleScheduler interface {
	Schedule(ctx context.Context, batchSize int) (int, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Storage   *storage.Storage
	Scheduler CycleScheduler
}

// JobHandler handles pipeline HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	storage   *storage.Storage
	scheduler CycleScheduler
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		storage:   deps.Storage,
		scheduler: deps.Scheduler,
	}
}
