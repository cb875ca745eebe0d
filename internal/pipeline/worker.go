package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vectorhive/embedding-be/internal/pipeline/domain"
	"github.com/vectorhive/embedding-be/shared/rabbitmq"
)

// JobLeaser is the queue surface the worker drives per delivery.
type JobLeaser interface {
	Claim(ctx context.Context, jobID, workerID string) (*domain.Job, error)
	Ack(ctx context.Context, jobID, summary string) error
	Fail(ctx context.Context, job *domain.Job, reason string) (bool, error)
	Discard(ctx context.Context, jobID, reason string) error
}

// BatchExecutor runs the per-item loop of one batch.
type BatchExecutor interface {
	Execute(ctx context.Context, batch domain.BatchPayload) domain.BatchResult
}

// ChainScheduler triggers the next scheduling cycle after a batch finishes.
type ChainScheduler interface {
	Schedule(ctx context.Context, batchSize int) (int, error)
}

// HeartbeatStore refreshes the heartbeat of an executing job.
type HeartbeatStore interface {
	UpdateJobHeartbeat(ctx context.Context, jobID string) error
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	RabbitClient      *rabbitmq.Client
	Queue             JobLeaser
	Processor         BatchExecutor
	Scheduler         ChainScheduler
	Heartbeats        HeartbeatStore
	Concurrency       int
	PrefetchCount     int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
}

// Worker consumes batch jobs from the queue with a fixed-size goroutine pool.
// Each goroutine runs one job to completion before taking the next delivery.
type Worker struct {
	logger            *slog.Logger
	rabbitClient      *rabbitmq.Client
	queue             JobLeaser
	processor         BatchExecutor
	scheduler         ChainScheduler
	heartbeats        HeartbeatStore
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	workerID          string
	jobsChan          chan *domain.JobMessage
	wg                sync.WaitGroup
	stopChan          chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:            cfg.Logger,
		rabbitClient:      cfg.RabbitClient,
		queue:             cfg.Queue,
		processor:         cfg.Processor,
		scheduler:         cfg.Scheduler,
		heartbeats:        cfg.Heartbeats,
		concurrency:       cfg.Concurrency,
		prefetchCount:     cfg.PrefetchCount,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		workerID:          "worker-" + uuid.New().String(),
		stopChan:          make(chan struct{}),
	}
	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	if w.prefetchCount <= 0 {
		w.prefetchCount = w.concurrency
	}
	if w.heartbeatInterval <= 0 {
		w.heartbeatInterval = 30 * time.Second
	}
	w.jobsChan = make(chan *domain.JobMessage, w.concurrency)
	return w
}

// Start begins processing jobs and blocks until the context is canceled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return fmt.Errorf("failed to setup consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	go w.startMessageDispatcher(ctx, deliveries)

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")

	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// processJob handles one delivered job: claim the lease, run every batch item
// to an outcome, ack the job, then trigger the next scheduling cycle.
//
// Item-level failures never surface here; the only errors this returns are
// job-level faults (claim races, bad payloads, panics in batch bookkeeping),
// which feed the queue's retry/discard policy.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	job, err := w.queue.Claim(ctx, msg.JobID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			w.logger.Warn("Job already claimed, skipping",
				slog.String("job_id", msg.JobID),
			)
			return err
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}

	w.logger.Info("Job claimed",
		slog.String("job_id", job.JobID),
		slog.String("worker_id", w.workerID),
		slog.Int("attempt", job.Attempt),
	)

	var payload domain.BatchPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		// The payload is immutable, so a retry can never succeed.
		if discardErr := w.queue.Discard(ctx, job.JobID, fmt.Sprintf("invalid payload JSON: %s", err.Error())); discardErr != nil {
			w.logger.Error("Failed to discard job with invalid payload",
				slog.String("job_id", job.JobID),
				slog.Any("error", discardErr),
			)
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, job.JobID, heartbeatDone)
	defer close(heartbeatDone)

	result, faultErr := w.runBatch(jobCtx, payload)
	if faultErr != nil {
		w.logger.Error("Job execution fault",
			slog.String("job_id", job.JobID),
			slog.Int("attempt", job.Attempt),
			slog.Any("error", faultErr),
		)

		retried, failErr := w.queue.Fail(ctx, job, faultErr.Error())
		if failErr != nil {
			return fmt.Errorf("failed to record job fault: %w", failErr)
		}
		if retried {
			return domain.NewRetryableError(faultErr)
		}
		return fmt.Errorf("%w: %v", domain.ErrMaxAttemptsExceeded, faultErr)
	}

	summary, err := json.Marshal(map[string]int{
		"total":     len(result.Outcomes),
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	})
	if err != nil {
		summary = []byte("{}")
	}

	if ackErr := w.queue.Ack(ctx, job.JobID, string(summary)); ackErr != nil {
		// Items are done; losing the status update is an operator
		// annoyance, not grounds to re-run the batch.
		w.logger.Error("Failed to mark job completed",
			slog.String("job_id", job.JobID),
			slog.Any("error", ackErr),
		)
	}

	w.logger.Info("Job completed",
		slog.String("job_id", job.JobID),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
	)

	w.continueChain(ctx)

	return nil
}

// runBatch executes the batch, trapping panics in batch-level bookkeeping as
// job faults
func (w *Worker) runBatch(ctx context.Context, payload domain.BatchPayload) (result domain.BatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch execution panic: %v", r)
		}
	}()

	result = w.processor.Execute(ctx, payload)
	return result, nil
}

// continueChain runs the next scheduling cycle. This is what drains all
// pending work across many jobs without an external poller; it runs no
// matter how many items of the finished batch failed.
func (w *Worker) continueChain(ctx context.Context) {
	scheduled, err := w.scheduler.Schedule(ctx, 0)
	if err != nil {
		// No successor job exists, so the chain is stalled until the next
		// external trigger. This must stay loud.
		w.logger.Error("Chain scheduling failed - pipeline stalled until next trigger",
			slog.Any("error", err),
		)
		return
	}

	if scheduled == 0 {
		w.logger.Info("No pending records remain, chain complete")
		return
	}

	w.logger.Info("Chained next batch",
		slog.Int("scheduled", scheduled),
	)
}

// sendJobHeartbeat periodically refreshes the job's heartbeat timestamp
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := w.heartbeats.UpdateJobHeartbeat(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.Any("error", err),
				)
			}
		}
	}
}
