package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vectorhive/embedding-be/internal/pipeline/domain"
)

// JobStore is the durable side of the queue: job rows and their state machine.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error)
	MarkJobCompleted(ctx context.Context, jobID, summary string) error
	MarkJobRetrying(ctx context.Context, jobID, errorMsg string) (int, error)
	MarkJobDiscarded(ctx context.Context, jobID, errorMsg string) error
}

// Publisher is the dispatch side of the queue: messages that wake workers.
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
	PublishDelayed(ctx context.Context, body []byte, contentType string, delay time.Duration) error
}

// QueueConfig holds JobQueue settings
type QueueConfig struct {
	Name        string
	MaxAttempts int
	BackoffBase time.Duration
}

// JobQueue coordinates the durable job rows with broker dispatch. A job's
// lifecycle is SCHEDULED -> EXECUTING -> COMPLETED, with failed executions
// looping through RETRYING until attempts run out and the job lands in
// DISCARDED for operator intervention.
type JobQueue struct {
	store       JobStore
	publisher   Publisher
	logger      *slog.Logger
	name        string
	maxAttempts int
	backoffBase time.Duration
}

// NewJobQueue creates a new JobQueue
func NewJobQueue(store JobStore, publisher Publisher, logger *slog.Logger, cfg QueueConfig) *JobQueue {
	q := &JobQueue{
		store:       store,
		publisher:   publisher,
		logger:      logger,
		name:        cfg.Name,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
	}
	if q.name == "" {
		q.name = "embeddings"
	}
	if q.maxAttempts <= 0 {
		q.maxAttempts = 3
	}
	if q.backoffBase <= 0 {
		q.backoffBase = time.Second
	}
	return q
}

// Enqueue persists a new job and publishes its dispatch message. It never
// waits for execution; any failure here is an enqueue failure the caller
// must surface, since no successor job exists to continue the chain.
func (q *JobQueue) Enqueue(ctx context.Context, payload domain.BatchPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal payload: %v", domain.ErrEnqueueFailed, err)
	}

	job := &domain.Job{
		JobID:       uuid.New().String(),
		QueueName:   q.name,
		Payload:     string(body),
		Status:      domain.JobStatusScheduled,
		Attempt:     1,
		MaxAttempts: q.maxAttempts,
	}

	if err := q.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrEnqueueFailed, err)
	}

	msg, err := json.Marshal(domain.JobMessage{JobID: job.JobID})
	if err != nil {
		return "", fmt.Errorf("%w: marshal message: %v", domain.ErrEnqueueFailed, err)
	}

	if err := q.publisher.PublishWithRetry(ctx, msg, "application/json"); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrEnqueueFailed, err)
	}

	q.logger.Info("Job enqueued",
		slog.String("job_id", job.JobID),
		slog.String("queue", q.name),
		slog.Int("batch_size", len(payload.RecordIDs)),
	)

	return job.JobID, nil
}

// Claim leases a job for exclusive execution by workerID
func (q *JobQueue) Claim(ctx context.Context, jobID, workerID string) (*domain.Job, error) {
	return q.store.ClaimJob(ctx, jobID, workerID)
}

// Ack completes a job after all its items produced an outcome
func (q *JobQueue) Ack(ctx context.Context, jobID, summary string) error {
	return q.store.MarkJobCompleted(ctx, jobID, summary)
}

// Fail records a job-level fault. While attempts remain the job is moved to
// RETRYING and its dispatch message re-published after an exponential backoff
// delay; once attempts are exhausted the job is DISCARDED. Returns whether a
// retry was scheduled.
func (q *JobQueue) Fail(ctx context.Context, job *domain.Job, reason string) (bool, error) {
	if job.Attempt >= job.MaxAttempts {
		if err := q.store.MarkJobDiscarded(ctx, job.JobID, reason); err != nil {
			return false, fmt.Errorf("failed to discard job: %w", err)
		}
		q.logger.Warn("Job discarded after exhausting attempts",
			slog.String("job_id", job.JobID),
			slog.Int("attempt", job.Attempt),
			slog.Int("max_attempts", job.MaxAttempts),
			slog.String("reason", reason),
		)
		return false, nil
	}

	attempt, err := q.store.MarkJobRetrying(ctx, job.JobID, reason)
	if err != nil {
		return false, fmt.Errorf("failed to mark job retrying: %w", err)
	}

	msg, err := json.Marshal(domain.JobMessage{JobID: job.JobID})
	if err != nil {
		return false, fmt.Errorf("failed to marshal retry message: %w", err)
	}

	delay := backoffDelay(q.backoffBase, job.Attempt)
	if err := q.publisher.PublishDelayed(ctx, msg, "application/json", delay); err != nil {
		return false, fmt.Errorf("failed to publish retry message: %w", err)
	}

	q.logger.Info("Job scheduled for retry",
		slog.String("job_id", job.JobID),
		slog.Int("next_attempt", attempt),
		slog.Duration("delay", delay),
		slog.String("reason", reason),
	)

	return true, nil
}

// Discard moves a job straight to DISCARDED, bypassing retries. Used for
// faults that can never succeed, like an unparseable payload.
func (q *JobQueue) Discard(ctx context.Context, jobID, reason string) error {
	if err := q.store.MarkJobDiscarded(ctx, jobID, reason); err != nil {
		return fmt.Errorf("failed to discard job: %w", err)
	}

	q.logger.Warn("Job discarded",
		slog.String("job_id", jobID),
		slog.String("reason", reason),
	)

	return nil
}

// backoffDelay computes base * 2^(attempt-1)
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << uint(attempt-1)
}
