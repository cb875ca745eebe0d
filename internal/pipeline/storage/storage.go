package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vectorhive/embedding-be/internal/pipeline/domain"
	"github.com/vectorhive/embedding-be/shared/postgresql"
)

// Storage handles all database operations for the pipeline: record selection
// and embedding persistence, plus the job state machine rows.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// SelectPendingRecordIDs returns up to limit ids of records with no embedding,
// in ascending id order so a given store state always yields the same batch.
func (s *Storage) SelectPendingRecordIDs(ctx context.Context, limit int) ([]int64, error) {
	query := `
		SELECT id
		FROM records
		WHERE embedding IS NULL
		ORDER BY id ASC
		LIMIT $1
	`

	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, query, limit); err != nil {
		return nil, fmt.Errorf("failed to select pending records: %w", err)
	}

	return ids, nil
}

// GetRecordByID retrieves a single record
func (s *Storage) GetRecordByID(ctx context.Context, id int64) (*domain.Record, error) {
	query := `
		SELECT id, asset_url, embedding
		FROM records
		WHERE id = $1
	`

	var rec domain.Record
	var embedding pq.Float32Array

	err := s.db.QueryRowContext(ctx, query, id).Scan(&rec.ID, &rec.AssetURL, &embedding)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	rec.Embedding = []float32(embedding)
	return &rec, nil
}

// AttachEmbedding sets the embedding vector on a record. The write is
// idempotent per record; re-attaching the same vector is harmless.
func (s *Storage) AttachEmbedding(ctx context.Context, id int64, vector []float32) error {
	query := `
		UPDATE records
		SET embedding = $2,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, id, pq.Float32Array(vector))
	if err != nil {
		return fmt.Errorf("failed to attach embedding: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrRecordNotFound
	}

	return nil
}

// CreateJob inserts a new job row in SCHEDULED state
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, queue_name, payload, status,
			attempt, max_attempts, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, NOW(), NOW()
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.QueueName,
		job.Payload,
		job.Status,
		job.Attempt,
		job.MaxAttempts,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJobByID retrieves a job row
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		SELECT job_id, queue_name, payload, status, attempt, max_attempts,
		       COALESCE(worker_id, '') AS worker_id,
		       COALESCE(error_message, '') AS error_message,
		       created_at, updated_at
		FROM jobs
		WHERE job_id = $1
	`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ClaimJob leases a job with an optimistic update. Only SCHEDULED and
// RETRYING jobs are claimable, so duplicate or stale deliveries lose the
// race and see ErrJobAlreadyClaimed.
func (s *Storage) ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    worker_id = $2,
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status IN ($4, $5)
		RETURNING job_id, queue_name, payload, attempt, max_attempts
	`

	var job domain.Job
	err := s.db.QueryRowContext(ctx, query,
		domain.JobStatusExecuting, workerID, jobID,
		domain.JobStatusScheduled, domain.JobStatusRetrying,
	).Scan(
		&job.JobID,
		&job.QueueName,
		&job.Payload,
		&job.Attempt,
		&job.MaxAttempts,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed or not found",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job.Status = domain.JobStatusExecuting
	job.WorkerID = workerID

	return &job, nil
}

// MarkJobCompleted moves a job to COMPLETED and stores the result summary.
// Completed rows are pruned by an external process, not by the pipeline.
func (s *Storage) MarkJobCompleted(ctx context.Context, jobID, summary string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    result = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
	`

	if _, err := s.db.ExecContext(ctx, query, domain.JobStatusCompleted, summary, jobID); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	return nil
}

// MarkJobRetrying bumps the attempt counter and moves the job to RETRYING.
// Returns the new attempt number the re-delivered execution will carry.
func (s *Storage) MarkJobRetrying(ctx context.Context, jobID, errorMsg string) (int, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    attempt = attempt + 1,
		    error_message = $2,
		    worker_id = NULL,
		    updated_at = NOW()
		WHERE job_id = $3
		RETURNING attempt
	`

	var attempt int
	err := s.db.QueryRowContext(ctx, query, domain.JobStatusRetrying, errorMsg, jobID).Scan(&attempt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrJobNotFound
		}
		return 0, fmt.Errorf("failed to mark job retrying: %w", err)
	}

	return attempt, nil
}

// MarkJobDiscarded moves a job to its terminal DISCARDED state
func (s *Storage) MarkJobDiscarded(ctx context.Context, jobID, errorMsg string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    error_message = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
	`

	if _, err := s.db.ExecContext(ctx, query, domain.JobStatusDiscarded, errorMsg, jobID); err != nil {
		return fmt.Errorf("failed to mark job discarded: %w", err)
	}

	return nil
}

// UpdateJobHeartbeat refreshes last_heartbeat_at for an executing job
func (s *Storage) UpdateJobHeartbeat(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusExecuting)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job may not be executing)",
			slog.String("job_id", jobID),
		)
	}

	return nil
}

// JobFilter narrows ListJobs results
type JobFilter struct {
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is a keyset pagination cursor over (created_at, job_id)
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns up to PageSize+1 jobs, newest first; the extra row tells
// the caller whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `
		SELECT job_id, queue_name, payload, status, attempt, max_attempts,
		       COALESCE(worker_id, '') AS worker_id,
		       COALESCE(error_message, '') AS error_message,
		       created_at, updated_at
		FROM jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}
