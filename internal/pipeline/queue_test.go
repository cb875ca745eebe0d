package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorhive/embedding-be/internal/pipeline/domain"
)

type stubJobStore struct {
	created     []*domain.Job
	createErr   error
	completed   map[string]string
	retrying    map[string]string
	nextAttempt int
	retryErr    error
	discarded   map[string]string
	discardErr  error
}

func newStubJobStore() *stubJobStore {
	return &stubJobStore{
		completed: make(map[string]string),
		retrying:  make(map[string]string),
		discarded: make(map[string]string),
	}
}

func (s *stubJobStore) CreateJob(_ context.Context, job *domain.Job) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, job)
	return nil
}

func (s *stubJobStore) ClaimJob(_ context.Context, jobID, workerID string) (*domain.Job, error) {
	for _, j := range s.created {
		if j.JobID == jobID {
			j.Status = domain.JobStatusExecuting
			j.WorkerID = workerID
			return j, nil
		}
	}
	return nil, domain.ErrJobAlreadyClaimed
}

func (s *stubJobStore) MarkJobCompleted(_ context.Context, jobID, summary string) error {
	s.completed[jobID] = summary
	return nil
}

func (s *stubJobStore) MarkJobRetrying(_ context.Context, jobID, errorMsg string) (int, error) {
	if s.retryErr != nil {
		return 0, s.retryErr
	}
	s.retrying[jobID] = errorMsg
	s.nextAttempt++
	return s.nextAttempt, nil
}

func (s *stubJobStore) MarkJobDiscarded(_ context.Context, jobID, errorMsg string) error {
	if s.discardErr != nil {
		return s.discardErr
	}
	s.discarded[jobID] = errorMsg
	return nil
}

type delayedMessage struct {
	body  []byte
	delay time.Duration
}

type stubPublisher struct {
	published  [][]byte
	delayed    []delayedMessage
	publishErr error
	delayedErr error
}

func (s *stubPublisher) PublishWithRetry(_ context.Context, body []byte, _ string) error {
	if s.publishErr != nil {
		return s.publishErr
	}
	s.published = append(s.published, body)
	return nil
}

func (s *stubPublisher) PublishDelayed(_ context.Context, body []byte, _ string, delay time.Duration) error {
	if s.delayedErr != nil {
		return s.delayedErr
	}
	s.delayed = append(s.delayed, delayedMessage{body: body, delay: delay})
	return nil
}

func TestJobQueue_Enqueue(t *testing.T) {
	store := newStubJobStore()
	publisher := &stubPublisher{}
	queue := NewJobQueue(store, publisher, testLogger(), QueueConfig{
		Name:        "embeddings",
		MaxAttempts: 3,
	})

	jobID, err := queue.Enqueue(context.Background(), domain.BatchPayload{RecordIDs: []int64{1, 2, 3}})
	require.NoError(t, err)

	_, err = uuid.Parse(jobID)
	require.NoError(t, err, "job id should be a UUID")

	require.Len(t, store.created, 1)
	job := store.created[0]
	assert.Equal(t, jobID, job.JobID)
	assert.Equal(t, "embeddings", job.QueueName)
	assert.Equal(t, domain.JobStatusScheduled, job.Status)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, 3, job.MaxAttempts)

	var payload domain.BatchPayload
	require.NoError(t, json.Unmarshal([]byte(job.Payload), &payload))
	assert.Equal(t, []int64{1, 2, 3}, payload.RecordIDs)

	require.Len(t, publisher.published, 1)
	var msg domain.JobMessage
	require.NoError(t, json.Unmarshal(publisher.published[0], &msg))
	assert.Equal(t, jobID, msg.JobID)
}

func TestJobQueue_Enqueue_StoreError(t *testing.T) {
	store := newStubJobStore()
	store.createErr = errors.New("insert failed")
	publisher := &stubPublisher{}
	queue := NewJobQueue(store, publisher, testLogger(), QueueConfig{})

	jobID, err := queue.Enqueue(context.Background(), domain.BatchPayload{RecordIDs: []int64{1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEnqueueFailed)
	assert.Empty(t, jobID)
	assert.Empty(t, publisher.published)
}

func TestJobQueue_Enqueue_PublishError(t *testing.T) {
	store := newStubJobStore()
	publisher := &stubPublisher{publishErr: errors.New("broker unavailable")}
	queue := NewJobQueue(store, publisher, testLogger(), QueueConfig{})

	jobID, err := queue.Enqueue(context.Background(), domain.BatchPayload{RecordIDs: []int64{1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEnqueueFailed)
	assert.Empty(t, jobID)
}

func TestJobQueue_Ack(t *testing.T) {
	store := newStubJobStore()
	queue := NewJobQueue(store, &stubPublisher{}, testLogger(), QueueConfig{})

	err := queue.Ack(context.Background(), "job-1", `{"total":3,"succeeded":2,"failed":1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"total":3,"succeeded":2,"failed":1}`, store.completed["job-1"])
}

func TestJobQueue_Fail_SchedulesRetryWithBackoff(t *testing.T) {
	store := newStubJobStore()
	publisher := &stubPublisher{}
	queue := NewJobQueue(store, publisher, testLogger(), QueueConfig{
		MaxAttempts: 3,
		BackoffBase: time.Second,
	})

	job := &domain.Job{JobID: "job-1", Attempt: 1, MaxAttempts: 3}

	retried, err := queue.Fail(context.Background(), job, "inference timeout")
	require.NoError(t, err)
	assert.True(t, retried)

	assert.Equal(t, "inference timeout", store.retrying["job-1"])
	require.Len(t, publisher.delayed, 1)
	assert.Equal(t, time.Second, publisher.delayed[0].delay)

	var msg domain.JobMessage
	require.NoError(t, json.Unmarshal(publisher.delayed[0].body, &msg))
	assert.Equal(t, "job-1", msg.JobID)
	assert.Empty(t, store.discarded)
}

func TestJobQueue_Fail_DiscardsAfterMaxAttempts(t *testing.T) {
	store := newStubJobStore()
	publisher := &stubPublisher{}
	queue := NewJobQueue(store, publisher, testLogger(), QueueConfig{
		MaxAttempts: 3,
		BackoffBase: time.Second,
	})

	job := &domain.Job{JobID: "job-1", Attempt: 3, MaxAttempts: 3}

	retried, err := queue.Fail(context.Background(), job, "inference timeout")
	require.NoError(t, err)
	assert.False(t, retried)

	assert.Equal(t, "inference timeout", store.discarded["job-1"])
	assert.Empty(t, publisher.delayed)
}

// A job that faults on every execution gets exactly MaxAttempts executions:
// MaxAttempts-1 delayed retries with doubling backoff, then DISCARDED.
func TestJobQueue_Fail_RetryBound(t *testing.T) {
	store := newStubJobStore()
	publisher := &stubPublisher{}
	queue := NewJobQueue(store, publisher, testLogger(), QueueConfig{
		MaxAttempts: 3,
		BackoffBase: time.Second,
	})

	job := &domain.Job{JobID: "job-1", Attempt: 1, MaxAttempts: 3}

	var delays []time.Duration
	executions := 0
	for {
		executions++
		retried, err := queue.Fail(context.Background(), job, "persistent fault")
		require.NoError(t, err)
		if !retried {
			break
		}
		delays = append(delays, publisher.delayed[len(publisher.delayed)-1].delay)
		job.Attempt++
	}

	assert.Equal(t, 3, executions)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
	assert.Contains(t, store.discarded, "job-1")
}

func TestJobQueue_Fail_RetryPublishError(t *testing.T) {
	store := newStubJobStore()
	publisher := &stubPublisher{delayedErr: errors.New("broker unavailable")}
	queue := NewJobQueue(store, publisher, testLogger(), QueueConfig{MaxAttempts: 3})

	job := &domain.Job{JobID: "job-1", Attempt: 1, MaxAttempts: 3}

	retried, err := queue.Fail(context.Background(), job, "fault")
	require.Error(t, err)
	assert.False(t, retried)
}

func TestJobQueue_Discard(t *testing.T) {
	store := newStubJobStore()
	queue := NewJobQueue(store, &stubPublisher{}, testLogger(), QueueConfig{})

	err := queue.Discard(context.Background(), "job-1", "invalid payload JSON")
	require.NoError(t, err)
	assert.Equal(t, "invalid payload JSON", store.discarded["job-1"])
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		name    string
		base    time.Duration
		attempt int
		want    time.Duration
	}{
		{name: "first attempt", base: time.Second, attempt: 1, want: time.Second},
		{name: "second attempt", base: time.Second, attempt: 2, want: 2 * time.Second},
		{name: "third attempt", base: time.Second, attempt: 3, want: 4 * time.Second},
		{name: "fourth attempt", base: time.Second, attempt: 4, want: 8 * time.Second},
		{name: "zero attempt clamps to base", base: time.Second, attempt: 0, want: time.Second},
		{name: "different base", base: 500 * time.Millisecond, attempt: 3, want: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, backoffDelay(tt.base, tt.attempt))
		})
	}
}

func TestNewJobQueue_Defaults(t *testing.T) {
	queue := NewJobQueue(newStubJobStore(), &stubPublisher{}, testLogger(), QueueConfig{})

	assert.Equal(t, "embeddings", queue.name)
	assert.Equal(t, 3, queue.maxAttempts)
	assert.Equal(t, time.Second, queue.backoffBase)
}
