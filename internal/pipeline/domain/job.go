package domain

import "time"

// Job represents one durable unit of queued work carrying a record batch.
// Rows live in the jobs table; the message on the wire only carries the job ID.
type Job struct {
	JobID       string    `db:"job_id"`
	QueueName   string    `db:"queue_name"`
	Payload     string    `db:"payload"` // JSON-encoded BatchPayload
	Status      string    `db:"status"`
	Attempt     int       `db:"attempt"`
	MaxAttempts int       `db:"max_attempts"`
	WorkerID    string    `db:"worker_id"`
	ErrorMsg    string    `db:"error_message"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// BatchPayload is the only structured data crossing the queue boundary.
type BatchPayload struct {
	RecordIDs []int64 `json:"record_ids"`
}

// JobMessage is the message body published to RabbitMQ for a job.
type JobMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
}
