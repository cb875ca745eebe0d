package dto

// ScheduleRequest triggers one scheduling cycle, optionally overriding the
// configured batch size
type ScheduleRequest struct {
	BatchSize int `json:"batch_size"`
}

// ScheduleResponse reports how many record ids the cycle enqueued
type ScheduleResponse struct {
	Scheduled int `json:"scheduled"`
}

// ListJobsRequest holds query parameters for listing jobs
type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// ListJobsResponse is a page of jobs plus the cursor for the next page
type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// JobDTO is the wire representation of a job row
type JobDTO struct {
	JobID        string `json:"job_id"`
	QueueName    string `json:"queue_name"`
	Payload      string `json:"payload"`
	Status       string `json:"status"`
	Attempt      int    `json:"attempt"`
	MaxAttempts  int    `json:"max_attempts"`
	WorkerID     string `json:"worker_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}
