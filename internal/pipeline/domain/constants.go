package domain

// Job status constants
const (
	JobStatusScheduled = "SCHEDULED"
	JobStatusExecuting = "EXECUTING"
	JobStatusCompleted = "COMPLETED"
	JobStatusRetrying  = "RETRYING"
	JobStatusDiscarded = "DISCARDED"
)

// Processing stages recorded on failed item outcomes
const (
	StageLookup  = "lookup"
	StageFetch   = "fetch"
	StageInfer   = "infer"
	StagePersist = "persist"
)
