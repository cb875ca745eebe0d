package domain

import "time"

// ItemOutcome is the per-record result of one processing attempt within a
// batch. It only exists for the duration of a single job execution; the
// aggregate counts end up in the job's result summary and in the logs.
type ItemOutcome struct {
	RecordID int64
	Success  bool
	Stage    string // set when failed: lookup, fetch, infer, persist
	Reason   string // set when failed
	Elapsed  time.Duration
}

// BatchResult summarizes the outcomes of one executed batch.
type BatchResult struct {
	Outcomes  []ItemOutcome
	Succeeded int
	Failed    int
}

// Summarize aggregates outcomes into a BatchResult.
func Summarize(outcomes []ItemOutcome) BatchResult {
	res := BatchResult{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Success {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
	return res
}
