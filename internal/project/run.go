package project

import "time"

// Outcome classifies a monitoring run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// Run records one execution attempt. Written exactly once per run, after
// the commit or the failure decision.
type Run struct {
	ID              int64     `json:"id,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Outcome         Outcome   `json:"outcome"`
	Method          string    `json:"method,omitempty"` // requests|browser
	PagesFetched    int       `json:"pages_fetched"`
	RecordsScraped  int       `json:"records_scraped"`
	NewCount        int       `json:"new_count"`
	TransitionCount int       `json:"transition_count"`
	RelevantCount   int       `json:"relevant_count"`
	Error           string    `json:"error,omitempty"`
}

// Duration returns the wall time of the run.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
