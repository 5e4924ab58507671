package app

import (
	"strings"

	"linksync/internal/linksync"
)

// Run statuses written to the run history.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunWarning = "warning"
	RunError   = "error"
)

// Run tracks one CLI or scheduled operation that talks to the remote
// service or mutates the queue. Runs are created in memory with ID=0 and get
// their ID when the history row is started.
type Run struct {
	ID        int64
	Operation string
	Status    string
	Message   string
}

// NewRun creates a new in-memory run.
func NewRun(operation string) *Run {
	return &Run{
		Operation: operation,
		Status:    RunRunning,
	}
}

// Persisted returns true if this run has a row in the history.
func (r *Run) Persisted() bool {
	return r.ID != 0
}

// Record sets the outcome of the run from the operation's result and error.
// An error always wins over the result.
func (r *Run) Record(res linksync.Result, err error) {
	if err != nil {
		r.Status = RunError
		r.Message = err.Error()
		return
	}

	switch res.Status {
	case linksync.ResultError:
		r.Status = RunError
	case linksync.ResultWarning:
		r.Status = RunWarning
	default:
		r.Status = RunSuccess
	}
	r.Message = strings.TrimSpace(res.Title + " " + res.Message)
}
