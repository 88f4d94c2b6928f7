package model

import "time"

// Status is the execution status delivered to the external test system.
type Status string

// Report status constants.
const (
	StatusInProgress Status = "in_progress"
	StatusFailed     Status = "failed"
	StatusFinished   Status = "finished"
)

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusFinished
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusInProgress || s.Terminal()
}

// validTransitions maps each run status to the set of statuses it may move to.
// Terminal statuses have no entry: a finished or failed run never changes again.
var validTransitions = map[Status]map[Status]bool{
	StatusInProgress: {
		StatusInProgress: true,
		StatusFailed:     true,
		StatusFinished:   true,
	},
}

// ValidTransition reports whether a run may move from one status to another.
func ValidTransition(from, to Status) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Report is a single status update produced by the controller for one run.
// Reports that are not tied to a run (a rejected empty test name, a start
// request that could not be scheduled) carry an empty RunID.
type Report struct {
	RunID     string    `json:"run_id,omitempty"`
	TestName  string    `json:"test_name,omitempty"`
	Status    Status    `json:"status"`
	Data      string    `json:"data"`
	Seq       int       `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// Run is the persisted summary of one test case run.
type Run struct {
	ID         string     `json:"id"`
	TestName   string     `json:"test_name"`
	Status     Status     `json:"status"`
	Result     string     `json:"result,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
