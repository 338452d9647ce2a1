package models

import "time"

// RunState is the state of a batch run.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateCancelled RunState = "cancelled"
)

// RunInfo is a snapshot of a batch run: an ordered queue of file ids and a
// cursor pointing at the next file to process.
type RunInfo struct {
	ID         string     `json:"id"`
	Mode       string     `json:"mode"`
	State      RunState   `json:"state"`
	FileIDs    []string   `json:"fileIds"`
	Cursor     int        `json:"cursor"`
	Completed  int        `json:"completed"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Done reports whether the run is no longer executing.
func (r RunInfo) Done() bool {
	return r.State != RunStateRunning
}
