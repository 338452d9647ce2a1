package models

import "time"

// SessionInfo describes a browsing session and its working set.
type SessionInfo struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	LastAccessed time.Time `json:"lastAccessed"`
	Mode         string    `json:"mode"`
	AutoProcess  bool      `json:"autoProcess"`
	Counts       Counts    `json:"counts"`
	ActiveRun    *RunInfo  `json:"activeRun,omitempty"`
}
