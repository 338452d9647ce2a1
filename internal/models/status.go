package models

import "time"

// FileState is the lifecycle state of a file's status record.
type FileState string

const (
	StatePending    FileState = "pending"
	StateProcessing FileState = "processing"
	StateCompleted  FileState = "completed"
	StateFlagged    FileState = "flagged"
	StateFailed     FileState = "failed"
)

// Terminal reports whether no request is outstanding for the state.
func (s FileState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateFlagged
}

// FileStatus is the status record kept for every file in the working set.
//
// Transcript is only set for completed (and flagged) records, Error only for
// failed ones, and Progress is 100 whenever the state is terminal.
type FileStatus struct {
	State      FileState `json:"state"`
	Progress   int       `json:"progress"` // 0-100
	Transcript string    `json:"transcript,omitempty"`
	Error      string    `json:"error,omitempty"`
	FlagReason string    `json:"flagReason,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NewFileStatus creates a FileStatus in pending state.
func NewFileStatus() FileStatus {
	return FileStatus{
		State:     StatePending,
		Progress:  0,
		UpdatedAt: time.Now(),
	}
}

// Score compares a transcript with a reference text.
type Score struct {
	WER float64 `json:"wer"`
	CER float64 `json:"cer"`
}

// FileEntry is a read-only snapshot row handed to the rendering layer.
type FileEntry struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Size         int64      `json:"size"`
	LastModified int64      `json:"lastModified"`
	MediaType    string     `json:"mediaType,omitempty"`
	AddedAt      time.Time  `json:"addedAt"`
	Status       FileStatus `json:"status"`
	Reference    string     `json:"reference,omitempty"`
	Score        *Score     `json:"score,omitempty"`
}
