package models

import "time"

// BlobInfo represents metadata about a stored upload.
type BlobInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
}
