// Package models contains domain types for the transcriber backend.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// fileKeyNamespace scopes the name-based UUIDs derived from file keys.
var fileKeyNamespace = uuid.MustParse("6f1d7a3e-5c0b-4f7e-9a44-2b8f3c9d1e60")

// FileKey is the composite identity of an audio file. Names alone may collide,
// so size and last-modified time are part of the key.
type FileKey struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	LastModified int64  `json:"lastModified"` // Unix ms, as reported by the browser
}

// ID returns a stable identifier for the key, safe for use in URLs.
func (k FileKey) ID() string {
	return uuid.NewSHA1(fileKeyNamespace, []byte(k.String())).String()
}

// String renders the key for logs.
func (k FileKey) String() string {
	return fmt.Sprintf("%s|%d|%d", k.Name, k.Size, k.LastModified)
}

// AudioFile is a member of the working set. The raw bytes live in the blob
// store and are referenced by BlobID.
type AudioFile struct {
	Key       FileKey   `json:"key"`
	MediaType string    `json:"mediaType,omitempty"`
	BlobID    string    `json:"-"`
	AddedAt   time.Time `json:"addedAt"`
}

// ID is shorthand for Key.ID().
func (f AudioFile) ID() string {
	return f.Key.ID()
}
