package workflow

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/omnilingual-asr/transcriber/internal/models"
	"github.com/omnilingual-asr/transcriber/internal/transcribe"
)

// Progress milestones of a request.
const (
	progressIssued   = 0
	progressUploaded = 90
	progressDone     = 100
)

// attempt is one issued request for one file.
type attempt struct {
	id    string
	token uint64
	file  transcribe.File
}

// ProcessSingle transcribes one file and waits for the result. Other records
// are never touched.
func (c *Controller) ProcessSingle(ctx context.Context, id string) (models.FileEntry, error) {
	c.mu.Lock()
	a, err := c.issueLocked(id)
	c.mu.Unlock()
	if err != nil {
		return models.FileEntry{}, err
	}

	c.executeOne(ctx, a)

	entry, ok := c.Entry(id)
	if !ok {
		return models.FileEntry{}, ErrFileNotFound
	}
	return entry, nil
}

// StartSingle issues a request for one file in the background and returns
// the entry in processing state.
func (c *Controller) StartSingle(id string) (models.FileEntry, error) {
	c.mu.Lock()
	a, err := c.issueLocked(id)
	if err != nil {
		c.mu.Unlock()
		return models.FileEntry{}, err
	}
	entry := c.entryLocked(id, c.records[id])
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.executeOne(c.baseCtx, a)
	}()
	return entry, nil
}

// issueLocked moves a record to processing and hands out a fresh attempt token.
func (c *Controller) issueLocked(id string) (attempt, error) {
	if c.closed {
		return attempt{}, ErrClosed
	}
	rec, ok := c.records[id]
	if !ok {
		return attempt{}, ErrFileNotFound
	}
	if rec.status.State == models.StateProcessing {
		return attempt{}, ErrAlreadyProcessing
	}

	c.nextAttempt++
	rec.attempt = c.nextAttempt
	rec.status = models.FileStatus{
		State:     models.StateProcessing,
		Progress:  progressIssued,
		UpdatedAt: time.Now(),
	}
	c.publishFileLocked(id, rec)

	blobID := rec.file.BlobID
	return attempt{
		id:    id,
		token: rec.attempt,
		file: transcribe.File{
			Name:      rec.file.Key.Name,
			MediaType: rec.file.MediaType,
			Open: func() (io.ReadCloser, error) {
				return c.blobs.Open(blobID)
			},
		},
	}, nil
}

// executeOne sends a single-file request and applies the result.
func (c *Controller) executeOne(ctx context.Context, a attempt) models.FileState {
	transcript, err := c.client.Transcribe(ctx, a.file, c.progressFor(a))
	return c.finish(a, transcript, err)
}

// executeBatch sends one request for all attempts and applies each result.
// Names must be unique within the batch.
func (c *Controller) executeBatch(ctx context.Context, batch []attempt) []models.FileState {
	files := make([]transcribe.File, len(batch))
	for i, a := range batch {
		files[i] = a.file
	}

	results, err := c.client.TranscribeAll(ctx, files, c.progressFor(batch...))

	states := make([]models.FileState, len(batch))
	for i, a := range batch {
		if err != nil {
			states[i] = c.finish(a, "", err)
			continue
		}
		r, ok := results[a.file.Name]
		if !ok {
			r.Err = fmt.Errorf("%w: %s", transcribe.ErrMissingResult, a.file.Name)
		}
		states[i] = c.finish(a, r.Transcript, r.Err)
	}
	return states
}

// progressFor maps upload bytes onto 0-90 for every attempt in the request.
func (c *Controller) progressFor(attempts ...attempt) transcribe.ProgressFunc {
	last := -1
	return func(sent, total int64) {
		pct := progressUploaded
		if total > 0 && sent < total {
			pct = int(sent * progressUploaded / total)
		}
		if pct == last {
			return
		}
		last = pct

		c.mu.Lock()
		defer c.mu.Unlock()
		for _, a := range attempts {
			rec, ok := c.current(a)
			if !ok || pct <= rec.status.Progress {
				continue
			}
			rec.status.Progress = pct
			rec.status.UpdatedAt = time.Now()
			c.publishFileLocked(a.id, rec)
		}
	}
}

// finish applies a response. It returns the state the record ended in, or
// an empty state when the update was stale and dropped.
func (c *Controller) finish(a attempt, transcript string, err error) models.FileState {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.current(a)
	if !ok {
		fmt.Printf("[File %s] Dropped stale response for %s\n", shortID(a.id), a.file.Name)
		return ""
	}

	now := time.Now()
	if err != nil {
		rec.status = models.FileStatus{
			State:     models.StateFailed,
			Progress:  progressDone,
			Error:     err.Error(),
			UpdatedAt: now,
		}
		fmt.Printf("[File %s] %s failed: %v\n", shortID(a.id), a.file.Name, err)
	} else {
		rec.status = models.FileStatus{
			State:      models.StateCompleted,
			Progress:   progressDone,
			Transcript: transcript,
			UpdatedAt:  now,
		}
	}
	c.publishFileLocked(a.id, rec)
	return rec.status.State
}

// current returns the record if the attempt is still the one allowed to update it.
func (c *Controller) current(a attempt) (*record, bool) {
	rec, ok := c.records[a.id]
	if !ok || rec.attempt != a.token || rec.status.State != models.StateProcessing {
		return nil, false
	}
	return rec, true
}
