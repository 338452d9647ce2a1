// Package workflow owns the working set of a browsing session: the status
// table, single-file processing, batch runs and change notifications.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/omnilingual-asr/transcriber/internal/intake"
	"github.com/omnilingual-asr/transcriber/internal/models"
	"github.com/omnilingual-asr/transcriber/internal/scoring"
	"github.com/omnilingual-asr/transcriber/internal/transcribe"
)

var (
	ErrFileNotFound      = errors.New("file not found")
	ErrAlreadyProcessing = errors.New("file is already being processed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoFiles           = errors.New("no files to process")
	ErrRunInProgress     = errors.New("a run is already in progress")
	ErrRunNotFound       = errors.New("run not found")
	ErrRunNotRunning     = errors.New("run is not running")
	ErrRunNotResumable   = errors.New("run cannot be resumed")
	ErrClosed            = errors.New("controller closed")
)

// Mode selects how a run talks to the transcription endpoint.
type Mode string

const (
	// ModeSequential sends one request per file.
	ModeSequential Mode = "sequential"
	// ModeBatched sends one request carrying every queued file.
	ModeBatched Mode = "batched"
)

// ParseMode validates a configured mode. Empty means sequential.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSequential:
		return ModeSequential, nil
	case ModeBatched:
		return ModeBatched, nil
	}
	return "", fmt.Errorf("unknown transcription mode %q", s)
}

// Transcriber is the subset of the transcription client used here.
type Transcriber interface {
	Transcribe(ctx context.Context, f transcribe.File, progress transcribe.ProgressFunc) (string, error)
	TranscribeAll(ctx context.Context, files []transcribe.File, progress transcribe.ProgressFunc) (map[string]transcribe.Result, error)
}

// Blobs gives access to the uploaded audio bytes.
type Blobs interface {
	Open(id string) (io.ReadSeekCloser, error)
	Delete(id string) error
}

// Options configures a Controller.
type Options struct {
	Mode        Mode
	AutoProcess bool
	Allow       intake.AllowList
}

// record is one row of the status table.
type record struct {
	file      models.AudioFile
	status    models.FileStatus
	reference string
	// attempt identifies the request currently allowed to update the record.
	attempt uint64
}

// Controller is the per-session state machine. All reads return copies.
type Controller struct {
	mu      sync.RWMutex
	order   []string
	records map[string]*record

	runs     map[string]*run
	runOrder []string
	active   *run
	followUp []string

	nextAttempt uint64
	closed      bool

	client Transcriber
	blobs  Blobs
	opts   Options

	events *broadcaster

	// baseCtx outlives individual HTTP requests; it is only cancelled by Close.
	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup
}

// NewController creates an empty controller.
func NewController(client Transcriber, blobs Blobs, opts Options) *Controller {
	if opts.Mode == "" {
		opts.Mode = ModeSequential
	}
	if opts.Allow.MediaPrefix == "" && len(opts.Allow.Extensions) == 0 {
		opts.Allow = intake.DefaultAllowList()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		records:    make(map[string]*record),
		runs:       make(map[string]*run),
		client:     client,
		blobs:      blobs,
		opts:       opts,
		events:     newBroadcaster(),
		baseCtx:    ctx,
		cancelBase: cancel,
	}
}

// Mode returns the configured transcription mode.
func (c *Controller) Mode() Mode {
	return c.opts.Mode
}

// AutoProcess reports whether newly added files are queued automatically.
func (c *Controller) AutoProcess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts.AutoProcess
}

// SetAutoProcess toggles automatic processing. Files already in the working
// set are not queued by turning it on.
func (c *Controller) SetAutoProcess(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.AutoProcess = on
	if !on {
		c.followUp = nil
	}
}

// Add merges a selection into the working set and returns the entries that
// were added or replaced. Files that are not audio are dropped and their blobs
// released. A re-added file resets to pending unless a request for it is in
// flight, in which case the existing file is kept.
func (c *Controller) Add(incoming []intake.RawFile) ([]models.FileEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.releaseRaw(incoming)
		return nil, ErrClosed
	}

	existing := make([]models.AudioFile, 0, len(c.order))
	for _, id := range c.order {
		existing = append(existing, c.records[id].file)
	}

	res := intake.AddFiles(existing, incoming, c.opts.Allow)

	var released []string
	for _, raw := range res.Rejected {
		released = append(released, raw.BlobID)
	}
	for _, f := range res.Replaced {
		released = append(released, f.BlobID)
	}

	added := make([]models.FileEntry, 0, len(res.Added))
	var schedule []string
	for _, f := range res.Added {
		id := f.ID()
		rec, ok := c.records[id]
		switch {
		case !ok:
			rec = &record{file: f, status: models.NewFileStatus()}
			c.records[id] = rec
		case rec.status.State == models.StateProcessing:
			// Same key, same content: keep the bytes the request is reading.
			released = append(released, f.BlobID)
			added = append(added, c.entryLocked(id, rec))
			continue
		default:
			rec.file = f
			rec.status = models.NewFileStatus()
		}
		added = append(added, c.entryLocked(id, rec))
		schedule = append(schedule, id)
	}

	c.order = c.order[:0]
	for _, f := range res.Files {
		c.order = append(c.order, f.ID())
	}

	c.releaseUnreferencedLocked(released)

	for _, e := range added {
		entry := e
		c.events.publish(Event{Type: EventFileAdded, FileID: e.ID, File: &entry})
	}

	if len(res.Rejected) > 0 {
		fmt.Printf("[Intake] Dropped %d non-audio file(s)\n", len(res.Rejected))
	}

	if c.opts.AutoProcess && len(schedule) > 0 {
		if c.active != nil {
			for _, id := range schedule {
				if !c.queuedLocked(c.active, id) {
					c.followUp = append(c.followUp, id)
				}
			}
		} else if _, err := c.startRunLocked(schedule); err != nil {
			fmt.Printf("[Intake] Auto-process not started: %v\n", err)
		}
	}

	return added, nil
}

// Remove deletes a file, its status record and its blob. A response for an
// in-flight request is discarded.
func (c *Controller) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return ErrFileNotFound
	}
	delete(c.records, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.deleteBlob(rec.file.BlobID)
	c.events.publish(Event{Type: EventFileRemoved, FileID: id})
	return nil
}

// Flag marks a completed file for review. The transcript is kept.
func (c *Controller) Flag(id, reason string) (models.FileEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return models.FileEntry{}, ErrFileNotFound
	}
	if rec.status.State != models.StateCompleted && rec.status.State != models.StateFlagged {
		return models.FileEntry{}, fmt.Errorf("%w: cannot flag a %s file", ErrInvalidTransition, rec.status.State)
	}
	rec.status.State = models.StateFlagged
	rec.status.FlagReason = reason
	rec.status.UpdatedAt = time.Now()
	return c.publishFileLocked(id, rec), nil
}

// Unflag returns a flagged file to completed.
func (c *Controller) Unflag(id string) (models.FileEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return models.FileEntry{}, ErrFileNotFound
	}
	if rec.status.State != models.StateFlagged {
		return models.FileEntry{}, fmt.Errorf("%w: file is %s", ErrInvalidTransition, rec.status.State)
	}
	rec.status.State = models.StateCompleted
	rec.status.FlagReason = ""
	rec.status.UpdatedAt = time.Now()
	return c.publishFileLocked(id, rec), nil
}

// SetReference stores the reference text used to score the transcript.
// An empty text clears it.
func (c *Controller) SetReference(id, text string) (models.FileEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return models.FileEntry{}, ErrFileNotFound
	}
	rec.reference = text
	return c.publishFileLocked(id, rec), nil
}

// Snapshot returns every entry in working-set order.
func (c *Controller) Snapshot() []models.FileEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]models.FileEntry, 0, len(c.order))
	for _, id := range c.order {
		entries = append(entries, c.entryLocked(id, c.records[id]))
	}
	return entries
}

// Entry returns a single entry.
func (c *Controller) Entry(id string) (models.FileEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[id]
	if !ok {
		return models.FileEntry{}, false
	}
	return c.entryLocked(id, rec), true
}

// OpenAudio opens the stored bytes of a file for playback.
func (c *Controller) OpenAudio(id string) (io.ReadSeekCloser, models.AudioFile, error) {
	c.mu.RLock()
	rec, ok := c.records[id]
	var f models.AudioFile
	if ok {
		f = rec.file
	}
	c.mu.RUnlock()

	if !ok {
		return nil, models.AudioFile{}, ErrFileNotFound
	}
	rc, err := c.blobs.Open(f.BlobID)
	if err != nil {
		return nil, models.AudioFile{}, fmt.Errorf("open audio %s: %w", f.Key.Name, err)
	}
	return rc, f, nil
}

// Summary projects the current snapshot into buckets.
func (c *Controller) Summary() models.Buckets {
	return Project(c.Snapshot())
}

// Closed reports whether Close has been called.
func (c *Controller) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Busy reports whether a run or any request is outstanding.
func (c *Controller) Busy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.active != nil {
		return true
	}
	for _, rec := range c.records {
		if rec.status.State == models.StateProcessing {
			return true
		}
	}
	return false
}

// Close stops every run, drops pending responses and releases all blobs.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.active != nil {
		c.active.cancelRequested = true
	}
	c.followUp = nil
	for _, rec := range c.records {
		c.deleteBlob(rec.file.BlobID)
	}
	c.records = make(map[string]*record)
	c.order = nil
	c.mu.Unlock()

	c.cancelBase()
	c.wg.Wait()
	c.events.close()
}

// Subscribe returns a channel of change notifications and a function that
// unsubscribes. The channel is closed when the controller closes, or when the
// subscriber falls too far behind; check Closed to tell the two apart.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	return c.events.subscribe()
}

func (c *Controller) entryLocked(id string, rec *record) models.FileEntry {
	e := models.FileEntry{
		ID:           id,
		Name:         rec.file.Key.Name,
		Size:         rec.file.Key.Size,
		LastModified: rec.file.Key.LastModified,
		MediaType:    rec.file.MediaType,
		AddedAt:      rec.file.AddedAt,
		Status:       rec.status,
		Reference:    rec.reference,
	}
	if rec.reference != "" && (rec.status.State == models.StateCompleted || rec.status.State == models.StateFlagged) {
		e.Score = scoring.Score(rec.reference, rec.status.Transcript)
	}
	return e
}

func (c *Controller) publishFileLocked(id string, rec *record) models.FileEntry {
	e := c.entryLocked(id, rec)
	entry := e
	c.events.publish(Event{Type: EventFileUpdated, FileID: id, File: &entry})
	return e
}

// releaseUnreferencedLocked deletes blobs no record points at.
func (c *Controller) releaseUnreferencedLocked(ids []string) {
	if len(ids) == 0 {
		return
	}
	inUse := make(map[string]bool, len(c.records))
	for _, rec := range c.records {
		inUse[rec.file.BlobID] = true
	}
	for _, id := range ids {
		if !inUse[id] {
			c.deleteBlob(id)
		}
	}
}

func (c *Controller) releaseRaw(files []intake.RawFile) {
	for _, f := range files {
		c.deleteBlob(f.BlobID)
	}
}

func (c *Controller) deleteBlob(id string) {
	if id == "" || c.blobs == nil {
		return
	}
	if err := c.blobs.Delete(id); err != nil {
		fmt.Printf("[Blob %s] Warning: failed to delete: %v\n", shortID(id), err)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
