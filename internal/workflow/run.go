package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/omnilingual-asr/transcriber/internal/models"
)

// run is a batch run: an ordered queue of file ids and a cursor.
type run struct {
	info            models.RunInfo
	cancelRequested bool
	done            chan struct{}
}

// StartRun queues files for sequential processing. A nil ids list queues the
// whole working set as it is now; files added later are not part of the run.
func (c *Controller) StartRun(ids []string) (models.RunInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return models.RunInfo{}, ErrClosed
	}
	if c.active != nil {
		return models.RunInfo{}, ErrRunInProgress
	}
	if ids == nil {
		ids = append([]string(nil), c.order...)
	}
	for _, id := range ids {
		if _, ok := c.records[id]; !ok {
			return models.RunInfo{}, fmt.Errorf("%w: %s", ErrFileNotFound, id)
		}
	}
	return c.startRunLocked(ids)
}

func (c *Controller) startRunLocked(ids []string) (models.RunInfo, error) {
	queue := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := c.records[id]; ok {
			queue = append(queue, id)
		}
	}
	if len(queue) == 0 {
		return models.RunInfo{}, ErrNoFiles
	}

	for _, id := range queue {
		rec := c.records[id]
		if rec.status.State == models.StateProcessing || rec.status.State == models.StatePending {
			continue
		}
		rec.status = models.NewFileStatus()
		c.publishFileLocked(id, rec)
	}

	r := &run{
		info: models.RunInfo{
			ID:        uuid.New().String(),
			Mode:      string(c.opts.Mode),
			State:     models.RunStateRunning,
			FileIDs:   queue,
			StartedAt: time.Now(),
		},
		done: make(chan struct{}),
	}
	c.runs[r.info.ID] = r
	c.runOrder = append(c.runOrder, r.info.ID)
	c.active = r
	c.publishRunLocked(r)

	fmt.Printf("[Run %s] Starting: %d file(s), mode=%s\n", shortID(r.info.ID), len(queue), r.info.Mode)

	c.wg.Add(1)
	go c.executeRun(r)

	return c.runInfoLocked(r), nil
}

// CancelRun asks a run to stop. The file being processed finishes normally;
// the run stops before the next one.
func (c *Controller) CancelRun(id string) (models.RunInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.runs[id]
	if !ok {
		return models.RunInfo{}, ErrRunNotFound
	}
	if r.info.State != models.RunStateRunning {
		return models.RunInfo{}, ErrRunNotRunning
	}
	r.cancelRequested = true
	fmt.Printf("[Run %s] Cancel requested at %d/%d\n", shortID(id), r.info.Cursor, len(r.info.FileIDs))
	return c.runInfoLocked(r), nil
}

// ResumeRun continues a cancelled run from its cursor.
func (c *Controller) ResumeRun(id string) (models.RunInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return models.RunInfo{}, ErrClosed
	}
	r, ok := c.runs[id]
	if !ok {
		return models.RunInfo{}, ErrRunNotFound
	}
	if r.info.State != models.RunStateCancelled || r.info.Cursor >= len(r.info.FileIDs) {
		return models.RunInfo{}, ErrRunNotResumable
	}
	if c.active != nil {
		return models.RunInfo{}, ErrRunInProgress
	}

	r.info.State = models.RunStateRunning
	r.info.FinishedAt = nil
	r.cancelRequested = false
	r.done = make(chan struct{})
	c.active = r
	c.publishRunLocked(r)

	fmt.Printf("[Run %s] Resuming at %d/%d\n", shortID(id), r.info.Cursor, len(r.info.FileIDs))

	c.wg.Add(1)
	go c.executeRun(r)

	return c.runInfoLocked(r), nil
}

// WaitRun blocks until the run is no longer running or ctx is done.
func (c *Controller) WaitRun(ctx context.Context, id string) (models.RunInfo, error) {
	for {
		c.mu.RLock()
		r, ok := c.runs[id]
		if !ok {
			c.mu.RUnlock()
			return models.RunInfo{}, ErrRunNotFound
		}
		if r.info.State != models.RunStateRunning {
			info := c.runInfoLocked(r)
			c.mu.RUnlock()
			return info, nil
		}
		done := r.done
		c.mu.RUnlock()

		select {
		case <-done:
		case <-ctx.Done():
			return models.RunInfo{}, ctx.Err()
		}
	}
}

// Run returns a run by id.
func (c *Controller) Run(id string) (models.RunInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.runs[id]
	if !ok {
		return models.RunInfo{}, false
	}
	return c.runInfoLocked(r), true
}

// Runs returns every run, oldest first.
func (c *Controller) Runs() []models.RunInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.RunInfo, 0, len(c.runOrder))
	for _, id := range c.runOrder {
		out = append(out, c.runInfoLocked(c.runs[id]))
	}
	return out
}

// ActiveRun returns the run currently executing, if any.
func (c *Controller) ActiveRun() (models.RunInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.active == nil {
		return models.RunInfo{}, false
	}
	return c.runInfoLocked(c.active), true
}

// CleanupOldRuns removes completed and cancelled runs that finished more than
// maxAge ago. A cancelled run removed this way can no longer be resumed.
func (c *Controller) CleanupOldRuns(maxAge time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	kept := c.runOrder[:0]
	for _, id := range c.runOrder {
		r := c.runs[id]
		if r.info.State != models.RunStateRunning && r.info.FinishedAt != nil && r.info.FinishedAt.Before(cutoff) {
			delete(c.runs, id)
			continue
		}
		kept = append(kept, id)
	}
	c.runOrder = kept
}

// executeRun walks the queue until it is exhausted or cancelled. Every file
// is updated on its own; a failure never stops the run.
func (c *Controller) executeRun(r *run) {
	defer c.wg.Done()

	start := time.Now()
	for {
		batch, stop := c.nextStep(r)
		if stop {
			break
		}
		if len(batch) == 0 {
			continue
		}

		states := make([]models.FileState, 0, len(batch))
		if len(batch) == 1 && c.opts.Mode == ModeSequential {
			states = append(states, c.executeOne(c.baseCtx, batch[0]))
		} else {
			states = c.executeBatch(c.baseCtx, batch)
		}
		c.countResults(r, states)
	}

	c.mu.RLock()
	info := c.runInfoLocked(r)
	c.mu.RUnlock()
	fmt.Printf("[Run %s] %s in %s: %d completed, %d failed, %d skipped\n",
		shortID(info.ID), info.State, time.Since(start).Round(time.Millisecond), info.Completed, info.Failed, info.Skipped)
}

// nextStep advances the cursor and issues the next request's attempts. It
// settles the run and reports stop when the queue is done or cancelled.
func (c *Controller) nextStep(r *run) ([]attempt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.cancelRequested {
		c.settleLocked(r, models.RunStateCancelled)
		return nil, true
	}
	if r.info.Cursor >= len(r.info.FileIDs) {
		c.settleLocked(r, models.RunStateCompleted)
		return nil, true
	}

	var batch []attempt
	names := make(map[string]bool)
	for r.info.Cursor < len(r.info.FileIDs) {
		id := r.info.FileIDs[r.info.Cursor]
		if rec, ok := c.records[id]; ok && names[rec.file.Key.Name] {
			// One request cannot carry two files with the same name.
			break
		}
		r.info.Cursor++

		a, err := c.issueLocked(id)
		if err != nil {
			r.info.Skipped++
			fmt.Printf("[Run %s] Skipping %s: %v\n", shortID(r.info.ID), shortID(id), err)
			continue
		}
		batch = append(batch, a)
		names[a.file.Name] = true
		if c.opts.Mode == ModeSequential {
			break
		}
	}
	c.publishRunLocked(r)
	return batch, false
}

// queuedLocked reports whether id is still ahead of the run's cursor and
// pending, so the run will pick it up.
func (c *Controller) queuedLocked(r *run, id string) bool {
	rec, ok := c.records[id]
	if !ok || rec.status.State != models.StatePending {
		return false
	}
	for _, qid := range r.info.FileIDs[r.info.Cursor:] {
		if qid == id {
			return true
		}
	}
	return false
}

func (c *Controller) countResults(r *run, states []models.FileState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range states {
		switch s {
		case models.StateCompleted:
			r.info.Completed++
		case models.StateFailed:
			r.info.Failed++
		default:
			r.info.Skipped++
		}
	}
	c.publishRunLocked(r)
}

// settleLocked finishes a run and starts queued follow-up work.
func (c *Controller) settleLocked(r *run, state models.RunState) {
	now := time.Now()
	r.info.State = state
	r.info.FinishedAt = &now
	if c.active == r {
		c.active = nil
	}
	close(r.done)
	c.publishRunLocked(r)

	if c.closed || state == models.RunStateCancelled {
		c.followUp = nil
		return
	}
	if len(c.followUp) > 0 {
		ids := c.followUp
		c.followUp = nil
		if _, err := c.startRunLocked(ids); err != nil {
			fmt.Printf("[Run %s] Follow-up run not started: %v\n", shortID(r.info.ID), err)
		}
	}
}

func (c *Controller) runInfoLocked(r *run) models.RunInfo {
	info := r.info
	info.FileIDs = append([]string(nil), r.info.FileIDs...)
	if r.info.FinishedAt != nil {
		t := *r.info.FinishedAt
		info.FinishedAt = &t
	}
	return info
}

func (c *Controller) publishRunLocked(r *run) {
	info := c.runInfoLocked(r)
	c.events.publish(Event{Type: EventRunUpdated, Run: &info})
}
