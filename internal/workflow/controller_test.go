package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/omnilingual-asr/transcriber/internal/intake"
	"github.com/omnilingual-asr/transcriber/internal/models"
	"github.com/omnilingual-asr/transcriber/internal/testutil"
	"github.com/omnilingual-asr/transcriber/internal/transcribe"
)

func newTestController(t *testing.T, opts Options) (*Controller, *testutil.MockStorage, *testutil.FakeBackend) {
	t.Helper()
	backend := testutil.NewFakeBackend()
	t.Cleanup(backend.Close)
	store := testutil.NewMockStorage()
	c := NewController(transcribe.NewClient(backend.URL), store, opts)
	t.Cleanup(c.Close)
	return c, store, backend
}

func rawFile(store *testutil.MockStorage, name, mediaType string, size int64) intake.RawFile {
	blob := store.SaveBytes(name, []byte("audio:"+name))
	return intake.RawFile{
		Name:         name,
		Size:         size,
		LastModified: 1700000000000,
		MediaType:    mediaType,
		BlobID:       blob.ID,
	}
}

func addFiles(t *testing.T, c *Controller, files ...intake.RawFile) []models.FileEntry {
	t.Helper()
	added, err := c.Add(files)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	return added
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitRun(t *testing.T, c *Controller, id string) models.RunInfo {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := c.WaitRun(ctx, id)
	if err != nil {
		t.Fatalf("WaitRun failed: %v", err)
	}
	return info
}

func statusByName(c *Controller) map[string]models.FileStatus {
	out := make(map[string]models.FileStatus)
	for _, e := range c.Snapshot() {
		out[e.Name] = e.Status
	}
	return out
}

func TestController_BatchRunMixedResults(t *testing.T) {
	c, store, backend := newTestController(t, Options{})

	backend.Reply("a.wav", testutil.Reply{Body: `{"a.wav": "hello"}`})
	backend.Reply("b.mp3", testutil.Reply{Status: 500})

	addFiles(t, c,
		rawFile(store, "a.wav", "audio/wav", 100),
		rawFile(store, "b.mp3", "audio/mpeg", 200),
	)

	run, err := c.StartRun(nil)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	info := waitRun(t, c, run.ID)

	if info.State != models.RunStateCompleted {
		t.Errorf("expected run completed, got %s", info.State)
	}
	if info.Completed != 1 || info.Failed != 1 {
		t.Errorf("expected 1 completed and 1 failed, got %+v", info)
	}

	got := statusByName(c)
	if a := got["a.wav"]; a.State != models.StateCompleted || a.Transcript != "hello" {
		t.Errorf("a.wav: expected completed with 'hello', got %+v", a)
	}
	if b := got["b.mp3"]; b.State != models.StateFailed || b.Error != "Backend error" {
		t.Errorf("b.mp3: expected failed with 'Backend error', got %+v", b)
	}

	reqs := backend.Requests()
	if len(reqs) != 2 || reqs[0][0] != "a.wav" || reqs[1][0] != "b.mp3" {
		t.Errorf("expected one request per file in order, got %v", reqs)
	}
}

func TestController_BatchRunIsolatesFailures(t *testing.T) {
	c, store, backend := newTestController(t, Options{})

	names := []string{"1.wav", "2.wav", "3.wav", "4.wav", "5.wav"}
	var files []intake.RawFile
	for i, n := range names {
		files = append(files, rawFile(store, n, "audio/wav", int64(i+1)))
	}
	backend.Reply("2.wav", testutil.Reply{Status: 502})
	backend.Reply("4.wav", testutil.Reply{Body: `{"unexpected": true}`})
	addFiles(t, c, files...)

	run, err := c.StartRun(nil)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	waitRun(t, c, run.ID)

	for _, e := range c.Snapshot() {
		if !e.Status.State.Terminal() {
			t.Errorf("%s: expected terminal state, got %s", e.Name, e.Status.State)
		}
		if e.Status.Progress != 100 {
			t.Errorf("%s: expected progress 100, got %d", e.Name, e.Status.Progress)
		}
		switch e.Name {
		case "2.wav", "4.wav":
			if e.Status.State != models.StateFailed || e.Status.Error == "" {
				t.Errorf("%s: expected failed with error, got %+v", e.Name, e.Status)
			}
			if e.Status.Transcript != "" {
				t.Errorf("%s: failed record must not carry a transcript", e.Name)
			}
		default:
			if e.Status.State != models.StateCompleted || e.Status.Transcript != "transcript of "+e.Name {
				t.Errorf("%s: expected completed, got %+v", e.Name, e.Status)
			}
		}
	}
}

func TestController_Add(t *testing.T) {
	t.Run("dedups on composite key and releases replaced blobs", func(t *testing.T) {
		c, store, _ := newTestController(t, Options{})

		first := rawFile(store, "a.wav", "audio/wav", 10)
		addFiles(t, c, first)

		again := rawFile(store, "a.wav", "audio/wav", 10)
		other := rawFile(store, "a.wav", "audio/wav", 11)
		addFiles(t, c, again, other)

		snap := c.Snapshot()
		if len(snap) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(snap))
		}
		if store.Has(first.BlobID) {
			t.Error("expected replaced blob to be released")
		}
		if !store.Has(again.BlobID) || !store.Has(other.BlobID) {
			t.Error("expected current blobs to be kept")
		}
	})

	t.Run("drops non-audio files", func(t *testing.T) {
		c, store, _ := newTestController(t, Options{})

		notes := rawFile(store, "notes.txt", "text/plain", 5)
		added := addFiles(t, c, notes, rawFile(store, "clip.FLAC", "", 6))

		if len(added) != 1 || added[0].Name != "clip.FLAC" {
			t.Fatalf("expected only clip.FLAC to be added, got %+v", added)
		}
		if store.Has(notes.BlobID) {
			t.Error("expected rejected blob to be released")
		}
	})

	t.Run("new records start pending", func(t *testing.T) {
		c, store, _ := newTestController(t, Options{})

		added := addFiles(t, c, rawFile(store, "a.wav", "audio/wav", 1))
		if added[0].Status.State != models.StatePending || added[0].Status.Progress != 0 {
			t.Errorf("expected pending with progress 0, got %+v", added[0].Status)
		}
	})

	t.Run("re-adding a completed file resets it", func(t *testing.T) {
		c, store, _ := newTestController(t, Options{})

		added := addFiles(t, c, rawFile(store, "a.wav", "audio/wav", 1))
		if _, err := c.ProcessSingle(context.Background(), added[0].ID); err != nil {
			t.Fatalf("ProcessSingle failed: %v", err)
		}
		addFiles(t, c, rawFile(store, "a.wav", "audio/wav", 1))

		e, _ := c.Entry(added[0].ID)
		if e.Status.State != models.StatePending || e.Status.Transcript != "" {
			t.Errorf("expected pending without transcript, got %+v", e.Status)
		}
	})
}

func TestController_ProcessSingle(t *testing.T) {
	t.Run("only the selected file changes", func(t *testing.T) {
		c, store, _ := newTestController(t, Options{})

		added := addFiles(t, c,
			rawFile(store, "a.wav", "audio/wav", 1),
			rawFile(store, "b.wav", "audio/wav", 2),
		)

		entry, err := c.ProcessSingle(context.Background(), added[1].ID)
		if err != nil {
			t.Fatalf("ProcessSingle failed: %v", err)
		}
		if entry.Status.State != models.StateCompleted || entry.Status.Transcript != "transcript of b.wav" {
			t.Errorf("unexpected status: %+v", entry.Status)
		}

		a, _ := c.Entry(added[0].ID)
		if a.Status.State != models.StatePending {
			t.Errorf("expected a.wav untouched, got %s", a.Status.State)
		}
	})

	t.Run("unknown file", func(t *testing.T) {
		c, _, _ := newTestController(t, Options{})

		_, err := c.ProcessSingle(context.Background(), "missing")
		if !errors.Is(err, ErrFileNotFound) {
			t.Errorf("expected ErrFileNotFound, got %v", err)
		}
	})

	t.Run("rejects a second request while one is in flight", func(t *testing.T) {
		c, store, backend := newTestController(t, Options{})

		block := make(chan struct{})
		backend.Reply("a.wav", testutil.Reply{Block: block})
		added := addFiles(t, c, rawFile(store, "a.wav", "audio/wav", 1))
		id := added[0].ID

		entry, err := c.StartSingle(id)
		if err != nil {
			t.Fatalf("StartSingle failed: %v", err)
		}
		if entry.Status.State != models.StateProcessing {
			t.Errorf("expected processing, got %s", entry.Status.State)
		}

		if _, err := c.StartSingle(id); !errors.Is(err, ErrAlreadyProcessing) {
			t.Errorf("expected ErrAlreadyProcessing, got %v", err)
		}

		close(block)
		waitFor(t, func() bool {
			e, _ := c.Entry(id)
			return e.Status.State == models.StateCompleted
		})
		if len(backend.Requests()) != 1 {
			t.Errorf("expected exactly one request, got %d", len(backend.Requests()))
		}
	})
}

func TestController_RemoveDropsStaleResponse(t *testing.T) {
	c, store, backend := newTestController(t, Options{})

	block := make(chan struct{})
	backend.Reply("a.wav", testutil.Reply{Block: block})
	file := rawFile(store, "a.wav", "audio/wav", 1)
	added := addFiles(t, c, file)
	id := added[0].ID

	if _, err := c.StartSingle(id); err != nil {
		t.Fatalf("StartSingle failed: %v", err)
	}
	<-backend.Arrived()

	if err := c.Remove(id); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if store.Has(file.BlobID) {
		t.Error("expected blob to be released on removal")
	}

	// Same key comes back while the old request is still outstanding.
	addFiles(t, c, rawFile(store, "a.wav", "audio/wav", 1))

	close(block)
	c.wg.Wait()

	e, ok := c.Entry(id)
	if !ok {
		t.Fatal("expected re-added entry")
	}
	if e.Status.State != models.StatePending || e.Status.Transcript != "" {
		t.Errorf("expected stale response to be dropped, got %+v", e.Status)
	}
}

func TestController_CancelAndResume(t *testing.T) {
	c, store, backend := newTestController(t, Options{})

	block := make(chan struct{})
	backend.Reply("1.wav", testutil.Reply{Block: block})
	addFiles(t, c,
		rawFile(store, "1.wav", "audio/wav", 1),
		rawFile(store, "2.wav", "audio/wav", 2),
		rawFile(store, "3.wav", "audio/wav", 3),
	)

	run, err := c.StartRun(nil)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	<-backend.Arrived()

	if _, err := c.StartRun(nil); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress, got %v", err)
	}

	if _, err := c.CancelRun(run.ID); err != nil {
		t.Fatalf("CancelRun failed: %v", err)
	}
	close(block)

	info := waitRun(t, c, run.ID)
	if info.State != models.RunStateCancelled {
		t.Fatalf("expected cancelled, got %s", info.State)
	}
	if info.Cursor != 1 {
		t.Errorf("expected cursor 1, got %d", info.Cursor)
	}

	got := statusByName(c)
	if got["1.wav"].State != models.StateCompleted {
		t.Errorf("in-flight file should finish, got %s", got["1.wav"].State)
	}
	if got["2.wav"].State != models.StatePending || got["3.wav"].State != models.StatePending {
		t.Errorf("queued files should stay pending, got %+v", got)
	}

	if _, err := c.CancelRun(run.ID); !errors.Is(err, ErrRunNotRunning) {
		t.Errorf("expected ErrRunNotRunning, got %v", err)
	}

	if _, err := c.ResumeRun(run.ID); err != nil {
		t.Fatalf("ResumeRun failed: %v", err)
	}
	info = waitRun(t, c, run.ID)
	if info.State != models.RunStateCompleted || info.Completed != 3 {
		t.Errorf("expected completed run with 3 files, got %+v", info)
	}
	if len(backend.Requests()) != 3 {
		t.Errorf("expected 3 requests, got %d", len(backend.Requests()))
	}

	if _, err := c.ResumeRun(run.ID); !errors.Is(err, ErrRunNotResumable) {
		t.Errorf("expected ErrRunNotResumable, got %v", err)
	}
}

func TestController_RunSkipsRemovedAndInFlightFiles(t *testing.T) {
	c, store, backend := newTestController(t, Options{})

	block := make(chan struct{})
	backend.Reply("1.wav", testutil.Reply{Block: block})
	added := addFiles(t, c,
		rawFile(store, "1.wav", "audio/wav", 1),
		rawFile(store, "2.wav", "audio/wav", 2),
		rawFile(store, "3.wav", "audio/wav", 3),
	)

	if _, err := c.StartSingle(added[0].ID); err != nil {
		t.Fatalf("StartSingle failed: %v", err)
	}
	<-backend.Arrived()

	run, err := c.StartRun(nil)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if err := c.Remove(added[2].ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	info := waitRun(t, c, run.ID)
	close(block)

	if info.Skipped < 1 {
		t.Errorf("expected skipped files, got %+v", info)
	}
	if info.Completed+info.Failed+info.Skipped != 3 {
		t.Errorf("expected every queued file accounted for, got %+v", info)
	}

	waitFor(t, func() bool {
		e, _ := c.Entry(added[0].ID)
		return e.Status.State == models.StateCompleted
	})
}

func TestController_StartRunErrors(t *testing.T) {
	c, store, _ := newTestController(t, Options{})

	if _, err := c.StartRun(nil); !errors.Is(err, ErrNoFiles) {
		t.Errorf("expected ErrNoFiles, got %v", err)
	}

	addFiles(t, c, rawFile(store, "a.wav", "audio/wav", 1))
	if _, err := c.StartRun([]string{"nope"}); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
	if _, err := c.CancelRun("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestController_BatchedMode(t *testing.T) {
	t.Run("one request per unique name group", func(t *testing.T) {
		c, store, backend := newTestController(t, Options{Mode: ModeBatched})

		addFiles(t, c,
			rawFile(store, "a.wav", "audio/wav", 1),
			rawFile(store, "b.wav", "audio/wav", 2),
			rawFile(store, "a.wav", "audio/wav", 3),
		)

		run, err := c.StartRun(nil)
		if err != nil {
			t.Fatalf("StartRun failed: %v", err)
		}
		info := waitRun(t, c, run.ID)
		if info.Completed != 3 {
			t.Errorf("expected 3 completed, got %+v", info)
		}

		reqs := backend.Requests()
		if len(reqs) != 2 || len(reqs[0]) != 2 || len(reqs[1]) != 1 {
			t.Errorf("expected requests [[a.wav b.wav] [a.wav]], got %v", reqs)
		}
	})

	t.Run("request failure fails every file in it", func(t *testing.T) {
		c, store, backend := newTestController(t, Options{Mode: ModeBatched})

		backend.Reply("b.wav", testutil.Reply{Status: 500})
		addFiles(t, c,
			rawFile(store, "a.wav", "audio/wav", 1),
			rawFile(store, "b.wav", "audio/wav", 2),
		)

		run, err := c.StartRun(nil)
		if err != nil {
			t.Fatalf("StartRun failed: %v", err)
		}
		info := waitRun(t, c, run.ID)
		if info.Failed != 2 {
			t.Errorf("expected 2 failed, got %+v", info)
		}
		for name, st := range statusByName(c) {
			if st.Error != "Backend error" {
				t.Errorf("%s: expected 'Backend error', got %q", name, st.Error)
			}
		}
	})
}

func TestController_AutoProcess(t *testing.T) {
	c, store, _ := newTestController(t, Options{AutoProcess: true})

	addFiles(t, c, rawFile(store, "a.wav", "audio/wav", 1))
	addFiles(t, c, rawFile(store, "b.wav", "audio/wav", 2))

	waitFor(t, func() bool {
		s := c.Summary()
		return s.Counts.Processed == 2
	})
	waitFor(t, func() bool {
		_, active := c.ActiveRun()
		return !active
	})

	runs := c.Runs()
	if len(runs) == 0 {
		t.Fatal("expected at least one run")
	}
	total := 0
	for _, r := range runs {
		total += len(r.FileIDs)
	}
	if total != 2 {
		t.Errorf("expected each file queued once, got %d", total)
	}
}

func TestController_FlagAndUnflag(t *testing.T) {
	c, store, _ := newTestController(t, Options{})

	added := addFiles(t, c, rawFile(store, "a.wav", "audio/wav", 1))
	id := added[0].ID

	if _, err := c.Flag(id, "wrong language"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for pending file, got %v", err)
	}

	if _, err := c.ProcessSingle(context.Background(), id); err != nil {
		t.Fatalf("ProcessSingle failed: %v", err)
	}

	e, err := c.Flag(id, "wrong language")
	if err != nil {
		t.Fatalf("Flag failed: %v", err)
	}
	if e.Status.State != models.StateFlagged || e.Status.FlagReason != "wrong language" {
		t.Errorf("unexpected status: %+v", e.Status)
	}
	if e.Status.Transcript == "" || e.Status.Progress != 100 {
		t.Errorf("flagged record should keep transcript and progress, got %+v", e.Status)
	}
	if s := c.Summary(); len(s.Flagged) != 1 || s.Counts.Processed != 0 {
		t.Errorf("expected file in flagged bucket, got %+v", s)
	}

	e, err = c.Unflag(id)
	if err != nil {
		t.Fatalf("Unflag failed: %v", err)
	}
	if e.Status.State != models.StateCompleted || e.Status.FlagReason != "" {
		t.Errorf("unexpected status after unflag: %+v", e.Status)
	}
	if _, err := c.Unflag(id); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestController_ReferenceScore(t *testing.T) {
	c, store, _ := newTestController(t, Options{})

	added := addFiles(t, c, rawFile(store, "a.wav", "audio/wav", 1))
	id := added[0].ID

	e, err := c.SetReference(id, "transcript of a.wav")
	if err != nil {
		t.Fatalf("SetReference failed: %v", err)
	}
	if e.Score != nil {
		t.Error("expected no score before a transcript exists")
	}

	e, err = c.ProcessSingle(context.Background(), id)
	if err != nil {
		t.Fatalf("ProcessSingle failed: %v", err)
	}
	if e.Score == nil || e.Score.WER != 0 {
		t.Errorf("expected perfect score, got %+v", e.Score)
	}
}

func TestController_ProgressEvents(t *testing.T) {
	c, store, _ := newTestController(t, Options{})

	added := addFiles(t, c, rawFile(store, "a.wav", "audio/wav", 1))
	id := added[0].ID

	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	if _, err := c.ProcessSingle(context.Background(), id); err != nil {
		t.Fatalf("ProcessSingle failed: %v", err)
	}

	var progress []int
	var states []models.FileState
drain:
	for {
		select {
		case ev := <-events:
			if ev.Type == EventFileUpdated && ev.FileID == id {
				progress = append(progress, ev.File.Status.Progress)
				states = append(states, ev.File.Status.State)
			}
		default:
			break drain
		}
	}

	if len(progress) < 2 {
		t.Fatalf("expected several updates, got %v", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Errorf("progress went backwards: %v", progress)
		}
	}
	if states[0] != models.StateProcessing || progress[0] != 0 {
		t.Errorf("expected first update processing at 0, got %s at %d", states[0], progress[0])
	}
	last := len(progress) - 1
	if states[last] != models.StateCompleted || progress[last] != 100 {
		t.Errorf("expected last update completed at 100, got %s at %d", states[last], progress[last])
	}
}

func TestController_CloseReleasesBlobs(t *testing.T) {
	c, store, _ := newTestController(t, Options{})

	addFiles(t, c,
		rawFile(store, "a.wav", "audio/wav", 1),
		rawFile(store, "b.wav", "audio/wav", 2),
	)
	c.Close()

	if store.GetFileCount() != 0 {
		t.Errorf("expected all blobs released, %d left", store.GetFileCount())
	}
	if _, err := c.Add(nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeSequential, false},
		{"sequential", ModeSequential, false},
		{"batched", ModeBatched, false},
		{"parallel", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestController_AutoProcessSkipsQueuedFiles(t *testing.T) {
	c, store, backend := newTestController(t, Options{AutoProcess: true})

	block := make(chan struct{})
	backend.Reply("a.wav", testutil.Reply{Block: block})
	addFiles(t, c,
		rawFile(store, "a.wav", "audio/wav", 1),
		rawFile(store, "b.wav", "audio/wav", 2),
	)
	<-backend.Arrived()

	// b.wav is still pending in the active run; selecting it again must not queue it twice
	addFiles(t, c, rawFile(store, "b.wav", "audio/wav", 2))
	close(block)

	waitFor(t, func() bool {
		_, active := c.ActiveRun()
		return !active && c.Summary().Counts.Processed == 2
	})

	reqs := backend.Requests()
	if len(reqs) != 2 || reqs[0][0] != "a.wav" || reqs[1][0] != "b.wav" {
		t.Errorf("expected one request per file, got %v", reqs)
	}
	if runs := c.Runs(); len(runs) != 1 {
		t.Errorf("expected a single run, got %d", len(runs))
	}
}

func TestController_CleanupOldRunsDropsCancelled(t *testing.T) {
	c, store, backend := newTestController(t, Options{})

	block := make(chan struct{})
	backend.Reply("1.wav", testutil.Reply{Block: block})
	addFiles(t, c,
		rawFile(store, "1.wav", "audio/wav", 1),
		rawFile(store, "2.wav", "audio/wav", 2),
	)

	run, err := c.StartRun(nil)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	<-backend.Arrived()
	if _, err := c.CancelRun(run.ID); err != nil {
		t.Fatalf("CancelRun failed: %v", err)
	}
	close(block)
	if info := waitRun(t, c, run.ID); info.State != models.RunStateCancelled {
		t.Fatalf("expected cancelled, got %s", info.State)
	}

	c.CleanupOldRuns(time.Hour)
	if len(c.Runs()) != 1 {
		t.Fatalf("expected recent cancelled run to be kept, got %d", len(c.Runs()))
	}

	time.Sleep(5 * time.Millisecond)
	c.CleanupOldRuns(time.Millisecond)
	if len(c.Runs()) != 0 {
		t.Errorf("expected cancelled run to be dropped, got %d", len(c.Runs()))
	}
	if _, err := c.ResumeRun(run.ID); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound after cleanup, got %v", err)
	}
}
