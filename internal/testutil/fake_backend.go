// fake_backend.go - Fake transcription endpoint for testing
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// Reply configures how the fake backend answers for one file name.
type Reply struct {
	Status int    // non-2xx fails the whole request
	Body   string // raw body, used when the request carries only this file
	Text   string // transcript used in the default response shape
	// Block holds the response until it is closed or the request is cancelled.
	Block chan struct{}
}

// FakeBackend is an httptest server that speaks the transcription endpoint's
// multipart protocol. By default every file is answered with
// {"results": {"<name>": "transcript of <name>"}}.
type FakeBackend struct {
	*httptest.Server

	mu       sync.Mutex
	replies  map[string]Reply
	requests [][]string
	arrived  chan []string
}

// NewFakeBackend starts a fake backend. Call Close when done.
func NewFakeBackend() *FakeBackend {
	f := &FakeBackend{
		replies: make(map[string]Reply),
		arrived: make(chan []string, 64),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// Reply sets the answer for a file name.
func (f *FakeBackend) Reply(name string, r Reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[name] = r
}

// Requests returns the file names of every request received, in order.
func (f *FakeBackend) Requests() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.requests))
	for i, r := range f.requests {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// Arrived delivers the file names of each request as it arrives.
func (f *FakeBackend) Arrived() <-chan []string {
	return f.arrived
}

func (f *FakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var names []string
	for _, fh := range r.MultipartForm.File["files"] {
		names = append(names, fh.Filename)
		if part, err := fh.Open(); err == nil {
			io.Copy(io.Discard, part)
			part.Close()
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, names)
	replies := make([]Reply, len(names))
	for i, n := range names {
		replies[i] = f.replies[n]
	}
	f.mu.Unlock()

	select {
	case f.arrived <- names:
	default:
	}

	for _, rep := range replies {
		if rep.Block == nil {
			continue
		}
		select {
		case <-rep.Block:
		case <-r.Context().Done():
			return
		}
	}

	for _, rep := range replies {
		if rep.Status != 0 && (rep.Status < 200 || rep.Status >= 300) {
			http.Error(w, http.StatusText(rep.Status), rep.Status)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if len(names) == 1 && replies[0].Body != "" {
		io.WriteString(w, replies[0].Body)
		return
	}

	results := make(map[string]string, len(names))
	for i, n := range names {
		text := replies[i].Text
		if text == "" {
			text = "transcript of " + n
		}
		results[n] = text
	}
	json.NewEncoder(w).Encode(map[string]any{"results": results})
}
