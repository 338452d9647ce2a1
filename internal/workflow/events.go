package workflow

import (
	"fmt"
	"sync"

	"github.com/omnilingual-asr/transcriber/internal/models"
)

// EventType names a change notification.
type EventType string

const (
	EventFileAdded   EventType = "file.added"
	EventFileUpdated EventType = "file.updated"
	EventFileRemoved EventType = "file.removed"
	EventRunUpdated  EventType = "run.updated"
)

// Event is a change to the status table or a run.
type Event struct {
	Type   EventType         `json:"type"`
	FileID string            `json:"fileId,omitempty"`
	File   *models.FileEntry `json:"file,omitempty"`
	Run    *models.RunInfo   `json:"run,omitempty"`
}

const subscriberBuffer = 256

type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// publish never blocks. A subscriber whose buffer is full is closed and
// removed; it has to subscribe again and re-read the snapshot.
func (b *broadcaster) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			close(ch)
			delete(b.subs, id)
			fmt.Printf("[Events] Dropped subscriber %d: fell %d events behind\n", id, subscriberBuffer)
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
