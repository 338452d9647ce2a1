// handlers_stream.go - Server-Sent Events status feed
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/omnilingual-asr/transcriber/internal/workflow"
)

// DefaultHeartbeat is how often idle feeds send a keep-alive.
const DefaultHeartbeat = 15 * time.Second

// StreamHandlerImpl implements the StreamHandler interface
type StreamHandlerImpl struct {
	sessionScoped
	upgrader       websocket.Upgrader
	heartbeat      time.Duration
	maxMessageSize int64
}

// NewStreamHandler creates the SSE and WebSocket feed handler.
// maxMessageKB bounds client WebSocket messages; 0 means no limit.
func NewStreamHandler(sessions SessionManager, maxMessageKB int) StreamHandler {
	return &StreamHandlerImpl{
		sessionScoped: sessionScoped{sessions: sessions},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		heartbeat:      DefaultHeartbeat,
		maxMessageSize: int64(maxMessageKB) * 1024,
	}
}

// snapshot is the full state sent when a feed opens.
type snapshot struct {
	Files   interface{} `json:"files"`
	Summary interface{} `json:"summary"`
	Runs    interface{} `json:"runs"`
}

func snapshotOf(ctrl *workflow.Controller) snapshot {
	entries := ctrl.Snapshot()
	return snapshot{
		Files:   entries,
		Summary: workflow.Project(entries),
		Runs:    ctrl.Runs(),
	}
}

// HandleEventStream streams status changes via SSE. The first event is a
// snapshot; every later event is a single file or run change.
func (h *StreamHandlerImpl) HandleEventStream(c echo.Context) error {
	ctrl, err := h.controller(c)
	if err != nil {
		return err
	}
	sessionID := c.Param("sessionId")

	// Subscribe before the snapshot so nothing falls in between
	events, unsubscribe := ctrl.Subscribe()
	defer func() { unsubscribe() }()

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	h.sendSSE(c, "snapshot", snapshotOf(ctrl))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				if ctrl.Closed() {
					h.sendSSE(c, "closed", map[string]string{"sessionId": sessionID})
					return nil
				}
				// Fell behind: start over from a fresh snapshot
				unsubscribe()
				events, unsubscribe = ctrl.Subscribe()
				h.sendSSE(c, "snapshot", snapshotOf(ctrl))
				continue
			}
			h.sendSSE(c, string(ev.Type), ev)

		case <-ticker.C:
			fmt.Fprint(c.Response(), ": keep-alive\n\n")
			c.Response().Flush()
			h.sessions.TouchSession(sessionID)
		}
	}
}

func (h *StreamHandlerImpl) sendSSE(c echo.Context, event string, data interface{}) {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, jsonData)
	c.Response().Flush()
}
