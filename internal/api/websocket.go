package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/omnilingual-asr/transcriber/internal/workflow"
)

// WebSocket message types for the status feed
const (
	// Client -> Server messages
	MsgTypeTranscribe = "file:transcribe"
	MsgTypeRunStart   = "run:start"
	MsgTypeRunCancel  = "run:cancel"
	MsgTypePing       = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeSnapshot  = "snapshot"
	MsgTypeEvent     = "event"
	MsgTypeAck       = "ack"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
	MsgTypeClosed    = "closed"
)

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Transcribe request payload
type TranscribePayload struct {
	FileID string `json:"fileId"`
}

// Run start payload
type RunStartPayload struct {
	FileIDs []string `json:"fileIds,omitempty"`
}

// Run cancel payload
type RunCancelPayload struct {
	RunID string `json:"runId"`
}

// WebSocket error response
type WSErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// HandleWebSocket upgrades the connection and streams status changes. The
// client may also start work over the same connection.
func (h *StreamHandlerImpl) HandleWebSocket(c echo.Context) error {
	ctrl, err := h.controller(c)
	if err != nil {
		return err
	}
	sessionID := c.Param("sessionId")

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	if h.maxMessageSize > 0 {
		ws.SetReadLimit(h.maxMessageSize)
	}

	fmt.Printf("[WebSocket] Client connected to session %s\n", shortID(sessionID))

	events, unsubscribe := ctrl.Subscribe()
	defer func() { unsubscribe() }()

	replies := make(chan WSMessage, 16)
	stop := make(chan struct{})
	defer close(stop)
	readerDone := make(chan struct{})

	// gorilla allows one concurrent writer, so the reader only queues replies
	go func() {
		defer close(readerDone)
		for {
			var msg WSMessage
			if err := ws.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					fmt.Printf("[WebSocket] Connection error: %v\n", err)
				}
				return
			}
			h.sessions.TouchSession(sessionID)
			select {
			case replies <- h.handleClientMessage(ctrl, msg):
			case <-stop:
				return
			}
		}
	}()

	h.sendMessage(ws, WSMessage{Type: MsgTypeConnected, ID: sessionID, Timestamp: time.Now().UnixMilli()})
	h.sendMessage(ws, WSMessage{Type: MsgTypeSnapshot, Payload: mustJSON(snapshotOf(ctrl)), Timestamp: time.Now().UnixMilli()})

	// Main message loop
	for {
		select {
		case <-readerDone:
			fmt.Println("[WebSocket] Client disconnected")
			return nil

		case msg := <-replies:
			if err := h.sendMessage(ws, msg); err != nil {
				return nil
			}

		case ev, ok := <-events:
			if !ok {
				if ctrl.Closed() {
					h.sendMessage(ws, WSMessage{Type: MsgTypeClosed, ID: sessionID, Timestamp: time.Now().UnixMilli()})
					return nil
				}
				unsubscribe()
				events, unsubscribe = ctrl.Subscribe()
				if err := h.sendMessage(ws, WSMessage{Type: MsgTypeSnapshot, Payload: mustJSON(snapshotOf(ctrl)), Timestamp: time.Now().UnixMilli()}); err != nil {
					return nil
				}
				continue
			}
			if err := h.sendMessage(ws, WSMessage{Type: MsgTypeEvent, Payload: mustJSON(ev), Timestamp: time.Now().UnixMilli()}); err != nil {
				return nil
			}
		}
	}
}

// handleClientMessage runs a client request and returns the reply
func (h *StreamHandlerImpl) handleClientMessage(ctrl *workflow.Controller, msg WSMessage) WSMessage {
	switch msg.Type {
	case MsgTypePing:
		// Respond with pong to keep connection alive
		return WSMessage{Type: MsgTypePong, ID: msg.ID, Timestamp: time.Now().UnixMilli()}

	case MsgTypeTranscribe:
		var payload TranscribePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return errorMessage(msg.ID, "Invalid transcribe payload: "+err.Error(), "INVALID_PAYLOAD")
		}
		entry, err := ctrl.StartSingle(payload.FileID)
		if err != nil {
			apiErr := fromDomainError(err, "file", payload.FileID)
			return errorMessage(msg.ID, apiErr.Message, apiErr.Code)
		}
		return WSMessage{Type: MsgTypeAck, ID: msg.ID, Payload: mustJSON(entry), Timestamp: time.Now().UnixMilli()}

	case MsgTypeRunStart:
		var payload RunStartPayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				return errorMessage(msg.ID, "Invalid run payload: "+err.Error(), "INVALID_PAYLOAD")
			}
		}
		run, err := ctrl.StartRun(payload.FileIDs)
		if err != nil {
			apiErr := fromDomainError(err, "run", "")
			return errorMessage(msg.ID, apiErr.Message, apiErr.Code)
		}
		return WSMessage{Type: MsgTypeAck, ID: msg.ID, Payload: mustJSON(run), Timestamp: time.Now().UnixMilli()}

	case MsgTypeRunCancel:
		var payload RunCancelPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return errorMessage(msg.ID, "Invalid cancel payload: "+err.Error(), "INVALID_PAYLOAD")
		}
		run, err := ctrl.CancelRun(payload.RunID)
		if err != nil {
			apiErr := fromDomainError(err, "run", payload.RunID)
			return errorMessage(msg.ID, apiErr.Message, apiErr.Code)
		}
		return WSMessage{Type: MsgTypeAck, ID: msg.ID, Payload: mustJSON(run), Timestamp: time.Now().UnixMilli()}
	}

	return errorMessage(msg.ID, "Unknown message type: "+msg.Type, "INVALID_TYPE")
}

// Helper methods

func (h *StreamHandlerImpl) sendMessage(ws *websocket.Conn, msg WSMessage) error {
	if err := ws.WriteJSON(msg); err != nil {
		fmt.Printf("[WebSocket] Failed to send message: %v\n", err)
		return err
	}
	return nil
}

func errorMessage(id, message, code string) WSMessage {
	return WSMessage{
		Type:      MsgTypeError,
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
		Payload: mustJSON(WSErrorResponse{
			Type:    MsgTypeError,
			Message: message,
			Code:    code,
		}),
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
