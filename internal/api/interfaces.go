// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/omnilingual-asr/transcriber/internal/models"
	"github.com/omnilingual-asr/transcriber/internal/workflow"
)

// SessionHandler handles browsing-session lifecycle
type SessionHandler interface {
	HandleCreateSession(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleDeleteSession(c echo.Context) error
	HandleSessionKeepAlive(c echo.Context) error
	HandleUpdateSettings(c echo.Context) error
}

// FileHandler handles the working set and per-file operations
type FileHandler interface {
	HandleUploadFiles(c echo.Context) error
	HandleListFiles(c echo.Context) error
	HandleListFilesMsgpack(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
	HandleGetAudio(c echo.Context) error
	HandleGetTranscript(c echo.Context) error
	HandleTranscribeFile(c echo.Context) error
	HandleFlagFile(c echo.Context) error
	HandleUnflagFile(c echo.Context) error
	HandleSetReference(c echo.Context) error
}

// RunHandler handles batch runs and the status summary
type RunHandler interface {
	HandleStartRun(c echo.Context) error
	HandleListRuns(c echo.Context) error
	HandleGetRun(c echo.Context) error
	HandleCancelRun(c echo.Context) error
	HandleResumeRun(c echo.Context) error
	HandleSummary(c echo.Context) error
}

// StreamHandler pushes status changes to the browser
type StreamHandler interface {
	HandleEventStream(c echo.Context) error
	HandleWebSocket(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	Create() (models.SessionInfo, error)
	Get(id string) (*workflow.Controller, bool)
	Info(id string) (models.SessionInfo, bool)
	List() []models.SessionInfo
	TouchSession(id string) bool
	Delete(id string) error
	Len() int
}

// sessionScoped resolves the :sessionId path parameter for handlers.
type sessionScoped struct {
	sessions SessionManager
}

// controller returns the session's controller and marks the session as used.
func (s sessionScoped) controller(c echo.Context) (*workflow.Controller, error) {
	id := c.Param("sessionId")
	if id == "" {
		return nil, NewValidationError("sessionId")
	}
	ctrl, ok := s.sessions.Get(id)
	if !ok {
		return nil, NewNotFoundError("session", id)
	}
	s.sessions.TouchSession(id)
	return ctrl, nil
}
