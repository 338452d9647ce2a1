// handlers_session.go - Browsing-session handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// SessionHandlerImpl implements the SessionHandler interface
type SessionHandlerImpl struct {
	sessionScoped
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions SessionManager) SessionHandler {
	return &SessionHandlerImpl{sessionScoped{sessions: sessions}}
}

// HandleCreateSession starts a session with an empty working set.
// An optional {"autoProcess": bool} body overrides the configured default.
func (h *SessionHandlerImpl) HandleCreateSession(c echo.Context) error {
	var req settingsRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	info, err := h.sessions.Create()
	if err != nil {
		return fromDomainError(err, "session", "")
	}

	if req.AutoProcess != nil {
		ctrl, ok := h.sessions.Get(info.ID)
		if ok {
			ctrl.SetAutoProcess(*req.AutoProcess)
			info.AutoProcess = *req.AutoProcess
		}
	}

	return c.JSON(http.StatusCreated, info)
}

// HandleGetSession returns session metadata and counts
func (h *SessionHandlerImpl) HandleGetSession(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	info, ok := h.sessions.Info(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleDeleteSession destroys the session and everything it holds
func (h *SessionHandlerImpl) HandleDeleteSession(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	if err := h.sessions.Delete(id); err != nil {
		return fromDomainError(err, "session", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleSessionKeepAlive keeps a session from being cleaned up
func (h *SessionHandlerImpl) HandleSessionKeepAlive(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	if !h.sessions.TouchSession(id) {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleUpdateSettings toggles per-session behaviour such as auto-processing
func (h *SessionHandlerImpl) HandleUpdateSettings(c echo.Context) error {
	ctrl, err := h.controller(c)
	if err != nil {
		return err
	}

	var req settingsRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.AutoProcess == nil {
		return NewValidationError("autoProcess")
	}
	ctrl.SetAutoProcess(*req.AutoProcess)

	info, _ := h.sessions.Info(c.Param("sessionId"))
	return c.JSON(http.StatusOK, info)
}

type settingsRequest struct {
	AutoProcess *bool `json:"autoProcess"`
}
