// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version  string
	endpoint string
	sessions SessionManager
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version, endpoint string, sessions SessionManager) HealthHandler {
	return &HealthHandlerImpl{
		version:  version,
		endpoint: endpoint,
		sessions: sessions,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":   "ok",
		"version":  h.version,
		"endpoint": h.endpoint,
	}
	if h.sessions != nil {
		resp["sessions"] = h.sessions.Len()
	}
	return c.JSON(http.StatusOK, resp)
}
