// handlers_runs.go - Batch run handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RunHandlerImpl implements the RunHandler interface
type RunHandlerImpl struct {
	sessionScoped
}

// NewRunHandler creates a new run handler
func NewRunHandler(sessions SessionManager) RunHandler {
	return &RunHandlerImpl{sessionScoped{sessions: sessions}}
}

// HandleStartRun queues files for processing. Without fileIds the whole
// working set is queued.
func (h *RunHandlerImpl) HandleStartRun(c echo.Context) error {
	ctrl, err := h.controller(c)
	if err != nil {
		return err
	}

	var req startRunRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	run, err := ctrl.StartRun(req.FileIDs)
	if err != nil {
		return fromDomainError(err, "run", "")
	}
	return c.JSON(http.StatusAccepted, run)
}

// HandleListRuns returns every run of the session
func (h *RunHandlerImpl) HandleListRuns(c echo.Context) error {
	ctrl, err := h.controller(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ctrl.Runs())
}

// HandleGetRun returns one run
func (h *RunHandlerImpl) HandleGetRun(c echo.Context) error {
	ctrl, err := h.controller(c)
	if err != nil {
		return err
	}

	id := c.Param("runId")
	run, ok := ctrl.Run(id)
	if !ok {
		return NewNotFoundError("run", id)
	}
	return c.JSON(http.StatusOK, run)
}

// HandleCancelRun stops a run before its next file
func (h *RunHandlerImpl) HandleCancelRun(c echo.Context) error {
	ctrl, err := h.controller(c)
	if err != nil {
		return err
	}

	id := c.Param("runId")
	run, err := ctrl.CancelRun(id)
	if err != nil {
		return fromDomainError(err, "run", id)
	}
	return c.JSON(http.StatusAccepted, run)
}

// HandleResumeRun continues a cancelled run
func (h *RunHandlerImpl) HandleResumeRun(c echo.Context) error {
	ctrl, err := h.controller(c)
	if err != nil {
		return err
	}

	id := c.Param("runId")
	run, err := ctrl.ResumeRun(id)
	if err != nil {
		return fromDomainError(err, "run", id)
	}
	return c.JSON(http.StatusAccepted, run)
}

// HandleSummary returns the bucket projection of the working set
func (h *RunHandlerImpl) HandleSummary(c echo.Context) error {
	ctrl, err := h.controller(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ctrl.Summary())
}

type startRunRequest struct {
	FileIDs []string `json:"fileIds"`
}
