// handlers_files.go - Working-set and per-file handlers
package api

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/omnilingual-asr/transcriber/internal/intake"
	"github.com/omnilingual-asr/transcriber/internal/models"
	"github.com/omnilingual-asr/transcriber/internal/storage"
	"github.com/omnilingual-asr/transcriber/internal/workflow"
	"github.com/vmihailenco/msgpack/v5"
)

// FileHandlerImpl implements the FileHandler interface
type FileHandlerImpl struct {
	sessionScoped
	store storage.Store
}

// NewFileHandler creates a new file handler instance
func NewFileHandler(store storage.Store, sessions SessionManager) FileHandler {
	return &FileHandlerImpl{
		sessionScoped: sessionScoped{sessions: sessions},
		store:         store,
	}
}

// HandleUploadFiles accepts a multipart selection ("files" parts, optional
// "lastModified" values in the same order) and merges it into the working set
func (h *FileHandlerImpl) HandleUploadFiles(c echo.Context) error {
	ctrl, err := h.controller(c)
	if err != nil {
		return err
	}

	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("invalid multipart body", err)
	}
	parts := form.File["files"]
	if len(parts) == 0 {
		return NewValidationError("files")
	}
	lastModified := form.Value["lastModified"]

	raws := make([]intake.RawFile, 0, len(parts))
	for i, fh := range parts {
		var mtime int64
		if i < len(lastModified) {
			mtime, err = strconv.ParseInt(lastModified[i], 10, 64)
			if err != nil {
				h.release(raws)
				return NewBadRequestError(fmt.Sprintf("invalid lastModified for %s", fh.Filename), err)
			}
		}

		info, err := h.savePart(fh)
		if err != nil {
			h.release(raws)
			return NewInternalError("failed to save file", err)
		}

		raws = append(raws, intake.RawFile{
			Name:         fh.Filename,
			Size:         fh.Size,
			LastModified: mtime,
			MediaType:    fh.Header.Get(echo.HeaderContentType),
			BlobID:       info.ID,
		})
	}

	added, err := ctrl.Add(raws)
	if err != nil {
		return fromDomainError(err, "session", c.Param("sessionId"))
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"added":   added,
		"dropped": len(raws) - len(added),
	})
}

func (h *FileHandlerImpl) savePart(fh *multipart.FileHeader) (*models.BlobInfo, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return h.store.Save(fh.Filename, src)
}

func (h *FileHandlerImpl) release(raws []intake.RawFile) {
	for _, r := range raws {
		h.store.Delete(r.BlobID)
	}
}

// HandleListFiles returns the working set with statuses, in selection order
func (h *FileHandlerImpl) HandleListFiles(c echo.Context) error {
	ctrl, err := h.controller(c)
	if err != nil {
		return err
	}

	entries := ctrl.Snapshot()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"files":   entries,
		"summary": workflow.Project(entries),
	})
}

// HandleListFilesMsgpack returns the same payload as HandleListFiles in
// MessagePack for large working sets
func (h *FileHandlerImpl) HandleListFilesMsgpack(c echo.Context) error {
	ctrl, err := h.controller(c)
	if err != nil {
		return err
	}

	entries := ctrl.Snapshot()

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(map[string]interface{}{
		"files":   entries,
		"summary": workflow.Project(entries),
	}); err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}

	return c.Blob(http.StatusOK, "application/msgpack", buf.Bytes())
}

// HandleGetFile returns a single entry
func (h *FileHandlerImpl) HandleGetFile(c echo.Context) error {
	ctrl, err := h.controller(c)
	if err != nil {
		return err
	}

	id := c.Param("fileId")
	entry, ok := ctrl.Entry(id)
	if !ok {
		return NewNotFoundError("file", id)
	}
	return c.JSON(http.StatusOK, entry)
}

// HandleDeleteFile removes a file from the working set and releases its audio
func (h *FileHandlerImpl) HandleDeleteFile(c echo.Context) error {
	ctrl, err := h.controller(c)
	if err != nil {
		return err
	}

	id := c.Param("fileId")
	if err := ctrl.Remove(id); err != nil {
		return fromDomainError(err, "file", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleGetAudio serves the uploaded bytes for playback, honouring Range requests
func (h *FileHandlerImpl) HandleGetAudio(c echo.Context) error {
	ctrl, err := h.controller(c)
	if err != nil {
		return err
	}

	id := c.Param("fileId")
	rc, file, err := ctrl.OpenAudio(id)
	if err != nil {
		return fromDomainError(err, "file", id)
	}
	defer rc.Close()

	if file.MediaType != "" {
		c.Response().Header().Set(echo.HeaderContentType, file.MediaType)
	}
	http.ServeContent(c.Response(), c.Request(), file.Key.Name, file.AddedAt, rc)
	return nil
}

// HandleGetTranscript returns the transcript as plain text. With
// ?download=1 it is sent as an attachment.
func (h *FileHandlerImpl) HandleGetTranscript(c echo.Context) error {
	ctrl, err := h.controller(c)
	if err != nil {
		return err
	}

	id := c.Param("fileId")
	entry, ok := ctrl.Entry(id)
	if !ok {
		return NewNotFoundError("file", id)
	}
	if entry.Status.State != models.StateCompleted && entry.Status.State != models.StateFlagged {
		return NewConflictError(fmt.Sprintf("no transcript: file is %s", entry.Status.State))
	}

	if c.QueryParam("download") != "" {
		name := strings.TrimSuffix(entry.Name, extOf(entry.Name)) + ".txt"
		c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename=%q`, name))
	}
	return c.String(http.StatusOK, entry.Status.Transcript)
}

// HandleTranscribeFile processes one file. By default the request returns
// 202 at once; with ?wait=true it returns the final entry.
func (h *FileHandlerImpl) HandleTranscribeFile(c echo.Context) error {
	ctrl, err := h.controller(c)
	if err != nil {
		return err
	}

	id := c.Param("fileId")
	if c.QueryParam("wait") == "true" {
		entry, err := ctrl.ProcessSingle(c.Request().Context(), id)
		if err != nil {
			return fromDomainError(err, "file", id)
		}
		return c.JSON(http.StatusOK, entry)
	}

	entry, err := ctrl.StartSingle(id)
	if err != nil {
		return fromDomainError(err, "file", id)
	}
	return c.JSON(http.StatusAccepted, entry)
}

// HandleFlagFile marks a completed file for review
func (h *FileHandlerImpl) HandleFlagFile(c echo.Context) error {
	ctrl, err := h.controller(c)
	if err != nil {
		return err
	}

	var req flagRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	id := c.Param("fileId")
	entry, err := ctrl.Flag(id, req.Reason)
	if err != nil {
		return fromDomainError(err, "file", id)
	}
	return c.JSON(http.StatusOK, entry)
}

// HandleUnflagFile clears a flag
func (h *FileHandlerImpl) HandleUnflagFile(c echo.Context) error {
	ctrl, err := h.controller(c)
	if err != nil {
		return err
	}

	id := c.Param("fileId")
	entry, err := ctrl.Unflag(id)
	if err != nil {
		return fromDomainError(err, "file", id)
	}
	return c.JSON(http.StatusOK, entry)
}

// HandleSetReference stores a reference transcript for scoring
func (h *FileHandlerImpl) HandleSetReference(c echo.Context) error {
	ctrl, err := h.controller(c)
	if err != nil {
		return err
	}

	var req referenceRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	id := c.Param("fileId")
	entry, err := ctrl.SetReference(id, req.Text)
	if err != nil {
		return fromDomainError(err, "file", id)
	}
	return c.JSON(http.StatusOK, entry)
}

// Request/Response types

type flagRequest struct {
	Reason string `json:"reason"`
}

type referenceRequest struct {
	Text string `json:"text"`
}

// Helper functions

func extOf(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[i:]
	}
	return ""
}
