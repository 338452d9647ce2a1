// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/omnilingual-asr/transcriber/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store        storage.Store
	SessionMgr   SessionManager
	Endpoint     string
	Version      string
	MaxWSMessage int // KB
}

// Handlers holds all handler instances
type Handlers struct {
	Health  HealthHandler
	Session SessionHandler
	File    FileHandler
	Run     RunHandler
	Stream  StreamHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:  NewHealthHandler(deps.Version, deps.Endpoint, deps.SessionMgr),
		Session: NewSessionHandler(deps.SessionMgr),
		File:    NewFileHandler(deps.Store, deps.SessionMgr),
		Run:     NewRunHandler(deps.SessionMgr),
		Stream:  NewStreamHandler(deps.SessionMgr, deps.MaxWSMessage),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	api := e.Group("/api")

	// Health check
	api.GET("/health", handlers.Health.HandleHealth)

	// Session routes
	api.POST("/sessions", handlers.Session.HandleCreateSession)
	sessionGroup := api.Group("/sessions/:sessionId")
	sessionGroup.GET("", handlers.Session.HandleGetSession)
	sessionGroup.DELETE("", handlers.Session.HandleDeleteSession)
	sessionGroup.POST("/keepalive", handlers.Session.HandleSessionKeepAlive)
	sessionGroup.PUT("/settings", handlers.Session.HandleUpdateSettings)

	// Working set routes
	sessionGroup.POST("/files", handlers.File.HandleUploadFiles)
	sessionGroup.GET("/files", handlers.File.HandleListFiles)
	sessionGroup.GET("/files/msgpack", handlers.File.HandleListFilesMsgpack)
	sessionGroup.GET("/files/:fileId", handlers.File.HandleGetFile)
	sessionGroup.DELETE("/files/:fileId", handlers.File.HandleDeleteFile)
	sessionGroup.GET("/files/:fileId/audio", handlers.File.HandleGetAudio)
	sessionGroup.GET("/files/:fileId/transcript", handlers.File.HandleGetTranscript)
	sessionGroup.POST("/files/:fileId/transcribe", handlers.File.HandleTranscribeFile)
	sessionGroup.POST("/files/:fileId/flag", handlers.File.HandleFlagFile)
	sessionGroup.DELETE("/files/:fileId/flag", handlers.File.HandleUnflagFile)
	sessionGroup.PUT("/files/:fileId/reference", handlers.File.HandleSetReference)

	// Run routes
	sessionGroup.POST("/runs", handlers.Run.HandleStartRun)
	sessionGroup.GET("/runs", handlers.Run.HandleListRuns)
	sessionGroup.GET("/runs/:runId", handlers.Run.HandleGetRun)
	sessionGroup.POST("/runs/:runId/cancel", handlers.Run.HandleCancelRun)
	sessionGroup.POST("/runs/:runId/resume", handlers.Run.HandleResumeRun)
	sessionGroup.GET("/summary", handlers.Run.HandleSummary)

	// Live status feed
	sessionGroup.GET("/stream", handlers.Stream.HandleEventStream)
}

// RegisterWebSocketRoutes registers WebSocket routes
func RegisterWebSocketRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/sessions/:sessionId/ws", handlers.Stream.HandleWebSocket)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler
}
