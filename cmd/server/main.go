package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/omnilingual-asr/transcriber/internal/api"
	"github.com/omnilingual-asr/transcriber/internal/config"
	"github.com/omnilingual-asr/transcriber/internal/intake"
	"github.com/omnilingual-asr/transcriber/internal/session"
	"github.com/omnilingual-asr/transcriber/internal/storage"
	"github.com/omnilingual-asr/transcriber/internal/transcribe"
	"github.com/omnilingual-asr/transcriber/internal/web"
	"github.com/omnilingual-asr/transcriber/internal/workflow"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := config.DefaultPath()
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	// Check if running in embedded mode (frontend built into binary)
	embeddedMode := web.HasEmbeddedFiles()

	fileStore, err := storage.NewLocalStore(cfg.GetUploadDir())
	if err != nil {
		fmt.Printf("Failed to initialize storage: %v\n", err)
		os.Exit(1)
	}

	mode, err := workflow.ParseMode(cfg.Transcription.Mode)
	if err != nil {
		fmt.Printf("Invalid transcription mode: %v\n", err)
		os.Exit(1)
	}

	client := transcribe.NewClient(cfg.Transcription.Endpoint,
		transcribe.WithFieldName(cfg.Transcription.FieldName),
		transcribe.WithToken(cfg.Transcription.Token),
		transcribe.WithTimeout(time.Duration(cfg.Transcription.TimeoutSeconds)*time.Second),
	)

	allow := intake.DefaultAllowList()
	if len(cfg.Transcription.AllowedExtensions) > 0 {
		allow.Extensions = cfg.Transcription.AllowedExtensions
	}

	sessionMgr := session.NewManagerWithLimits(func() *workflow.Controller {
		return workflow.NewController(client, fileStore, workflow.Options{
			Mode:        mode,
			AutoProcess: cfg.Transcription.AutoProcess,
			Allow:       allow,
		})
	}, cfg.Sessions.MaxSessions, time.Duration(cfg.Sessions.KeepAliveMinutes)*time.Minute)

	// Start background session cleanup
	stopCleanup := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.Sessions.CleanupIntervalMinutes) * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sessionMgr.CleanupOldSessions(time.Duration(cfg.Sessions.MaxAgeMinutes) * time.Minute)
				sessionMgr.CleanupOldRuns(time.Duration(cfg.Sessions.RunHistoryMinutes) * time.Minute)
			case <-stopCleanup:
				return
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/health" ||
				strings.HasSuffix(path, "/stream") ||
				strings.HasSuffix(path, "/keepalive")
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize:         1024 * 4,
		DisablePrintStack: false,
		LogLevel:          0,
	}))

	// Uploads, feeds and playback are long-lived; waiting transcriptions are
	// bounded by the transcription timeout instead
	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/stream") ||
				strings.HasSuffix(path, "/ws") ||
				strings.HasSuffix(path, "/files") ||
				strings.HasSuffix(path, "/audio") ||
				strings.HasSuffix(path, "/transcribe") ||
				c.Request().Header.Get("Accept") == "text/event-stream"
		},
		ErrorMessage: "Request timeout",
	}))

	if cfg.Advanced.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: cfg.Advanced.CompressionLevel,
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return strings.HasSuffix(path, "/stream") ||
					strings.HasSuffix(path, "/ws") ||
					strings.HasSuffix(path, "/audio") ||
					c.Request().Header.Get("Accept") == "text/event-stream"
			},
		}))
	}

	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Range"},
		}))
	}

	api.SetupMiddleware(e)
	handlers := api.NewHandlers(&api.Dependencies{
		Store:        fileStore,
		SessionMgr:   sessionMgr,
		Endpoint:     client.Endpoint(),
		Version:      Version,
		MaxWSMessage: cfg.Advanced.WebSocketMaxMessageSize,
	})
	api.RegisterRoutes(e, handlers)
	api.RegisterWebSocketRoutes(e, handlers)

	// Register embedded frontend if available
	if embeddedMode {
		if err := web.RegisterStaticRoutes(e); err != nil {
			fmt.Printf("Warning: failed to register static routes: %v\n", err)
		} else {
			fmt.Println("Serving embedded frontend from binary")
		}
	}

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Omnilingual Transcriber Server                  ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Mode:       %-45s║\n", string(mode))
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.GetDataDir())
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("  Endpoint:  %s\n\n", client.Endpoint())

	if embeddedMode {
		fmt.Printf("Open http://localhost:%d in your browser\n\n", cfg.Server.Port)
	}

	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	fmt.Println("Shutting down...")
	close(stopCleanup)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		fmt.Printf("Shutdown error: %v\n", err)
	}

	// Drops pending responses and deletes every uploaded blob
	sessionMgr.Close()
}
