// Package config provides YAML-based configuration management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file looked up next to the executable.
const DefaultFileName = "transcriber.yaml"

// DefaultEndpoint is the hosted transcription endpoint.
const DefaultEndpoint = "https://saqib123dsa-omni.hf.space/api/predict"

// AppConfig represents the root configuration structure
type AppConfig struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Storage configuration
	Storage StorageConfig `yaml:"storage"`

	// Transcription endpoint and processing behaviour
	Transcription TranscriptionConfig `yaml:"transcription"`

	// Session limits
	Sessions SessionConfig `yaml:"sessions"`

	// Advanced options
	Advanced AdvancedConfig `yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port           int    `yaml:"port"`
	BindAddress    string `yaml:"bind_address"`
	EnableCORS     bool   `yaml:"enable_cors"`
	AllowOrigins   string `yaml:"allow_origins"`
	ReadTimeout    int    `yaml:"read_timeout_seconds"`
	WriteTimeout   int    `yaml:"write_timeout_seconds"`
	IdleTimeout    int    `yaml:"idle_timeout_seconds"`
	RequestTimeout int    `yaml:"request_timeout_seconds"`
	BodyLimit      string `yaml:"body_limit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string `yaml:"data_directory"`
	UploadsDirectory string `yaml:"uploads_directory"`
}

// TranscriptionConfig describes the remote endpoint and how files are sent to it
type TranscriptionConfig struct {
	Endpoint          string   `yaml:"endpoint"`
	FieldName         string   `yaml:"field_name"`
	Token             string   `yaml:"token,omitempty"`
	Mode              string   `yaml:"mode"` // sequential or batched
	TimeoutSeconds    int      `yaml:"timeout_seconds"`
	AutoProcess       bool     `yaml:"auto_process"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// SessionConfig contains browsing-session limits
type SessionConfig struct {
	MaxSessions            int `yaml:"max_sessions"`
	MaxAgeMinutes          int `yaml:"max_age_minutes"`
	KeepAliveMinutes       int `yaml:"keep_alive_minutes"`
	CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes"`
	RunHistoryMinutes      int `yaml:"run_history_minutes"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	EnableRequestLogging    bool `yaml:"enable_request_logging"`
	EnableCompression       bool `yaml:"enable_compression"`
	CompressionLevel        int  `yaml:"compression_level"`
	WebSocketMaxMessageSize int  `yaml:"websocket_max_message_size_kb"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:           8089,
			BindAddress:    "0.0.0.0",
			EnableCORS:     true,
			AllowOrigins:   "*",
			ReadTimeout:    30,
			WriteTimeout:   0,
			IdleTimeout:    120,
			RequestTimeout: 30,
			BodyLimit:      "2G",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
		},
		Transcription: TranscriptionConfig{
			Endpoint:          DefaultEndpoint,
			FieldName:         "files",
			Mode:              "sequential",
			TimeoutSeconds:    0,
			AutoProcess:       false,
			AllowedExtensions: []string{".wav", ".mp3", ".m4a", ".ogg", ".flac"},
		},
		Sessions: SessionConfig{
			MaxSessions:            10,
			MaxAgeMinutes:          30,
			KeepAliveMinutes:       5,
			CleanupIntervalMinutes: 5,
			RunHistoryMinutes:      60,
		},
		Advanced: AdvancedConfig{
			EnableRequestLogging:    true,
			EnableCompression:       true,
			CompressionLevel:        5,
			WebSocketMaxMessageSize: 64,
		},
	}
}

// DefaultPath returns the config path: TRANSCRIBER_CONFIG if set, otherwise
// DefaultFileName next to the executable.
func DefaultPath() string {
	if p := os.Getenv("TRANSCRIBER_CONFIG"); p != "" {
		return p
	}
	exe, err := os.Executable()
	if err != nil {
		return DefaultFileName
	}
	return filepath.Join(filepath.Dir(exe), DefaultFileName)
}

// LoadConfig loads configuration from a YAML file, writing the defaults
// there first if it does not exist.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Missing keys keep their defaults.
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to a YAML file
func (c *AppConfig) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Omnilingual transcriber configuration\n# This file is auto-generated on first run\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects settings the server cannot start with
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Transcription.Endpoint) == "" {
		return fmt.Errorf("transcription endpoint is required")
	}
	switch c.Transcription.Mode {
	case "", "sequential", "batched":
	default:
		return fmt.Errorf("unknown transcription mode %q", c.Transcription.Mode)
	}
	if c.Transcription.TimeoutSeconds < 0 {
		return fmt.Errorf("transcription timeout must not be negative")
	}
	if c.Sessions.CleanupIntervalMinutes <= 0 {
		return fmt.Errorf("session cleanup interval must be positive")
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// DATA_DIR override moves uploads along with it
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.UploadsDirectory = filepath.Join(dataDir, "uploads")
	}

	if endpoint := os.Getenv("TRANSCRIBE_ENDPOINT"); endpoint != "" {
		c.Transcription.Endpoint = endpoint
	}
	if token := os.Getenv("TRANSCRIBE_TOKEN"); token != "" {
		c.Transcription.Token = token
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
	if c.Storage.UploadsDirectory == "" {
		c.Storage.UploadsDirectory = filepath.Join(c.Storage.DataDirectory, "uploads")
	} else if !filepath.IsAbs(c.Storage.UploadsDirectory) {
		c.Storage.UploadsDirectory = filepath.Join(configDir, c.Storage.UploadsDirectory)
	}
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetUploadDir returns the absolute uploads directory path
func (c *AppConfig) GetUploadDir() string {
	return c.Storage.UploadsDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
