/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration for the engine service
type Config struct {
	Server  ServerConfig
	Remote  RemoteConfig
	Local   LocalConfig
	Audio   AudioConfig
	Storage StorageConfig
	Logging LoggingConfig
	NATS    NATSConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RemoteConfig holds defaults for the remote GPU transcription service
type RemoteConfig struct {
	URL          string
	APIKey       string
	DefaultModel string
	HealthTimeout     time.Duration // short probe timeout
	TranscribeTimeout time.Duration // long-running transcriptions are legitimate
	SwitchTimeout     time.Duration // server-side GPU model swap is slow
}

// LocalConfig holds the local sidecar engine configuration
type LocalConfig struct {
	BinaryName string        // sidecar CLI binary, e.g. "sherpa-onnx-offline"
	InstallDir string        // user-writable install location
	BundleDir  string        // packaged resource location
	ModelDir   string        // base directory of model subdirectories
	Provider   string        // "cpu" or "cuda"
	NumThreads int
	Timeout    time.Duration // per-request subprocess bound
}

// AudioConfig holds conversion tool configuration
type AudioConfig struct {
	FFmpegPath     string
	ConvertTimeout time.Duration
	ScratchDir     string // temp audio directory; empty means os.TempDir
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DBPath      string
	SettingsDir string // per-adapter JSON settings documents
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// NATSConfig holds NATS messaging configuration
type NATSConfig struct {
	Enabled       bool
	URL           string
	MaxReconnect  int
	ReconnectWait time.Duration
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	dataDir := getEnvString("MURMUR_DATA_DIR", defaultDataDir())

	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("MURMUR_HOST", "127.0.0.1"),
			Port:         getEnvInt("MURMUR_PORT", 8090),
			ReadTimeout:  getEnvDuration("MURMUR_READ_TIMEOUT", 60*time.Second),
			WriteTimeout: getEnvDuration("MURMUR_WRITE_TIMEOUT", 120*time.Second),
		},
		Remote: RemoteConfig{
			URL:               getEnvString("MURMUR_REMOTE_URL", "http://localhost:8000"),
			APIKey:            getEnvString("MURMUR_REMOTE_API_KEY", ""),
			DefaultModel:      getEnvString("MURMUR_REMOTE_DEFAULT_MODEL", "parakeet-tdt-0.6b-v2-int8"),
			HealthTimeout:     getEnvDuration("MURMUR_REMOTE_HEALTH_TIMEOUT", 3*time.Second),
			TranscribeTimeout: getEnvDuration("MURMUR_REMOTE_TRANSCRIBE_TIMEOUT", 120*time.Second),
			SwitchTimeout:     getEnvDuration("MURMUR_REMOTE_SWITCH_TIMEOUT", 60*time.Second),
		},
		Local: LocalConfig{
			BinaryName: getEnvString("MURMUR_LOCAL_BINARY", "sherpa-onnx-offline"),
			InstallDir: getEnvString("MURMUR_LOCAL_INSTALL_DIR", filepath.Join(dataDir, "bin")),
			BundleDir:  getEnvString("MURMUR_LOCAL_BUNDLE_DIR", ""),
			ModelDir:   getEnvString("MURMUR_LOCAL_MODEL_DIR", filepath.Join(dataDir, "models")),
			Provider:   getEnvString("MURMUR_LOCAL_PROVIDER", "cpu"),
			NumThreads: getEnvInt("MURMUR_LOCAL_THREADS", 4),
			Timeout:    getEnvDuration("MURMUR_LOCAL_TIMEOUT", 120*time.Second),
		},
		Audio: AudioConfig{
			FFmpegPath:     getEnvString("MURMUR_FFMPEG_PATH", "ffmpeg"),
			ConvertTimeout: getEnvDuration("MURMUR_CONVERT_TIMEOUT", 30*time.Second),
			ScratchDir:     getEnvString("MURMUR_SCRATCH_DIR", ""),
		},
		Storage: StorageConfig{
			DBPath:      getEnvString("MURMUR_DB_PATH", filepath.Join(dataDir, "murmur-engine.db")),
			SettingsDir: getEnvString("MURMUR_SETTINGS_DIR", dataDir),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "console"),
		},
		NATS: NATSConfig{
			Enabled:       getEnvBool("MURMUR_NATS_ENABLED", false),
			URL:           getEnvString("NATS_URL", "nats://localhost:4222"),
			MaxReconnect:  getEnvInt("NATS_MAX_RECONNECT", 10),
			ReconnectWait: getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		},
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Remote.URL == "" {
		return fmt.Errorf("remote engine URL must be provided")
	}

	if c.Local.BinaryName == "" {
		return fmt.Errorf("local engine binary name must be provided")
	}

	if c.Local.NumThreads <= 0 {
		return fmt.Errorf("local engine thread count must be positive: %d", c.Local.NumThreads)
	}

	if c.Remote.HealthTimeout <= 0 {
		return fmt.Errorf("remote health timeout must be positive: %s", c.Remote.HealthTimeout)
	}

	return nil
}

// defaultDataDir returns the user-writable data directory for settings,
// models, and the database.
func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".murmur-engine")
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
