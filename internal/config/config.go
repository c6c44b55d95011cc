// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads the APERIO_* environment configuration surface.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Server holds HTTP listener settings.
type Server struct {
	Host           string
	Port           int
	ClientTimeout  time.Duration
	KeepAlive      time.Duration
	MaxPayloadSize int64
	CORSOrigins    []string
}

// Download holds external fetcher settings.
type Download struct {
	Command        string
	Timeout        time.Duration
	MaxFileSizeMB  int64
	MaxConcurrent  int
	AllowedDomains []string
}

// Processing holds external encoder settings.
type Processing struct {
	Command       string
	Timeout       time.Duration
	VideoCodec    string
	AudioCodec    string
	Preset        string
	CRF           int
	AudioBitrate  string
	MaxConcurrent int
}

// Queue bounds admission and overall concurrency.
type Queue struct {
	MaxConcurrentJobs int
	MaxQueueSize      int
}

// Storage holds filesystem and database locations.
type Storage struct {
	StoragePath      string
	WorkingDir       string
	DatabaseURL      string
	DBMaxConnections int
}

// Security holds admission validation limits.
type Security struct {
	MaxURLLength int
}

// Retention controls the terminal-job sweeper.
type Retention struct {
	Enabled         bool
	RetentionDays   int
	CleanupInterval time.Duration
}

// Logging selects level and output format.
type Logging struct {
	Level  string
	Format string
}

// Config is the full runtime configuration.
type Config struct {
	Server     Server
	Download   Download
	Processing Processing
	Queue      Queue
	Storage    Storage
	Security   Security
	Retention  Retention
	Logging    Logging
}

// Load reads the configuration from the process environment, applying the
// documented defaults for every unset variable.
func Load() Config {
	return Config{
		Server: Server{
			Host:           ParseString("APERIO_HOST", "0.0.0.0"),
			Port:           ParseInt("APERIO_PORT", 8080),
			ClientTimeout:  ParseSeconds("APERIO_CLIENT_TIMEOUT", 1800*time.Second),
			KeepAlive:      ParseSeconds("APERIO_KEEP_ALIVE", 1800*time.Second),
			MaxPayloadSize: ParseInt64("APERIO_MAX_PAYLOAD", 100*1024*1024),
			CORSOrigins:    ParseList("APERIO_CORS_ORIGINS", nil),
		},
		Download: Download{
			Command:        ParseString("APERIO_DOWNLOAD_COMMAND", "yt-dlp"),
			Timeout:        ParseSeconds("APERIO_DOWNLOAD_TIMEOUT", 900*time.Second),
			MaxFileSizeMB:  ParseInt64("APERIO_MAX_FILE_SIZE_MB", 500),
			MaxConcurrent:  ParseInt("APERIO_MAX_CONCURRENT_DOWNLOADS", 2),
			AllowedDomains: ParseList("APERIO_ALLOWED_DOMAINS", []string{"youtube.com", "youtu.be", "instagram.com"}),
		},
		Processing: Processing{
			Command:       ParseString("APERIO_FFMPEG_COMMAND", "ffmpeg"),
			Timeout:       ParseSeconds("APERIO_PROCESSING_TIMEOUT", 900*time.Second),
			VideoCodec:    ParseString("APERIO_VIDEO_CODEC", "libx264"),
			AudioCodec:    ParseString("APERIO_AUDIO_CODEC", "aac"),
			Preset:        ParseString("APERIO_PRESET", "medium"),
			CRF:           ParseInt("APERIO_CRF", 23),
			AudioBitrate:  ParseString("APERIO_AUDIO_BITRATE", "128k"),
			MaxConcurrent: ParseInt("APERIO_MAX_CONCURRENT_PROCESSING", 1),
		},
		Queue: Queue{
			MaxConcurrentJobs: ParseInt("APERIO_MAX_CONCURRENT_JOBS", 2),
			MaxQueueSize:      ParseInt("APERIO_MAX_QUEUE_SIZE", 1000),
		},
		Storage: Storage{
			StoragePath:      ParseString("APERIO_STORAGE_PATH", "/app/storage"),
			WorkingDir:       ParseString("APERIO_WORKING_DIR", "/app/working"),
			DatabaseURL:      ParseString("APERIO_DATABASE_URL", "sqlite:///app/data/aperio.db"),
			DBMaxConnections: ParseInt("APERIO_DB_MAX_CONNECTIONS", 0),
		},
		Security: Security{
			MaxURLLength: ParseInt("APERIO_MAX_URL_LENGTH", 2048),
		},
		Retention: Retention{
			Enabled:         ParseBool("APERIO_RETENTION_ENABLED", true),
			RetentionDays:   ParseInt("APERIO_RETENTION_DAYS", 30),
			CleanupInterval: time.Duration(ParseInt64("APERIO_CLEANUP_INTERVAL_HOURS", 24)) * time.Hour,
		},
		Logging: Logging{
			Level:  ParseString("APERIO_LOG_LEVEL", "info"),
			Format: ParseString("APERIO_LOG_FORMAT", "json"),
		},
	}
}

// DatabasePath strips the sqlite:// scheme prefix from DatabaseURL.
func (c Config) DatabasePath() string {
	return strings.TrimPrefix(c.Storage.DatabaseURL, "sqlite://")
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Download.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent downloads must be >= 1, got %d", c.Download.MaxConcurrent)
	}
	if c.Processing.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent processing must be >= 1, got %d", c.Processing.MaxConcurrent)
	}
	if c.Queue.MaxConcurrentJobs < 1 {
		return fmt.Errorf("max concurrent jobs must be >= 1, got %d", c.Queue.MaxConcurrentJobs)
	}
	if c.Queue.MaxQueueSize < 1 {
		return fmt.Errorf("max queue size must be >= 1, got %d", c.Queue.MaxQueueSize)
	}
	if len(c.Download.AllowedDomains) == 0 {
		return fmt.Errorf("allowed domains list is empty")
	}
	if c.Security.MaxURLLength < 1 {
		return fmt.Errorf("max URL length must be >= 1, got %d", c.Security.MaxURLLength)
	}
	if c.Storage.StoragePath == c.Storage.WorkingDir {
		return fmt.Errorf("storage path and working dir must differ")
	}
	if c.Retention.Enabled && c.Retention.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup interval must be positive when retention is enabled")
	}
	return nil
}
