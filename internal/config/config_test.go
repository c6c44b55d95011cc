// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1800*time.Second, cfg.Server.ClientTimeout)
	assert.Equal(t, int64(100*1024*1024), cfg.Server.MaxPayloadSize)

	assert.Equal(t, "yt-dlp", cfg.Download.Command)
	assert.Equal(t, 900*time.Second, cfg.Download.Timeout)
	assert.Equal(t, int64(500), cfg.Download.MaxFileSizeMB)
	assert.Equal(t, 2, cfg.Download.MaxConcurrent)
	assert.Equal(t, []string{"youtube.com", "youtu.be", "instagram.com"}, cfg.Download.AllowedDomains)

	assert.Equal(t, "ffmpeg", cfg.Processing.Command)
	assert.Equal(t, "libx264", cfg.Processing.VideoCodec)
	assert.Equal(t, "aac", cfg.Processing.AudioCodec)
	assert.Equal(t, 23, cfg.Processing.CRF)
	assert.Equal(t, 1, cfg.Processing.MaxConcurrent)

	assert.Equal(t, 2, cfg.Queue.MaxConcurrentJobs)
	assert.Equal(t, 1000, cfg.Queue.MaxQueueSize)
	assert.Equal(t, 2048, cfg.Security.MaxURLLength)

	assert.True(t, cfg.Retention.Enabled)
	assert.Equal(t, 30, cfg.Retention.RetentionDays)
	assert.Equal(t, 24*time.Hour, cfg.Retention.CleanupInterval)

	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APERIO_PORT", "9090")
	t.Setenv("APERIO_DOWNLOAD_TIMEOUT", "120")
	t.Setenv("APERIO_ALLOWED_DOMAINS", "example.com, vimeo.com")
	t.Setenv("APERIO_RETENTION_ENABLED", "false")
	t.Setenv("APERIO_MAX_FILE_SIZE_MB", "50")

	cfg := Load()
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 120*time.Second, cfg.Download.Timeout)
	assert.Equal(t, []string{"example.com", "vimeo.com"}, cfg.Download.AllowedDomains)
	assert.False(t, cfg.Retention.Enabled)
	assert.Equal(t, int64(50), cfg.Download.MaxFileSizeMB)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("APERIO_PORT", "not-a-number")
	t.Setenv("APERIO_CRF", "")

	cfg := Load()
	assert.Equal(t, 8080, cfg.Server.Port, "malformed value falls back to default")
	assert.Equal(t, 23, cfg.Processing.CRF)
}

func TestDatabasePath(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "/app/data/aperio.db", cfg.DatabasePath())

	cfg.Storage.DatabaseURL = "/plain/path.db"
	assert.Equal(t, "/plain/path.db", cfg.DatabasePath())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"zero downloads", func(c *Config) { c.Download.MaxConcurrent = 0 }},
		{"zero processing", func(c *Config) { c.Processing.MaxConcurrent = 0 }},
		{"zero total jobs", func(c *Config) { c.Queue.MaxConcurrentJobs = 0 }},
		{"zero queue", func(c *Config) { c.Queue.MaxQueueSize = 0 }},
		{"no domains", func(c *Config) { c.Download.AllowedDomains = nil }},
		{"zero url length", func(c *Config) { c.Security.MaxURLLength = 0 }},
		{"storage equals working", func(c *Config) { c.Storage.WorkingDir = c.Storage.StoragePath }},
		{"bad cleanup interval", func(c *Config) { c.Retention.CleanupInterval = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Load()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
