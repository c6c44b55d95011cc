// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package worker

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/aperio/internal/config"
	"github.com/ManuGH/aperio/internal/jobs"
)

// exitStatusErr produces a real *exec.ExitError.
func exitStatusErr(t *testing.T) error {
	t.Helper()
	err := exec.Command("false").Run()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	return err
}

func TestTransientOutput(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want bool
	}{
		{"connection reset", "ERROR: Connection reset by peer", true},
		{"timeout", "ERROR: unable to download: timed out", true},
		{"http 503", "HTTP Error 503: Service Unavailable", true},
		{"rate limited", "HTTP Error 429: Too Many Requests", true},
		{"unavailable keyword", "ERROR: Video unavailable. This video has been removed", true},
		{"private video", "ERROR: Private video. Sign in if you've been granted access", false},
		{"unsupported url", "ERROR: Unsupported URL: https://example.com", false},
		{"empty", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, transientOutput(tc.out))
		})
	}
}

func TestClassifyPinsPermanentFailures(t *testing.T) {
	d := NewDownloader(config.Download{Command: "yt-dlp"}, t.TempDir())

	ring := NewLineRing(10)
	ring.Write([]byte("ERROR: Unsupported URL\n"))
	err := d.classify(exitStatusErr(t), ring)
	assert.Equal(t, jobs.KindDownloadFailed, jobs.KindOf(err))
	assert.False(t, jobs.IsRetryable(err), "unrecognized failure must not retry")

	netRing := NewLineRing(10)
	netRing.Write([]byte("ERROR: Connection reset by peer\n"))
	err = d.classify(exitStatusErr(t), netRing)
	assert.True(t, jobs.IsRetryable(err), "network failure retries")
}

func TestClassifyKeepsTypedErrors(t *testing.T) {
	d := NewDownloader(config.Download{Command: "yt-dlp"}, t.TempDir())

	in := jobs.E(jobs.KindTimeout, "deadline")
	assert.Same(t, in, d.classify(in, NewLineRing(1)).(*jobs.Error))
}

func TestCheckFreeSpace(t *testing.T) {
	small := NewDownloader(config.Download{Command: "yt-dlp", MaxFileSizeMB: 1}, t.TempDir())
	require.NoError(t, small.checkFreeSpace())

	// 2 PiB cap cannot fit on any test filesystem.
	huge := NewDownloader(config.Download{Command: "yt-dlp", MaxFileSizeMB: 1 << 31}, t.TempDir())
	err := huge.checkFreeSpace()
	require.Error(t, err)
	assert.Equal(t, jobs.KindStorage, jobs.KindOf(err))
}
