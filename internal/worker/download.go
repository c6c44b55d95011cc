// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/aperio/internal/config"
	"github.com/ManuGH/aperio/internal/fsutil"
	"github.com/ManuGH/aperio/internal/jobs"
	xlog "github.com/ManuGH/aperio/internal/log"
)

// stderrTailLines is how many trailing subprocess lines end up in the
// failure detail.
const stderrTailLines = 5

// downloadHeadroom is kept free beyond the expected artifact size so a full
// working filesystem fails the job up front instead of the fetch tool
// mid-write.
const downloadHeadroom = 1 << 30

// CommandDownloader fetches a source URL into the working directory by
// shelling out to an external fetch tool.
type CommandDownloader struct {
	cfg        config.Download
	workingDir string
	retry      RetryPolicy
	logger     zerolog.Logger
}

// NewDownloader builds a CommandDownloader for the configured fetch tool.
func NewDownloader(cfg config.Download, workingDir string) *CommandDownloader {
	return &CommandDownloader{
		cfg:        cfg,
		workingDir: workingDir,
		retry:      DefaultDownloadRetry,
		logger:     xlog.WithComponent("worker.download"),
	}
}

// Download fetches the job's source media and returns the path of the raw
// artifact in the working directory. The per-job deadline comes from the
// configured download timeout; the parent ctx carries cancellation.
func (d *CommandDownloader) Download(ctx context.Context, job *jobs.Job) (string, error) {
	bin, err := exec.LookPath(d.cfg.Command)
	if err != nil {
		return "", jobs.Wrap(jobs.KindDownloaderMissing, fmt.Sprintf("%s not found in PATH", d.cfg.Command), err)
	}

	if err := d.checkFreeSpace(); err != nil {
		return "", err
	}

	outTemplate := filepath.Join(d.workingDir, job.ID+"_original.%(ext)s")
	args := downloadArgs(d.cfg, outTemplate, job.URL)

	var path string
	err = d.retry.Do(ctx, d.logger.With().Str(xlog.FieldJobID, job.ID).Logger(), "download", func() error {
		ring := NewLineRing(50)
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()

		d.logger.Info().
			Str(xlog.FieldEvent, "download.start").
			Str(xlog.FieldJobID, job.ID).
			Msg("starting download")

		if runErr := run(attemptCtx, bin, args, ring); runErr != nil {
			return d.classify(runErr, ring)
		}

		found, findErr := d.findArtifact(job.ID)
		if findErr != nil {
			return findErr
		}
		if sizeErr := d.checkSize(found); sizeErr != nil {
			return sizeErr
		}
		path = found
		return nil
	})
	if err != nil {
		return "", err
	}

	d.logger.Info().
		Str(xlog.FieldEvent, "download.done").
		Str(xlog.FieldJobID, job.ID).
		Str(xlog.FieldPath, filepath.Base(path)).
		Msg("download complete")
	return path, nil
}

// checkFreeSpace refuses to start a download when the working filesystem
// cannot hold twice the size cap plus headroom (raw artifact and any merge
// temporary coexist). Platforms without a probe are allowed through.
func (d *CommandDownloader) checkFreeSpace() error {
	free, err := fsutil.FreeBytes(d.workingDir)
	if err != nil {
		d.logger.Debug().Err(err).Msg("free-space probe unavailable, allowing download")
		return nil
	}
	need := uint64(d.cfg.MaxFileSizeMB*1024*1024)*2 + downloadHeadroom
	if free < need {
		return jobs.Ef(jobs.KindStorage, "insufficient disk space: %d bytes free, %d required", free, need)
	}
	return nil
}

// transientPatterns mark stderr output pointing at network trouble worth a
// retry; anything else (removed video, geo block, bad URL) will fail the
// same way again.
var transientPatterns = []string{
	"timeout", "timed out", "connection", "network", "temporary",
	"unavailable", "reset", "refused", "429", "502", "503", "504",
}

func transientOutput(out string) bool {
	out = strings.ToLower(out)
	for _, p := range transientPatterns {
		if strings.Contains(out, p) {
			return true
		}
	}
	return false
}

// classify maps a raw run error to the typed taxonomy. Exit failures carry
// the stderr tail and are retried only when that tail looks like a network
// problem.
func (d *CommandDownloader) classify(err error, ring *LineRing) error {
	var typed *jobs.Error
	if errors.As(err, &typed) {
		return err
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		tail := ring.Tail(stderrTailLines)
		wrapped := jobs.Wrap(jobs.KindDownloadFailed,
			fmt.Sprintf("fetch tool exited with status %d: %s", exitErr.ExitCode(), tail), err)
		if transientOutput(tail) {
			return wrapped
		}
		return jobs.Permanent(wrapped)
	}
	return jobs.Wrap(jobs.KindDownloadFailed, "fetch tool failed", err)
}

// findArtifact locates the downloaded file. The fetch tool substitutes the
// real container extension, so the name is matched by prefix.
func (d *CommandDownloader) findArtifact(jobID string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(d.workingDir, jobID+"_original.*"))
	if err != nil {
		return "", jobs.Wrap(jobs.KindStorage, "failed to scan working directory", err)
	}
	for _, m := range matches {
		// Skip the tool's own partial-download leftovers.
		if filepath.Ext(m) == ".part" || filepath.Ext(m) == ".ytdl" {
			continue
		}
		return m, nil
	}
	return "", jobs.E(jobs.KindOutputMissing, "fetch tool produced no output file")
}

// checkSize enforces the byte limit even when the fetch tool's own limit
// did not apply, e.g. for merged streams of unknown size. Oversized
// artifacts are removed before failing.
func (d *CommandDownloader) checkSize(path string) error {
	maxBytes := d.cfg.MaxFileSizeMB * 1024 * 1024
	info, err := os.Stat(path)
	if err != nil {
		return jobs.Wrap(jobs.KindStorage, "failed to stat downloaded file", err)
	}
	if info.Size() > maxBytes {
		_ = os.Remove(path)
		return jobs.Ef(jobs.KindSizeExceeded, "downloaded file is %d bytes (max %d)", info.Size(), maxBytes)
	}
	return nil
}
