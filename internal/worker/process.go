// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/ManuGH/aperio/internal/config"
	"github.com/ManuGH/aperio/internal/jobs"
	xlog "github.com/ManuGH/aperio/internal/log"
)

// FFmpegProcessor transcodes a raw artifact and publishes the result into
// the storage directory. There is no retry: encoder failures are
// deterministic for a given input.
type FFmpegProcessor struct {
	cfg         config.Processing
	workingDir  string
	storagePath string
	logger      zerolog.Logger
}

// NewProcessor builds an FFmpegProcessor.
func NewProcessor(cfg config.Processing, workingDir, storagePath string) *FFmpegProcessor {
	return &FFmpegProcessor{
		cfg:         cfg,
		workingDir:  workingDir,
		storagePath: storagePath,
		logger:      xlog.WithComponent("worker.process"),
	}
}

// Process transcodes the job's downloaded artifact and returns the final
// path under the storage directory. The encoder writes into the working
// directory; the result becomes visible in storage only via an atomic
// replace, so readers never observe a partial file. On success the raw
// and intermediate working files are removed.
func (p *FFmpegProcessor) Process(ctx context.Context, job *jobs.Job) (string, error) {
	if job.DownloadedPath == "" {
		return "", jobs.E(jobs.KindInternal, "job has no downloaded artifact")
	}
	bin, err := exec.LookPath(p.cfg.Command)
	if err != nil {
		return "", jobs.Wrap(jobs.KindEncoderMissing, fmt.Sprintf("%s not found in PATH", p.cfg.Command), err)
	}

	intermediate := filepath.Join(p.workingDir, job.ID+"_processed.mp4")
	final := filepath.Join(p.storagePath, job.ID+"_processed.mp4")

	ring := NewLineRing(50)
	runCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	p.logger.Info().
		Str(xlog.FieldEvent, "process.start").
		Str(xlog.FieldJobID, job.ID).
		Msg("starting transcode")

	if runErr := run(runCtx, bin, processArgs(p.cfg, job.DownloadedPath, intermediate), ring); runErr != nil {
		_ = os.Remove(intermediate)
		return "", p.classify(runErr, ring)
	}
	if _, statErr := os.Stat(intermediate); statErr != nil {
		return "", jobs.Wrap(jobs.KindOutputMissing, "encoder produced no output file", statErr)
	}

	if pubErr := p.publish(intermediate, final); pubErr != nil {
		_ = os.Remove(intermediate)
		return "", pubErr
	}

	_ = os.Remove(intermediate)
	_ = os.Remove(job.DownloadedPath)

	p.logger.Info().
		Str(xlog.FieldEvent, "process.done").
		Str(xlog.FieldJobID, job.ID).
		Str(xlog.FieldPath, filepath.Base(final)).
		Msg("transcode complete")
	return final, nil
}

func (p *FFmpegProcessor) classify(err error, ring *LineRing) error {
	var typed *jobs.Error
	if errors.As(err, &typed) {
		return err
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return jobs.Wrap(jobs.KindProcessingFailed,
			fmt.Sprintf("encoder exited with status %d: %s", exitErr.ExitCode(), ring.Tail(stderrTailLines)), err)
	}
	return jobs.Wrap(jobs.KindProcessingFailed, "encoder failed", err)
}

// publish copies the intermediate into storage through a temp file and an
// atomic rename. Working and storage directories may live on different
// filesystems, so a direct rename is not an option.
func (p *FFmpegProcessor) publish(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return jobs.Wrap(jobs.KindStorage, "failed to open transcoded file", err)
	}
	defer func() { _ = in.Close() }()

	t, err := renameio.TempFile(p.storagePath, dst)
	if err != nil {
		return jobs.Wrap(jobs.KindStorage, "failed to create temp file in storage", err)
	}
	defer func() { _ = t.Cleanup() }()

	if _, err := io.Copy(t, in); err != nil {
		return jobs.Wrap(jobs.KindStorage, "failed to copy transcoded file into storage", err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return jobs.Wrap(jobs.KindStorage, "failed to publish transcoded file", err)
	}
	return nil
}
