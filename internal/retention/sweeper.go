// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package retention removes terminal jobs and their artifacts after the
// configured age.
package retention

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/ManuGH/aperio/internal/log"
	"github.com/ManuGH/aperio/internal/metrics"
	"github.com/ManuGH/aperio/internal/store"
)

// Sweeper periodically deletes terminal jobs older than the retention
// window, together with their published artifacts and any leftover working
// files.
type Sweeper struct {
	store      store.Store
	workingDir string
	age        time.Duration
	interval   time.Duration
	logger     zerolog.Logger
}

// Result is the accounting for one sweep cycle.
type Result struct {
	Scanned int
	Deleted int
	Bytes   int64
}

// New builds a Sweeper that removes terminal jobs older than age, checking
// every interval.
func New(s store.Store, workingDir string, age, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:      s,
		workingDir: workingDir,
		age:        age,
		interval:   interval,
		logger:     xlog.WithComponent("retention"),
	}
}

// Run sweeps once immediately, then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if res, err := s.Sweep(ctx); err != nil {
			s.logger.Error().Err(err).Str(xlog.FieldEvent, "retention.sweep_failed").Msg("sweep failed")
		} else if res.Scanned > 0 {
			s.logger.Info().
				Str(xlog.FieldEvent, "retention.swept").
				Int("scanned", res.Scanned).
				Int("deleted", res.Deleted).
				Int64("bytes_reclaimed", res.Bytes).
				Msg("retention sweep complete")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep removes expired terminal jobs and returns the cycle accounting.
// Each candidate is re-read before deletion so a record resubmitted or
// mutated between scan and delete is left alone.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result
	cutoff := time.Now().UTC().Add(-s.age)
	expired, err := s.store.ListTerminalOlderThan(ctx, cutoff)
	if err != nil {
		return res, err
	}

	for _, j := range expired {
		res.Scanned++
		metrics.RetentionScanned.Inc()

		fresh, err := s.store.Get(ctx, j.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return res, err
		}
		if !fresh.Status.IsTerminal() || fresh.UpdatedAt.After(cutoff) {
			continue
		}

		res.Bytes += s.removeArtifact(fresh.ProcessedPath)
		res.Bytes += s.removeArtifact(fresh.DownloadedPath)
		res.Bytes += s.sweepWorkingFiles(fresh.ID)

		if err := s.store.Delete(ctx, j.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return res, err
		}
		metrics.RetentionDeleted.Inc()
		res.Deleted++
	}
	metrics.RetentionBytes.Add(float64(res.Bytes))
	return res, nil
}

// removeArtifact deletes one file and returns the bytes reclaimed.
func (s *Sweeper) removeArtifact(path string) int64 {
	if path == "" {
		return 0
	}
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).
				Str(xlog.FieldPath, filepath.Base(path)).
				Msg("failed to remove expired artifact")
		}
		return 0
	}
	return size
}

// sweepWorkingFiles removes any working-directory leftovers for the job,
// e.g. partial downloads a crashed fetch left behind.
func (s *Sweeper) sweepWorkingFiles(jobID string) int64 {
	matches, err := filepath.Glob(filepath.Join(s.workingDir, jobID+"_*"))
	if err != nil {
		return 0
	}
	var reclaimed int64
	for _, m := range matches {
		reclaimed += s.removeArtifact(m)
	}
	return reclaimed
}
