// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/ManuGH/aperio/internal/jobs"
	xlog "github.com/ManuGH/aperio/internal/log"
	"github.com/ManuGH/aperio/internal/metrics"
	"github.com/ManuGH/aperio/internal/store"
)

// interruptedMessage marks jobs that were in flight when the process died.
const interruptedMessage = "interrupted"

// Recover reconciles the store with reality at startup: in-flight jobs are
// failed (their permits and subprocesses died with the old process),
// pending jobs are re-queued, and the working directory is emptied of
// leftover artifacts. Must run before the dispatch loop starts.
func (s *Scheduler) Recover(ctx context.Context) error {
	inflight, err := s.store.ListByStatus(ctx,
		jobs.StatusClaimed, jobs.StatusDownloading, jobs.StatusProcessing)
	if err != nil {
		return jobs.Wrap(jobs.KindStorage, "recovery scan failed", err)
	}
	for _, j := range inflight {
		err := s.store.Transition(ctx, j.ID, j.Status, jobs.StatusFailed,
			store.Mutations{ErrorMessage: store.Ptr(interruptedMessage)})
		if err != nil && !errors.Is(err, store.ErrConflict) {
			return jobs.Wrap(jobs.KindStorage, "recovery transition failed", err)
		}
		metrics.JobsFinished.WithLabelValues(string(jobs.StatusFailed)).Inc()
		s.logger.Warn().
			Str(xlog.FieldEvent, "recovery.interrupted").
			Str(xlog.FieldJobID, j.ID).
			Str(xlog.FieldOldState, string(j.Status)).
			Msg("in-flight job failed after restart")
	}

	pending, err := s.store.ListByStatus(ctx, jobs.StatusPending)
	if err != nil {
		return jobs.Wrap(jobs.KindStorage, "recovery scan failed", err)
	}
	requeued := 0
	for _, j := range pending {
		// A full queue is not fatal: dispatch claims from the store, the
		// queue only bounds new admissions.
		if s.queue.Push(j.ID, j.Priority) {
			requeued++
		}
	}
	metrics.QueueDepth.Set(float64(s.queue.Len()))

	removed := s.sweepWorkingDir()

	s.logger.Info().
		Str(xlog.FieldEvent, "recovery.done").
		Int("interrupted", len(inflight)).
		Int("requeued", requeued).
		Int("artifacts_removed", removed).
		Msg("startup recovery complete")
	return nil
}

// sweepWorkingDir deletes regular files left in the working directory.
// Nothing is running at startup, so every file there is an orphan.
func (s *Scheduler) sweepWorkingDir() int {
	entries, err := os.ReadDir(s.workingDir)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cannot scan working directory")
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(s.workingDir, e.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn().Err(err).Str(xlog.FieldPath, e.Name()).Msg("failed to remove orphan artifact")
			continue
		}
		removed++
	}
	return removed
}
