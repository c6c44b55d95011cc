// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package scheduler owns job admission, dispatch and cancellation. A single
// goroutine claims runnable jobs from the store and hands each to a runner
// goroutine bounded by the capacity gate.
package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/aperio/internal/jobs"
	xlog "github.com/ManuGH/aperio/internal/log"
	"github.com/ManuGH/aperio/internal/metrics"
	"github.com/ManuGH/aperio/internal/store"
)

// Downloader fetches a job's source media into the working directory.
type Downloader interface {
	Download(ctx context.Context, job *jobs.Job) (string, error)
}

// Processor transcodes a downloaded artifact and publishes the result.
type Processor interface {
	Process(ctx context.Context, job *jobs.Job) (string, error)
}

// claimRetryDelay spaces out re-attempts after a failed store claim; every
// other wakeup is event-driven.
const claimRetryDelay = time.Second

// Scheduler coordinates the job pipeline. The store is the single source
// of truth for status; the in-memory queue only bounds admission and lets
// cancellation drop jobs before dispatch.
type Scheduler struct {
	store      store.Store
	gate       *Gate
	queue      *queue
	downloader Downloader
	processor  Processor
	workingDir string
	logger     zerolog.Logger

	notify chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds a Scheduler.
func New(s store.Store, gate *Gate, dl Downloader, proc Processor, workingDir string, maxQueue int) *Scheduler {
	return &Scheduler{
		store:      s,
		gate:       gate,
		queue:      newQueue(maxQueue),
		downloader: dl,
		processor:  proc,
		workingDir: workingDir,
		logger:     xlog.WithComponent("scheduler"),
		notify:     make(chan struct{}, 1),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// QueueDepth reports the number of jobs waiting for dispatch.
func (s *Scheduler) QueueDepth() int { return s.queue.Len() }

// Notify wakes the dispatch loop. Non-blocking; a single pending wakeup is
// enough because dispatch drains everything runnable.
func (s *Scheduler) Notify() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Submit admits a new job. If a non-terminal job already exists for the
// URL, that job is returned with created=false instead of queueing a
// duplicate.
func (s *Scheduler) Submit(ctx context.Context, url string, prio jobs.Priority) (job *jobs.Job, created bool, err error) {
	existing, err := s.store.FindActiveByURL(ctx, url)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, jobs.Wrap(jobs.KindStorage, "duplicate check failed", err)
	}

	j := jobs.New(url, prio)
	if !s.queue.Push(j.ID, j.Priority) {
		return nil, false, jobs.E(jobs.KindQueueFull, "queue is at capacity, retry later")
	}
	if err := s.store.Create(ctx, j); err != nil {
		s.queue.Remove(j.ID)
		return nil, false, jobs.Wrap(jobs.KindStorage, "failed to persist job", err)
	}

	metrics.JobsSubmitted.Inc()
	metrics.QueueDepth.Set(float64(s.queue.Len()))
	s.logger.Info().
		Str(xlog.FieldEvent, "job.submitted").
		Str(xlog.FieldJobID, j.ID).
		Str("priority", j.Priority.String()).
		Msg("job accepted")
	s.Notify()
	return j, true, nil
}

// Cancel stops a job. Queued jobs are removed before dispatch; running
// jobs get their context cancelled and the runner records the terminal
// state. Terminal jobs yield a conflict.
func (s *Scheduler) Cancel(ctx context.Context, id string) (*jobs.Job, error) {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, jobs.E(jobs.KindNotFound, "no such job")
		}
		return nil, jobs.Wrap(jobs.KindStorage, "lookup failed", err)
	}
	if j.Status.IsTerminal() {
		return nil, jobs.Ef(jobs.KindConflict, "job is already %s", j.Status)
	}

	if j.Status == jobs.StatusPending {
		s.queue.Remove(id)
		metrics.QueueDepth.Set(float64(s.queue.Len()))
		err := s.store.Transition(ctx, id, jobs.StatusPending, jobs.StatusCancelled, store.Mutations{})
		if err == nil {
			metrics.JobsFinished.WithLabelValues(string(jobs.StatusCancelled)).Inc()
			s.logger.Info().
				Str(xlog.FieldEvent, "job.cancelled").
				Str(xlog.FieldJobID, id).
				Str(xlog.FieldOldState, string(jobs.StatusPending)).
				Msg("queued job cancelled")
			return s.store.Get(ctx, id)
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, jobs.Wrap(jobs.KindStorage, "cancel failed", err)
		}
		// Dispatch claimed it between Get and Transition; fall through to
		// the running-job path with a fresh read.
		if j, err = s.store.Get(ctx, id); err != nil {
			return nil, jobs.Wrap(jobs.KindStorage, "lookup failed", err)
		}
		if j.Status.IsTerminal() {
			return nil, jobs.Ef(jobs.KindConflict, "job is already %s", j.Status)
		}
	}

	if cancel := s.lookupCancel(id); cancel != nil {
		cancel()
		s.logger.Info().
			Str(xlog.FieldEvent, "job.cancel_requested").
			Str(xlog.FieldJobID, id).
			Str(xlog.FieldOldState, string(j.Status)).
			Msg("cancellation signalled to runner")
		return j, nil
	}

	// Claimed but no runner registered yet: flip the record so the runner's
	// first transition conflicts and it aborts cleanly.
	if err := s.store.Transition(ctx, id, j.Status, jobs.StatusCancelled, store.Mutations{}); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, jobs.E(jobs.KindConflict, "job changed state during cancel, retry")
		}
		return nil, jobs.Wrap(jobs.KindStorage, "cancel failed", err)
	}
	metrics.JobsFinished.WithLabelValues(string(jobs.StatusCancelled)).Inc()
	return s.store.Get(ctx, id)
}

// Run drives dispatch until ctx is done, then waits for all runners. The
// loop blocks on notifications: admission, cancellation and every permit
// release post one, so there is no polling.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		s.dispatch(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info().Str(xlog.FieldEvent, "scheduler.stopping").Msg("waiting for runners")
			s.wg.Wait()
			return nil
		case <-s.notify:
		}
	}
}

// dispatch claims runnable jobs while capacity lasts. Claiming goes through
// the store so ordering and exactly-once dispatch hold even if the
// in-memory queue and the table disagree.
func (s *Scheduler) dispatch(ctx context.Context) {
	for ctx.Err() == nil {
		if !s.gate.TryAcquireStart() {
			return
		}
		claimed, err := s.store.ClaimPending(ctx, 1)
		if err != nil || len(claimed) == 0 {
			s.gate.ReleaseDownload()
			s.gate.ReleaseTotal()
			if err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Str(xlog.FieldEvent, "dispatch.claim_failed").Msg("claim failed")
				time.AfterFunc(claimRetryDelay, s.Notify)
			}
			return
		}
		job := claimed[0]
		s.queue.Remove(job.ID)
		metrics.QueueDepth.Set(float64(s.queue.Len()))
		metrics.ActiveJobs.Inc()

		s.wg.Add(1)
		go s.runJob(ctx, job)
	}
}

// runJob drives one job from Claimed to a terminal state. Permits held:
// download until the job has left Downloading (so the status count never
// exceeds the download bound even while parked on an encode slot), process
// during the encode, total until terminal. Every release wakes dispatch.
// Finalization writes use a detached context so shutdown still records
// outcomes.
func (s *Scheduler) runJob(ctx context.Context, job *jobs.Job) {
	defer s.wg.Done()

	jctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.registerCancel(job.ID, cancel)
	defer s.unregisterCancel(job.ID)

	wctx := context.WithoutCancel(ctx)
	start := time.Now()
	defer func() {
		s.gate.ReleaseTotal()
		metrics.ActiveJobs.Dec()
		s.Notify()
	}()

	if err := s.store.Transition(wctx, job.ID, jobs.StatusClaimed, jobs.StatusDownloading, store.Mutations{}); err != nil {
		// Cancelled between claim and start.
		s.releaseDownload()
		if !errors.Is(err, store.ErrConflict) {
			s.logger.Error().Err(err).Str(xlog.FieldJobID, job.ID).Msg("failed to start job")
		}
		return
	}

	path, derr := s.downloader.Download(jctx, job)
	if derr != nil {
		s.releaseDownload()
		s.finish(wctx, job, jobs.StatusDownloading, start, derr)
		return
	}
	job.DownloadedPath = path

	// The download permit stays held while parked here: the job is still in
	// status Downloading and counts against the download bound.
	if err := s.gate.AcquireProcess(jctx); err != nil {
		s.releaseDownload()
		s.finish(wctx, job, jobs.StatusDownloading, start,
			jobs.Wrap(jobs.KindCancelled, "cancelled while waiting for encode slot", err))
		return
	}

	if err := s.store.Transition(wctx, job.ID, jobs.StatusDownloading, jobs.StatusProcessing,
		store.Mutations{DownloadedPath: store.Ptr(path)}); err != nil {
		s.gate.ReleaseProcess()
		s.releaseDownload()
		s.cleanupArtifacts(job.ID)
		s.logger.Error().Err(err).Str(xlog.FieldJobID, job.ID).Msg("failed to enter processing")
		return
	}
	s.releaseDownload()

	out, perr := s.processor.Process(jctx, job)
	s.gate.ReleaseProcess()
	s.Notify()
	if perr != nil {
		s.finish(wctx, job, jobs.StatusProcessing, start, perr)
		return
	}

	secs := int64(time.Since(start).Seconds())
	if err := s.store.Transition(wctx, job.ID, jobs.StatusProcessing, jobs.StatusCompleted,
		store.Mutations{ProcessedPath: store.Ptr(out), ProcessingSeconds: store.Ptr(secs)}); err != nil {
		s.logger.Error().Err(err).Str(xlog.FieldJobID, job.ID).Msg("failed to record completion")
		return
	}
	metrics.JobsFinished.WithLabelValues(string(jobs.StatusCompleted)).Inc()
	metrics.JobSeconds.WithLabelValues(string(jobs.StatusCompleted)).Observe(float64(secs))
	s.logger.Info().
		Str(xlog.FieldEvent, "job.completed").
		Str(xlog.FieldJobID, job.ID).
		Int64("seconds", secs).
		Msg("job completed")
}

// finish records a terminal failure or cancellation and removes working
// artifacts. Cancelled jobs carry no error message.
func (s *Scheduler) finish(ctx context.Context, job *jobs.Job, from jobs.Status, start time.Time, cause error) {
	s.cleanupArtifacts(job.ID)
	secs := int64(time.Since(start).Seconds())

	to := jobs.StatusFailed
	mut := store.Mutations{ProcessingSeconds: store.Ptr(secs)}
	if jobs.KindOf(cause) == jobs.KindCancelled {
		to = jobs.StatusCancelled
	} else {
		mut.ErrorMessage = store.Ptr(cause.Error())
	}

	if err := s.store.Transition(ctx, job.ID, from, to, mut); err != nil {
		s.logger.Error().Err(err).
			Str(xlog.FieldJobID, job.ID).
			Str(xlog.FieldNewState, string(to)).
			Msg("failed to record terminal state")
		return
	}
	metrics.JobsFinished.WithLabelValues(string(to)).Inc()
	metrics.JobSeconds.WithLabelValues(string(to)).Observe(float64(secs))
	evt := s.logger.Info().
		Str(xlog.FieldEvent, "job.finished").
		Str(xlog.FieldJobID, job.ID).
		Str(xlog.FieldNewState, string(to))
	if to == jobs.StatusFailed {
		evt = evt.Err(cause)
	}
	evt.Msg("job finished")
}

// cleanupArtifacts removes any working-directory files for the job. Final
// outputs in storage are never touched here.
func (s *Scheduler) cleanupArtifacts(jobID string) {
	matches, err := filepath.Glob(filepath.Join(s.workingDir, jobID+"_*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			s.logger.Warn().Err(err).
				Str(xlog.FieldJobID, jobID).
				Str(xlog.FieldPath, filepath.Base(m)).
				Msg("failed to remove working artifact")
		}
	}
}

// releaseDownload frees a download slot and wakes dispatch so the next
// Pending job starts without waiting for an unrelated event.
func (s *Scheduler) releaseDownload() {
	s.gate.ReleaseDownload()
	s.Notify()
}

func (s *Scheduler) registerCancel(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[id] = cancel
}

func (s *Scheduler) unregisterCancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, id)
}

func (s *Scheduler) lookupCancel(id string) context.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels[id]
}
