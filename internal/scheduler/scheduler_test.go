// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package scheduler

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/aperio/internal/jobs"
	"github.com/ManuGH/aperio/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeDownloader and fakeProcessor stand in for the external tools.
type fakeDownloader struct {
	delay time.Duration
	err   error
	calls atomic.Int64
}

func (f *fakeDownloader) Download(ctx context.Context, j *jobs.Job) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", jobs.Wrap(jobs.KindCancelled, "download cancelled", ctx.Err())
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return filepath.Join("work", j.ID+"_original.mp4"), nil
}

type fakeProcessor struct {
	delay time.Duration
	err   error
}

func (f *fakeProcessor) Process(ctx context.Context, j *jobs.Job) (string, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", jobs.Wrap(jobs.KindCancelled, "process cancelled", ctx.Err())
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return filepath.Join("storage", j.ID+"_processed.mp4"), nil
}

type harness struct {
	store  *store.MemoryStore
	sched  *Scheduler
	cancel context.CancelFunc
	done   chan struct{}
}

func newHarness(t *testing.T, dl Downloader, proc Processor) *harness {
	return newHarnessWithGate(t, dl, proc, NewGate(2, 1, 2))
}

func newHarnessWithGate(t *testing.T, dl Downloader, proc Processor, gate *Gate) *harness {
	t.Helper()
	st := store.NewMemoryStore()
	sched := New(st, gate, dl, proc, t.TempDir(), 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.Run(ctx)
	}()

	h := &harness{store: st, sched: sched, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) waitStatus(t *testing.T, id string, want jobs.Status) *jobs.Job {
	t.Helper()
	var got *jobs.Job
	require.Eventually(t, func() bool {
		j, err := h.store.Get(context.Background(), id)
		if err != nil {
			return false
		}
		got = j
		return j.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", id, want)
	return got
}

func TestJobRunsToCompletion(t *testing.T) {
	h := newHarness(t, &fakeDownloader{}, &fakeProcessor{})

	j, created, err := h.sched.Submit(context.Background(), "https://youtube.com/watch?v=ok", jobs.PriorityNormal)
	require.NoError(t, err)
	require.True(t, created)

	got := h.waitStatus(t, j.ID, jobs.StatusCompleted)
	assert.NotEmpty(t, got.ProcessedPath)
	assert.Empty(t, got.ErrorMessage)
}

func TestProcessingFailureMarksJobFailed(t *testing.T) {
	h := newHarness(t, &fakeDownloader{},
		&fakeProcessor{err: jobs.E(jobs.KindProcessingFailed, "encoder exited with status 1")})

	j, _, err := h.sched.Submit(context.Background(), "https://youtube.com/watch?v=bad", jobs.PriorityNormal)
	require.NoError(t, err)

	got := h.waitStatus(t, j.ID, jobs.StatusFailed)
	assert.Contains(t, got.ErrorMessage, "encoder exited")
	assert.Empty(t, got.ProcessedPath)
}

func TestDownloadFailureMarksJobFailed(t *testing.T) {
	h := newHarness(t, &fakeDownloader{err: jobs.E(jobs.KindSizeExceeded, "file too large")},
		&fakeProcessor{})

	j, _, err := h.sched.Submit(context.Background(), "https://youtube.com/watch?v=huge", jobs.PriorityNormal)
	require.NoError(t, err)

	got := h.waitStatus(t, j.ID, jobs.StatusFailed)
	assert.Contains(t, got.ErrorMessage, "file too large")
}

func TestDuplicateURLReturnsExistingJob(t *testing.T) {
	// Slow downloader keeps the first job active during the second submit.
	h := newHarness(t, &fakeDownloader{delay: time.Minute}, &fakeProcessor{})

	first, created, err := h.sched.Submit(context.Background(), "https://youtube.com/watch?v=dup", jobs.PriorityNormal)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := h.sched.Submit(context.Background(), "https://youtube.com/watch?v=dup", jobs.PriorityHigh)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestQueueFullRejectsSubmit(t *testing.T) {
	st := store.NewMemoryStore()
	sched := New(st, NewGate(2, 1, 2), &fakeDownloader{}, &fakeProcessor{}, t.TempDir(), 1)

	_, _, err := sched.Submit(context.Background(), "https://youtube.com/watch?v=q1", jobs.PriorityNormal)
	require.NoError(t, err)

	_, _, err = sched.Submit(context.Background(), "https://youtube.com/watch?v=q2", jobs.PriorityNormal)
	require.Error(t, err)
	assert.Equal(t, jobs.KindQueueFull, jobs.KindOf(err))
}

func TestCancelQueuedJob(t *testing.T) {
	// No Run loop: the job stays Pending.
	st := store.NewMemoryStore()
	sched := New(st, NewGate(2, 1, 2), &fakeDownloader{}, &fakeProcessor{}, t.TempDir(), 100)

	j, _, err := sched.Submit(context.Background(), "https://youtube.com/watch?v=cq", jobs.PriorityNormal)
	require.NoError(t, err)

	got, err := sched.Cancel(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCancelled, got.Status)
	assert.Empty(t, got.ErrorMessage, "cancellation is not an error")
	assert.Zero(t, sched.QueueDepth())

	// Terminal jobs cannot be cancelled again.
	_, err = sched.Cancel(context.Background(), j.ID)
	require.Error(t, err)
	assert.Equal(t, jobs.KindConflict, jobs.KindOf(err))
}

func TestCancelRunningJob(t *testing.T) {
	h := newHarness(t, &fakeDownloader{delay: time.Minute}, &fakeProcessor{})

	j, _, err := h.sched.Submit(context.Background(), "https://youtube.com/watch?v=cr", jobs.PriorityNormal)
	require.NoError(t, err)

	h.waitStatus(t, j.ID, jobs.StatusDownloading)

	_, err = h.sched.Cancel(context.Background(), j.ID)
	require.NoError(t, err)

	got := h.waitStatus(t, j.ID, jobs.StatusCancelled)
	assert.Empty(t, got.ErrorMessage)
}

func TestCancelUnknownJob(t *testing.T) {
	st := store.NewMemoryStore()
	sched := New(st, NewGate(2, 1, 2), &fakeDownloader{}, &fakeProcessor{}, t.TempDir(), 100)

	_, err := sched.Cancel(context.Background(), "00000000-0000-0000-0000-000000000000")
	require.Error(t, err)
	assert.Equal(t, jobs.KindNotFound, jobs.KindOf(err))
}

func TestConcurrencyBound(t *testing.T) {
	// Gate of 2 total: with 4 submissions and slow downloads, at most 2 may
	// be active at once.
	var active, peak atomic.Int64
	dl := &trackingDownloader{active: &active, peak: &peak, delay: 50 * time.Millisecond}
	h := newHarness(t, dl, &fakeProcessor{})

	urls := []string{
		"https://youtube.com/watch?v=c1",
		"https://youtube.com/watch?v=c2",
		"https://youtube.com/watch?v=c3",
		"https://youtube.com/watch?v=c4",
	}
	var ids []string
	for _, u := range urls {
		j, _, err := h.sched.Submit(context.Background(), u, jobs.PriorityNormal)
		require.NoError(t, err)
		ids = append(ids, j.ID)
	}
	for _, id := range ids {
		h.waitStatus(t, id, jobs.StatusCompleted)
	}
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

type trackingDownloader struct {
	active *atomic.Int64
	peak   *atomic.Int64
	delay  time.Duration
}

func (d *trackingDownloader) Download(ctx context.Context, j *jobs.Job) (string, error) {
	n := d.active.Add(1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}
	defer d.active.Add(-1)

	select {
	case <-ctx.Done():
		return "", jobs.Wrap(jobs.KindCancelled, "download cancelled", ctx.Err())
	case <-time.After(d.delay):
	}
	return filepath.Join("work", j.ID+"_original.mp4"), nil
}

func TestPermitReleaseWakesDispatch(t *testing.T) {
	// One download slot, three instant jobs: each release must wake the
	// dispatch loop, so the whole batch flows through in well under a
	// second with no timer involved.
	h := newHarnessWithGate(t, &fakeDownloader{}, &fakeProcessor{}, NewGate(1, 1, 3))

	start := time.Now()
	var ids []string
	for _, u := range []string{
		"https://youtube.com/watch?v=w1",
		"https://youtube.com/watch?v=w2",
		"https://youtube.com/watch?v=w3",
	} {
		j, _, err := h.sched.Submit(context.Background(), u, jobs.PriorityNormal)
		require.NoError(t, err)
		ids = append(ids, j.ID)
	}
	for _, id := range ids {
		h.waitStatus(t, id, jobs.StatusCompleted)
	}
	assert.Less(t, time.Since(start), 3*time.Second,
		"dispatch must ride permit-release wakeups")
}

// gatedProcessor blocks every encode until release is closed.
type gatedProcessor struct {
	release chan struct{}
}

func (p *gatedProcessor) Process(ctx context.Context, j *jobs.Job) (string, error) {
	select {
	case <-ctx.Done():
		return "", jobs.Wrap(jobs.KindCancelled, "process cancelled", ctx.Err())
	case <-p.release:
	}
	return filepath.Join("storage", j.ID+"_processed.mp4"), nil
}

func TestDownloadingBoundHeldWhileAwaitingEncodeSlot(t *testing.T) {
	// A job parked on the encode slot is still in status Downloading and
	// must keep its download permit, so a third job cannot push the
	// Downloading count past the bound of one.
	proc := &gatedProcessor{release: make(chan struct{})}
	h := newHarnessWithGate(t, &fakeDownloader{}, proc, NewGate(1, 1, 3))

	var ids []string
	for _, u := range []string{
		"https://youtube.com/watch?v=b1",
		"https://youtube.com/watch?v=b2",
		"https://youtube.com/watch?v=b3",
	} {
		j, _, err := h.sched.Submit(context.Background(), u, jobs.PriorityNormal)
		require.NoError(t, err)
		ids = append(ids, j.ID)
	}

	h.waitStatus(t, ids[0], jobs.StatusProcessing)
	h.waitStatus(t, ids[1], jobs.StatusDownloading)

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		counts, err := h.store.CountByStatus(context.Background())
		require.NoError(t, err)
		require.LessOrEqual(t, counts[jobs.StatusDownloading], int64(1),
			"more jobs in Downloading than download slots")
		time.Sleep(10 * time.Millisecond)
	}

	close(proc.release)
	for _, id := range ids {
		h.waitStatus(t, id, jobs.StatusCompleted)
	}
}

func TestRecover(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	interrupted := jobs.New("https://youtube.com/watch?v=r1", jobs.PriorityNormal)
	require.NoError(t, st.Create(ctx, interrupted))
	require.NoError(t, st.Transition(ctx, interrupted.ID, jobs.StatusPending, jobs.StatusClaimed, store.Mutations{}))
	require.NoError(t, st.Transition(ctx, interrupted.ID, jobs.StatusClaimed, jobs.StatusDownloading, store.Mutations{}))

	pending := jobs.New("https://youtube.com/watch?v=r2", jobs.PriorityNormal)
	require.NoError(t, st.Create(ctx, pending))

	sched := New(st, NewGate(2, 1, 2), &fakeDownloader{}, &fakeProcessor{}, t.TempDir(), 100)
	require.NoError(t, sched.Recover(ctx))

	got, err := st.Get(ctx, interrupted.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, "interrupted", got.ErrorMessage)

	stillPending, err := st.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, stillPending.Status)
	assert.Equal(t, 1, sched.QueueDepth())
}
