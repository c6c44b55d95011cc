// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/aperio/internal/jobs"
)

// backends runs the conformance suite against every Store implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "jobs.db"), DefaultSQLiteConfig())
	require.NoError(t, err)
	require.NoError(t, Migrate(context.Background(), sqlite.DB()))
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func newJob(url string, prio jobs.Priority, created time.Time) *jobs.Job {
	j := jobs.New(url, prio)
	j.CreatedAt = created
	j.UpdatedAt = created
	return j
}

func TestCreateAndGet(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j := jobs.New("https://youtube.com/watch?v=a", jobs.PriorityNormal)
			require.NoError(t, st.Create(ctx, j))

			got, err := st.Get(ctx, j.ID)
			require.NoError(t, err)
			assert.Equal(t, j.ID, got.ID)
			assert.Equal(t, j.URL, got.URL)
			assert.Equal(t, jobs.StatusPending, got.Status)
			assert.Equal(t, jobs.PriorityNormal, got.Priority)

			_, err = st.Get(ctx, "00000000-0000-0000-0000-000000000000")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestTransitionCAS(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j := jobs.New("https://youtube.com/watch?v=b", jobs.PriorityNormal)
			require.NoError(t, st.Create(ctx, j))

			require.NoError(t, st.Transition(ctx, j.ID, jobs.StatusPending, jobs.StatusClaimed, Mutations{}))

			// Stale expectation must not change anything.
			err := st.Transition(ctx, j.ID, jobs.StatusPending, jobs.StatusCancelled, Mutations{})
			assert.ErrorIs(t, err, ErrConflict)

			got, err := st.Get(ctx, j.ID)
			require.NoError(t, err)
			assert.Equal(t, jobs.StatusClaimed, got.Status)

			err = st.Transition(ctx, "00000000-0000-0000-0000-000000000000",
				jobs.StatusPending, jobs.StatusClaimed, Mutations{})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestTransitionMutations(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j := jobs.New("https://youtube.com/watch?v=c", jobs.PriorityNormal)
			require.NoError(t, st.Create(ctx, j))

			require.NoError(t, st.Transition(ctx, j.ID, jobs.StatusPending, jobs.StatusClaimed, Mutations{}))
			require.NoError(t, st.Transition(ctx, j.ID, jobs.StatusClaimed, jobs.StatusDownloading, Mutations{}))
			require.NoError(t, st.Transition(ctx, j.ID, jobs.StatusDownloading, jobs.StatusProcessing,
				Mutations{DownloadedPath: Ptr("/work/raw.mp4")}))
			require.NoError(t, st.Transition(ctx, j.ID, jobs.StatusProcessing, jobs.StatusCompleted,
				Mutations{ProcessedPath: Ptr("/storage/out.mp4"), ProcessingSeconds: Ptr(int64(42))}))

			got, err := st.Get(ctx, j.ID)
			require.NoError(t, err)
			assert.Equal(t, jobs.StatusCompleted, got.Status)
			assert.Equal(t, "/work/raw.mp4", got.DownloadedPath)
			assert.Equal(t, "/storage/out.mp4", got.ProcessedPath)
			assert.Equal(t, int64(42), got.ProcessingSeconds)
			assert.Empty(t, got.ErrorMessage)
		})
	}
}

func TestClaimPendingOrdering(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().UTC().Add(-time.Hour)

			lowOld := newJob("https://youtube.com/watch?v=low", jobs.PriorityLow, base)
			normalOld := newJob("https://youtube.com/watch?v=n1", jobs.PriorityNormal, base.Add(1*time.Minute))
			normalNew := newJob("https://youtube.com/watch?v=n2", jobs.PriorityNormal, base.Add(2*time.Minute))
			high := newJob("https://youtube.com/watch?v=high", jobs.PriorityHigh, base.Add(3*time.Minute))
			for _, j := range []*jobs.Job{lowOld, normalOld, normalNew, high} {
				require.NoError(t, st.Create(ctx, j))
			}

			claimed, err := st.ClaimPending(ctx, 3)
			require.NoError(t, err)
			require.Len(t, claimed, 3)
			assert.Equal(t, high.ID, claimed[0].ID, "highest priority first")
			assert.Equal(t, normalOld.ID, claimed[1].ID, "FIFO within priority")
			assert.Equal(t, normalNew.ID, claimed[2].ID)
			for _, c := range claimed {
				assert.Equal(t, jobs.StatusClaimed, c.Status)
			}

			// Claimed rows must not be claimable twice.
			rest, err := st.ClaimPending(ctx, 10)
			require.NoError(t, err)
			require.Len(t, rest, 1)
			assert.Equal(t, lowOld.ID, rest[0].ID)

			none, err := st.ClaimPending(ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestClaimPendingOrdersTrimmedFractions(t *testing.T) {
	// Timestamps whose fractional seconds end in zeros must still sort
	// before longer fractions of a later instant; a format that trims
	// trailing zeros would claim these out of order.
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

			earlier := newJob("https://youtube.com/watch?v=f1", jobs.PriorityNormal,
				base.Add(500*time.Millisecond))
			later := newJob("https://youtube.com/watch?v=f2", jobs.PriorityNormal,
				base.Add(500*time.Millisecond+100*time.Microsecond))
			require.NoError(t, st.Create(ctx, later))
			require.NoError(t, st.Create(ctx, earlier))

			claimed, err := st.ClaimPending(ctx, 2)
			require.NoError(t, err)
			require.Len(t, claimed, 2)
			assert.Equal(t, earlier.ID, claimed[0].ID, "FIFO within priority")
			assert.Equal(t, later.ID, claimed[1].ID)
		})
	}
}

func TestFindActiveByURL(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			url := "https://youtube.com/watch?v=dup"

			done := jobs.New(url, jobs.PriorityNormal)
			require.NoError(t, st.Create(ctx, done))
			require.NoError(t, st.Transition(ctx, done.ID, jobs.StatusPending, jobs.StatusClaimed, Mutations{}))
			require.NoError(t, st.Transition(ctx, done.ID, jobs.StatusClaimed, jobs.StatusDownloading, Mutations{}))
			require.NoError(t, st.Transition(ctx, done.ID, jobs.StatusDownloading, jobs.StatusFailed,
				Mutations{ErrorMessage: Ptr("boom")}))

			_, err := st.FindActiveByURL(ctx, url)
			assert.ErrorIs(t, err, ErrNotFound, "terminal jobs are not duplicates")

			active := jobs.New(url, jobs.PriorityNormal)
			require.NoError(t, st.Create(ctx, active))

			got, err := st.FindActiveByURL(ctx, url)
			require.NoError(t, err)
			assert.Equal(t, active.ID, got.ID)
		})
	}
}

func TestListPagination(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().UTC().Add(-time.Hour)
			var ids []string
			for i := 0; i < 5; i++ {
				j := newJob("https://youtube.com/watch?v=l"+string(rune('a'+i)),
					jobs.PriorityNormal, base.Add(time.Duration(i)*time.Minute))
				require.NoError(t, st.Create(ctx, j))
				ids = append(ids, j.ID)
			}

			page0, total, err := st.List(ctx, 0, 2, nil)
			require.NoError(t, err)
			assert.Equal(t, int64(5), total)
			require.Len(t, page0, 2)
			assert.Equal(t, ids[4], page0[0].ID, "newest first")
			assert.Equal(t, ids[3], page0[1].ID)

			page2, total, err := st.List(ctx, 2, 2, nil)
			require.NoError(t, err)
			assert.Equal(t, int64(5), total)
			require.Len(t, page2, 1)
			assert.Equal(t, ids[0], page2[0].ID)

			empty, _, err := st.List(ctx, 9, 2, nil)
			require.NoError(t, err)
			assert.Empty(t, empty)

			pending := jobs.StatusPending
			filtered, total, err := st.List(ctx, 0, 10, &pending)
			require.NoError(t, err)
			assert.Equal(t, int64(5), total)
			assert.Len(t, filtered, 5)

			completed := jobs.StatusCompleted
			_, total, err = st.List(ctx, 0, 10, &completed)
			require.NoError(t, err)
			assert.Zero(t, total)
		})
	}
}

func TestListTerminalOlderThanAndDelete(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			old := jobs.New("https://youtube.com/watch?v=old", jobs.PriorityNormal)
			require.NoError(t, st.Create(ctx, old))
			require.NoError(t, st.Transition(ctx, old.ID, jobs.StatusPending, jobs.StatusCancelled, Mutations{}))

			fresh := jobs.New("https://youtube.com/watch?v=fresh", jobs.PriorityNormal)
			require.NoError(t, st.Create(ctx, fresh))

			// Everything updated before a future cutoff and terminal qualifies.
			expired, err := st.ListTerminalOlderThan(ctx, time.Now().UTC().Add(time.Minute))
			require.NoError(t, err)
			require.Len(t, expired, 1)
			assert.Equal(t, old.ID, expired[0].ID)

			// Nothing qualifies before a past cutoff.
			expired, err = st.ListTerminalOlderThan(ctx, time.Now().UTC().Add(-time.Minute))
			require.NoError(t, err)
			assert.Empty(t, expired)

			require.NoError(t, st.Delete(ctx, old.ID))
			_, err = st.Get(ctx, old.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, st.Delete(ctx, old.ID), ErrNotFound)
		})
	}
}

func TestCountByStatus(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				j := jobs.New("https://youtube.com/watch?v=cnt"+string(rune('a'+i)), jobs.PriorityNormal)
				require.NoError(t, st.Create(ctx, j))
			}
			j := jobs.New("https://youtube.com/watch?v=cntdone", jobs.PriorityNormal)
			require.NoError(t, st.Create(ctx, j))
			require.NoError(t, st.Transition(ctx, j.ID, jobs.StatusPending, jobs.StatusCancelled, Mutations{}))

			counts, err := st.CountByStatus(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(3), counts[jobs.StatusPending])
			assert.Equal(t, int64(1), counts[jobs.StatusCancelled])
		})
	}
}
