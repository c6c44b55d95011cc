// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/aperio/internal/jobs"
	xlog "github.com/ManuGH/aperio/internal/log"
)

func TestRetryStopsOnSuccess(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Base: time.Millisecond, Factor: 2}
	calls := 0
	err := p.Do(context.Background(), xlog.Base(), "op", func() error {
		calls++
		if calls < 2 {
			return jobs.E(jobs.KindDownloadFailed, "transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryGivesUpAfterAttempts(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Base: time.Millisecond, Factor: 2}
	calls := 0
	err := p.Do(context.Background(), xlog.Base(), "op", func() error {
		calls++
		return jobs.E(jobs.KindDownloadFailed, "always")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, jobs.KindDownloadFailed, jobs.KindOf(err))
}

func TestRetryNeverRepeatsNonRetryable(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Base: time.Millisecond, Factor: 2}
	calls := 0
	err := p.Do(context.Background(), xlog.Base(), "op", func() error {
		calls++
		return jobs.E(jobs.KindSizeExceeded, "too large")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryHonorsContext(t *testing.T) {
	p := RetryPolicy{Attempts: 5, Base: time.Hour, Factor: 2}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Do(ctx, xlog.Base(), "op", func() error {
			calls++
			return jobs.E(jobs.KindDownloadFailed, "transient")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Equal(t, 1, calls, "no second attempt after cancellation")
	case <-time.After(time.Second):
		t.Fatal("retry did not abort on context cancellation")
	}
}

func TestRetryZeroAttemptsRunsOnce(t *testing.T) {
	p := RetryPolicy{}
	calls := 0
	_ = p.Do(context.Background(), xlog.Base(), "op", func() error {
		calls++
		return nil
	})
	assert.Equal(t, 1, calls)
}
