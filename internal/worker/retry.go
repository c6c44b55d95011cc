// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/aperio/internal/jobs"
	xlog "github.com/ManuGH/aperio/internal/log"
)

// RetryPolicy retries an operation with exponential backoff. Only errors
// whose kind is retryable trigger another attempt.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Factor   float64
}

// DefaultDownloadRetry allows one retry after a transient fetch failure.
var DefaultDownloadRetry = RetryPolicy{Attempts: 2, Base: 1 * time.Second, Factor: 2.0}

// Do runs fn up to p.Attempts times. Non-retryable errors and context
// expiry abort immediately.
func (p RetryPolicy) Do(ctx context.Context, logger zerolog.Logger, op string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := p.Base
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !jobs.IsRetryable(err) || attempt == attempts {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		logger.Warn().
			Str(xlog.FieldEvent, "worker.retry").
			Int(xlog.FieldAttempt, attempt).
			Dur("backoff", delay).
			Err(err).
			Msgf("%s failed, retrying", op)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * p.Factor)
	}
	return err
}
