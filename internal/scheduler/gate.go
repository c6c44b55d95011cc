// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package scheduler

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate bounds pipeline concurrency with three weighted semaphores: one for
// downloads, one for encodes, and one for total in-flight jobs. Permits are
// memory only and are rebuilt empty at startup; the store is the durable
// record of what was running.
type Gate struct {
	download *semaphore.Weighted
	process  *semaphore.Weighted
	total    *semaphore.Weighted
}

// NewGate builds a Gate for the given concurrency limits.
func NewGate(downloads, processing, total int64) *Gate {
	return &Gate{
		download: semaphore.NewWeighted(downloads),
		process:  semaphore.NewWeighted(processing),
		total:    semaphore.NewWeighted(total),
	}
}

// TryAcquireStart takes a total permit and a download permit without
// blocking. Dispatch must never block the scheduler loop.
func (g *Gate) TryAcquireStart() bool {
	if !g.total.TryAcquire(1) {
		return false
	}
	if !g.download.TryAcquire(1) {
		g.total.Release(1)
		return false
	}
	return true
}

// ReleaseDownload returns the download permit once fetching is done. The
// total permit stays held until the job reaches a terminal state.
func (g *Gate) ReleaseDownload() { g.download.Release(1) }

// AcquireProcess blocks until an encode slot is free or ctx is done.
func (g *Gate) AcquireProcess(ctx context.Context) error {
	return g.process.Acquire(ctx, 1)
}

// ReleaseProcess returns the encode permit.
func (g *Gate) ReleaseProcess() { g.process.Release(1) }

// ReleaseTotal returns the total permit when the job is terminal.
func (g *Gate) ReleaseTotal() { g.total.Release(1) }
