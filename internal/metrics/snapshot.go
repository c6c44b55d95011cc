// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/aperio/internal/jobs"
	"github.com/ManuGH/aperio/internal/store"
)

// Snapshot is the JSON view of pipeline state at one instant.
type Snapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	TotalJobs     int64     `json:"total_jobs"`
	Pending       int64     `json:"pending"`
	Claimed       int64     `json:"claimed"`
	Downloading   int64     `json:"downloading"`
	Processing    int64     `json:"processing"`
	Completed     int64     `json:"completed"`
	Failed        int64     `json:"failed"`
	Cancelled     int64     `json:"cancelled"`
	QueueDepth    int       `json:"queue_depth"`
	ActiveJobs    int64     `json:"active_jobs"`
}

// DepthFunc reports the current dispatch queue depth.
type DepthFunc func() int

// Collector produces snapshots from the store and keeps a bounded history
// for trend inspection.
type Collector struct {
	store   store.Store
	depth   DepthFunc
	started time.Time

	mu      sync.RWMutex
	history []Snapshot
	max     int
}

// NewCollector builds a Collector keeping at most maxHistory snapshots.
func NewCollector(s store.Store, depth DepthFunc, maxHistory int) *Collector {
	if maxHistory < 1 {
		maxHistory = 60
	}
	return &Collector{
		store:   s,
		depth:   depth,
		started: time.Now(),
		max:     maxHistory,
	}
}

// Snapshot queries the store for current per-status counts.
func (c *Collector) Snapshot(ctx context.Context) (Snapshot, error) {
	counts, err := c.store.CountByStatus(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	s := Snapshot{
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(c.started).Seconds()),
		Pending:       counts[jobs.StatusPending],
		Claimed:       counts[jobs.StatusClaimed],
		Downloading:   counts[jobs.StatusDownloading],
		Processing:    counts[jobs.StatusProcessing],
		Completed:     counts[jobs.StatusCompleted],
		Failed:        counts[jobs.StatusFailed],
		Cancelled:     counts[jobs.StatusCancelled],
		QueueDepth:    c.depth(),
	}
	for _, n := range counts {
		s.TotalJobs += n
	}
	s.ActiveJobs = s.Claimed + s.Downloading + s.Processing
	return s, nil
}

// History returns the recorded snapshots, oldest first.
func (c *Collector) History() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Snapshot, len(c.history))
	copy(out, c.history)
	return out
}

// Run records a snapshot every interval until ctx is done.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s, err := c.Snapshot(ctx)
			if err != nil {
				continue
			}
			c.record(s)
		}
	}
}

func (c *Collector) record(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, s)
	if len(c.history) > c.max {
		c.history = c.history[len(c.history)-c.max:]
	}
}
