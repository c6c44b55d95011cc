// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ManuGH/aperio/internal/jobs"
)

var (
	storeOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aperio_store_ops_total",
			Help: "Total store operations",
		},
		[]string{"backend", "op", "result"}, // result=success/error
	)
	storeLat = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aperio_store_op_seconds",
			Help:    "Store operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)
)

// instrumentedStore wraps any Store to capture metrics.
type instrumentedStore struct {
	inner   Store
	backend string
}

func NewInstrumentedStore(inner Store, backend string) Store {
	return &instrumentedStore{inner: inner, backend: backend}
}

func (i *instrumentedStore) observe(op string, start time.Time, err error) {
	res := "success"
	if err != nil {
		res = "error"
	}
	storeOps.WithLabelValues(i.backend, op, res).Inc()
	storeLat.WithLabelValues(i.backend, op).Observe(time.Since(start).Seconds())
}

func (i *instrumentedStore) Create(ctx context.Context, job *jobs.Job) (err error) {
	start := time.Now()
	defer func() { i.observe("create", start, err) }()
	return i.inner.Create(ctx, job)
}

func (i *instrumentedStore) Get(ctx context.Context, id string) (j *jobs.Job, err error) {
	start := time.Now()
	defer func() { i.observe("get", start, err) }()
	return i.inner.Get(ctx, id)
}

func (i *instrumentedStore) List(ctx context.Context, page, pageSize int, status *jobs.Status) (list []*jobs.Job, total int64, err error) {
	start := time.Now()
	defer func() { i.observe("list", start, err) }()
	return i.inner.List(ctx, page, pageSize, status)
}

func (i *instrumentedStore) Transition(ctx context.Context, id string, from, to jobs.Status, mut Mutations) (err error) {
	start := time.Now()
	defer func() { i.observe("transition", start, err) }()
	return i.inner.Transition(ctx, id, from, to, mut)
}

func (i *instrumentedStore) ClaimPending(ctx context.Context, limit int) (claimed []*jobs.Job, err error) {
	start := time.Now()
	defer func() { i.observe("claim_pending", start, err) }()
	return i.inner.ClaimPending(ctx, limit)
}

func (i *instrumentedStore) ListByStatus(ctx context.Context, statuses ...jobs.Status) (list []*jobs.Job, err error) {
	start := time.Now()
	defer func() { i.observe("list_by_status", start, err) }()
	return i.inner.ListByStatus(ctx, statuses...)
}

func (i *instrumentedStore) FindActiveByURL(ctx context.Context, url string) (j *jobs.Job, err error) {
	start := time.Now()
	defer func() { i.observe("find_active_by_url", start, err) }()
	return i.inner.FindActiveByURL(ctx, url)
}

func (i *instrumentedStore) ListTerminalOlderThan(ctx context.Context, cutoff time.Time) (list []*jobs.Job, err error) {
	start := time.Now()
	defer func() { i.observe("list_terminal", start, err) }()
	return i.inner.ListTerminalOlderThan(ctx, cutoff)
}

func (i *instrumentedStore) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { i.observe("delete", start, err) }()
	return i.inner.Delete(ctx, id)
}

func (i *instrumentedStore) CountByStatus(ctx context.Context) (counts map[jobs.Status]int64, err error) {
	start := time.Now()
	defer func() { i.observe("count_by_status", start, err) }()
	return i.inner.CountByStatus(ctx)
}

func (i *instrumentedStore) Close() error { return i.inner.Close() }
