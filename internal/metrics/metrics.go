// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics exposes Prometheus collectors for the job pipeline and a
// JSON snapshot view backed by the store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsSubmitted counts accepted submissions.
	JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aperio_jobs_submitted_total",
		Help: "Total jobs accepted for processing",
	})

	// JobsFinished counts jobs reaching a terminal state, by outcome.
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aperio_jobs_finished_total",
		Help: "Total jobs reaching a terminal state",
	}, []string{"status"})

	// QueueDepth tracks jobs waiting for dispatch.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aperio_queue_depth",
		Help: "Jobs waiting for dispatch",
	})

	// ActiveJobs tracks jobs between dispatch and a terminal state.
	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aperio_active_jobs",
		Help: "Jobs currently downloading or processing",
	})

	// JobSeconds observes the active span of finished jobs.
	JobSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aperio_job_seconds",
		Help:    "Active duration of finished jobs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
	}, []string{"status"})

	// HTTPRequests counts API requests by route, method and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aperio_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"route", "method", "status"})

	// HTTPDuration observes API request latency by route.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aperio_http_request_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	// RetentionScanned counts terminal records examined by the retention
	// sweeper.
	RetentionScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aperio_retention_scanned_total",
		Help: "Terminal job records examined by retention",
	})

	// RetentionDeleted counts records removed by the retention sweeper.
	RetentionDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aperio_retention_deleted_total",
		Help: "Terminal job records removed by retention",
	})

	// RetentionBytes counts artifact bytes reclaimed by the retention
	// sweeper.
	RetentionBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aperio_retention_bytes_reclaimed_total",
		Help: "Artifact bytes reclaimed by retention",
	})
)
