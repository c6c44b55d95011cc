// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api exposes the HTTP surface: submission, status, cancellation,
// artifact delivery and monitoring.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/aperio/internal/api/middleware"
	"github.com/ManuGH/aperio/internal/config"
	"github.com/ManuGH/aperio/internal/health"
	"github.com/ManuGH/aperio/internal/metrics"
	"github.com/ManuGH/aperio/internal/scheduler"
	"github.com/ManuGH/aperio/internal/store"
	"github.com/ManuGH/aperio/internal/validate"
)

// Server wires handlers, middleware and their dependencies into one
// http.Handler.
type Server struct {
	router      chi.Router
	store       store.Store
	scheduler   *scheduler.Scheduler
	validator   *validate.Validator
	healthMgr   *health.Manager
	collector   *metrics.Collector
	storagePath string
	maxPayload  int64
}

// New builds the Server and its route table.
func New(cfg config.Config, st store.Store, sched *scheduler.Scheduler, hm *health.Manager, mc *metrics.Collector) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		store:       st,
		scheduler:   sched,
		validator:   validate.New(cfg.Download.AllowedDomains, cfg.Security.MaxURLLength),
		healthMgr:   hm,
		collector:   mc,
		storagePath: cfg.Storage.StoragePath,
		maxPayload:  cfg.Server.MaxPayloadSize,
	}
	s.routes(cfg)
	return s
}

func (s *Server) routes(cfg config.Config) {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.AccessLog)
	r.Use(middleware.SecurityHeaders(""))
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))

	// Probes and metrics skip the rate limiter so orchestration never gets
	// throttled out of its own probes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Metrics)
		r.Get("/health", s.healthMgr.ServeHealth)
		r.Get("/health/detailed", s.healthMgr.ServeHealthDetailed)
		r.Get("/health/ready", s.healthMgr.ServeReady)
		r.Get("/health/live", s.healthMgr.ServeLive)
		r.Get("/ready", s.healthMgr.ServeReady)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/metrics/history", s.handleMetricsHistory)
		r.Method(http.MethodGet, "/metrics/prometheus", promhttp.Handler())
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Metrics)
		r.Use(middleware.APIRateLimit())

		r.With(middleware.SubmitRateLimit()).Post("/process", s.handleSubmit)
		r.Get("/status/{id}", s.handleStatus)
		r.Get("/jobs", s.handleList)
		r.Delete("/jobs/{id}", s.handleCancel)
		r.Get("/video/{id}", s.handleVideo)
		r.Get("/stream/{id}", s.handleStream)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
