// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"

	"github.com/ManuGH/aperio/internal/jobs"
)

// handleMetrics returns the JSON pipeline snapshot.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.collector.Snapshot(r.Context())
	if err != nil {
		writeError(w, r, jobs.Wrap(jobs.KindStorage, "snapshot failed", err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleMetricsHistory returns the recorded snapshot ring, oldest first.
func (s *Server) handleMetricsHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.History())
}
