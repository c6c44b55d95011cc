// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/aperio/internal/jobs"
	"github.com/ManuGH/aperio/internal/log"
	"github.com/ManuGH/aperio/internal/store"
	"github.com/ManuGH/aperio/internal/validate"
)

// submitRequest is the POST /process payload.
type submitRequest struct {
	URL      string `json:"url"`
	Priority string `json:"priority,omitempty"`
}

// listResponse is the GET /jobs payload.
type listResponse struct {
	Jobs       []*jobs.Job    `json:"jobs"`
	Pagination paginationInfo `json:"pagination"`
}

type paginationInfo struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalPages  int64 `json:"total_pages"`
	TotalJobs   int64 `json:"total_jobs"`
}

// cancelResponse is the DELETE /jobs/{id} payload.
type cancelResponse struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// handleSubmit admits a new job. 202 on creation; 200 with the existing
// record when a non-terminal job for the same URL already exists.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxPayload)

	var req submitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, jobs.Wrap(jobs.KindInvalidURL, "invalid JSON body", err))
		return
	}

	url, err := s.validator.URL(req.URL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	prio := jobs.ParsePriority(req.Priority)

	job, created, err := s.scheduler.Submit(r.Context(), url, prio)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	if !created {
		logger.Info().
			Str(log.FieldEvent, "api.duplicate_submit").
			Str(log.FieldJobID, job.ID).
			Msg("returning existing job for duplicate URL")
		writeJSON(w, http.StatusOK, job)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleStatus returns the full job record.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validate.JobID(id); err != nil {
		writeError(w, r, err)
		return
	}
	job, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, jobs.E(jobs.KindNotFound, "no such job"))
			return
		}
		writeError(w, r, jobs.Wrap(jobs.KindStorage, "lookup failed", err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleList returns one page of jobs, newest first, optionally filtered
// by status.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page := 0
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, jobs.E(jobs.KindInvalidPagination, "page must be a non-negative integer"))
			return
		}
		page = n
	}

	pageSize := defaultPageSize
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			writeError(w, r, jobs.Ef(jobs.KindInvalidPagination, "page_size must be in [1,%d]", maxPageSize))
			return
		}
		pageSize = n
	}

	var statusFilter *jobs.Status
	if v := q.Get("status"); v != "" {
		st, ok := jobs.ParseStatus(v)
		if !ok {
			writeError(w, r, jobs.E(jobs.KindInvalidPagination, "unknown status filter"))
			return
		}
		statusFilter = &st
	}

	list, total, err := s.store.List(r.Context(), page, pageSize, statusFilter)
	if err != nil {
		writeError(w, r, jobs.Wrap(jobs.KindStorage, "list failed", err))
		return
	}
	totalPages := (total + int64(pageSize) - 1) / int64(pageSize)
	writeJSON(w, http.StatusOK, listResponse{
		Jobs: list,
		Pagination: paginationInfo{
			CurrentPage: page,
			PageSize:    pageSize,
			TotalPages:  totalPages,
			TotalJobs:   total,
		},
	})
}

// handleCancel stops a queued or running job.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validate.JobID(id); err != nil {
		writeError(w, r, err)
		return
	}
	job, err := s.scheduler.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{
		JobID:   job.ID,
		Message: "Job cancelled successfully",
	})
}
