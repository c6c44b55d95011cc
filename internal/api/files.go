// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/aperio/internal/jobs"
	"github.com/ManuGH/aperio/internal/store"
	"github.com/ManuGH/aperio/internal/validate"
)

// handleVideo serves the final artifact as a download.
func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, true)
}

// handleStream serves the final artifact inline with range support for
// progressive playback.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, false)
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, attachment bool) {
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
	if job.Status != jobs.StatusCompleted {
		writeError(w, r, jobs.Ef(jobs.KindConflict, "job is %s, not Completed", job.Status))
		return
	}

	path, err := s.artifactPath(job)
	if err != nil {
		writeError(w, r, err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, r, jobs.E(jobs.KindOutputMissing, "artifact no longer exists"))
			return
		}
		writeError(w, r, jobs.Wrap(jobs.KindStorage, "cannot open artifact", err))
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		writeError(w, r, jobs.Wrap(jobs.KindStorage, "cannot stat artifact", err))
		return
	}

	// Clients see a stable download name, not the storage layout.
	name := "video_" + job.ID + ".mp4"
	w.Header().Set("Content-Type", "video/mp4")
	disposition := "inline"
	if attachment {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`%s; filename="%s"`, disposition, name))

	// ServeContent handles Range, If-Modified-Since and HEAD.
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// artifactPath resolves and confines the stored path to the storage root.
// A record pointing outside storage is treated as corrupt, not served.
func (s *Server) artifactPath(job *jobs.Job) (string, error) {
	if job.ProcessedPath == "" {
		return "", jobs.E(jobs.KindOutputMissing, "job has no artifact recorded")
	}
	path := filepath.Clean(job.ProcessedPath)
	root := filepath.Clean(s.storagePath)
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", jobs.E(jobs.KindInternal, "artifact path outside storage root")
	}
	return path, nil
}
