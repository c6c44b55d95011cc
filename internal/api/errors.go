// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode"

	"github.com/ManuGH/aperio/internal/jobs"
	"github.com/ManuGH/aperio/internal/log"
)

// errorBody is the uniform error envelope. The error field is the stable
// machine-readable kind; reason is human-oriented and may change.
type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(kind jobs.Kind) int {
	switch kind {
	case jobs.KindInvalidURL, jobs.KindInvalidJobID, jobs.KindInvalidPagination:
		return http.StatusBadRequest
	case jobs.KindNotFound:
		return http.StatusNotFound
	case jobs.KindConflict:
		return http.StatusConflict
	case jobs.KindQueueFull, jobs.KindDownloaderMissing, jobs.KindEncoderMissing:
		return http.StatusServiceUnavailable
	case jobs.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as the JSON envelope. Internal kinds never leak
// their detail to clients.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := jobs.KindOf(err)
	status := statusFor(kind)

	reason := ""
	var typed *jobs.Error
	if errors.As(err, &typed) {
		reason = typed.Detail
	}
	if status >= http.StatusInternalServerError {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).
			Str(log.FieldEvent, "api.error").
			Str(log.FieldPath, r.URL.Path).
			Msg("request failed")
		reason = ""
	}

	if kind == jobs.KindQueueFull {
		w.Header().Set("Retry-After", "30")
	}
	writeJSON(w, status, errorBody{Error: string(kind), Reason: sanitize(reason)})
}

// writeJSON renders v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sanitize strips control characters so subprocess output cannot corrupt
// the JSON line or a terminal rendering it.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
}
