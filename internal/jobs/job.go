// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package jobs defines the persistent job record and its lifecycle types.
package jobs

import (
	"time"

	"github.com/google/uuid"
)

// Status is the client-visible lifecycle of a job.
// Keep these stable: the database, metrics and client UX depend on them.
type Status string

const (
	StatusPending     Status = "Pending"
	StatusClaimed     Status = "Claimed"
	StatusDownloading Status = "Downloading"
	StatusProcessing  Status = "Processing"
	StatusCompleted   Status = "Completed"
	StatusFailed      Status = "Failed"
	StatusCancelled   Status = "Cancelled"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsActive returns true while a worker may hold permits for the job.
func (s Status) IsActive() bool {
	switch s {
	case StatusClaimed, StatusDownloading, StatusProcessing:
		return true
	}
	return false
}

// ParseStatus maps a stored or client-supplied string to a Status.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusClaimed, StatusDownloading, StatusProcessing,
		StatusCompleted, StatusFailed, StatusCancelled:
		return Status(s), true
	}
	return "", false
}

// Priority orders runnable jobs. Higher values dispatch first.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// ParsePriority maps a client-supplied string to a Priority.
// Unknown or empty input defaults to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Job is the system-of-record for a single submission.
//
// Invariants enforced by the store and scheduler:
//   - processed_path is set iff status is Completed
//   - error_message is set iff status is Failed
//   - updated_at never moves backwards
type Job struct {
	ID             string    `json:"id"`
	URL            string    `json:"url"`
	Priority       Priority  `json:"priority"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	DownloadedPath string    `json:"-"`
	ProcessedPath  string    `json:"-"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	// ProcessingSeconds is the wall time from first dispatch to terminal state.
	ProcessingSeconds int64 `json:"processing_time_seconds,omitempty"`
}

// New returns a Pending job for the given validated URL.
func New(url string, prio Priority) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		URL:       url,
		Priority:  prio,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
