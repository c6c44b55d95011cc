// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package store persists job records and owns all status transitions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/aperio/internal/jobs"
)

var (
	// ErrNotFound is returned when no job exists for the given id.
	ErrNotFound = errors.New("job not found")
	// ErrConflict is returned when a CAS transition observes a stale status.
	ErrConflict = errors.New("job not in expected state")
)

// Mutations are the optional field updates applied together with a status
// transition. Nil fields are left untouched.
type Mutations struct {
	DownloadedPath    *string
	ProcessedPath     *string
	ErrorMessage      *string
	ProcessingSeconds *int64
}

// Store is the system-of-record for jobs.
//
// Design intent:
//   - Transition is the sole mechanism for changing status. It is an atomic
//     compare-and-set; a stale expectation yields ErrConflict without side
//     effects. This is the linearizability anchor for the whole pipeline.
//   - ClaimPending flips a batch of Pending jobs to Claimed in one
//     transaction so dispatch cannot race admission or restart recovery.
type Store interface {
	Create(ctx context.Context, job *jobs.Job) error
	Get(ctx context.Context, id string) (*jobs.Job, error)
	// List returns one page ordered by created_at descending plus the total
	// count for the filter. page is zero-based; pageSize must be in [1,100].
	List(ctx context.Context, page, pageSize int, status *jobs.Status) ([]*jobs.Job, int64, error)
	Transition(ctx context.Context, id string, from, to jobs.Status, mut Mutations) error
	// ClaimPending selects up to limit Pending jobs ordered by priority then
	// created_at and atomically transitions them to Claimed.
	ClaimPending(ctx context.Context, limit int) ([]*jobs.Job, error)
	// ListByStatus returns all jobs in any of the given statuses, ordered by
	// priority then created_at. Used by startup recovery.
	ListByStatus(ctx context.Context, statuses ...jobs.Status) ([]*jobs.Job, error)
	// FindActiveByURL returns a non-terminal job for the URL, or ErrNotFound.
	FindActiveByURL(ctx context.Context, url string) (*jobs.Job, error)
	ListTerminalOlderThan(ctx context.Context, cutoff time.Time) ([]*jobs.Job, error)
	Delete(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (map[jobs.Status]int64, error)
	Close() error
}

// Ptr is a small helper for building Mutations literals.
func Ptr[T any](v T) *T { return &v }
