// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package jobs

import (
	"errors"
	"fmt"
)

// Kind is a compact, typed failure signal. Retryability is a property of the
// kind, never of the message text.
type Kind string

const (
	KindInvalidURL        Kind = "InvalidUrl"
	KindInvalidJobID      Kind = "InvalidJobId"
	KindInvalidPagination Kind = "InvalidPagination"
	KindNotFound          Kind = "NotFound"
	KindConflict          Kind = "NotInExpectedState"
	KindQueueFull         Kind = "QueueFull"
	KindDownloaderMissing Kind = "DownloaderMissing"
	KindEncoderMissing    Kind = "EncoderMissing"
	KindStorage           Kind = "StorageUnavailable"
	KindDownloadFailed    Kind = "DownloadFailed"
	KindProcessingFailed  Kind = "ProcessingFailed"
	KindTimeout           Kind = "Timeout"
	KindSizeExceeded      Kind = "SizeExceeded"
	KindOutputMissing     Kind = "OutputMissing"
	KindCancelled         Kind = "Cancelled"
	KindInternal          Kind = "Internal"
)

// Retryable reports whether a worker may retry an operation that failed with
// this kind. Validation, capacity and terminal outcomes are never retried.
func (k Kind) Retryable() bool {
	switch k {
	case KindDownloadFailed, KindTimeout, KindStorage:
		return true
	}
	return false
}

// Error is the closed error sum used across the orchestration core.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is matching against a bare kind error.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// E constructs a typed error.
func E(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Ef constructs a typed error with a formatted detail.
func Ef(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap constructs a typed error preserving the cause.
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf extracts the kind from err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// permanent pins an error as non-retryable regardless of its kind.
type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent wraps err so IsRetryable reports false even for a kind that is
// normally retryable. Used when the failure output shows the cause will not
// go away on its own.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// IsRetryable reports whether the error carries a retryable kind and has not
// been pinned permanent.
func IsRetryable(err error) bool {
	var p *permanent
	if errors.As(err, &p) {
		return false
	}
	return KindOf(err).Retryable()
}
