// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build windows

package fsutil

import "errors"

// ErrUnsupported marks platforms without a free-space probe. Callers treat
// this as "unknown" and soft-allow.
var ErrUnsupported = errors.New("free-space probe not supported on this platform")

// FreeBytes is unsupported on Windows; callers must soft-allow.
func FreeBytes(string) (uint64, error) {
	return 0, ErrUnsupported
}
