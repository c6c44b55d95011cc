// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build unix && !windows

// Package fsutil holds small filesystem helpers shared by workers and
// health checks.
package fsutil

import "syscall"

// FreeBytes returns the bytes available to unprivileged users on the
// filesystem containing path.
func FreeBytes(path string) (uint64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}
