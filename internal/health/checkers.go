// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ManuGH/aperio/internal/fsutil"
)

// DBChecker pings the job database.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a checker for database connectivity.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

func (c *DBChecker) Name() string { return "database" }

func (c *DBChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.db.PingContext(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "reachable"}
}

// BinaryChecker verifies an external tool is on PATH. A missing fetch or
// encode tool degrades rather than kills readiness: queued jobs will fail
// individually but the API can still serve existing results.
type BinaryChecker struct {
	name    string
	command string
}

// NewBinaryChecker creates a checker for an external tool.
func NewBinaryChecker(name, command string) *BinaryChecker {
	return &BinaryChecker{name: name, command: command}
}

func (c *BinaryChecker) Name() string { return c.name }

func (c *BinaryChecker) Check(_ context.Context) CheckResult {
	path, err := exec.LookPath(c.command)
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: "not found in PATH", Message: c.command}
	}
	return CheckResult{Status: StatusHealthy, Message: path}
}

// DirChecker verifies a directory exists and is writable by probing with a
// temp file.
type DirChecker struct {
	name string
	path string
}

// NewDirChecker creates a checker for a writable directory.
func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

func (c *DirChecker) Name() string { return c.name }

func (c *DirChecker) Check(_ context.Context) CheckResult {
	info, err := os.Stat(c.path)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: c.path}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusUnhealthy, Error: "not a directory", Message: c.path}
	}
	f, err := os.CreateTemp(c.path, ".healthprobe-*")
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: "not writable", Message: c.path}
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return CheckResult{Status: StatusHealthy, Message: filepath.Clean(c.path)}
}

// DiskChecker degrades when free space on a directory's filesystem drops
// below minBytes. Platforms without a free-space probe report healthy.
type DiskChecker struct {
	name     string
	path     string
	minBytes uint64
}

// NewDiskChecker creates a free-space checker for the given directory.
func NewDiskChecker(name, path string, minBytes uint64) *DiskChecker {
	return &DiskChecker{name: name, path: path, minBytes: minBytes}
}

func (c *DiskChecker) Name() string { return c.name }

func (c *DiskChecker) Check(_ context.Context) CheckResult {
	free, err := fsutil.FreeBytes(c.path)
	if err != nil {
		return CheckResult{Status: StatusHealthy, Message: "free-space probe unavailable"}
	}
	if free < c.minBytes {
		return CheckResult{
			Status:  StatusDegraded,
			Error:   "low disk space",
			Message: fmt.Sprintf("%d bytes free, %d required", free, c.minBytes),
		}
	}
	return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d bytes free", free)}
}
