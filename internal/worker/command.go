// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package worker runs the external fetch and encode tools for a single job.
// Subprocesses run in their own process group so that helper children die
// with the parent on timeout or cancellation.
package worker

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"time"

	"github.com/ManuGH/aperio/internal/jobs"
	"github.com/ManuGH/aperio/internal/procgroup"
)

// killGrace is how long a subprocess gets between SIGTERM and SIGKILL.
const killGrace = 5 * time.Second

// run starts name with args and waits for it, honoring ctx. On ctx
// expiry the whole process group is terminated. The raw wait error is
// returned for exit-status classification by the caller; ctx expiry is
// mapped to a typed Timeout or Cancelled error.
func run(ctx context.Context, name string, args []string, stderr io.Writer) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = stderr
	cmd.Stderr = stderr
	procgroup.Set(cmd)

	if err := cmd.Start(); err != nil {
		return jobs.Wrap(jobs.KindInternal, "failed to start subprocess", err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case err := <-waitCh:
		return err
	case <-ctx.Done():
		_ = procgroup.Terminate(cmd, waitCh, killGrace)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return jobs.Wrap(jobs.KindTimeout, "subprocess deadline exceeded", ctx.Err())
		}
		return jobs.Wrap(jobs.KindCancelled, "subprocess cancelled", ctx.Err())
	}
}
