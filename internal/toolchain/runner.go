package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/zksmith/contract-worker/internal/adapter/observability"
)

// maxSubprocesses bounds toolchain processes across all workers in this
// process, regardless of the worker count.
const maxSubprocesses = 8

var procSem = semaphore.NewWeighted(maxSubprocesses)

// RunResult carries a finished subprocess's streams and exit code.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner spawns one toolchain subprocess with the working directory set to
// the workspace. A non-zero exit is reported through ExitCode, not err; err
// means the process could not run at all.
type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (RunResult, error)
}

// ExecRunner runs real subprocesses.
type ExecRunner struct{}

// Run implements Runner on os/exec.
func (ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) (RunResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := RunResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("op=toolchain.Run: %s: %w", name, err)
	}
	return res, nil
}

// runLimited acquires a subprocess permit, runs, and records wall time. The
// acquire suspends when all permits are in use, so at most maxSubprocesses
// toolchain processes exist at any instant.
func runLimited(ctx context.Context, r Runner, command, dir, name string, args ...string) (RunResult, error) {
	if err := procSem.Acquire(ctx, 1); err != nil {
		return RunResult{}, fmt.Errorf("op=toolchain.runLimited: %w", err)
	}
	defer procSem.Release(1)

	observability.SubprocessesInFlight.Inc()
	defer observability.SubprocessesInFlight.Dec()
	start := time.Now()
	res, err := r.Run(ctx, dir, name, args...)
	observability.SubprocessDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
	return res, err
}
