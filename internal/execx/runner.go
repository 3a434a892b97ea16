// Package execx provides a testable abstraction for running short-lived
// helper commands such as journalctl.
package execx

import (
	"context"
	"os/exec"
	"time"
)

// Runner defines an interface for executing external commands.
type Runner interface {
	CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RealRunner implements Runner using os/exec.
type RealRunner struct{}

// NewRealRunner creates a new RealRunner.
func NewRealRunner() *RealRunner {
	return &RealRunner{}
}

// CombinedOutput executes a command and returns its combined stdout and stderr output.
func (r *RealRunner) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// TimeoutRunner bounds every command run through the wrapped Runner.
type TimeoutRunner struct {
	Runner  Runner
	Timeout time.Duration
}

// WithTimeout wraps r so that no command runs longer than d.
func WithTimeout(r Runner, d time.Duration) *TimeoutRunner {
	return &TimeoutRunner{Runner: r, Timeout: d}
}

// CombinedOutput runs the command with the configured deadline applied.
func (r *TimeoutRunner) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	return r.Runner.CombinedOutput(ctx, name, args...)
}
