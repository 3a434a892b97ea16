package supervisor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/5gconnect/charmd/internal/definition"
	"github.com/5gconnect/charmd/internal/log"
)

// DefaultWaitDelay bounds how long a process's output pipes may stay open
// after it exits.
const DefaultWaitDelay = 2 * time.Second

// ProcessLauncher spawns services as tracked child processes.
type ProcessLauncher struct {
	logger      log.Logger
	outputLines int
	waitDelay   time.Duration
}

// NewProcessLauncher creates a launcher retaining up to outputLines lines of
// combined output per process.
func NewProcessLauncher(logger log.Logger, outputLines int) *ProcessLauncher {
	return &ProcessLauncher{
		logger:      logger,
		outputLines: outputLines,
		waitDelay:   DefaultWaitDelay,
	}
}

// Prepare implements Launcher. The command is split into words; no shell is
// involved unless the command names one.
func (l *ProcessLauncher) Prepare(name string, def definition.Definition) (Handle, error) {
	args, err := def.Args()
	if err != nil {
		return nil, err
	}
	return &processHandle{
		name:      name,
		args:      args,
		dir:       def.WorkingDirectory,
		env:       def.Environment,
		waitDelay: l.waitDelay,
		output:    newOutputBuffer(l.outputLines),
		done:      make(chan struct{}),
		logger:    l.logger.With("service", name),
	}, nil
}

type processHandle struct {
	name      string
	args      []string
	dir       string
	env       []string
	waitDelay time.Duration
	output    *outputBuffer
	done      chan struct{}
	logger    log.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	pid      int
	exitCode int
	exited   bool
}

func (h *processHandle) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pid == 0 {
		return "process:" + h.name
	}
	return fmt.Sprintf("pid:%d", h.pid)
}

func (h *processHandle) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.dir != "" {
		info, err := os.Stat(h.dir)
		if err != nil {
			return fmt.Errorf("working directory: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("working directory %s is not a directory", h.dir)
		}
	}

	// The process outlives ctx, so it is not bound to it.
	cmd := exec.Command(h.args[0], h.args[1:]...) //nolint:gosec // Commands come from operator configuration
	cmd.Dir = h.dir
	cmd.Env = append(os.Environ(), h.env...)
	cmd.Stdout = h.output
	cmd.Stderr = h.output
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = h.waitDelay

	if err := cmd.Start(); err != nil {
		h.output.close()
		close(h.done)
		return err
	}

	h.mu.Lock()
	h.cmd = cmd
	h.pid = cmd.Process.Pid
	h.mu.Unlock()

	h.logger.Debug("Process started", "pid", cmd.Process.Pid, "command", h.args[0])
	go h.wait()
	return nil
}

func (h *processHandle) wait() {
	err := h.cmd.Wait()
	code := exitStatus(h.cmd.ProcessState)

	h.mu.Lock()
	h.exitCode = code
	h.exited = true
	h.mu.Unlock()

	h.output.close()
	h.logger.Debug("Process exited", "code", code, "error", err)
	close(h.done)
}

func (h *processHandle) Terminate() error {
	return h.signal(syscall.SIGTERM)
}

func (h *processHandle) Kill() error {
	return h.signal(syscall.SIGKILL)
}

// signal delivers sig to the process group of a running process.
func (h *processHandle) signal(sig syscall.Signal) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pid == 0 || h.exited {
		return nil
	}
	if err := syscall.Kill(-h.pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to send %s to %s: %w", sig, h.name, err)
	}
	return nil
}

func (h *processHandle) Done() <-chan struct{} {
	return h.done
}

func (h *processHandle) ExitCode() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, h.exited
}

func (h *processHandle) Output(ctx context.Context) iter.Seq[string] {
	return h.output.follow(ctx)
}

// exitStatus reports the exit code, or 128+signal for signalled processes.
func exitStatus(ps *os.ProcessState) int {
	if ps == nil {
		return -1
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ps.ExitCode()
}
