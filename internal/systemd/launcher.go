package systemd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/juju/clock"

	"github.com/5gconnect/charmd/internal/definition"
	"github.com/5gconnect/charmd/internal/log"
	"github.com/5gconnect/charmd/internal/supervisor"
)

// Values of ExecMainCode for processes ended by a signal.
const (
	cldKilled = 2
	cldDumped = 3
)

// callTimeout bounds D-Bus calls made outside a caller's context.
const callTimeout = 30 * time.Second

// UnitLauncherOptions configures a UnitLauncher.
type UnitLauncherOptions struct {
	Factory       ConnectionFactory
	Diagnostics   *Diagnostics
	Clock         clock.Clock
	UserMode      bool
	WatchInterval time.Duration
	Logger        log.Logger
}

// UnitLauncher runs definitions as systemd units. The unit file must already
// be persisted under the service name.
type UnitLauncher struct {
	factory     ConnectionFactory
	diagnostics *Diagnostics
	clock       clock.Clock
	userMode    bool
	interval    time.Duration
	logger      log.Logger
}

// NewUnitLauncher creates a UnitLauncher.
func NewUnitLauncher(opts UnitLauncherOptions) *UnitLauncher {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = 2 * time.Second
	}
	return &UnitLauncher{
		factory:     opts.Factory,
		diagnostics: opts.Diagnostics,
		clock:       opts.Clock,
		userMode:    opts.UserMode,
		interval:    opts.WatchInterval,
		logger:      opts.Logger,
	}
}

// UnitName returns the systemd unit name for a service.
func UnitName(service string) string {
	return service + ".service"
}

// Prepare implements supervisor.Launcher.
func (l *UnitLauncher) Prepare(name string, _ definition.Definition) (supervisor.Handle, error) {
	if err := definition.ValidateName(name); err != nil {
		return nil, err
	}
	return l.newHandle(name), nil
}

func (l *UnitLauncher) newHandle(name string) *unitHandle {
	return &unitHandle{
		launcher: l,
		unit:     UnitName(name),
		done:     make(chan struct{}),
		release:  make(chan struct{}),
		logger:   l.logger.With("unit", UnitName(name)),
	}
}

// Attach implements supervisor.Attacher. A unit that is active, activating
// or reloading is taken over and watched. A failed unit is reported with
// the exit status of its main process.
func (l *UnitLauncher) Attach(ctx context.Context, name string, _ definition.Definition) (supervisor.Attachment, error) {
	unit := UnitName(name)
	conn, err := l.factory.NewConnection(ctx, l.userMode)
	if err != nil {
		return supervisor.Attachment{}, err
	}

	props, err := conn.GetUnitProperties(ctx, unit)
	if err != nil {
		_ = conn.Close()
		return supervisor.Attachment{}, NewError("attach", unit, err)
	}
	if load, _ := props["LoadState"].(string); load == "not-found" {
		_ = conn.Close()
		return supervisor.Attachment{}, nil
	}

	switch state, _ := props["ActiveState"].(string); state {
	case "active", "activating", "reloading":
	case "failed":
		_ = conn.Close()
		code := exitCodeFromProperties(props)
		l.logger.Debug("Unit is in failed state", "unit", unit, "exitCode", code)
		return supervisor.Attachment{Failed: true, ExitCode: &code}, nil
	default:
		_ = conn.Close()
		return supervisor.Attachment{}, nil
	}

	h := l.newHandle(name)
	h.conn = conn
	go h.watch()
	l.logger.Debug("Attached to running unit", "unit", unit)
	return supervisor.Attachment{Handle: h}, nil
}

type unitHandle struct {
	launcher *UnitLauncher
	unit     string
	done     chan struct{}
	release  chan struct{}
	once     sync.Once
	logger   log.Logger

	mu       sync.Mutex
	conn     Connection
	exitCode int
	exited   bool
}

func (h *unitHandle) ID() string {
	return h.unit
}

// Start reloads systemd, clears any failed state left by an earlier run,
// starts the unit and waits for the job result.
func (h *unitHandle) Start(ctx context.Context) error {
	l := h.launcher
	conn, err := l.factory.NewConnection(ctx, l.userMode)
	if err != nil {
		return err
	}

	if err := conn.Reload(ctx); err != nil {
		_ = conn.Close()
		return NewError("reload", h.unit, err)
	}

	if err := conn.ResetFailedUnit(ctx, h.unit); err != nil {
		h.logger.Debug("Could not reset failed state", "error", err)
	}

	ch, err := conn.StartUnit(ctx, h.unit, "replace")
	if err != nil {
		_ = conn.Close()
		return NewError("start", h.unit, err)
	}

	var result string
	select {
	case result = <-ch:
	case <-ctx.Done():
		_ = conn.Close()
		return NewError("start", h.unit, ctx.Err())
	}

	if result != "done" {
		state, _ := activeState(ctx, conn, h.unit)
		if state != "active" && state != "activating" {
			details := ""
			if l.diagnostics != nil {
				details = "\n" + l.diagnostics.FailureDetails(ctx, conn, h.unit)
			}
			_ = conn.Close()
			return NewError("start", h.unit, fmt.Errorf("job %s, unit is %s%s", result, state, details))
		}
		h.logger.Debug("Unit still activating after job result", "result", result, "state", state)
	}

	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()

	h.logger.Debug("Unit started")
	go h.watch()
	return nil
}

// watch polls the unit until it is no longer running or the handle is
// released.
func (h *unitHandle) watch() {
	l := h.launcher
	for {
		select {
		case <-l.clock.After(l.interval):
		case <-h.release:
			h.mu.Lock()
			_ = h.conn.Close()
			h.conn = nil
			h.mu.Unlock()
			h.logger.Debug("Unit released")
			close(h.done)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		props, err := h.conn.GetUnitProperties(ctx, h.unit)
		cancel()
		if err != nil {
			h.logger.Warn("Failed to poll unit state", "error", err)
			continue
		}

		state, _ := props["ActiveState"].(string)
		if state != "inactive" && state != "failed" {
			continue
		}

		code := exitCodeFromProperties(props)
		h.mu.Lock()
		h.exitCode = code
		h.exited = true
		_ = h.conn.Close()
		h.mu.Unlock()

		h.logger.Debug("Unit no longer running", "state", state, "exitCode", code)
		close(h.done)
		return
	}
}

func exitCodeFromProperties(props map[string]interface{}) int {
	status, _ := props["ExecMainStatus"].(int32)
	mainCode, _ := props["ExecMainCode"].(int32)
	if mainCode == cldKilled || mainCode == cldDumped {
		return 128 + int(status)
	}
	return int(status)
}

func activeState(ctx context.Context, conn Connection, unit string) (string, error) {
	prop, err := conn.GetUnitProperty(ctx, unit, "ActiveState")
	if err != nil {
		return "unknown", err
	}
	state, ok := prop.Value.Value().(string)
	if !ok {
		return "unknown", errors.New("ActiveState is not a string")
	}
	return state, nil
}

// Terminate asks systemd to stop the unit. Completion is observed by watch.
func (h *unitHandle) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil || h.exited {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if _, err := h.conn.StopUnit(ctx, h.unit, "replace"); err != nil {
		return NewError("stop", h.unit, err)
	}
	return nil
}

// Kill sends SIGKILL to every process of the unit.
func (h *unitHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil || h.exited {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := h.conn.KillUnit(ctx, h.unit, int32(syscall.SIGKILL)); err != nil {
		return NewError("kill", h.unit, err)
	}
	return nil
}

// Release stops watching the unit and leaves it running.
func (h *unitHandle) Release() {
	h.once.Do(func() { close(h.release) })
}

func (h *unitHandle) Done() <-chan struct{} {
	return h.done
}

func (h *unitHandle) ExitCode() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, h.exited
}
