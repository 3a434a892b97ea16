// Package supervisor owns the lifecycle of named services: starting,
// stopping, restarting, observing unexpected exits and tracking output.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"

	"github.com/5gconnect/charmd/internal/definition"
	"github.com/5gconnect/charmd/internal/log"
)

// DefaultGracePeriod is how long Stop waits before killing a service.
const DefaultGracePeriod = 10 * time.Second

// Options configures a Supervisor.
type Options struct {
	Launchers   map[definition.Backend]Launcher
	Clock       clock.Clock
	GracePeriod time.Duration
	Logger      log.Logger
	Observers   []Observer
}

// Supervisor is a registry of managed services keyed by name. The registry
// lock is held only to look up and transition entries. Launching, waiting
// for termination and publishing events happen outside it, serialised per
// name.
type Supervisor struct {
	mu        sync.Mutex
	services  map[string]*managedService
	observers []Observer
	closed    bool

	locks     *kmutex.Kmutex
	launchers map[definition.Backend]Launcher
	clock     clock.Clock
	grace     time.Duration
	logger    log.Logger
	watchers  sync.WaitGroup
}

// New creates a Supervisor.
func New(opts Options) *Supervisor {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Supervisor{
		services:  make(map[string]*managedService),
		observers: slices.Clone(opts.Observers),
		locks:     kmutex.New(),
		launchers: opts.Launchers,
		clock:     opts.Clock,
		grace:     opts.GracePeriod,
		logger:    opts.Logger,
	}
}

// AddObserver registers o for all subsequent transitions.
func (s *Supervisor) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Supervisor) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	for _, ev := range events {
		for _, o := range observers {
			o.Observe(ev)
		}
	}
}

// Start launches name from def unless it is already starting or running, in
// which case the existing status is returned and nothing is launched.
func (s *Supervisor) Start(ctx context.Context, name string, def definition.Definition) (Status, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Status{}, ErrSupervisorClosed
	}
	if svc, ok := s.services[name]; ok && (svc.state == StateRunning || svc.state == StateStarting) {
		st := svc.status()
		s.mu.Unlock()
		return st, nil
	}
	s.mu.Unlock()

	s.locks.Lock(name)
	defer s.locks.Unlock(name)
	return s.startLocked(ctx, name, def)
}

// startLocked must be called with the per-name lock held.
func (s *Supervisor) startLocked(ctx context.Context, name string, def definition.Definition) (Status, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Status{}, ErrSupervisorClosed
	}

	svc, ok := s.services[name]
	if !ok {
		svc = &managedService{name: name, state: StateStopped, since: s.clock.Now()}
		s.services[name] = svc
	}

	switch svc.state {
	case StateRunning, StateStarting:
		st := svc.status()
		s.mu.Unlock()
		return st, nil
	case StateStopping:
		s.mu.Unlock()
		return Status{}, &StateConflictError{Service: name, Operation: "start", State: StateStopping}
	}

	svc.definition = def
	svc.exitCode = nil
	svc.lastErr = nil
	svc.output = nil
	svc.generation++
	gen := svc.generation

	h, err := s.prepare(name, def)
	if err != nil {
		launchErr := &LaunchError{Service: name, Backend: def.Backend, Err: err}
		svc.lastErr = launchErr
		ev := svc.transition(StateFailed, s.clock.Now())
		st := svc.status()
		s.mu.Unlock()
		s.publish([]Event{ev})
		s.logger.Error("Failed to prepare service", "service", name, "error", err)
		return st, launchErr
	}
	svc.handle = h
	if tracker, ok := h.(OutputTracker); ok {
		svc.output = tracker
	}
	starting := svc.transition(StateStarting, s.clock.Now())
	s.mu.Unlock()
	s.publish([]Event{starting})

	s.logger.Debug("Starting service", "service", name, "backend", def.Backend)
	startErr := h.Start(ctx)

	s.mu.Lock()
	var ev Event
	if startErr != nil {
		launchErr := asLaunchError(name, def.Backend, startErr)
		svc.lastErr = launchErr
		svc.handle = nil
		svc.exitCode = nil
		ev = svc.transition(StateFailed, s.clock.Now())
		st := svc.status()
		s.mu.Unlock()
		s.publish([]Event{ev})
		s.logger.Error("Failed to start service", "service", name, "error", startErr)
		return st, launchErr
	}

	ev = svc.transition(StateRunning, s.clock.Now())
	st := svc.status()
	s.watchers.Add(1)
	go s.watch(name, gen, h)
	s.mu.Unlock()
	s.publish([]Event{ev})

	s.logger.Info("Service started", "service", name, "handle", st.HandleID)
	return st, nil
}

func (s *Supervisor) prepare(name string, def definition.Definition) (Handle, error) {
	launcher, ok := s.launchers[def.Backend]
	if !ok {
		return nil, fmt.Errorf("no launcher for backend %q", def.Backend)
	}
	return launcher.Prepare(name, def)
}

func asLaunchError(name string, backend definition.Backend, err error) *LaunchError {
	var launchErr *LaunchError
	if errors.As(err, &launchErr) {
		return launchErr
	}
	return &LaunchError{Service: name, Backend: backend, Err: err}
}

// watch records the exit of h. Exits nobody asked for mark the service
// Failed. The per-name lock orders its event with those of Start, Stop and
// Adopt.
func (s *Supervisor) watch(name string, gen uint64, h Handle) {
	defer s.watchers.Done()
	<-h.Done()

	code, hasCode := h.ExitCode()

	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	s.mu.Lock()
	svc, ok := s.services[name]
	if !ok || svc.generation != gen {
		s.mu.Unlock()
		return
	}
	if hasCode {
		svc.exitCode = &code
	}
	if svc.state != StateRunning {
		s.mu.Unlock()
		return
	}
	if hasCode {
		svc.lastErr = fmt.Errorf("exited unexpectedly with code %d", code)
	} else {
		svc.lastErr = errors.New("exited unexpectedly")
	}
	ev := svc.transition(StateFailed, s.clock.Now())
	svc.handle = nil
	s.mu.Unlock()

	s.logger.Warn("Service exited unexpectedly", "service", name, "exitCode", ev.ExitCode, "handle", ev.HandleID)
	s.publish([]Event{ev})
}

// Stop terminates a running service, killing it if it outlives the grace
// period. Stopping a stopped or failed service is a no-op.
func (s *Supervisor) Stop(ctx context.Context, name string) (Status, error) {
	s.locks.Lock(name)
	defer s.locks.Unlock(name)
	return s.stopLocked(ctx, name)
}

// stopLocked must be called with the per-name lock held.
func (s *Supervisor) stopLocked(ctx context.Context, name string) (Status, error) {
	s.mu.Lock()
	svc, ok := s.services[name]
	if !ok {
		s.mu.Unlock()
		return Status{}, &NotFoundError{Service: name}
	}
	if svc.state != StateRunning {
		st := svc.status()
		s.mu.Unlock()
		if st.State.Active() {
			return st, &StateConflictError{Service: name, Operation: "stop", State: st.State}
		}
		return st, nil
	}

	h := svc.handle
	svc.lastErr = nil
	stopping := svc.transition(StateStopping, s.clock.Now())
	s.mu.Unlock()
	s.publish([]Event{stopping})

	s.logger.Debug("Stopping service", "service", name, "handle", stopping.HandleID)
	termErr := s.terminate(ctx, name, h)

	s.mu.Lock()
	if code, ok := h.ExitCode(); ok {
		svc.exitCode = &code
	}
	svc.lastErr = termErr
	ev := svc.transition(StateStopped, s.clock.Now())
	svc.handle = nil
	st := svc.status()
	s.mu.Unlock()
	s.publish([]Event{ev})

	if termErr != nil {
		s.logger.Warn("Service killed", "service", name, "error", termErr)
	} else {
		s.logger.Info("Service stopped", "service", name)
	}
	return st, termErr
}

// terminate requests a graceful exit and escalates to a kill when the grace
// period expires or ctx is done.
func (s *Supervisor) terminate(ctx context.Context, name string, h Handle) error {
	if err := h.Terminate(); err != nil {
		s.logger.Warn("Termination request failed", "service", name, "error", err)
	}

	timer := s.clock.NewTimer(s.grace)
	defer timer.Stop()

	var cause error
	select {
	case <-h.Done():
		return nil
	case <-timer.Chan():
	case <-ctx.Done():
		cause = ctx.Err()
	}

	s.logger.Warn("Service ignored termination request, killing", "service", name, "grace", s.grace)
	if err := h.Kill(); err != nil {
		s.logger.Error("Kill failed", "service", name, "error", err)
	}

	killTimer := s.clock.NewTimer(s.grace)
	defer killTimer.Stop()
	select {
	case <-h.Done():
	case <-killTimer.Chan():
		s.logger.Error("Service still running after kill", "service", name)
	}
	return &TerminationTimeoutError{Service: name, Grace: s.grace, Cause: cause}
}

// Restart stops name if it is running and starts it again from def.
func (s *Supervisor) Restart(ctx context.Context, name string, def definition.Definition) (Status, error) {
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	s.mu.Lock()
	svc, ok := s.services[name]
	running := ok && svc.state == StateRunning
	s.mu.Unlock()

	if running {
		if _, err := s.stopLocked(ctx, name); err != nil && !IsTerminationTimeoutError(err) {
			return Status{}, err
		}
	}
	return s.startLocked(ctx, name, def)
}

// Status returns a snapshot of name without side effects.
func (s *Supervisor) Status(name string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[name]
	if !ok {
		return Status{}, &NotFoundError{Service: name}
	}
	return svc.status(), nil
}

// List returns snapshots of every registered service sorted by name.
func (s *Supervisor) List() []Status {
	s.mu.Lock()
	statuses := make([]Status, 0, len(s.services))
	for _, svc := range s.services {
		statuses = append(statuses, svc.status())
	}
	s.mu.Unlock()

	slices.SortFunc(statuses, func(a, b Status) int {
		return strings.Compare(a.Name, b.Name)
	})
	return statuses
}

// Definition returns the definition name was last started or adopted with.
func (s *Supervisor) Definition(name string) (definition.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[name]
	if !ok {
		return definition.Definition{}, &NotFoundError{Service: name}
	}
	return svc.definition, nil
}

// Deregister forgets a stopped or failed service.
func (s *Supervisor) Deregister(name string) error {
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[name]
	if !ok {
		return &NotFoundError{Service: name}
	}
	if svc.state.Active() {
		return &StateConflictError{Service: name, Operation: "deregister", State: svc.state}
	}
	delete(s.services, name)
	s.logger.Debug("Service deregistered", "service", name)
	return nil
}

// Adopt registers name without launching it. When the backend already runs
// the service it is registered Running and watched. A run the backend
// reports as failed is registered Failed with its exit code; otherwise the
// service is Stopped.
func (s *Supervisor) Adopt(ctx context.Context, name string, def definition.Definition) (Status, error) {
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Status{}, ErrSupervisorClosed
	}
	if svc, ok := s.services[name]; ok && svc.state.Active() {
		st := svc.status()
		s.mu.Unlock()
		return st, nil
	}
	s.mu.Unlock()

	var found Attachment
	if attacher, ok := s.launchers[def.Backend].(Attacher); ok {
		var err error
		found, err = attacher.Attach(ctx, name, def)
		if err != nil {
			return Status{}, fmt.Errorf("failed to adopt %s: %w", name, err)
		}
	}

	s.mu.Lock()
	svc, ok := s.services[name]
	if !ok {
		svc = &managedService{name: name, state: StateStopped, since: s.clock.Now()}
		s.services[name] = svc
	}
	svc.definition = def
	svc.output = nil

	h := found.Handle
	if h == nil {
		var events []Event
		if found.Failed {
			svc.handle = nil
			svc.exitCode = found.ExitCode
			if found.ExitCode != nil {
				svc.lastErr = fmt.Errorf("exited with code %d", *found.ExitCode)
			} else {
				svc.lastErr = errors.New("failed")
			}
			if svc.state != StateFailed {
				events = append(events, svc.transition(StateFailed, s.clock.Now()))
			}
		}
		st := svc.status()
		s.mu.Unlock()
		s.publish(events)
		s.logger.Debug("Service adopted", "service", name, "state", st.State)
		return st, nil
	}

	svc.generation++
	svc.handle = h
	svc.lastErr = nil
	svc.exitCode = nil
	if tracker, ok := h.(OutputTracker); ok {
		svc.output = tracker
	}
	ev := svc.transition(StateRunning, s.clock.Now())
	st := svc.status()
	s.watchers.Add(1)
	go s.watch(name, svc.generation, h)
	s.mu.Unlock()
	s.publish([]Event{ev})

	s.logger.Info("Adopted running service", "service", name, "handle", st.HandleID)
	return st, nil
}

// TrackOutput returns the combined output of a tracked process, starting
// with the lines still retained and following new ones.
func (s *Supervisor) TrackOutput(ctx context.Context, name string) (iter.Seq[string], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[name]
	if !ok {
		return nil, &NotFoundError{Service: name}
	}
	if svc.output == nil {
		return nil, &OutputNotTrackedError{Service: name, Backend: svc.definition.Backend}
	}
	return svc.output.Output(ctx), nil
}

// Release closes the supervisor and lets go of every service whose handle
// is a Releaser, leaving those services running under their backend. They
// are removed from the registry without an event. Everything else is shut
// down as by Shutdown.
func (s *Supervisor) Release(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	var released []Releaser
	for name, svc := range s.services {
		if !svc.state.Active() || svc.handle == nil {
			continue
		}
		r, ok := svc.handle.(Releaser)
		if !ok {
			continue
		}
		released = append(released, r)
		delete(s.services, name)
		s.logger.Debug("Releasing service", "service", name, "handle", svc.handle.ID())
	}
	s.mu.Unlock()

	for _, r := range released {
		r.Release()
	}
	return s.Shutdown(ctx)
}

// Shutdown refuses further starts, stops every running service concurrently
// and waits for all watchers to finish.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	var running []string
	for name, svc := range s.services {
		if svc.state.Active() {
			running = append(running, name)
		}
	}
	s.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, name := range running {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if _, err := s.Stop(ctx, name); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("failed to stop %s: %w", name, err))
				mu.Unlock()
			}
		}(name)
	}
	wg.Wait()

	done := make(chan struct{})
	go func() {
		s.watchers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for watchers: %w", ctx.Err()))
	}

	s.logger.Info("Supervisor shut down", "stopped", len(running))
	return errors.Join(errs...)
}
