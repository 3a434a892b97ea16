package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/5gconnect/charmd/internal/definition"
)

// fakeLauncher hands out fakeHandles and counts launches.
type fakeLauncher struct {
	mu       sync.Mutex
	prepared int
	started  atomic.Int32
	handles  []*fakeHandle

	prepareErr error
	startErr   error
	// gate, when set, blocks Start until closed.
	gate chan struct{}
	// stubborn handles ignore Terminate.
	stubborn bool

	attachRunning bool
	attachErr     error
	// attachFailed, when set, is the exit code of a failed run Attach reports.
	attachFailed *int
	// releasable launchers hand out handles implementing Releaser.
	releasable bool
}

func (l *fakeLauncher) Prepare(name string, _ definition.Definition) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.prepareErr != nil {
		return nil, l.prepareErr
	}
	l.prepared++
	h := &fakeHandle{
		id:       fmt.Sprintf("%s-%d", name, l.prepared),
		launcher: l,
		done:     make(chan struct{}),
		stubborn: l.stubborn,
	}
	l.handles = append(l.handles, h)
	if l.releasable {
		return &releasableHandle{h}, nil
	}
	return h, nil
}

func (l *fakeLauncher) Attach(_ context.Context, name string, _ definition.Definition) (Attachment, error) {
	switch {
	case l.attachErr != nil:
		return Attachment{}, l.attachErr
	case l.attachFailed != nil:
		return Attachment{Failed: true, ExitCode: l.attachFailed}, nil
	case !l.attachRunning:
		return Attachment{}, nil
	}
	return Attachment{Handle: &fakeHandle{id: name + "-attached", launcher: l, done: make(chan struct{})}}, nil
}

func (l *fakeLauncher) last() *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.handles) == 0 {
		return nil
	}
	return l.handles[len(l.handles)-1]
}

type fakeHandle struct {
	id       string
	launcher *fakeLauncher
	stubborn bool

	mu         sync.Mutex
	done       chan struct{}
	exited     bool
	released   bool
	code       int
	terminated int
	killed     int
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Start(ctx context.Context) error {
	if gate := h.launcher.gate; gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.launcher.started.Add(1)
	return h.launcher.startErr
}

func (h *fakeHandle) Terminate() error {
	h.mu.Lock()
	h.terminated++
	stubborn := h.stubborn
	h.mu.Unlock()
	if !stubborn {
		h.exit(143)
	}
	return nil
}

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	h.killed++
	h.mu.Unlock()
	h.exit(137)
	return nil
}

// exit simulates the service ending with code.
func (h *fakeHandle) exit(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited || h.released {
		return
	}
	h.exited = true
	h.code = code
	close(h.done)
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) ExitCode() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.code, h.exited
}

// releasableHandle is a fakeHandle whose service outlives the supervisor.
type releasableHandle struct {
	*fakeHandle
}

func (h *releasableHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited || h.released {
		return
	}
	h.released = true
	close(h.done)
}

func (h *fakeHandle) isReleased() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) transitions(service string) []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var states []State
	for _, e := range r.events {
		if e.Service == service {
			states = append(states, e.To)
		}
	}
	return states
}

func intPtr(i int) *int { return &i }
