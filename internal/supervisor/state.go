package supervisor

import (
	"time"

	"github.com/5gconnect/charmd/internal/definition"
)

// State is the lifecycle state of a managed service.
type State string

// Lifecycle states.
const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateFailed   State = "failed"
	StateStopping State = "stopping"
)

// Active reports whether a service in this state owns a live handle.
func (s State) Active() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}

// Status is an immutable snapshot of a managed service.
type Status struct {
	Name     string             `json:"name" yaml:"name"`
	State    State              `json:"state" yaml:"state"`
	Backend  definition.Backend `json:"backend" yaml:"backend"`
	HandleID string             `json:"handle,omitempty" yaml:"handle,omitempty"`
	ExitCode *int               `json:"exitCode,omitempty" yaml:"exitCode,omitempty"`
	Since    time.Time          `json:"since" yaml:"since"`
	Error    string             `json:"error,omitempty" yaml:"error,omitempty"`
}

// Event describes one state transition.
type Event struct {
	Service  string
	From     State
	To       State
	HandleID string
	ExitCode *int
	Err      error
	At       time.Time
}

// Observer receives state transitions in the order they happen for each
// service. Observe is called without the registry lock held but must not
// block for long or call back into the supervisor for the same service.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

// managedService is the registry entry for one name. All fields are guarded
// by Supervisor.mu.
type managedService struct {
	name       string
	state      State
	definition definition.Definition
	handle     Handle
	output     OutputTracker
	exitCode   *int
	lastErr    error
	since      time.Time
	generation uint64
}

func (m *managedService) status() Status {
	st := Status{
		Name:    m.name,
		State:   m.state,
		Backend: m.definition.Backend,
		Since:   m.since,
	}
	if m.handle != nil {
		st.HandleID = m.handle.ID()
	}
	if m.exitCode != nil {
		code := *m.exitCode
		st.ExitCode = &code
	}
	if m.lastErr != nil {
		st.Error = m.lastErr.Error()
	}
	return st
}

func (m *managedService) transition(to State, at time.Time) Event {
	ev := Event{Service: m.name, From: m.state, To: to, At: at, Err: m.lastErr}
	if m.handle != nil {
		ev.HandleID = m.handle.ID()
	}
	if m.exitCode != nil {
		code := *m.exitCode
		ev.ExitCode = &code
	}
	m.state = to
	m.since = at
	return ev
}
