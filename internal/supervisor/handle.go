package supervisor

import (
	"context"
	"iter"

	"github.com/5gconnect/charmd/internal/definition"
)

// Handle is the supervisor's exclusive reference to one launch of a service.
type Handle interface {
	// ID identifies the running instance (pid or unit name).
	ID() string
	// Start launches the service. A nil return means the launch call itself
	// succeeded; later failures are reported through Done.
	Start(ctx context.Context) error
	// Terminate asks the service to exit.
	Terminate() error
	// Kill forces the service to exit.
	Kill() error
	// Done is closed once the service is no longer running.
	Done() <-chan struct{}
	// ExitCode returns the exit code once Done is closed.
	ExitCode() (int, bool)
}

// Launcher creates handles for one backend.
type Launcher interface {
	Prepare(name string, def definition.Definition) (Handle, error)
}

// Attachment is what a backend reports about a service it may already run.
type Attachment struct {
	// Handle is set when the service is running.
	Handle Handle
	// Failed reports that the backend's last run of the service failed.
	Failed bool
	// ExitCode is how a failed run ended, when the backend knows.
	ExitCode *int
}

// Attacher is implemented by launchers that can take over a service their
// backend already runs.
type Attacher interface {
	Attach(ctx context.Context, name string, def definition.Definition) (Attachment, error)
}

// Releaser is implemented by handles whose service outlives the supervisor.
// Release stops watching the service without stopping it and closes Done
// without an exit code.
type Releaser interface {
	Release()
}

// OutputTracker is implemented by handles whose combined output is captured.
type OutputTracker interface {
	Output(ctx context.Context) iter.Seq[string]
}
