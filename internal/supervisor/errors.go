package supervisor

import (
	"errors"
	"fmt"
	"time"

	"github.com/5gconnect/charmd/internal/definition"
)

// ErrSupervisorClosed is returned by Start and Adopt after Shutdown.
var ErrSupervisorClosed = errors.New("supervisor is shut down")

// LaunchError wraps the OS-level reason a service could not be started.
type LaunchError struct {
	Service string
	Backend definition.Backend
	Err     error
}

// Error implements the error interface.
func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s (%s): %v", e.Service, e.Backend, e.Err)
}

// Unwrap returns the underlying error.
func (e *LaunchError) Unwrap() error {
	return e.Err
}

// NotFoundError is returned for names the supervisor has never registered.
type NotFoundError struct {
	Service string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("service %s is not registered", e.Service)
}

// TerminationTimeoutError is returned by Stop when the service ignored the
// termination request for the whole grace period and had to be killed.
type TerminationTimeoutError struct {
	Service string
	Grace   time.Duration
	// Cause is set when the wait was cut short by the caller's context.
	Cause error
}

// Error implements the error interface.
func (e *TerminationTimeoutError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("service %s was killed after stop was interrupted: %v", e.Service, e.Cause)
	}
	return fmt.Sprintf("service %s did not stop within %s and was killed", e.Service, e.Grace)
}

// Unwrap returns the interrupting cause, if any.
func (e *TerminationTimeoutError) Unwrap() error {
	return e.Cause
}

// StateConflictError is returned when an operation is not valid in the
// service's current state.
type StateConflictError struct {
	Service   string
	Operation string
	State     State
}

// Error implements the error interface.
func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot %s service %s while it is %s", e.Operation, e.Service, e.State)
}

// OutputNotTrackedError is returned by TrackOutput for services whose output
// is not captured by the supervisor.
type OutputNotTrackedError struct {
	Service string
	Backend definition.Backend
}

// Error implements the error interface.
func (e *OutputNotTrackedError) Error() string {
	return fmt.Sprintf("output of service %s is not tracked by the %s backend", e.Service, e.Backend)
}

// IsLaunchError checks if an error is a LaunchError.
func IsLaunchError(err error) bool {
	var target *LaunchError
	return errors.As(err, &target)
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsTerminationTimeoutError checks if an error is a TerminationTimeoutError.
func IsTerminationTimeoutError(err error) bool {
	var target *TerminationTimeoutError
	return errors.As(err, &target)
}

// IsStateConflictError checks if an error is a StateConflictError.
func IsStateConflictError(err error) bool {
	var target *StateConflictError
	return errors.As(err, &target)
}
