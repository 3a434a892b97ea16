package systemd

import (
	"errors"
	"fmt"
)

// Error is a failed manager call for one unit.
type Error struct {
	Op   string // reload, start, stop, kill or attach
	Unit string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("systemd %s failed for %s: %v", e.Op, e.Unit, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a failed op on unit.
func NewError(op, unit string, err error) *Error {
	return &Error{Op: op, Unit: unit, Err: err}
}

// ConnectionError means the system or user manager could not be reached.
type ConnectionError struct {
	UserMode bool
	Err      error
}

func (e *ConnectionError) Error() string {
	bus := "system"
	if e.UserMode {
		bus = "user"
	}
	return fmt.Sprintf("cannot reach the systemd %s manager: %v", bus, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NewConnectionError wraps a dial failure.
func NewConnectionError(userMode bool, err error) *ConnectionError {
	return &ConnectionError{UserMode: userMode, Err: err}
}

// UnitNotFoundError means systemd has no unit file loaded under the name.
type UnitNotFoundError struct {
	Unit string
}

func (e *UnitNotFoundError) Error() string {
	return "unit not found: " + e.Unit
}

// NewUnitNotFoundError returns a UnitNotFoundError for unit.
func NewUnitNotFoundError(unit string) *UnitNotFoundError {
	return &UnitNotFoundError{Unit: unit}
}

// IsError reports whether err wraps an *Error.
func IsError(err error) bool {
	var target *Error
	return errors.As(err, &target)
}

// IsConnectionError reports whether err wraps a *ConnectionError.
func IsConnectionError(err error) bool {
	var target *ConnectionError
	return errors.As(err, &target)
}

// IsUnitNotFoundError reports whether err wraps a *UnitNotFoundError.
func IsUnitNotFoundError(err error) bool {
	var target *UnitNotFoundError
	return errors.As(err, &target)
}
