// Package systemd runs services as systemd units over D-Bus.
package systemd

import (
	"context"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Connection is the subset of the systemd manager API the unit backend uses.
type Connection interface {
	GetUnitProperty(ctx context.Context, unit, name string) (*dbus.Property, error)
	GetUnitProperties(ctx context.Context, unit string) (map[string]interface{}, error)

	// StartUnit and StopUnit queue a job. Its result ("done", "failed",
	// "timeout", ...) arrives on the returned channel.
	StartUnit(ctx context.Context, unit, mode string) (chan string, error)
	StopUnit(ctx context.Context, unit, mode string) (chan string, error)

	// KillUnit signals every process of the unit.
	KillUnit(ctx context.Context, unit string, signal int32) error

	// ResetFailedUnit clears a failed state and the start rate limit.
	ResetFailedUnit(ctx context.Context, unit string) error

	// Reload makes systemd reread unit files.
	Reload(ctx context.Context) error
	Close() error
}

// ConnectionFactory opens connections to the system or user manager.
type ConnectionFactory interface {
	NewConnection(ctx context.Context, userMode bool) (Connection, error)
}
