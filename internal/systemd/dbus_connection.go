package systemd

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
	godbus "github.com/godbus/dbus/v5"

	"github.com/5gconnect/charmd/internal/log"
)

const noSuchUnit = "org.freedesktop.systemd1.NoSuchUnit"

// BusConnection is a Connection backed by a live systemd manager.
type BusConnection struct {
	conn *dbus.Conn
}

// NewBusConnection wraps an open go-systemd connection.
func NewBusConnection(conn *dbus.Conn) *BusConnection {
	return &BusConnection{conn: conn}
}

// unitError maps manager errors about missing units to UnitNotFoundError.
func unitError(action, unit string, err error) error {
	var busErr godbus.Error
	var busErrPtr *godbus.Error
	switch {
	case errors.As(err, &busErr) && busErr.Name == noSuchUnit,
		errors.As(err, &busErrPtr) && busErrPtr.Name == noSuchUnit:
		return NewUnitNotFoundError(unit)
	}
	return fmt.Errorf("%s %s: %w", action, unit, err)
}

// GetUnitProperty implements Connection.
func (c *BusConnection) GetUnitProperty(ctx context.Context, unit, name string) (*dbus.Property, error) {
	prop, err := c.conn.GetUnitPropertyContext(ctx, unit, name)
	if err != nil {
		return nil, unitError("reading "+name+" of", unit, err)
	}
	return prop, nil
}

// GetUnitProperties implements Connection.
func (c *BusConnection) GetUnitProperties(ctx context.Context, unit string) (map[string]interface{}, error) {
	props, err := c.conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		return nil, unitError("reading properties of", unit, err)
	}
	return props, nil
}

// StartUnit implements Connection. The result channel is buffered so a late
// job result never blocks go-systemd's dispatcher.
func (c *BusConnection) StartUnit(ctx context.Context, unit, mode string) (chan string, error) {
	result := make(chan string, 1)
	if _, err := c.conn.StartUnitContext(ctx, unit, mode, result); err != nil {
		return nil, unitError("starting", unit, err)
	}
	return result, nil
}

// StopUnit implements Connection.
func (c *BusConnection) StopUnit(ctx context.Context, unit, mode string) (chan string, error) {
	result := make(chan string, 1)
	if _, err := c.conn.StopUnitContext(ctx, unit, mode, result); err != nil {
		return nil, unitError("stopping", unit, err)
	}
	return result, nil
}

// KillUnit implements Connection. go-systemd drops the manager's reply, so
// only a cancelled context is reported.
func (c *BusConnection) KillUnit(ctx context.Context, unit string, signal int32) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("killing %s: %w", unit, err)
	}
	c.conn.KillUnitContext(ctx, unit, signal)
	return nil
}

// ResetFailedUnit implements Connection.
func (c *BusConnection) ResetFailedUnit(ctx context.Context, unit string) error {
	if err := c.conn.ResetFailedUnitContext(ctx, unit); err != nil {
		return unitError("resetting", unit, err)
	}
	return nil
}

// Reload implements Connection.
func (c *BusConnection) Reload(ctx context.Context) error {
	if err := c.conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	return nil
}

// Close implements Connection.
func (c *BusConnection) Close() error {
	c.conn.Close()
	return nil
}

type busFactory struct {
	logger log.Logger
}

// NewConnectionFactory returns a factory dialing the system bus, or the
// calling user's bus in user mode.
func NewConnectionFactory(logger log.Logger) ConnectionFactory {
	return &busFactory{logger: logger}
}

func (f *busFactory) NewConnection(ctx context.Context, userMode bool) (Connection, error) {
	dial := dbus.NewSystemConnectionContext
	if userMode {
		dial = dbus.NewUserConnectionContext
	}
	f.logger.Debug("Connecting to systemd", "userMode", userMode)

	conn, err := dial(ctx)
	if err != nil {
		return nil, NewConnectionError(userMode, err)
	}
	return NewBusConnection(conn), nil
}
