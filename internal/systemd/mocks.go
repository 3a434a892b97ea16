package systemd

import (
	"context"
	"errors"

	"github.com/coreos/go-systemd/v22/dbus"
)

var (
	errMockNotImplemented = errors.New("mock not implemented")
	errMockNotConfigured  = errors.New("mock not configured")
)

// MockConnection is a Connection whose calls are answered by the matching
// Func field. Unset fields fail with "mock not implemented"; Close succeeds.
type MockConnection struct {
	GetUnitPropertyFunc   func(ctx context.Context, unit, name string) (*dbus.Property, error)
	GetUnitPropertiesFunc func(ctx context.Context, unit string) (map[string]interface{}, error)
	StartUnitFunc         func(ctx context.Context, unit, mode string) (chan string, error)
	StopUnitFunc          func(ctx context.Context, unit, mode string) (chan string, error)
	KillUnitFunc          func(ctx context.Context, unit string, signal int32) error
	ResetFailedUnitFunc   func(ctx context.Context, unit string) error
	ReloadFunc            func(ctx context.Context) error
	CloseFunc             func() error
}

func (m *MockConnection) GetUnitProperty(ctx context.Context, unit, name string) (*dbus.Property, error) {
	if m.GetUnitPropertyFunc == nil {
		return nil, errMockNotImplemented
	}
	return m.GetUnitPropertyFunc(ctx, unit, name)
}

func (m *MockConnection) GetUnitProperties(ctx context.Context, unit string) (map[string]interface{}, error) {
	if m.GetUnitPropertiesFunc == nil {
		return nil, errMockNotImplemented
	}
	return m.GetUnitPropertiesFunc(ctx, unit)
}

func (m *MockConnection) StartUnit(ctx context.Context, unit, mode string) (chan string, error) {
	if m.StartUnitFunc == nil {
		return nil, errMockNotImplemented
	}
	return m.StartUnitFunc(ctx, unit, mode)
}

func (m *MockConnection) StopUnit(ctx context.Context, unit, mode string) (chan string, error) {
	if m.StopUnitFunc == nil {
		return nil, errMockNotImplemented
	}
	return m.StopUnitFunc(ctx, unit, mode)
}

func (m *MockConnection) KillUnit(ctx context.Context, unit string, signal int32) error {
	if m.KillUnitFunc == nil {
		return errMockNotImplemented
	}
	return m.KillUnitFunc(ctx, unit, signal)
}

func (m *MockConnection) ResetFailedUnit(ctx context.Context, unit string) error {
	if m.ResetFailedUnitFunc == nil {
		return errMockNotImplemented
	}
	return m.ResetFailedUnitFunc(ctx, unit)
}

func (m *MockConnection) Reload(ctx context.Context) error {
	if m.ReloadFunc == nil {
		return errMockNotImplemented
	}
	return m.ReloadFunc(ctx)
}

func (m *MockConnection) Close() error {
	if m.CloseFunc == nil {
		return nil
	}
	return m.CloseFunc()
}

// MockConnectionFactory hands out Connection, or defers to NewConnectionFunc
// when it is set.
type MockConnectionFactory struct {
	NewConnectionFunc func(ctx context.Context, userMode bool) (Connection, error)
	Connection        Connection
}

func (m *MockConnectionFactory) NewConnection(ctx context.Context, userMode bool) (Connection, error) {
	switch {
	case m.NewConnectionFunc != nil:
		return m.NewConnectionFunc(ctx, userMode)
	case m.Connection != nil:
		return m.Connection, nil
	default:
		return nil, errMockNotConfigured
	}
}
