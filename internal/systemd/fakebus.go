package systemd

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
	godbus "github.com/godbus/dbus/v5"
)

// Values of ExecMainCode reported by FakeBus.
const (
	cldExited = 1
)

// FakeBus is an in-memory systemd used by tests. It implements Connection
// and tracks a small subset of unit state: active and sub state, result and
// main process status.
type FakeBus struct {
	mu     sync.Mutex
	units  map[string]*fakeUnit
	reload int
	resets int
	closed int

	// StartResult is the job result StartUnit reports. Empty means "done".
	StartResult string
	// IgnoreStop leaves units running when StopUnit is called.
	IgnoreStop bool
}

type fakeUnit struct {
	active string
	sub    string
	result string
	status int32
	code   int32
	pid    uint32
}

// NewFakeBus creates an empty FakeBus.
func NewFakeBus() *FakeBus {
	return &FakeBus{units: make(map[string]*fakeUnit)}
}

// Factory returns a ConnectionFactory handing out this bus.
func (b *FakeBus) Factory() ConnectionFactory {
	return &MockConnectionFactory{Connection: b}
}

func (b *FakeBus) unitLocked(name string) *fakeUnit {
	u, ok := b.units[name]
	if !ok {
		u = &fakeUnit{active: "inactive", sub: "dead", result: "success"}
		b.units[name] = u
	}
	return u
}

// SetActive marks a unit as running, as if started outside the test.
func (b *FakeBus) SetActive(unitName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.unitLocked(unitName)
	u.active, u.sub, u.result = "active", "running", "success"
	u.pid = 4242
}

// Exit simulates the unit's main process exiting with status.
func (b *FakeBus) Exit(unitName string, status int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.unitLocked(unitName)
	u.status, u.code, u.pid = status, cldExited, 0
	if status == 0 {
		u.active, u.sub, u.result = "inactive", "dead", "success"
		return
	}
	u.active, u.sub, u.result = "failed", "failed", "exit-code"
}

// State returns the unit's ActiveState.
func (b *FakeBus) State(unitName string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u, ok := b.units[unitName]; ok {
		return u.active
	}
	return "inactive"
}

// Reloads returns how many times Reload was called.
func (b *FakeBus) Reloads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reload
}

// Resets returns how many times ResetFailedUnit was called.
func (b *FakeBus) Resets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resets
}

// Closes returns how many times Close was called.
func (b *FakeBus) Closes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// GetUnitProperty implements Connection.
func (b *FakeBus) GetUnitProperty(ctx context.Context, unitName, propertyName string) (*dbus.Property, error) {
	props, err := b.GetUnitProperties(ctx, unitName)
	if err != nil {
		return nil, err
	}
	value, ok := props[propertyName]
	if !ok {
		return nil, fmt.Errorf("unknown property %s", propertyName)
	}
	return &dbus.Property{Name: propertyName, Value: godbus.MakeVariant(value)}, nil
}

// GetUnitProperties implements Connection.
func (b *FakeBus) GetUnitProperties(_ context.Context, unitName string) (map[string]interface{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.units[unitName]
	if !ok {
		return map[string]interface{}{
			"LoadState":   "not-found",
			"ActiveState": "inactive",
			"SubState":    "dead",
		}, nil
	}
	return map[string]interface{}{
		"LoadState":      "loaded",
		"ActiveState":    u.active,
		"SubState":       u.sub,
		"Result":         u.result,
		"MainPID":        u.pid,
		"ExecMainStatus": u.status,
		"ExecMainCode":   u.code,
	}, nil
}

// StartUnit implements Connection.
func (b *FakeBus) StartUnit(_ context.Context, unitName, _ string) (chan string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.unitLocked(unitName)

	result := b.StartResult
	if result == "" {
		result = "done"
	}
	if result == "done" {
		u.active, u.sub, u.result = "active", "running", "success"
		u.status, u.code, u.pid = 0, 0, 4242
	} else {
		u.active, u.sub, u.result = "failed", "failed", "exit-code"
		u.status, u.code, u.pid = 203, cldExited, 0
	}

	ch := make(chan string, 1)
	ch <- result
	return ch, nil
}

// StopUnit implements Connection.
func (b *FakeBus) StopUnit(_ context.Context, unitName, _ string) (chan string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.unitLocked(unitName)
	if !b.IgnoreStop {
		u.active, u.sub, u.result = "inactive", "dead", "success"
		u.status, u.code, u.pid = 15, cldKilled, 0
	}

	ch := make(chan string, 1)
	ch <- "done"
	return ch, nil
}

// KillUnit implements Connection.
func (b *FakeBus) KillUnit(_ context.Context, unitName string, signal int32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.unitLocked(unitName)
	u.active, u.sub, u.result = "failed", "failed", "signal"
	u.status, u.code, u.pid = signal, cldKilled, 0
	return nil
}

// ResetFailedUnit implements Connection.
func (b *FakeBus) ResetFailedUnit(_ context.Context, unitName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resets++
	if u, ok := b.units[unitName]; ok && u.active == "failed" {
		u.active, u.sub = "inactive", "dead"
	}
	return nil
}

// Reload implements Connection.
func (b *FakeBus) Reload(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reload++
	return nil
}

// Close implements Connection.
func (b *FakeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}
