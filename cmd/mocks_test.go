package cmd

import (
	"testing"
	"time"

	"github.com/5gconnect/charmd/internal/config"
	"github.com/5gconnect/charmd/internal/systemd"
	"github.com/5gconnect/charmd/internal/testutil"
	"github.com/5gconnect/charmd/internal/testutil/fakerunner"
)

// Timings that keep command tests fast.
const (
	testWatchInterval = 10 * time.Millisecond
	testGracePeriod   = 2 * time.Second
)

// MockValidator implements SystemValidator for testing.
type MockValidator struct {
	SystemRequirementsFunc func() error
	Calls                  int
}

func (m *MockValidator) SystemRequirements() error {
	m.Calls++
	if m.SystemRequirementsFunc != nil {
		return m.SystemRequirementsFunc()
	}
	return nil
}

// AppBuilder provides a fluent interface for building test Apps.
type AppBuilder struct {
	validator SystemValidator
	bus       *systemd.FakeBus
	runner    *fakerunner.Runner
	format    string
	opts      []testutil.ConfigOption
}

// NewAppBuilder creates a builder for an App backed by a FakeBus, a fake
// command runner and per-test directories.
func NewAppBuilder(_ *testing.T) *AppBuilder {
	return &AppBuilder{
		validator: &MockValidator{},
		bus:       systemd.NewFakeBus(),
		runner:    fakerunner.New(),
		format:    "text",
	}
}

// WithValidator sets the system validator.
func (b *AppBuilder) WithValidator(v SystemValidator) *AppBuilder {
	b.validator = v
	return b
}

// WithBus sets the in-memory systemd.
func (b *AppBuilder) WithBus(bus *systemd.FakeBus) *AppBuilder {
	b.bus = bus
	return b
}

// WithRunner sets the command runner used for diagnostics.
func (b *AppBuilder) WithRunner(r *fakerunner.Runner) *AppBuilder {
	b.runner = r
	return b
}

// WithOutput sets the output format.
func (b *AppBuilder) WithOutput(format string) *AppBuilder {
	b.format = format
	return b
}

// WithServices sets the service catalogue.
func (b *AppBuilder) WithServices(services ...config.Service) *AppBuilder {
	b.opts = append(b.opts, testutil.WithServices(services...))
	return b
}

// WithConfig applies further configuration options.
func (b *AppBuilder) WithConfig(opts ...testutil.ConfigOption) *AppBuilder {
	b.opts = append(b.opts, opts...)
	return b
}

// Build creates the App.
func (b *AppBuilder) Build(t *testing.T) *App {
	t.Helper()

	provider := testutil.NewMockConfig(t, b.opts...)
	cfg := provider.GetConfig()
	cfg.WatchInterval = testWatchInterval
	cfg.StopGracePeriod = testGracePeriod

	app := NewApp(testutil.NewTestLogger(t), provider)
	app.Validator = b.validator
	app.Connections = b.bus.Factory()
	app.Runner = b.runner
	app.OutputFormat = b.format
	return app
}

func processService(name, command string, after ...string) config.Service {
	return config.Service{
		Name:    name,
		Backend: config.BackendProcess,
		Command: command,
		After:   after,
	}
}

func unitService(name string) config.Service {
	return config.Service{
		Name:        name,
		Description: "5G " + name,
		Backend:     config.BackendUnit,
		Command:     "/usr/bin/" + name + " --listen :3000",
		Directory:   "/opt/" + name,
		Environment: []string{"LOG_LEVEL=debug"},
	}
}
