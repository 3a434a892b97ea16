// Package testutil holds loggers and configuration shared by charmd tests.
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/5gconnect/charmd/internal/config"
	"github.com/5gconnect/charmd/internal/log"
)

// NewTestLogger returns a debug-level logger writing through t.Logf.
func NewTestLogger(t testing.TB) log.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}

	handler := &testHandler{t: t, opts: opts}
	return log.FromSlog(slog.New(handler))
}

// ConfigOption allows customization of test config settings.
type ConfigOption func(*config.Settings)

// WithUnitDir sets a custom unit directory.
func WithUnitDir(dir string) ConfigOption {
	return func(cfg *config.Settings) {
		cfg.UnitDir = dir
	}
}

// WithServices replaces the service catalogue.
func WithServices(services ...config.Service) ConfigOption {
	return func(cfg *config.Settings) {
		cfg.Services = services
	}
}

// NewMockConfig returns a provider holding default settings, verbose
// logging, and unit and history paths under a per-test temp directory.
func NewMockConfig(t testing.TB, opts ...ConfigOption) config.Provider {
	tmpDir := t.TempDir()

	cfg := config.Defaults()
	cfg.UnitDir = tmpDir + "/units"
	cfg.DBPath = tmpDir + "/charmd.db"
	cfg.Verbose = true

	for _, opt := range opts {
		opt(cfg)
	}

	configProvider := config.NewDefaultConfigProvider()
	configProvider.SetConfig(cfg)
	return configProvider
}

// testHandler implements slog.Handler to write to testing.TB.
type testHandler struct {
	t     testing.TB
	opts  *slog.HandlerOptions
	attrs []slog.Attr
}

func (h *testHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *testHandler) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	record.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})
	h.t.Logf("[%s] %s%s", record.Level.String(), record.Message, b.String())
	return nil
}

func (h *testHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &testHandler{t: h.t, opts: h.opts, attrs: merged}
}

func (h *testHandler) WithGroup(_ string) slog.Handler {
	return &testHandler{t: h.t, opts: h.opts, attrs: h.attrs}
}
