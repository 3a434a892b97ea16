// Package validate checks host requirements and inspects service environments
// for values that must not be logged.
package validate

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/5gconnect/charmd/internal/execx"
	"github.com/5gconnect/charmd/internal/log"
)

// Validator provides system requirements validation with dependency injection.
type Validator struct {
	logger   log.Logger
	runner   execx.Runner
	osGetter func() string
}

// NewValidator creates a new Validator with the provided logger and command runner.
func NewValidator(logger log.Logger, runner execx.Runner) *Validator {
	return &Validator{
		logger:   logger,
		runner:   runner,
		osGetter: func() string { return runtime.GOOS },
	}
}

// WithOSGetter sets a custom OS getter for testing.
func (v *Validator) WithOSGetter(osGetter func() string) *Validator {
	v.osGetter = osGetter
	return v
}

// SystemRequirements checks that systemd is available for the unit backend.
// A missing journalctl only degrades failure diagnostics and is logged.
func (v *Validator) SystemRequirements() error {
	ctx := context.Background()
	if goos := v.osGetter(); goos != "linux" {
		return fmt.Errorf("unsupported platform: %s (the unit backend requires Linux with systemd)", goos)
	}

	v.logger.Debug("Validating systemd availability")
	systemdVersion, err := v.runner.CombinedOutput(ctx, "systemctl", "--version")
	if err != nil {
		return fmt.Errorf("systemd not found: %w", err)
	}
	if !strings.Contains(string(systemdVersion), "systemd") {
		return fmt.Errorf("systemd not properly installed")
	}

	v.logger.Debug("Validating journalctl availability")
	if _, err := v.runner.CombinedOutput(ctx, "journalctl", "--version"); err != nil {
		v.logger.Warn("journalctl not available, unit failures will not include recent logs", "error", err)
	}

	return nil
}
