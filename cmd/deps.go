package cmd

import (
	"io"
	"os"

	"github.com/juju/clock"

	"github.com/5gconnect/charmd/internal/log"
)

// NotifyFunc represents systemd notification function.
type NotifyFunc func(unsetEnvironment bool, state string) (bool, error)

// CommonDeps provides dependencies common across commands.
type CommonDeps struct {
	Clock  clock.Clock
	Logger log.Logger
	Out    io.Writer
}

// NewCommonDeps creates production common dependencies.
func NewCommonDeps(logger log.Logger) CommonDeps {
	return CommonDeps{
		Clock:  clock.WallClock,
		Logger: logger,
		Out:    os.Stdout,
	}
}

// NewRootDeps creates common root dependencies for all commands, writing
// command output to out.
func NewRootDeps(app *App, out io.Writer) CommonDeps {
	deps := NewCommonDeps(app.Logger)
	if app.Clock != nil {
		deps.Clock = app.Clock
	}
	if out != nil {
		deps.Out = out
	}
	return deps
}
