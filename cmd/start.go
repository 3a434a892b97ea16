/*
Copyright © 2025 Travis Lyons travis.lyons@gmail.com

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/5gconnect/charmd/internal/config"
	"github.com/5gconnect/charmd/internal/definition"
)

// StartOptions holds start command options.
type StartOptions struct {
	Name string
}

// StartDeps holds start dependencies.
type StartDeps struct {
	CommonDeps
}

// StartCommand represents the start command.
type StartCommand struct{}

// NewStartCommand creates a new StartCommand.
func NewStartCommand() *StartCommand {
	return &StartCommand{}
}

// getApp retrieves the App from the command context.
func (c *StartCommand) getApp(cmd *cobra.Command) *App {
	return cmd.Context().Value(appContextKey).(*App)
}

// GetCobraCommand returns the cobra command for starting a unit service.
func (c *StartCommand) GetCobraCommand() *cobra.Command {
	var opts StartOptions

	startCmd := &cobra.Command{
		Use:   "start NAME",
		Short: "Write the unit file of a service and start it",
		Long: `Write the unit file of a unit backed service, reload systemd and start
the unit. The unit keeps running after charmd exits.

Process backed services are started by 'charmd run'.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.getApp(cmd).Validator.SystemRequirements()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app := c.getApp(cmd)
			opts.Name = args[0]
			return c.Run(cmd.Context(), app, opts, c.buildDeps(cmd, app))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	return startCmd
}

// Run executes the start command with injected dependencies.
func (c *StartCommand) Run(ctx context.Context, app *App, opts StartOptions, deps StartDeps) error {
	svc, err := app.Config.Lookup(opts.Name)
	if err != nil {
		return err
	}
	if err := requireUnitBackend(svc); err != nil {
		return err
	}

	def, changed, err := app.PersistDefinition(svc)
	if err != nil {
		return err
	}
	deps.Logger.Debug("Unit file ready", "service", def.Name, "path", app.Store.Path(def.Name), "changed", changed)

	observers, closeHistory := app.historyObservers()
	defer closeHistory()

	sup := app.NewSupervisor(observers...)
	st, startErr := sup.Start(ctx, def.Name, def)
	if err := sup.Release(ctx); err != nil {
		deps.Logger.Warn("Failed to release services", "error", err)
	}
	if startErr != nil {
		return startErr
	}

	deps.Logger.Info("Service started", "service", st.Name, "handle", st.HandleID)
	return printStatuses(deps.Out, app.OutputFormat, []ServiceStatus{statusFromSupervisor(st)})
}

// requireUnitBackend rejects services that only 'charmd run' can manage.
func requireUnitBackend(svc config.Service) error {
	backend, err := definition.ParseBackend(svc.Backend)
	if err != nil {
		return fmt.Errorf("service %s: %w", svc.Name, err)
	}
	if backend != definition.BackendUnit {
		return fmt.Errorf("service %s uses the %s backend and is managed by 'charmd run'", svc.Name, backend)
	}
	return nil
}

// buildDeps creates production dependencies for the start command.
func (c *StartCommand) buildDeps(cmd *cobra.Command, app *App) StartDeps {
	return StartDeps{
		CommonDeps: NewRootDeps(app, cmd.OutOrStdout()),
	}
}
