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

	"github.com/spf13/cobra"

	"github.com/5gconnect/charmd/internal/supervisor"
)

// StopOptions holds stop command options.
type StopOptions struct {
	Name string
}

// StopDeps holds stop dependencies.
type StopDeps struct {
	CommonDeps
}

// StopCommand represents the stop command.
type StopCommand struct{}

// NewStopCommand creates a new StopCommand.
func NewStopCommand() *StopCommand {
	return &StopCommand{}
}

// getApp retrieves the App from the command context.
func (c *StopCommand) getApp(cmd *cobra.Command) *App {
	return cmd.Context().Value(appContextKey).(*App)
}

// GetCobraCommand returns the cobra command for stopping a unit service.
func (c *StopCommand) GetCobraCommand() *cobra.Command {
	var opts StopOptions

	stopCmd := &cobra.Command{
		Use:   "stop NAME",
		Short: "Stop a unit service",
		Long: `Stop the unit of a unit backed service, killing it if it outlives the
configured grace period. Stopping a stopped service succeeds.`,
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

	return stopCmd
}

// Run executes the stop command with injected dependencies.
func (c *StopCommand) Run(ctx context.Context, app *App, opts StopOptions, deps StopDeps) error {
	svc, err := app.Config.Lookup(opts.Name)
	if err != nil {
		return err
	}
	if err := requireUnitBackend(svc); err != nil {
		return err
	}

	def, err := app.BuildDefinition(svc)
	if err != nil {
		return err
	}

	observers, closeHistory := app.historyObservers()
	defer closeHistory()

	sup := app.NewSupervisor(observers...)
	defer func() {
		if err := sup.Release(ctx); err != nil {
			deps.Logger.Warn("Failed to release services", "error", err)
		}
	}()

	st, err := sup.Adopt(ctx, def.Name, def)
	if err != nil {
		return err
	}
	if st.State == supervisor.StateRunning {
		st, err = sup.Stop(ctx, def.Name)
		if err != nil {
			return err
		}
		deps.Logger.Info("Service stopped", "service", st.Name, "exitCode", displayExitCode(st.ExitCode))
	} else {
		deps.Logger.Debug("Service was not running", "service", st.Name)
	}

	return printStatuses(deps.Out, app.OutputFormat, []ServiceStatus{statusFromSupervisor(st)})
}

// buildDeps creates production dependencies for the stop command.
func (c *StopCommand) buildDeps(cmd *cobra.Command, app *App) StopDeps {
	return StopDeps{
		CommonDeps: NewRootDeps(app, cmd.OutOrStdout()),
	}
}
