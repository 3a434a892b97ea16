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
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/5gconnect/charmd/internal/config"
	"github.com/5gconnect/charmd/internal/definition"
	"github.com/5gconnect/charmd/internal/history"
	"github.com/5gconnect/charmd/internal/supervisor"
)

// Sources of a reported status.
const (
	sourceSupervisor = "supervisor"
	sourceHistory    = "history"
)

// ServiceStatus is one row of status output.
type ServiceStatus struct {
	Name     string             `json:"name" yaml:"name"`
	Backend  definition.Backend `json:"backend" yaml:"backend"`
	State    supervisor.State   `json:"state" yaml:"state"`
	Handle   string             `json:"handle,omitempty" yaml:"handle,omitempty"`
	ExitCode *int               `json:"exitCode,omitempty" yaml:"exitCode,omitempty"`
	Since    time.Time          `json:"since,omitempty" yaml:"since,omitempty"`
	Error    string             `json:"error,omitempty" yaml:"error,omitempty"`
	Source   string             `json:"source" yaml:"source"`
}

func statusFromSupervisor(st supervisor.Status) ServiceStatus {
	return ServiceStatus{
		Name:     st.Name,
		Backend:  st.Backend,
		State:    st.State,
		Handle:   st.HandleID,
		ExitCode: st.ExitCode,
		Since:    st.Since,
		Error:    st.Error,
		Source:   sourceSupervisor,
	}
}

func statusFromHistory(name string, backend definition.Backend, e *history.Entry) ServiceStatus {
	st := ServiceStatus{Name: name, Backend: backend, Source: sourceHistory}
	if e == nil {
		return st
	}
	st.State = e.To
	st.Handle = e.HandleID
	st.ExitCode = e.ExitCode
	st.Since = e.At
	st.Error = e.Error
	return st
}

// printStatuses writes statuses as a table or in a structured format.
func printStatuses(w io.Writer, format string, statuses []ServiceStatus) error {
	if format != "text" {
		return PrintOutput(w, format, statuses)
	}

	tbl := newTable(w, "Service", "Backend", "State", "Handle", "Exit Code", "Since", "Error")
	for _, st := range statuses {
		tbl.AddRow(
			st.Name,
			st.Backend,
			displayState(string(st.State)),
			displayOrDash(st.Handle),
			displayExitCode(st.ExitCode),
			displayTime(st.Since),
			displayOrDash(st.Error),
		)
	}
	tbl.Print()
	return nil
}

// StatusOptions holds status command options.
type StatusOptions struct {
	Names []string
}

// StatusDeps holds status dependencies.
type StatusDeps struct {
	CommonDeps
}

// StatusCommand represents the status command.
type StatusCommand struct{}

// NewStatusCommand creates a new StatusCommand.
func NewStatusCommand() *StatusCommand {
	return &StatusCommand{}
}

// getApp retrieves the App from the command context.
func (c *StatusCommand) getApp(cmd *cobra.Command) *App {
	return cmd.Context().Value(appContextKey).(*App)
}

// GetCobraCommand returns the cobra command for reporting service status.
func (c *StatusCommand) GetCobraCommand() *cobra.Command {
	var opts StatusOptions

	statusCmd := &cobra.Command{
		Use:   "status [NAME...]",
		Short: "Show the status of configured services",
		Long: `Show the status of configured services.

Unit services are queried from systemd. Process services only live as long as
the 'charmd run' supervisor that owns them, so their last recorded state is
read from the history database.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			app := c.getApp(cmd)
			services, err := selectServices(app.Config, args)
			if err != nil {
				return err
			}
			if !anyUnitBackend(services) {
				return nil
			}
			return app.Validator.SystemRequirements()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app := c.getApp(cmd)
			opts.Names = args
			return c.Run(cmd.Context(), app, opts, c.buildDeps(cmd, app))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	return statusCmd
}

// Run executes the status command with injected dependencies.
func (c *StatusCommand) Run(ctx context.Context, app *App, opts StatusOptions, deps StatusDeps) error {
	services, err := selectServices(app.Config, opts.Names)
	if err != nil {
		return err
	}

	var store *history.Store
	if s, err := app.OpenHistory(); err != nil {
		deps.Logger.Warn("Service history unavailable", "path", app.Config.DBPath, "error", err)
	} else {
		store = s
		defer func() { _ = store.Close() }()
	}

	sup := app.NewSupervisor()
	statuses := make([]ServiceStatus, 0, len(services))
	var adoptErr error
	for _, svc := range services {
		def, err := app.BuildDefinition(svc)
		if err != nil {
			adoptErr = err
			break
		}

		if def.Backend != definition.BackendUnit {
			statuses = append(statuses, statusFromHistory(svc.Name, def.Backend, lastEntry(ctx, store, svc.Name, deps)))
			continue
		}

		st, err := sup.Adopt(ctx, svc.Name, def)
		if err != nil {
			adoptErr = err
			break
		}
		statuses = append(statuses, statusFromSupervisor(st))
	}

	if err := sup.Release(ctx); err != nil {
		deps.Logger.Warn("Failed to release services", "error", err)
	}
	if adoptErr != nil {
		return adoptErr
	}
	return printStatuses(deps.Out, app.OutputFormat, statuses)
}

// lastEntry returns the most recent history entry for name, if any.
func lastEntry(ctx context.Context, store *history.Store, name string, deps StatusDeps) *history.Entry {
	if store == nil {
		return nil
	}
	entries, err := store.Recent(ctx, name, 1)
	if err != nil {
		deps.Logger.Warn("Failed to read service history", "service", name, "error", err)
		return nil
	}
	if len(entries) == 0 {
		return nil
	}
	return &entries[0]
}

// selectServices returns the named services, or every configured service
// when no names are given.
func selectServices(cfg *config.Settings, names []string) ([]config.Service, error) {
	if len(names) == 0 {
		return cfg.Services, nil
	}
	services := make([]config.Service, 0, len(names))
	for _, name := range names {
		svc, err := cfg.Lookup(name)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, nil
}

// anyUnitBackend reports whether any of services needs systemd.
func anyUnitBackend(services []config.Service) bool {
	for _, svc := range services {
		if svc.Backend == config.BackendUnit {
			return true
		}
	}
	return false
}

// buildDeps creates production dependencies for the status command.
func (c *StatusCommand) buildDeps(cmd *cobra.Command, app *App) StatusDeps {
	return StatusDeps{
		CommonDeps: NewRootDeps(app, cmd.OutOrStdout()),
	}
}
