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

	"github.com/5gconnect/charmd/internal/history"
)

// DefaultHistoryLimit is how many events history shows by default.
const DefaultHistoryLimit = 20

// HistoryOptions holds history command options.
type HistoryOptions struct {
	Name  string
	Limit int
}

// HistoryDeps holds history dependencies.
type HistoryDeps struct {
	CommonDeps
	// Open opens the history repository.
	Open func() (history.Repository, func() error, error)
}

// HistoryCommand represents the history command.
type HistoryCommand struct{}

// NewHistoryCommand creates a new HistoryCommand.
func NewHistoryCommand() *HistoryCommand {
	return &HistoryCommand{}
}

// getApp retrieves the App from the command context.
func (c *HistoryCommand) getApp(cmd *cobra.Command) *App {
	return cmd.Context().Value(appContextKey).(*App)
}

// GetCobraCommand returns the cobra command for showing recorded events.
func (c *HistoryCommand) GetCobraCommand() *cobra.Command {
	var opts HistoryOptions

	historyCmd := &cobra.Command{
		Use:   "history NAME",
		Short: "Show recent lifecycle events of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := c.getApp(cmd)
			opts.Name = args[0]
			return c.Run(cmd.Context(), app, opts, c.buildDeps(cmd, app))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	historyCmd.Flags().IntVarP(&opts.Limit, "limit", "n", DefaultHistoryLimit, "Maximum number of events to show")

	return historyCmd
}

// Run executes the history command with injected dependencies.
func (c *HistoryCommand) Run(ctx context.Context, app *App, opts HistoryOptions, deps HistoryDeps) error {
	if opts.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", opts.Limit)
	}
	if _, err := app.Config.Lookup(opts.Name); err != nil {
		return err
	}

	repo, closeRepo, err := deps.Open()
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer func() { _ = closeRepo() }()

	entries, err := repo.Recent(ctx, opts.Name, opts.Limit)
	if err != nil {
		return fmt.Errorf("reading history of %s: %w", opts.Name, err)
	}

	if app.OutputFormat != "text" {
		if entries == nil {
			entries = []history.Entry{}
		}
		return PrintOutput(deps.Out, app.OutputFormat, entries)
	}

	if len(entries) == 0 {
		_, err := fmt.Fprintf(deps.Out, "No events recorded for %s\n", opts.Name)
		return err
	}

	tbl := newTable(deps.Out, "ID", "From", "To", "Handle", "Exit Code", "At", "Error")
	for _, e := range entries {
		tbl.AddRow(
			e.ID,
			displayState(string(e.From)),
			displayState(string(e.To)),
			displayOrDash(e.HandleID),
			displayExitCode(e.ExitCode),
			displayTime(e.At),
			displayOrDash(e.Error),
		)
	}
	tbl.Print()
	return nil
}

// buildDeps creates production dependencies for the history command.
func (c *HistoryCommand) buildDeps(cmd *cobra.Command, app *App) HistoryDeps {
	return HistoryDeps{
		CommonDeps: NewRootDeps(app, cmd.OutOrStdout()),
		Open: func() (history.Repository, func() error, error) {
			store, err := app.OpenHistory()
			if err != nil {
				return nil, nil, err
			}
			return store, store.Close, nil
		},
	}
}
