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

	"github.com/5gconnect/charmd/internal/definition"
)

// RenderOptions holds render command options.
type RenderOptions struct {
	Name string
}

// RenderDeps holds render dependencies.
type RenderDeps struct {
	CommonDeps
}

// RenderResult is the structured form of a rendered definition.
type RenderResult struct {
	Name        string             `json:"name" yaml:"name"`
	Backend     definition.Backend `json:"backend" yaml:"backend"`
	Command     string             `json:"command" yaml:"command"`
	Directory   string             `json:"directory,omitempty" yaml:"directory,omitempty"`
	Environment []string           `json:"environment,omitempty" yaml:"environment,omitempty"`
	Hash        string             `json:"hash" yaml:"hash"`
	Path        string             `json:"path,omitempty" yaml:"path,omitempty"`
	Changed     bool               `json:"changed" yaml:"changed"`
	Content     string             `json:"content" yaml:"content"`
}

// RenderCommand represents the render command.
type RenderCommand struct{}

// NewRenderCommand creates a new RenderCommand.
func NewRenderCommand() *RenderCommand {
	return &RenderCommand{}
}

// getApp retrieves the App from the command context.
func (c *RenderCommand) getApp(cmd *cobra.Command) *App {
	return cmd.Context().Value(appContextKey).(*App)
}

// GetCobraCommand returns the cobra command for rendering a service definition.
func (c *RenderCommand) GetCobraCommand() *cobra.Command {
	var opts RenderOptions

	renderCmd := &cobra.Command{
		Use:   "render NAME",
		Short: "Render the definition of a configured service",
		Long: `Render the definition of a configured service from its template.

Services using the unit backend also have their unit file written to the
unit directory when its content changed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := c.getApp(cmd)
			opts.Name = args[0]
			return c.Run(cmd.Context(), app, opts, c.buildDeps(cmd, app))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	return renderCmd
}

// Run executes the render command with injected dependencies.
func (c *RenderCommand) Run(_ context.Context, app *App, opts RenderOptions, deps RenderDeps) error {
	svc, err := app.Config.Lookup(opts.Name)
	if err != nil {
		return err
	}

	def, changed, err := app.PersistDefinition(svc)
	if err != nil {
		return err
	}

	if app.OutputFormat == "text" {
		_, err := fmt.Fprint(deps.Out, def.Content)
		return err
	}

	result := RenderResult{
		Name:        def.Name,
		Backend:     def.Backend,
		Command:     def.Command,
		Directory:   def.WorkingDirectory,
		Environment: def.Environment,
		Hash:        def.Hash(),
		Changed:     changed,
		Content:     def.Content,
	}
	if def.Backend == definition.BackendUnit {
		result.Path = app.Store.Path(def.Name)
	}
	return PrintOutput(deps.Out, app.OutputFormat, result)
}

// buildDeps creates production dependencies for the render command.
func (c *RenderCommand) buildDeps(cmd *cobra.Command, app *App) RenderDeps {
	return RenderDeps{
		CommonDeps: NewRootDeps(app, cmd.OutOrStdout()),
	}
}
