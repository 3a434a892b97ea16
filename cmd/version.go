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
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Build information set by goreleaser.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// VersionInfo is the structured form of the version output.
type VersionInfo struct {
	Version string `json:"version" yaml:"version"`
	Commit  string `json:"commit" yaml:"commit"`
	Date    string `json:"date" yaml:"date"`
	Go      string `json:"go" yaml:"go"`
}

// VersionCommand represents the version command.
type VersionCommand struct{}

// NewVersionCommand creates a new VersionCommand.
func NewVersionCommand() *VersionCommand {
	return &VersionCommand{}
}

// GetCobraCommand returns the cobra command for displaying version information.
func (c *VersionCommand) GetCobraCommand() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Show version information for charmd.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format := "text"
			if app, ok := cmd.Context().Value(appContextKey).(*App); ok {
				format = app.OutputFormat
			}
			return c.Run(cmd, format)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	return versionCmd
}

// Run prints the build information in format.
func (c *VersionCommand) Run(cmd *cobra.Command, format string) error {
	info := VersionInfo{Version: Version, Commit: Commit, Date: Date, Go: runtime.Version()}
	if format != "text" {
		return PrintOutput(cmd.OutOrStdout(), format, info)
	}

	out := cmd.OutOrStdout()
	_, err := fmt.Fprintf(out, "charmd version %s\n  commit: %s\n  built: %s\n  go: %s\n",
		info.Version, info.Commit, info.Date, info.Go)
	return err
}
