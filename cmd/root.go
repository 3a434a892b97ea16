// Package cmd provides the command line interface for charmd
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
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/5gconnect/charmd/internal/config"
	"github.com/5gconnect/charmd/internal/log"
)

type contextKey string

const appContextKey contextKey = "app"

// Log rotation for the optional file sink.
const (
	logMaxSizeMB  = 10
	logMaxBackups = 3
	logMaxAgeDays = 28
)

// RootOptions holds the global flags.
type RootOptions struct {
	ConfigFile string
	Verbose    bool
	UserMode   bool
	UnitDir    string
	DBPath     string
	Output     string
}

// RootCommand represents the root command for charmd CLI.
type RootCommand struct {
	opts    RootOptions
	closers []io.Closer
}

// NewRootCommand creates a new RootCommand.
func NewRootCommand() *RootCommand {
	return &RootCommand{}
}

// GetCobraCommand returns the cobra root command for charmd CLI.
func (c *RootCommand) GetCobraCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "charmd",
		Short: "charmd supervises the services of a 5G testbed charm.",
		Long: `charmd supervises the services of a 5G testbed charm.

Services are described once in the configuration file. Each one is either run
as a tracked child process or rendered into a systemd unit file and driven
through the service manager.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, ok := cmd.Context().Value(appContextKey).(*App); ok {
				return nil
			}
			app, err := c.buildApp()
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appContextKey, app))
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return c.close()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.opts.ConfigFile, "config", "", "Path to the configuration file")
	flags.BoolVarP(&c.opts.Verbose, "verbose", "v", false, "Enable verbose logging")
	flags.BoolVarP(&c.opts.UserMode, "user", "u", false, "Run in user mode")
	flags.StringVar(&c.opts.UnitDir, "unit-dir", "", "Directory unit files are written to")
	flags.StringVar(&c.opts.DBPath, "db-path", "", "Path to the history database")
	flags.StringVarP(&c.opts.Output, "output", "o", "text", "Output format (text, json, yaml)")

	rootCmd.AddCommand(
		NewRenderCommand().GetCobraCommand(),
		NewStartCommand().GetCobraCommand(),
		NewStopCommand().GetCobraCommand(),
		NewStatusCommand().GetCobraCommand(),
		NewRunCommand().GetCobraCommand(),
		NewHistoryCommand().GetCobraCommand(),
		NewVersionCommand().GetCobraCommand(),
	)

	return rootCmd
}

// loadSettings reads the configuration file and applies the global flags.
func (c *RootCommand) loadSettings(provider config.Provider) (*config.Settings, error) {
	cfg, err := provider.InitConfig()
	if err != nil {
		return nil, err
	}

	if c.opts.Verbose {
		cfg.Verbose = true
	}
	if c.opts.UserMode || cfg.UserMode {
		cfg.ApplyUserMode()
	}
	if c.opts.UnitDir != "" {
		cfg.UnitDir = c.opts.UnitDir
	}
	if c.opts.DBPath != "" {
		cfg.DBPath = c.opts.DBPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *RootCommand) buildApp() (*App, error) {
	format, err := parseOutputFormat(c.opts.Output)
	if err != nil {
		return nil, err
	}

	provider := config.NewDefaultConfigProvider()
	if c.opts.ConfigFile != "" {
		provider.SetConfigFilePath(c.opts.ConfigFile)
	}
	cfg, err := c.loadSettings(provider)
	if err != nil {
		return nil, err
	}
	provider.SetConfig(cfg)

	logger := log.NewLogger(cfg.Verbose)
	if cfg.LogFile != "" {
		fileLogger, closer := log.NewFileLogger(log.FileOptions{
			Path:       cfg.LogFile,
			MaxSizeMB:  logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAgeDays: logMaxAgeDays,
			Compress:   true,
		}, cfg.Verbose, true)
		logger = fileLogger
		c.closers = append(c.closers, closer)
	}
	log.SetDefault(logger)

	app := NewApp(logger, provider)
	app.OutputFormat = format
	app.Reload = func() (*config.Settings, error) {
		return c.loadSettings(provider)
	}

	logger.Debug("Configuration loaded", "unitDir", cfg.UnitDir, "dbPath", cfg.DBPath, "userMode", cfg.UserMode, "services", len(cfg.Services))
	return app, nil
}

func (c *RootCommand) close() error {
	var firstErr error
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}

func parseOutputFormat(format string) (string, error) {
	switch f := strings.ToLower(format); f {
	case "", "text":
		return "text", nil
	case "json", "yaml":
		return f, nil
	case "yml":
		return "yaml", nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}
