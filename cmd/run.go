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
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/5gconnect/charmd/internal/config"
	"github.com/5gconnect/charmd/internal/definition"
	"github.com/5gconnect/charmd/internal/dependency"
	"github.com/5gconnect/charmd/internal/metrics"
	"github.com/5gconnect/charmd/internal/supervisor"
)

// metricsShutdownTimeout bounds draining the metrics endpoint on exit.
const metricsShutdownTimeout = 5 * time.Second

// RunOptions holds run command options.
type RunOptions struct {
	Names       []string
	MetricsAddr string
}

// RunDeps holds run dependencies.
type RunDeps struct {
	CommonDeps
	Notify NotifyFunc
	// Signals delivers SIGHUP for reloads and SIGINT or SIGTERM for shutdown.
	Signals <-chan os.Signal
	// Watchdog is the interval between watchdog pings. Zero disables them.
	Watchdog time.Duration
	Listen   func(network, address string) (net.Listener, error)
}

// RunCommand represents the run command.
type RunCommand struct{}

// NewRunCommand creates a new RunCommand.
func NewRunCommand() *RunCommand {
	return &RunCommand{}
}

// getApp retrieves the App from the command context.
func (c *RunCommand) getApp(cmd *cobra.Command) *App {
	return cmd.Context().Value(appContextKey).(*App)
}

// GetCobraCommand returns the cobra command for supervising services.
func (c *RunCommand) GetCobraCommand() *cobra.Command {
	var opts RunOptions

	runCmd := &cobra.Command{
		Use:   "run [NAME...]",
		Short: "Supervise services until interrupted",
		Long: `Start the named services, or every service marked autostart, in
dependency order and supervise them until SIGINT or SIGTERM.

SIGHUP re-reads the configuration and restarts every service whose definition
changed. Services removed from the configuration are stopped.

The command integrates with systemd, sending readiness and watchdog
notifications when running under systemd supervision.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			app := c.getApp(cmd)
			if !usesUnitBackend(app.Config, args) {
				return nil
			}
			return app.Validator.SystemRequirements()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app := c.getApp(cmd)
			opts.Names = args

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(signals)

			deps := c.buildDeps(cmd, app)
			deps.Signals = signals
			return c.Run(cmd.Context(), app, opts, deps)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metricsAddr)")

	return runCmd
}

// Run executes the run command with injected dependencies. It returns nil
// after a signal-initiated shutdown and ctx.Err() when ctx ends first.
func (c *RunCommand) Run(ctx context.Context, app *App, opts RunOptions, deps RunDeps) error {
	names := opts.Names
	if len(names) == 0 {
		names = autostartServices(app.Config)
		if len(names) == 0 {
			return errors.New("no services to run: name them or set autostart in the configuration")
		}
	}

	graph, err := dependency.Build(app.Config.Services)
	if err != nil {
		return err
	}
	order, err := graph.Order(names...)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	observers, closeHistory := app.historyObservers()
	defer closeHistory()
	observers = append(observers, collector)

	streamCtx, cancelStreams := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancelStreams()

	if addr := opts.MetricsAddr; addr != "" || app.Config.MetricsAddr != "" {
		if addr == "" {
			addr = app.Config.MetricsAddr
		}
		stop, err := serveMetrics(addr, collector, deps, &wg)
		if err != nil {
			return err
		}
		defer stop()
	}

	r := &runLoop{
		app:       app,
		deps:      deps,
		sup:       app.NewSupervisor(observers...),
		graph:     graph,
		collector: collector,
		streamCtx: streamCtx,
		wg:        &wg,
		failed:    make(map[string]bool),
	}

	for _, name := range order {
		r.start(ctx, name)
	}
	deps.Logger.Info("Supervising services", "services", r.order, "failed", len(r.failed))
	r.notify(daemon.SdNotifyReady)

	var watchdog <-chan time.Time
	if deps.Watchdog > 0 {
		watchdog = deps.Clock.After(deps.Watchdog)
	}

	for {
		select {
		case <-ctx.Done():
			if err := r.shutdown(); err != nil {
				deps.Logger.Warn("Shutdown incomplete", "error", err)
			}
			return ctx.Err()
		case sig := <-deps.Signals:
			if sig == syscall.SIGHUP {
				r.notify(daemon.SdNotifyReloading)
				r.reload(ctx)
				r.notify(daemon.SdNotifyReady)
				continue
			}
			deps.Logger.Info("Received signal, shutting down", "signal", sig.String())
			return r.shutdown()
		case <-watchdog:
			r.notify(daemon.SdNotifyWatchdog)
			watchdog = deps.Clock.After(deps.Watchdog)
		}
	}
}

// runLoop holds the state of one run invocation.
type runLoop struct {
	app       *App
	deps      RunDeps
	sup       *supervisor.Supervisor
	graph     *dependency.Graph
	collector *metrics.Collector

	streamCtx context.Context
	wg        *sync.WaitGroup

	// order lists the managed services in start order.
	order  []string
	failed map[string]bool
}

func (r *runLoop) start(ctx context.Context, name string) {
	logger := r.deps.Logger
	r.order = append(r.order, name)

	if dep, blocked := r.blockedBy(name); blocked {
		logger.Error("Not starting service, a dependency failed", "service", name, "dependency", dep)
		r.failed[name] = true
		return
	}

	svc, err := r.app.Config.Lookup(name)
	if err != nil {
		logger.Error("Service not configured", "service", name, "error", err)
		r.failed[name] = true
		return
	}
	def, _, err := r.app.PersistDefinition(svc)
	if err != nil {
		logger.Error("Failed to build service definition", "service", name, "error", err)
		r.failed[name] = true
		return
	}

	st, err := r.sup.Start(ctx, name, def)
	if err != nil {
		logger.Error("Failed to start service", "service", name, "error", err)
		r.failed[name] = true
		return
	}
	delete(r.failed, name)
	logger.Info("Service started", "service", name, "handle", st.HandleID)
	r.streamOutput(name, def)
}

// blockedBy returns a failed dependency of name, if any.
func (r *runLoop) blockedBy(name string) (string, bool) {
	after, err := r.graph.Dependencies(name)
	if err != nil {
		return "", false
	}
	for _, dep := range after {
		if r.failed[dep] {
			return dep, true
		}
	}
	return "", false
}

// streamOutput copies the tracked output of a process service into the log
// until the process exits or the run ends.
func (r *runLoop) streamOutput(name string, def definition.Definition) {
	if def.Backend != definition.BackendProcess {
		return
	}
	lines, err := r.sup.TrackOutput(r.streamCtx, name)
	if err != nil {
		r.deps.Logger.Debug("Output not tracked", "service", name, "error", err)
		return
	}

	logger := r.deps.Logger.With("service", name)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for line := range lines {
			logger.Info("Service output", "line", line)
		}
	}()
}

// reload re-reads the configuration, restarts services whose definition
// changed and stops services that are no longer configured.
func (r *runLoop) reload(ctx context.Context) {
	logger := r.deps.Logger
	if r.app.Reload != nil {
		cfg, err := r.app.Reload()
		if err != nil {
			logger.Error("Failed to reload configuration, keeping the current one", "error", err)
			return
		}
		r.app.Config = cfg
	}

	kept := make([]string, 0, len(r.order))
	for _, name := range r.order {
		svc, err := r.app.Config.Lookup(name)
		if err != nil {
			logger.Warn("Service removed from configuration, stopping", "service", name)
			r.remove(ctx, name)
			continue
		}
		kept = append(kept, name)

		def, changed, err := r.app.PersistDefinition(svc)
		if err != nil {
			logger.Error("Failed to build service definition", "service", name, "error", err)
			continue
		}
		current, err := r.sup.Definition(name)
		if err == nil && current.Equal(def) {
			continue
		}
		if dep, blocked := r.blockedBy(name); blocked {
			logger.Warn("Not restarting service, a dependency failed", "service", name, "dependency", dep)
			continue
		}

		logger.Info("Service definition changed, restarting", "service", name, "unitFileChanged", changed)
		st, err := r.sup.Restart(ctx, name, def)
		if err != nil {
			logger.Error("Failed to restart service", "service", name, "error", err)
			r.failed[name] = true
			continue
		}
		delete(r.failed, name)
		logger.Info("Service restarted", "service", name, "handle", st.HandleID)
		r.streamOutput(name, def)
	}
	r.order = kept
}

// remove stops and forgets a service that left the configuration. A unit
// service's file is deleted as well.
func (r *runLoop) remove(ctx context.Context, name string) {
	def, defErr := r.sup.Definition(name)
	if _, err := r.sup.Stop(ctx, name); err != nil && !supervisor.IsNotFoundError(err) {
		r.deps.Logger.Warn("Failed to stop removed service", "service", name, "error", err)
	}
	if err := r.sup.Deregister(name); err != nil && !supervisor.IsNotFoundError(err) {
		r.deps.Logger.Warn("Failed to forget removed service", "service", name, "error", err)
	}
	if defErr == nil && def.Backend == definition.BackendUnit {
		if err := r.app.Store.Remove(name); err != nil {
			r.deps.Logger.Warn("Failed to remove unit file", "service", name, "error", err)
		}
	}
	r.collector.Forget(name)
	delete(r.failed, name)
}

// shutdown stops services in reverse start order, then shuts the
// supervisor down.
func (r *runLoop) shutdown() error {
	r.notify(daemon.SdNotifyStopping)
	ctx := context.Background()

	var errs []error
	for _, name := range slices.Backward(r.order) {
		if _, err := r.sup.Stop(ctx, name); err != nil && !supervisor.IsNotFoundError(err) {
			errs = append(errs, err)
		}
	}
	if err := r.sup.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	r.deps.Logger.Info("All services stopped")
	return errors.Join(errs...)
}

func (r *runLoop) notify(state string) {
	if r.deps.Notify == nil {
		return
	}
	if sent, err := r.deps.Notify(false, state); err != nil {
		r.deps.Logger.Warn("Failed to notify systemd", "state", state, "error", err)
	} else if sent {
		r.deps.Logger.Debug("Notified systemd", "state", state)
	}
}

// serveMetrics exposes the collector on addr until the returned func is called.
func serveMetrics(addr string, collector *metrics.Collector, deps RunDeps, wg *sync.WaitGroup) (func(), error) {
	listen := deps.Listen
	if listen == nil {
		listen = net.Listen
	}
	ln, err := listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("serving metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: metricsShutdownTimeout}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			deps.Logger.Error("Metrics endpoint failed", "error", err)
		}
	}()
	deps.Logger.Info("Serving metrics", "address", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// autostartServices returns the names of services marked autostart.
func autostartServices(cfg *config.Settings) []string {
	var names []string
	for _, svc := range cfg.Services {
		if svc.Autostart {
			names = append(names, svc.Name)
		}
	}
	return names
}

// usesUnitBackend reports whether any selected service needs systemd.
func usesUnitBackend(cfg *config.Settings, names []string) bool {
	for _, svc := range cfg.Services {
		if len(names) > 0 && !slices.Contains(names, svc.Name) {
			continue
		}
		if len(names) == 0 && !svc.Autostart {
			continue
		}
		if svc.Backend == config.BackendUnit {
			return true
		}
	}
	return false
}

// buildDeps creates production dependencies for the run command.
func (c *RunCommand) buildDeps(cmd *cobra.Command, app *App) RunDeps {
	deps := RunDeps{
		CommonDeps: NewRootDeps(app, cmd.OutOrStdout()),
		Notify:     daemon.SdNotify,
		Listen:     net.Listen,
	}
	if interval, err := daemon.SdWatchdogEnabled(false); err != nil {
		app.Logger.Warn("Invalid systemd watchdog settings", "error", err)
	} else if interval > 0 {
		deps.Watchdog = interval / 2
	}
	return deps
}
