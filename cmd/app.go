// Package cmd provides the command line interface for charmd
package cmd

import (
	"fmt"
	"time"

	"github.com/juju/clock"

	"github.com/5gconnect/charmd/internal/config"
	"github.com/5gconnect/charmd/internal/definition"
	"github.com/5gconnect/charmd/internal/execx"
	"github.com/5gconnect/charmd/internal/fs"
	"github.com/5gconnect/charmd/internal/history"
	"github.com/5gconnect/charmd/internal/log"
	"github.com/5gconnect/charmd/internal/supervisor"
	"github.com/5gconnect/charmd/internal/systemd"
	"github.com/5gconnect/charmd/internal/validate"
)

// commandTimeout bounds journalctl and systemctl calls.
const commandTimeout = 30 * time.Second

// SystemValidator checks that the host can run unit-backed services.
type SystemValidator interface {
	SystemRequirements() error
}

// App holds the application dependencies for command line interface.
type App struct {
	Logger         log.Logger
	Config         *config.Settings
	ConfigProvider config.Provider
	Store          *fs.Store
	Builder        *definition.Builder
	Connections    systemd.ConnectionFactory
	Runner         execx.Runner
	Validator      SystemValidator
	Clock          clock.Clock
	OutputFormat   string
	// Reload re-reads the configuration. Nil keeps Config as is.
	Reload func() (*config.Settings, error)
}

// NewApp creates a new App with all dependencies initialized.
func NewApp(logger log.Logger, configProv config.Provider) *App {
	store := fs.NewStoreFromConfig(configProv, logger)
	runner := execx.WithTimeout(execx.NewRealRunner(), commandTimeout)

	return &App{
		Logger:         logger,
		Config:         configProv.GetConfig(),
		ConfigProvider: configProv,
		Store:          store,
		Builder:        definition.NewBuilder(store, logger),
		Connections:    systemd.NewConnectionFactory(logger),
		Runner:         runner,
		Validator:      validate.NewValidator(logger, runner),
		Clock:          clock.WallClock,
		OutputFormat:   "text",
	}
}

// template returns the service's own template or the built-in one.
func (a *App) template(svc config.Service) (*definition.Template, error) {
	if svc.Template == "" {
		return definition.DefaultTemplate(), nil
	}
	return definition.LoadTemplate(svc.Template)
}

func (a *App) parameters(svc config.Service) (*definition.Template, definition.Parameters, error) {
	tmpl, err := a.template(svc)
	if err != nil {
		return nil, definition.Parameters{}, err
	}
	if err := validate.EnvironmentValues(svc.Environment, a.Logger); err != nil {
		return nil, definition.Parameters{}, fmt.Errorf("service %s: %w", svc.Name, err)
	}
	a.Logger.Debug("Building service definition",
		"service", svc.Name,
		"template", tmpl.Name,
		"environment", validate.RedactEnvironment(svc.Environment))

	return tmpl, definition.Parameters{
		Name:        svc.Name,
		Description: svc.Description,
		Backend:     definition.Backend(svc.Backend),
		Command:     svc.Command,
		Directory:   svc.Directory,
		Environment: svc.Environment,
		Values:      svc.Params,
	}, nil
}

// BuildDefinition resolves a configured service without writing anything.
func (a *App) BuildDefinition(svc config.Service) (definition.Definition, error) {
	tmpl, params, err := a.parameters(svc)
	if err != nil {
		return definition.Definition{}, err
	}
	return a.Builder.Build(tmpl, params)
}

// PersistDefinition resolves a configured service and, for the unit
// backend, writes its unit file. It reports whether the file changed.
func (a *App) PersistDefinition(svc config.Service) (definition.Definition, bool, error) {
	tmpl, params, err := a.parameters(svc)
	if err != nil {
		return definition.Definition{}, false, err
	}
	if params.Backend != definition.BackendUnit {
		def, err := a.Builder.Build(tmpl, params)
		return def, false, err
	}
	return a.Builder.BuildAndPersist(tmpl, params)
}

// NewSupervisor creates a supervisor with both launch backends wired to the
// application's configuration.
func (a *App) NewSupervisor(observers ...supervisor.Observer) *supervisor.Supervisor {
	units := systemd.NewUnitLauncher(systemd.UnitLauncherOptions{
		Factory:       a.Connections,
		Diagnostics:   systemd.NewDiagnostics(a.Runner, a.Config.UserMode, a.Logger),
		Clock:         a.Clock,
		UserMode:      a.Config.UserMode,
		WatchInterval: a.Config.WatchInterval,
		Logger:        a.Logger.With("backend", definition.BackendUnit),
	})
	processes := supervisor.NewProcessLauncher(a.Logger.With("backend", definition.BackendProcess), a.Config.OutputLines)

	return supervisor.New(supervisor.Options{
		Launchers: map[definition.Backend]supervisor.Launcher{
			definition.BackendProcess: processes,
			definition.BackendUnit:    units,
		},
		Clock:       a.Clock,
		GracePeriod: a.Config.StopGracePeriod,
		Logger:      a.Logger,
		Observers:   observers,
	})
}

// OpenHistory opens the configured history database.
func (a *App) OpenHistory() (*history.Store, error) {
	return history.Open(a.Config.DBPath, a.Logger)
}

// historyObservers returns the history store as an observer when the
// database can be opened. A missing history never blocks a command.
func (a *App) historyObservers() ([]supervisor.Observer, func()) {
	store, err := a.OpenHistory()
	if err != nil {
		a.Logger.Warn("Service history unavailable", "path", a.Config.DBPath, "error", err)
		return nil, func() {}
	}
	return []supervisor.Observer{store}, func() {
		if err := store.Close(); err != nil {
			a.Logger.Debug("Failed to close history database", "error", err)
		}
	}
}
