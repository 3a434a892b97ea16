// Package config provides configuration management for charmd
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Provider defines the interface for configuration providers.
type Provider interface {
	// GetConfig returns the current application configuration.
	GetConfig() *Settings
	// SetConfig sets the application configuration.
	SetConfig(c *Settings)
	// InitConfig initializes the application configuration.
	InitConfig() (*Settings, error)
	// SetConfigFilePath sets the configuration file path.
	SetConfigFilePath(p string)
}

// Default configuration values for charmd.
const (
	DefaultUnitDir         = "/etc/systemd/system"
	DefaultUserUnitDir     = "$HOME/.config/systemd/user"
	DefaultDBPath          = "/var/lib/charmd/charmd.db"
	DefaultUserDBPath      = "$HOME/.local/share/charmd/charmd.db"
	DefaultStopGracePeriod = 10 * time.Second
	DefaultWatchInterval   = 2 * time.Second
	DefaultOutputLines     = 1000
	DefaultUserMode        = false
	DefaultVerbose         = false
	DefaultBackend         = "process"
)

// Backend names accepted in service entries.
const (
	BackendProcess = "process"
	BackendUnit    = "unit"
)

// Service describes one supervised component. It replaces the per-charm
// hard-coded command, directory and environment strings.
type Service struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Backend     string            `yaml:"backend,omitempty"`
	Template    string            `yaml:"template,omitempty"`
	Command     string            `yaml:"command"`
	Directory   string            `yaml:"directory,omitempty"`
	Environment []string          `yaml:"environment,omitempty"`
	Params      map[string]string `yaml:"params,omitempty"`
	After       []string          `yaml:"after,omitempty"`
	Autostart   bool              `yaml:"autostart,omitempty"`
}

// Settings represents the configuration for charmd.
type Settings struct {
	UnitDir         string        `yaml:"unitDir"`
	DBPath          string        `yaml:"dbPath"`
	LogFile         string        `yaml:"logFile,omitempty"`
	MetricsAddr     string        `yaml:"metricsAddr,omitempty"`
	StopGracePeriod time.Duration `yaml:"stopGracePeriod"`
	WatchInterval   time.Duration `yaml:"watchInterval"`
	OutputLines     int           `yaml:"outputLines"`
	UserMode        bool          `yaml:"userMode"`
	Verbose         bool          `yaml:"verbose"`
	Services        []Service     `yaml:"services"`
}

// ErrServiceNotConfigured is returned by Lookup for unknown names.
var ErrServiceNotConfigured = errors.New("service not configured")

// Lookup returns the configured service with the given name.
func (s *Settings) Lookup(name string) (Service, error) {
	for _, svc := range s.Services {
		if svc.Name == name {
			return svc, nil
		}
	}
	return Service{}, fmt.Errorf("%w: %s", ErrServiceNotConfigured, name)
}

// Validate checks the service catalogue for duplicates and unknown backends.
func (s *Settings) Validate() error {
	seen := make(map[string]struct{}, len(s.Services))
	for i, svc := range s.Services {
		if svc.Name == "" {
			return fmt.Errorf("services[%d]: name is required", i)
		}
		if _, dup := seen[svc.Name]; dup {
			return fmt.Errorf("services[%d]: duplicate service name %q", i, svc.Name)
		}
		seen[svc.Name] = struct{}{}

		switch svc.Backend {
		case "", BackendProcess, BackendUnit:
		default:
			return fmt.Errorf("service %s: unknown backend %q", svc.Name, svc.Backend)
		}
	}
	if s.StopGracePeriod <= 0 {
		return fmt.Errorf("stopGracePeriod must be positive, got %s", s.StopGracePeriod)
	}
	if s.WatchInterval <= 0 {
		return fmt.Errorf("watchInterval must be positive, got %s", s.WatchInterval)
	}
	return nil
}

// defaultConfigProvider implements the Provider interface.
type defaultConfigProvider struct {
	cfg  *Settings
	v    *viper.Viper
	file string
}

// NewDefaultConfigProvider creates a new default config provider.
func NewDefaultConfigProvider() Provider {
	return &defaultConfigProvider{v: viper.New()}
}

// NewConfigProvider creates a provider and loads configuration immediately,
// falling back to defaults when no config file can be read.
func NewConfigProvider() Provider {
	p := NewDefaultConfigProvider()
	if _, err := p.InitConfig(); err != nil {
		p.SetConfig(Defaults())
	}
	return p
}

func (p *defaultConfigProvider) SetConfig(c *Settings) {
	p.cfg = c
}

func (p *defaultConfigProvider) GetConfig() *Settings {
	return p.cfg
}

func (p *defaultConfigProvider) SetConfigFilePath(path string) {
	p.file = path
}

func (p *defaultConfigProvider) InitConfig() (*Settings, error) {
	cfg, err := initConfig(p.v, p.file)
	if err != nil {
		return nil, err
	}
	p.cfg = cfg
	return cfg, nil
}

// Defaults returns settings populated with default values only.
func Defaults() *Settings {
	return &Settings{
		UnitDir:         DefaultUnitDir,
		DBPath:          DefaultDBPath,
		StopGracePeriod: DefaultStopGracePeriod,
		WatchInterval:   DefaultWatchInterval,
		OutputLines:     DefaultOutputLines,
		UserMode:        DefaultUserMode,
		Verbose:         DefaultVerbose,
	}
}

// ApplyUserMode switches path defaults to their per-user locations.
func (s *Settings) ApplyUserMode() {
	s.UserMode = true
	if s.UnitDir == DefaultUnitDir {
		s.UnitDir = os.ExpandEnv(DefaultUserUnitDir)
	}
	if s.DBPath == DefaultDBPath {
		s.DBPath = os.ExpandEnv(DefaultUserDBPath)
	}
}

func initConfig(v *viper.Viper, file string) (*Settings, error) {
	cfg := Defaults()

	v.SetDefault("unitDir", DefaultUnitDir)
	v.SetDefault("dbPath", DefaultDBPath)
	v.SetDefault("stopGracePeriod", DefaultStopGracePeriod)
	v.SetDefault("watchInterval", DefaultWatchInterval)
	v.SetDefault("outputLines", DefaultOutputLines)
	v.SetDefault("userMode", DefaultUserMode)
	v.SetDefault("verbose", DefaultVerbose)

	v.SetConfigType("yaml")
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(os.ExpandEnv("$HOME/.config/charmd"))
		v.AddConfigPath("/etc/charmd")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CHARMD")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	for i := range cfg.Services {
		if cfg.Services[i].Backend == "" {
			cfg.Services[i].Backend = DefaultBackend
		}
	}

	return cfg, nil
}
