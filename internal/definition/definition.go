// Package definition turns service templates and caller parameters into
// resolved service definitions.
package definition

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Backend selects how a definition is launched.
type Backend string

// Supported backends.
const (
	BackendProcess Backend = "process"
	BackendUnit    Backend = "unit"
)

// ParseBackend converts a configured backend name, defaulting to process.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case "", BackendProcess:
		return BackendProcess, nil
	case BackendUnit:
		return BackendUnit, nil
	default:
		return "", fmt.Errorf("unknown backend %q", s)
	}
}

// Definition is a fully resolved description of how to run a service.
// It is a plain value; building the same template with the same
// parameters always yields an equal Definition.
type Definition struct {
	Name             string
	Backend          Backend
	Command          string
	WorkingDirectory string
	Environment      []string
	// Content is the rendered template text.
	Content string
	// Template is the template Content was rendered from. Nil for decoded units.
	Template *Template
}

// Args splits Command into an argument vector using shell word rules.
func (d Definition) Args() ([]string, error) {
	args, err := shellquote.Split(d.Command)
	if err != nil {
		return nil, fmt.Errorf("failed to split command for %s: %w", d.Name, err)
	}
	if len(args) == 0 {
		return nil, NewMissingParameterError(KeyCommand, d.Name)
	}
	return args, nil
}

// Hash returns the hex SHA-256 of the rendered content.
func (d Definition) Hash() string {
	sum := sha256.Sum256([]byte(d.Content))
	return hex.EncodeToString(sum[:])
}

// Equal reports whether two definitions would launch the same service.
func (d Definition) Equal(other Definition) bool {
	return d.Name == other.Name &&
		d.Backend == other.Backend &&
		d.Command == other.Command &&
		d.WorkingDirectory == other.WorkingDirectory &&
		slices.Equal(d.Environment, other.Environment) &&
		d.Content == other.Content
}

var validName = regexp.MustCompile(`^[a-zA-Z0-9._@:-]+$`)

// ValidateName checks that name is usable as a systemd unit name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if len(name) > 256 {
		return fmt.Errorf("service name too long: %d characters (max 256)", len(name))
	}
	if !validName.MatchString(name) {
		return fmt.Errorf("service name %q contains invalid characters", name)
	}
	return nil
}

// ParseEnvironment splits a space separated KEY=VALUE list, honouring quotes.
func ParseEnvironment(s string) ([]string, error) {
	entries, err := shellquote.Split(s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment %q: %w", s, err)
	}
	if err := ValidateEnvironment(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ValidateEnvironment checks that every entry has a non-empty key.
func ValidateEnvironment(env []string) error {
	for _, entry := range env {
		key, _, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			return &InvalidEnvironmentError{Entry: entry}
		}
	}
	return nil
}

// JoinEnvironment renders entries as a single line, quoting where needed.
func JoinEnvironment(env []string) string {
	return shellquote.Join(env...)
}
