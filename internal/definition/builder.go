package definition

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/5gconnect/charmd/internal/log"
)

// Parameters are the caller-supplied values for one build.
type Parameters struct {
	Name        string
	Description string
	Backend     Backend
	Command     string
	Directory   string
	Environment []string
	// Values supplies any placeholder by key. Typed fields above win over Values.
	Values map[string]string
}

// Build resolves tmpl against params. It performs no I/O.
func Build(tmpl *Template, params Parameters) (Definition, error) {
	if tmpl == nil {
		return Definition{}, errors.New("template is required")
	}
	if err := ValidateName(params.Name); err != nil {
		return Definition{}, err
	}

	backend, err := ParseBackend(string(params.Backend))
	if err != nil {
		return Definition{}, fmt.Errorf("service %s: %w", params.Name, err)
	}

	segs, err := tmpl.parse()
	if err != nil {
		return Definition{}, err
	}

	values := make(map[string]string, len(knownKeys))
	maps.Copy(values, tmpl.Defaults)
	maps.Copy(values, params.Values)
	setIfNotEmpty(values, KeyDescription, params.Description)
	setIfNotEmpty(values, KeyCommand, params.Command)
	setIfNotEmpty(values, KeyDirectory, params.Directory)
	values[KeyName] = params.Name

	command := strings.TrimSpace(values[KeyCommand])
	if command == "" {
		return Definition{}, NewMissingParameterError(KeyCommand, tmpl.Name)
	}
	values[KeyCommand] = command

	if values[KeyDescription] == "" {
		values[KeyDescription] = params.Name
	}

	env := params.Environment
	if len(env) == 0 && values[KeyEnvironment] != "" {
		env, err = ParseEnvironment(values[KeyEnvironment])
		if err != nil {
			return Definition{}, err
		}
	} else if err := ValidateEnvironment(env); err != nil {
		return Definition{}, err
	}
	env = append([]string(nil), env...)
	values[KeyEnvironment] = JoinEnvironment(env)

	var content strings.Builder
	for _, s := range segs {
		if s.key == "" {
			content.WriteString(s.literal)
			continue
		}
		content.WriteString(values[s.key])
	}

	return Definition{
		Name:             params.Name,
		Backend:          backend,
		Command:          command,
		WorkingDirectory: values[KeyDirectory],
		Environment:      env,
		Content:          content.String(),
		Template:         tmpl,
	}, nil
}

func setIfNotEmpty(values map[string]string, key, value string) {
	if value != "" {
		values[key] = value
	}
}

// UnitWriter persists rendered definitions.
type UnitWriter interface {
	Write(name string, content []byte) error
}

// changeDetector is implemented by writers that can tell whether content
// differs from what is already stored.
type changeDetector interface {
	HasChanged(name string, content []byte) bool
}

// BuildAndPersist builds a definition and writes its content through w.
func BuildAndPersist(tmpl *Template, params Parameters, w UnitWriter) (Definition, error) {
	def, err := Build(tmpl, params)
	if err != nil {
		return Definition{}, err
	}
	if err := w.Write(def.Name, []byte(def.Content)); err != nil {
		return Definition{}, fmt.Errorf("failed to persist definition for %s: %w", def.Name, err)
	}
	return def, nil
}

// Builder builds definitions and persists them through a UnitWriter,
// skipping writes whose content is unchanged.
type Builder struct {
	writer UnitWriter
	logger log.Logger
}

// NewBuilder creates a Builder writing through w.
func NewBuilder(w UnitWriter, logger log.Logger) *Builder {
	return &Builder{writer: w, logger: logger}
}

// Build resolves tmpl against params without writing anything.
func (b *Builder) Build(tmpl *Template, params Parameters) (Definition, error) {
	def, err := Build(tmpl, params)
	if err != nil {
		return Definition{}, err
	}
	b.logger.Debug("Built service definition", "service", def.Name, "backend", def.Backend, "hash", def.Hash())
	return def, nil
}

// BuildAndPersist builds a definition and writes it when the stored copy
// differs. It reports whether anything was written.
func (b *Builder) BuildAndPersist(tmpl *Template, params Parameters) (Definition, bool, error) {
	def, err := b.Build(tmpl, params)
	if err != nil {
		return Definition{}, false, err
	}

	content := []byte(def.Content)
	if cd, ok := b.writer.(changeDetector); ok && !cd.HasChanged(def.Name, content) {
		b.logger.Debug("Unit file unchanged", "service", def.Name)
		return def, false, nil
	}
	if err := b.writer.Write(def.Name, content); err != nil {
		return Definition{}, false, fmt.Errorf("failed to persist definition for %s: %w", def.Name, err)
	}
	b.logger.Info("Wrote unit file", "service", def.Name, "hash", def.Hash())
	return def, true, nil
}
