package definition

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"
)

var unitLoadOptions = ini.LoadOptions{
	AllowShadows:            true,
	IgnoreInlineComment:     true,
	PreserveSurroundedQuote: true,
	KeyValueDelimiters:      "=",
}

// Decode reads a persisted systemd unit back into a Definition. The result
// uses the unit backend and carries the original content verbatim.
func Decode(name, content string) (Definition, error) {
	if err := ValidateName(name); err != nil {
		return Definition{}, err
	}

	f, err := ini.LoadSources(unitLoadOptions, []byte(content))
	if err != nil {
		return Definition{}, fmt.Errorf("failed to parse unit %s: %w", name, err)
	}

	svc, err := f.GetSection("Service")
	if err != nil {
		return Definition{}, fmt.Errorf("unit %s has no [Service] section", name)
	}

	command := strings.TrimLeft(svc.Key("ExecStart").String(), "-@:+!")
	if strings.TrimSpace(command) == "" {
		return Definition{}, NewMissingParameterError(KeyCommand, name)
	}

	var env []string
	if svc.HasKey("Environment") {
		for _, line := range svc.Key("Environment").ValueWithShadows() {
			entries, err := ParseEnvironment(line)
			if err != nil {
				return Definition{}, fmt.Errorf("unit %s: %w", name, err)
			}
			env = append(env, entries...)
		}
	}

	return Definition{
		Name:             name,
		Backend:          BackendUnit,
		Command:          strings.TrimSpace(command),
		WorkingDirectory: strings.TrimPrefix(svc.Key("WorkingDirectory").String(), "-"),
		Environment:      env,
		Content:          content,
	}, nil
}
