package definition

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Placeholder names understood by the substitution engine.
const (
	KeyName        = "name"
	KeyDescription = "description"
	KeyCommand     = "command"
	KeyDirectory   = "directory"
	KeyEnvironment = "environment"
	KeyUser        = "user"
)

var knownKeys = map[string]struct{}{
	KeyName:        {},
	KeyDescription: {},
	KeyCommand:     {},
	KeyDirectory:   {},
	KeyEnvironment: {},
	KeyUser:        {},
}

//go:embed templates/default.service
var defaultServiceTemplate string

// Template is an unresolved unit description. Placeholders are written as
// {key} or {{ key }}; ${VAR} is left alone for systemd and the shell.
type Template struct {
	Name     string
	Content  string
	Defaults map[string]string
}

// segment is either literal text or a placeholder key.
type segment struct {
	literal string
	key     string
}

// DefaultTemplate returns the built-in systemd service template.
func DefaultTemplate() *Template {
	return &Template{
		Name:     "default.service",
		Content:  defaultServiceTemplate,
		Defaults: map[string]string{KeyUser: "root"},
	}
}

// NewTemplate creates a template and checks its placeholder syntax.
func NewTemplate(name, content string, defaults map[string]string) (*Template, error) {
	t := &Template{Name: name, Content: content, Defaults: defaults}
	if _, err := t.parse(); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadTemplate reads a template file from disk.
func LoadTemplate(path string) (*Template, error) {
	content, err := os.ReadFile(path) //nolint:gosec // Template paths come from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", path, err)
	}
	return NewTemplate(filepath.Base(path), string(content), nil)
}

// Placeholders returns the distinct placeholder keys in order of first use.
func (t *Template) Placeholders() ([]string, error) {
	segs, err := t.parse()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var keys []string
	for _, s := range segs {
		if s.key == "" {
			continue
		}
		if _, ok := seen[s.key]; ok {
			continue
		}
		seen[s.key] = struct{}{}
		keys = append(keys, s.key)
	}
	return keys, nil
}

func (t *Template) parse() ([]segment, error) {
	src := t.Content
	var segs []segment
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			segs = append(segs, segment{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '$' && i+1 < len(src) && src[i+1] == '{':
			end := strings.IndexByte(src[i:], '}')
			if end < 0 {
				lit.WriteString(src[i:])
				i = len(src)
				continue
			}
			lit.WriteString(src[i : i+end+1])
			i += end + 1

		case c == '{':
			open, closing := "{", "}"
			if strings.HasPrefix(src[i:], "{{") {
				open, closing = "{{", "}}"
			}
			rest := src[i+len(open):]
			end := strings.Index(rest, closing)
			if end < 0 {
				return nil, &TemplateSyntaxError{Template: t.Name, Offset: i, Reason: "unterminated placeholder"}
			}
			key := strings.TrimSpace(rest[:end])
			if !isIdentifier(key) {
				return nil, &TemplateSyntaxError{Template: t.Name, Placeholder: key, Offset: i, Reason: "malformed placeholder"}
			}
			if _, ok := knownKeys[key]; !ok {
				return nil, &TemplateSyntaxError{Template: t.Name, Placeholder: key, Offset: i, Reason: "unknown placeholder"}
			}
			flush()
			segs = append(segs, segment{key: key})
			i += len(open) + end + len(closing)

		default:
			lit.WriteByte(c)
			i++
		}
	}
	flush()
	return segs, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
