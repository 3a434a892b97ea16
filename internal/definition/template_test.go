package definition

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplatePlaceholderSyntax(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected []string
	}{
		{
			name:     "single braces",
			content:  "ExecStart={command}\nWorkingDirectory={directory}",
			expected: []string{KeyCommand, KeyDirectory},
		},
		{
			name:     "jinja style",
			content:  "ExecStart={{ command }}\nEnvironment={{environment}}",
			expected: []string{KeyCommand, KeyEnvironment},
		},
		{
			name:     "repeated keys reported once",
			content:  "{name} {command} {name}",
			expected: []string{KeyName, KeyCommand},
		},
		{
			name:     "shell expansions are literal",
			content:  "ExecStart=/bin/sh -c 'exec {command} --port ${PORT}'",
			expected: []string{KeyCommand},
		},
		{
			name:    "no placeholders",
			content: "[Service]\nType=simple\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := NewTemplate("t", tt.content, nil)
			require.NoError(t, err)
			keys, err := tmpl.Placeholders()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, keys)
		})
	}
}

func TestTemplateShellExpansionSurvivesBuild(t *testing.T) {
	tmpl := mustTemplate(t, "ExecStart=/bin/sh -c '{command} --port ${PORT}'", nil)
	def, err := Build(tmpl, Parameters{Name: "rx", Command: "npm run start"})
	require.NoError(t, err)
	assert.Equal(t, "ExecStart=/bin/sh -c 'npm run start --port ${PORT}'", def.Content)
}

func TestTemplateSyntaxErrors(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		placeholder string
		offset      int
		reason      string
	}{
		{
			name:        "unknown placeholder",
			content:     "ExecStart={command} --nrf {nrf_url}",
			placeholder: "nrf_url",
			offset:      26,
			reason:      "unknown placeholder",
		},
		{
			name:    "unterminated brace",
			content: "ExecStart={command",
			offset:  10,
			reason:  "unterminated placeholder",
		},
		{
			name:    "unterminated jinja",
			content: "ExecStart={{ command }",
			offset:  10,
			reason:  "unterminated placeholder",
		},
		{
			name:        "malformed name",
			content:     "ExecStart={comm and}",
			placeholder: "comm and",
			offset:      10,
			reason:      "malformed placeholder",
		},
		{
			name:    "empty braces",
			content: "x={}",
			offset:  2,
			reason:  "malformed placeholder",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTemplate("broken.service", tt.content, nil)
			require.Error(t, err)
			assert.True(t, IsTemplateSyntaxError(err))

			var syntaxErr *TemplateSyntaxError
			require.True(t, errors.As(err, &syntaxErr))
			assert.Equal(t, "broken.service", syntaxErr.Template)
			assert.Equal(t, tt.placeholder, syntaxErr.Placeholder)
			assert.Equal(t, tt.offset, syntaxErr.Offset)
			assert.Equal(t, tt.reason, syntaxErr.Reason)
		})
	}
}

func TestBuildReportsSyntaxErrorsFromUncheckedTemplates(t *testing.T) {
	tmpl := &Template{Name: "raw", Content: "{command} {port}"}
	_, err := Build(tmpl, Parameters{Name: "rx", Command: "npm run start"})
	assert.True(t, IsTemplateSyntaxError(err))
}

func TestLoadTemplate(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "node.service")
	require.NoError(t, os.WriteFile(path, []byte("[Service]\nExecStart={{ command }}\n"), 0600))

	tmpl, err := LoadTemplate(path)
	require.NoError(t, err)
	assert.Equal(t, "node.service", tmpl.Name)

	_, err = LoadTemplate(filepath.Join(dir, "absent.service"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.service")
	require.NoError(t, os.WriteFile(bad, []byte("ExecStart={cmd}"), 0600))
	_, err = LoadTemplate(bad)
	assert.True(t, IsTemplateSyntaxError(err))
}
