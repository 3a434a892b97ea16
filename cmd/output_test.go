package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintOutput(t *testing.T) {
	data := map[string]string{"name": "rx"}

	tests := []struct {
		format string
		want   string
	}{
		{format: "json", want: "{\n  \"name\": \"rx\"\n}\n"},
		{format: "yaml", want: "name: rx\n"},
		{format: "YML", want: "name: rx\n"},
		{format: "text", want: "map[name:rx]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, PrintOutput(&buf, tt.format, data))
			assert.Equal(t, tt.want, buf.String())
		})
	}

	t.Run("unsupported", func(t *testing.T) {
		var buf bytes.Buffer
		assert.EqualError(t, PrintOutput(&buf, "xml", data), "unsupported output format: xml")
	})
}

func TestParseOutputFormat(t *testing.T) {
	tests := map[string]string{"": "text", "TEXT": "text", "json": "json", "yml": "yaml", "yaml": "yaml"}
	for in, want := range tests {
		got, err := parseOutputFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseOutputFormat("toml")
	assert.Error(t, err)
}

func TestDisplayHelpers(t *testing.T) {
	code := 143
	assert.Equal(t, "Running", displayState("running"))
	assert.Equal(t, "Unknown", displayState(""))
	assert.Equal(t, "143", displayExitCode(&code))
	assert.Equal(t, "-", displayExitCode(nil))
	assert.Equal(t, "-", displayTime(time.Time{}))
	assert.Equal(t, "-", displayOrDash(""))
	assert.Equal(t, "pid:42", displayOrDash("pid:42"))
}

func TestPrintStatuses_Table(t *testing.T) {
	var buf bytes.Buffer
	code := 1
	require.NoError(t, printStatuses(&buf, "text", []ServiceStatus{
		{Name: "rx", Backend: "process", State: "failed", Handle: "pid:42", ExitCode: &code, Error: "exited unexpectedly with code 1"},
	}))

	out := buf.String()
	for _, want := range []string{"Service", "Exit Code", "rx", "process", "Failed", "pid:42", "exited unexpectedly with code 1"} {
		assert.Contains(t, out, want)
	}
}
