package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
)

// ExecuteCommandWithCapture executes a cobra command and returns everything
// it wrote through cmd.OutOrStdout and cmd.ErrOrStderr.
func ExecuteCommandWithCapture(t *testing.T, cmd *cobra.Command, args []string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

// ExecuteCommand is a simpler helper for commands that don't need output capture.
func ExecuteCommand(t *testing.T, cmd *cobra.Command, args []string) error {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	return cmd.Execute()
}

// AssertCommandOutput verifies command output contains expected strings.
func AssertCommandOutput(t *testing.T, cmd *cobra.Command, args []string, expectedOutputs ...string) {
	t.Helper()
	output, err := ExecuteCommandWithCapture(t, cmd, args)
	assert.NoError(t, err)

	for _, expected := range expectedOutputs {
		assert.Contains(t, output, expected, "Expected output to contain: %s\nActual output: %s", expected, output)
	}
}

// SetupCommandContext creates a command with app context for testing.
func SetupCommandContext(cmd *cobra.Command, app *App) {
	ctx := context.WithValue(context.Background(), appContextKey, app)
	cmd.SetContext(ctx)
}
