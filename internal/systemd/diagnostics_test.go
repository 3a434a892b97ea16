package systemd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/5gconnect/charmd/internal/log"
	"github.com/5gconnect/charmd/internal/testutil/fakerunner"
)

func TestRecentLogs(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		userMode bool
		output   []byte
		err      error
		wantArgs string
		want     string
	}{
		{
			name:     "system unit",
			output:   []byte("rx[42]: listening on :3000\n"),
			wantArgs: "journalctl --unit rx.service -n 10 --no-pager --output=short-precise",
			want:     "Recent logs:\nrx[42]: listening on :3000\n",
		},
		{
			name:     "user unit",
			userMode: true,
			output:   []byte("rx[42]: listening on :3000\n"),
			wantArgs: "journalctl --user-unit rx.service -n 10 --no-pager --output=short-precise",
			want:     "Recent logs:\nrx[42]: listening on :3000\n",
		},
		{
			name:     "journal error",
			err:      errors.New("exit status 1"),
			wantArgs: "journalctl --unit rx.service -n 10 --no-pager --output=short-precise",
			want:     "Recent logs: (unavailable)\n",
		},
		{
			name:     "empty journal",
			wantArgs: "journalctl --unit rx.service -n 10 --no-pager --output=short-precise",
			want:     "Recent logs: (unavailable)\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := fakerunner.New()
			flag := "--unit"
			if tt.userMode {
				flag = "--user-unit"
			}
			args := []string{flag, "rx.service", "-n", "10", "--no-pager", "--output=short-precise"}
			if tt.output != nil {
				runner.SetOutput("journalctl", args, tt.output)
			}
			if tt.err != nil {
				runner.SetError("journalctl", args, tt.err)
			}

			d := NewDiagnostics(runner, tt.userMode, log.Nop())
			assert.Equal(t, tt.want, d.RecentLogs(ctx, "rx.service"))

			calls := runner.GetCalls()
			if assert.Len(t, calls, 1) {
				assert.Equal(t, tt.wantArgs, calls[0].String())
			}
		})
	}
}

func TestFailureDetails(t *testing.T) {
	ctx := context.Background()

	t.Run("reports unit state", func(t *testing.T) {
		bus := NewFakeBus()
		bus.SetActive("rx.service")
		bus.Exit("rx.service", 2)
		runner := fakerunner.New()
		runner.SetOutput("journalctl", journalArgs, []byte("rx[42]: panic: bad config\n"))

		got := NewDiagnostics(runner, false, log.Nop()).FailureDetails(ctx, bus, "rx.service")

		assert.Contains(t, got, "Unit: rx.service\n")
		assert.Contains(t, got, "  Load State: loaded\n")
		assert.Contains(t, got, "  Active State: failed\n")
		assert.Contains(t, got, "  Sub State: failed\n")
		assert.Contains(t, got, "  Result: exit-code\n")
		assert.Contains(t, got, "  Exit Status: 2\n")
		assert.NotContains(t, got, "Main PID")
		assert.Contains(t, got, "Recent logs:\nrx[42]: panic: bad config\n")
	})

	t.Run("running unit shows main pid", func(t *testing.T) {
		bus := NewFakeBus()
		bus.SetActive("rx.service")

		got := NewDiagnostics(fakerunner.New(), false, log.Nop()).FailureDetails(ctx, bus, "rx.service")
		assert.Contains(t, got, "  Main PID: 4242\n")
	})

	t.Run("properties unavailable", func(t *testing.T) {
		conn := &MockConnection{}

		got := NewDiagnostics(fakerunner.New(), false, log.Nop()).FailureDetails(ctx, conn, "rx.service")
		assert.Contains(t, got, "  Properties: unavailable (mock not implemented)\n")
		assert.Contains(t, got, "Recent logs: (unavailable)\n")
	})
}
