package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/5gconnect/charmd/internal/testutil"
	"github.com/5gconnect/charmd/internal/testutil/fakerunner"
)

func TestSystemRequirements(t *testing.T) {
	tests := []struct {
		name        string
		goos        string
		setup       func(*fakerunner.Runner)
		expectError string
	}{
		{
			name: "systemd present",
			goos: "linux",
			setup: func(r *fakerunner.Runner) {
				r.SetOutput("systemctl", []string{"--version"}, []byte("systemd 255 (255.4-1ubuntu8)\n+PAM +AUDIT"))
				r.SetOutput("journalctl", []string{"--version"}, []byte("systemd 255 (255.4-1ubuntu8)"))
			},
		},
		{
			name: "journalctl missing is tolerated",
			goos: "linux",
			setup: func(r *fakerunner.Runner) {
				r.SetOutput("systemctl", []string{"--version"}, []byte("systemd 252"))
				r.SetError("journalctl", []string{"--version"}, errors.New("executable file not found in $PATH"))
			},
		},
		{
			name: "systemctl missing",
			goos: "linux",
			setup: func(r *fakerunner.Runner) {
				r.SetError("systemctl", []string{"--version"}, errors.New("executable file not found in $PATH"))
			},
			expectError: "systemd not found",
		},
		{
			name: "unexpected systemctl output",
			goos: "linux",
			setup: func(r *fakerunner.Runner) {
				r.SetOutput("systemctl", []string{"--version"}, []byte("busybox"))
			},
			expectError: "systemd not properly installed",
		},
		{
			name:        "unsupported platform",
			goos:        "darwin",
			setup:       func(*fakerunner.Runner) {},
			expectError: "unsupported platform: darwin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := fakerunner.New()
			tt.setup(runner)

			v := NewValidator(testutil.NewTestLogger(t), runner).WithOSGetter(func() string { return tt.goos })
			err := v.SystemRequirements()

			if tt.expectError != "" {
				assert.ErrorContains(t, err, tt.expectError)
				return
			}
			assert.NoError(t, err)
		})
	}
}
