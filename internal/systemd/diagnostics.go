package systemd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/5gconnect/charmd/internal/execx"
	"github.com/5gconnect/charmd/internal/log"
)

// DefaultJournalLines is how many journal lines are attached to failures.
const DefaultJournalLines = 10

// Diagnostics collects the state systemd and the journal hold about a unit.
type Diagnostics struct {
	runner       execx.Runner
	userMode     bool
	journalLines int
	logger       log.Logger
}

// NewDiagnostics creates a collector. journalctl is run through runner.
func NewDiagnostics(runner execx.Runner, userMode bool, logger log.Logger) *Diagnostics {
	return &Diagnostics{
		runner:       runner,
		userMode:     userMode,
		journalLines: DefaultJournalLines,
		logger:       logger,
	}
}

// FailureDetails describes why unitName is not running: its load, active and
// sub states, result, main process status, and its most recent log lines.
func (d *Diagnostics) FailureDetails(ctx context.Context, conn Connection, unitName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Unit: %s\n", unitName)

	props, err := conn.GetUnitProperties(ctx, unitName)
	if err != nil {
		fmt.Fprintf(&b, "  Properties: unavailable (%v)\n", err)
	} else {
		fmt.Fprintf(&b, "  Load State: %v\n", props["LoadState"])
		fmt.Fprintf(&b, "  Active State: %v\n", props["ActiveState"])
		fmt.Fprintf(&b, "  Sub State: %v\n", props["SubState"])
		if result, ok := props["Result"]; ok {
			fmt.Fprintf(&b, "  Result: %v\n", result)
		}
		if mainPID, ok := props["MainPID"]; ok && mainPID != uint32(0) {
			fmt.Fprintf(&b, "  Main PID: %v\n", mainPID)
		}
		if status, ok := props["ExecMainStatus"]; ok {
			fmt.Fprintf(&b, "  Exit Status: %v\n", status)
		}
	}

	b.WriteString(d.RecentLogs(ctx, unitName))
	return b.String()
}

// RecentLogs returns the last journal lines for unitName, or a placeholder
// when the journal cannot be read.
func (d *Diagnostics) RecentLogs(ctx context.Context, unitName string) string {
	unitFlag := "--unit"
	if d.userMode {
		unitFlag = "--user-unit"
	}
	args := []string{unitFlag, unitName, "-n", strconv.Itoa(d.journalLines), "--no-pager", "--output=short-precise"}

	output, err := d.runner.CombinedOutput(ctx, "journalctl", args...)
	if err != nil || len(output) == 0 {
		d.logger.Debug("Journal unavailable", "unit", unitName, "error", err)
		return "Recent logs: (unavailable)\n"
	}
	return fmt.Sprintf("Recent logs:\n%s", output)
}
