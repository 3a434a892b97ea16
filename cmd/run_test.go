package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/5gconnect/charmd/internal/config"
	"github.com/5gconnect/charmd/internal/history"
	"github.com/5gconnect/charmd/internal/log"
	"github.com/5gconnect/charmd/internal/supervisor"
	"github.com/5gconnect/charmd/internal/systemd"
)

const runTimeout = 15 * time.Second

// notifier records systemd notifications and signals every READY.
type notifier struct {
	mu     sync.Mutex
	states []string
	ready  chan struct{}
	other  chan string
}

func newNotifier() *notifier {
	return &notifier{ready: make(chan struct{}, 10), other: make(chan string, 10)}
}

func (n *notifier) notify(_ bool, state string) (bool, error) {
	n.mu.Lock()
	n.states = append(n.states, state)
	n.mu.Unlock()
	if state == daemon.SdNotifyReady {
		n.ready <- struct{}{}
	} else {
		select {
		case n.other <- state:
		default:
		}
	}
	return true, nil
}

func (n *notifier) waitReady(t *testing.T) {
	t.Helper()
	select {
	case <-n.ready:
	case <-time.After(runTimeout):
		t.Fatal("run never became ready")
	}
}

func (n *notifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.states)
}

// lockedBuffer is a bytes.Buffer safe for concurrent log writers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runDeps(app *App, n *notifier) RunDeps {
	return RunDeps{
		CommonDeps: NewRootDeps(app, io.Discard),
		Notify:     n.notify,
	}
}

// startRun runs the command in the background and returns its signal
// channel and result.
func startRun(ctx context.Context, app *App, opts RunOptions, deps RunDeps) (chan<- os.Signal, <-chan error) {
	signals := make(chan os.Signal, 1)
	deps.Signals = signals
	result := make(chan error, 1)
	go func() {
		result <- NewRunCommand().Run(ctx, app, opts, deps)
	}()
	return signals, result
}

func waitRun(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(runTimeout):
		t.Fatal("run never returned")
		return nil
	}
}

// eventID returns the id of the first recorded transition of name to state.
func eventID(t *testing.T, entries []history.Entry, state supervisor.State) int64 {
	t.Helper()
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].To == state {
			return entries[i].ID
		}
	}
	t.Fatalf("no %s event in %v", state, entries)
	return 0
}

func countEvents(entries []history.Entry, state supervisor.State) int {
	n := 0
	for _, e := range entries {
		if e.To == state {
			n++
		}
	}
	return n
}

func testbedServices() []config.Service {
	return []config.Service{
		processService("dashboard", "sleep 30", "ue-de", "5gs-de"),
		processService("ue-de", "sleep 30", "5gs-de"),
		processService("5gs-de", "sleep 30"),
	}
}

func TestRunCommand_ValidationOnlyForUnitServices(t *testing.T) {
	tests := []struct {
		name      string
		services  []config.Service
		args      []string
		wantCalls int
	}{
		{name: "process services only", services: testbedServices(), args: []string{"dashboard"}, wantCalls: 0},
		{name: "named unit service", services: []config.Service{unitService("rx")}, args: []string{"rx"}, wantCalls: 1},
		{name: "autostart unit service", services: []config.Service{func() config.Service {
			svc := unitService("rx")
			svc.Autostart = true
			return svc
		}()}, wantCalls: 1},
		{name: "unit service not selected", services: []config.Service{unitService("rx"), processService("tx", "sleep 30")}, args: []string{"tx"}, wantCalls: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator := &MockValidator{SystemRequirementsFunc: func() error { return errors.New("systemd not found") }}
			app := NewAppBuilder(t).WithValidator(validator).WithServices(tt.services...).Build(t)

			cmd := NewRunCommand().GetCobraCommand()
			SetupCommandContext(cmd, app)

			err := cmd.PreRunE(cmd, tt.args)
			assert.Equal(t, tt.wantCalls, validator.Calls)
			if tt.wantCalls > 0 {
				assert.EqualError(t, err, "systemd not found")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunCommand_NothingToRun(t *testing.T) {
	app := NewAppBuilder(t).WithServices(testbedServices()...).Build(t)

	err := NewRunCommand().Run(context.Background(), app, RunOptions{}, runDeps(app, newNotifier()))
	assert.EqualError(t, err, "no services to run: name them or set autostart in the configuration")
}

func TestRunCommand_InvalidDependencies(t *testing.T) {
	app := NewAppBuilder(t).WithServices(processService("ue-de", "sleep 30", "5gs-de")).Build(t)

	err := NewRunCommand().Run(context.Background(), app, RunOptions{Names: []string{"ue-de"}}, runDeps(app, newNotifier()))
	assert.EqualError(t, err, "service ue-de depends on unknown service 5gs-de")
}

func TestRunCommand_StartsInDependencyOrderAndStopsInReverse(t *testing.T) {
	app := NewAppBuilder(t).WithServices(testbedServices()...).Build(t)
	n := newNotifier()

	signals, result := startRun(context.Background(), app, RunOptions{Names: []string{"dashboard"}}, runDeps(app, n))
	n.waitReady(t)

	signals <- syscall.SIGTERM
	require.NoError(t, waitRun(t, result))

	core := recentEvents(t, app, "5gs-de")
	ue := recentEvents(t, app, "ue-de")
	dashboard := recentEvents(t, app, "dashboard")

	assert.Less(t, eventID(t, core, supervisor.StateRunning), eventID(t, ue, supervisor.StateStarting))
	assert.Less(t, eventID(t, ue, supervisor.StateRunning), eventID(t, dashboard, supervisor.StateStarting))

	assert.Less(t, eventID(t, dashboard, supervisor.StateStopped), eventID(t, ue, supervisor.StateStopping))
	assert.Less(t, eventID(t, ue, supervisor.StateStopped), eventID(t, core, supervisor.StateStopping))

	for _, entries := range [][]history.Entry{core, ue, dashboard} {
		require.NotEmpty(t, entries)
		assert.Equal(t, supervisor.StateStopped, entries[0].To)
	}

	states := n.all()
	assert.Equal(t, daemon.SdNotifyReady, states[0])
	assert.Equal(t, daemon.SdNotifyStopping, states[len(states)-1])
}

func TestRunCommand_FailedDependencyBlocksDependents(t *testing.T) {
	app := NewAppBuilder(t).WithServices(
		processService("5gs-de", "/nonexistent/charmd-test-binary"),
		processService("ue-de", "sleep 30", "5gs-de"),
		processService("rx", "sleep 30"),
	).Build(t)
	n := newNotifier()

	signals, result := startRun(context.Background(), app, RunOptions{Names: []string{"ue-de", "rx"}}, runDeps(app, n))
	n.waitReady(t)
	signals <- syscall.SIGINT
	require.NoError(t, waitRun(t, result))

	core := recentEvents(t, app, "5gs-de")
	require.NotEmpty(t, core)
	assert.Equal(t, supervisor.StateFailed, core[0].To)

	assert.Empty(t, recentEvents(t, app, "ue-de"), "dependents of a failed service are not started")
	assert.Equal(t, 1, countEvents(recentEvents(t, app, "rx"), supervisor.StateRunning))
}

func TestRunCommand_StreamsOutputIntoLog(t *testing.T) {
	app := NewAppBuilder(t).WithServices(processService("rx", "sh -c 'echo hello-from-rx; sleep 30'")).Build(t)
	var logs lockedBuffer
	app.Logger = log.FromSlog(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	n := newNotifier()

	signals, result := startRun(context.Background(), app, RunOptions{Names: []string{"rx"}}, runDeps(app, n))
	n.waitReady(t)

	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(logs.String()), []byte("line=hello-from-rx"))
	}, 5*time.Second, 10*time.Millisecond)

	signals <- syscall.SIGTERM
	require.NoError(t, waitRun(t, result))
	assert.Contains(t, logs.String(), "service=rx")
}

func TestRunCommand_ReloadRestartsChangedServices(t *testing.T) {
	app := NewAppBuilder(t).WithServices(
		processService("rx", "sleep 30"),
		processService("tx", "sleep 30"),
		processService("ue-de", "sleep 30"),
	).Build(t)

	next := *app.Config
	next.Services = []config.Service{
		processService("rx", "sleep 31"),
		processService("ue-de", "sleep 30"),
	}
	app.Reload = func() (*config.Settings, error) {
		return &next, nil
	}
	n := newNotifier()

	signals, result := startRun(context.Background(), app, RunOptions{Names: []string{"rx", "tx", "ue-de"}}, runDeps(app, n))
	n.waitReady(t)

	signals <- syscall.SIGHUP
	n.waitReady(t)

	rx := recentEvents(t, app, "rx")
	assert.Equal(t, 2, countEvents(rx, supervisor.StateStarting), "changed definition is restarted")
	assert.Equal(t, supervisor.StateRunning, rx[0].To)

	tx := recentEvents(t, app, "tx")
	assert.Equal(t, supervisor.StateStopped, tx[0].To, "removed service is stopped")

	ue := recentEvents(t, app, "ue-de")
	assert.Equal(t, 1, countEvents(ue, supervisor.StateStarting), "unchanged definition keeps running")

	signals <- syscall.SIGTERM
	require.NoError(t, waitRun(t, result))
	assert.Contains(t, n.all(), daemon.SdNotifyReloading)
}

func TestRunCommand_ReloadFailureKeepsServices(t *testing.T) {
	app := NewAppBuilder(t).WithServices(processService("rx", "sleep 30")).Build(t)
	app.Reload = func() (*config.Settings, error) {
		return nil, errors.New("invalid configuration: services[0]: name is required")
	}
	n := newNotifier()

	signals, result := startRun(context.Background(), app, RunOptions{Names: []string{"rx"}}, runDeps(app, n))
	n.waitReady(t)
	signals <- syscall.SIGHUP
	n.waitReady(t)

	rx := recentEvents(t, app, "rx")
	assert.Equal(t, supervisor.StateRunning, rx[0].To)
	assert.Equal(t, 1, countEvents(rx, supervisor.StateStarting))

	signals <- syscall.SIGTERM
	require.NoError(t, waitRun(t, result))
}

func TestRunCommand_ContextCancellation(t *testing.T) {
	app := NewAppBuilder(t).WithServices(processService("rx", "sleep 30")).Build(t)
	n := newNotifier()

	ctx, cancel := context.WithCancel(context.Background())
	_, result := startRun(ctx, app, RunOptions{Names: []string{"rx"}}, runDeps(app, n))
	n.waitReady(t)
	cancel()

	assert.ErrorIs(t, waitRun(t, result), context.Canceled)
	assert.Equal(t, supervisor.StateStopped, recentEvents(t, app, "rx")[0].To)
}

func TestRunCommand_Watchdog(t *testing.T) {
	app := NewAppBuilder(t).WithServices(processService("rx", "sleep 30")).Build(t)
	n := newNotifier()
	clk := testclock.NewClock(time.Now())

	deps := runDeps(app, n)
	deps.Clock = clk
	deps.Watchdog = 15 * time.Second

	signals, result := startRun(context.Background(), app, RunOptions{Names: []string{"rx"}}, deps)
	n.waitReady(t)

	for range 2 {
		require.NoError(t, clk.WaitAdvance(deps.Watchdog, 5*time.Second, 1))
		select {
		case state := <-n.other:
			assert.Equal(t, daemon.SdNotifyWatchdog, state)
		case <-time.After(5 * time.Second):
			t.Fatal("no watchdog notification")
		}
	}

	signals <- syscall.SIGTERM
	require.NoError(t, waitRun(t, result))
}

func TestRunCommand_UnitServices(t *testing.T) {
	bus := systemd.NewFakeBus()
	app := NewAppBuilder(t).WithBus(bus).WithServices(unitService("rx")).Build(t)
	n := newNotifier()

	signals, result := startRun(context.Background(), app, RunOptions{Names: []string{"rx"}}, runDeps(app, n))
	n.waitReady(t)
	assert.Equal(t, "active", bus.State("rx.service"))

	signals <- syscall.SIGTERM
	require.NoError(t, waitRun(t, result))
	assert.Equal(t, "inactive", bus.State("rx.service"), "run stops the units it started")
}

func TestRunCommand_ReloadRemovesUnitFiles(t *testing.T) {
	bus := systemd.NewFakeBus()
	app := NewAppBuilder(t).WithBus(bus).WithServices(unitService("rx"), unitService("tx")).Build(t)

	next := *app.Config
	next.Services = []config.Service{unitService("rx")}
	app.Reload = func() (*config.Settings, error) {
		return &next, nil
	}
	n := newNotifier()

	signals, result := startRun(context.Background(), app, RunOptions{Names: []string{"rx", "tx"}}, runDeps(app, n))
	n.waitReady(t)
	require.FileExists(t, app.Store.Path("tx"))

	signals <- syscall.SIGHUP
	n.waitReady(t)

	assert.NoFileExists(t, app.Store.Path("tx"))
	assert.Equal(t, "inactive", bus.State("tx.service"))
	assert.FileExists(t, app.Store.Path("rx"))
	assert.Equal(t, "active", bus.State("rx.service"))

	signals <- syscall.SIGTERM
	require.NoError(t, waitRun(t, result))
}

func TestRunCommand_MetricsEndpoint(t *testing.T) {
	app := NewAppBuilder(t).WithServices(processService("rx", "sleep 30")).Build(t)
	n := newNotifier()

	addrs := make(chan string, 1)
	deps := runDeps(app, n)
	deps.Listen = func(network, address string) (net.Listener, error) {
		ln, err := net.Listen(network, address)
		if err == nil {
			addrs <- ln.Addr().String()
		}
		return ln, err
	}

	signals, result := startRun(context.Background(), app, RunOptions{Names: []string{"rx"}, MetricsAddr: "127.0.0.1:0"}, deps)
	n.waitReady(t)

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + <-addrs + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `charmd_service_state{service="rx",state="running"} 1`)

	signals <- syscall.SIGTERM
	require.NoError(t, waitRun(t, result))
}
