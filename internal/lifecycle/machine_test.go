package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"rttgcs/internal/bridge"
	"rttgcs/internal/bus"
)

type fakeBackend struct {
	initCalls   int
	configCalls int
	startCalls  int
	stopCalls   int
	cancelCalls int
	failNext    error
}

func (f *fakeBackend) call() error {
	err := f.failNext
	f.failNext = nil

	return err
}

func (f *fakeBackend) InitializeComms(context.Context, bridge.CommsConfig) error {
	f.initCalls++

	return f.call()
}

func (f *fakeBackend) CancelConnection(context.Context) error { f.cancelCalls++; return f.call() }
func (f *fakeBackend) Disconnect(context.Context) error       { return f.call() }

func (f *fakeBackend) SendConfigRequest(context.Context, bridge.PingFinderConfig) error {
	f.configCalls++

	return f.call()
}

func (f *fakeBackend) CancelConfigRequest(context.Context) error { f.cancelCalls++; return f.call() }
func (f *fakeBackend) SendStartRequest(context.Context) error    { f.startCalls++; return f.call() }
func (f *fakeBackend) CancelStartRequest(context.Context) error  { f.cancelCalls++; return f.call() }
func (f *fakeBackend) SendStopRequest(context.Context) error     { f.stopCalls++; return f.call() }
func (f *fakeBackend) CancelStopRequest(context.Context) error   { f.cancelCalls++; return f.call() }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMachine(t *testing.T) (*Machine, *fakeBackend) {
	t.Helper()
	b := bus.New(testLogger())
	t.Cleanup(b.Close)
	backend := &fakeBackend{}

	return NewMachine(testLogger(), b, backend), backend
}

func serialConfig() bridge.CommsConfig {
	return bridge.CommsConfig{
		InterfaceKind: bridge.InterfaceSerial,
		Port:          "/dev/ttyUSB0",
		BaudRate:      57600,
		AckTimeoutMS:  1000,
		MaxRetries:    3,
	}
}

func TestRequestRadioConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  bridge.CommsConfig
	}{
		{name: "serial without port", cfg: bridge.CommsConfig{InterfaceKind: bridge.InterfaceSerial}},
		{name: "simulated without host", cfg: bridge.CommsConfig{InterfaceKind: bridge.InterfaceSimulated, TCPPort: 50000}},
		{name: "simulated without tcp port", cfg: bridge.CommsConfig{InterfaceKind: bridge.InterfaceSimulated, Host: "localhost"}},
		{name: "unknown interface kind", cfg: bridge.CommsConfig{InterfaceKind: "bluetooth", Port: "/dev/ttyUSB0"}},
	}

	for _, tt := range tests {
		m, backend := newTestMachine(t)
		err := m.RequestRadioConfig(context.Background(), tt.cfg)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: want ErrValidation, got %v", tt.name, err)
		}
		if backend.initCalls != 0 {
			t.Fatalf("%s: backend called despite validation failure", tt.name)
		}
		if m.Phase() != PhaseRadioConfigInput {
			t.Fatalf("%s: phase changed to %v on validation failure", tt.name, m.Phase())
		}
	}
}

func TestRequestRadioConfigEntersWaiting(t *testing.T) {
	m, backend := newTestMachine(t)

	if err := m.RequestRadioConfig(context.Background(), serialConfig()); err != nil {
		t.Fatalf("request radio config: %v", err)
	}
	if backend.initCalls != 1 {
		t.Fatalf("initialize comms calls: got %d want 1", backend.initCalls)
	}
	if m.Phase() != PhaseRadioConfigWaiting {
		t.Fatalf("phase: got %v want waiting", m.Phase())
	}
	if m.Status().Visible {
		t.Fatalf("status should be cleared when entering waiting")
	}
}

func TestRequestRejectedRevertsToInput(t *testing.T) {
	m, backend := newTestMachine(t)
	backend.failNext = errors.New("port busy")

	err := m.RequestRadioConfig(context.Background(), serialConfig())
	if !errors.Is(err, ErrRequestRejected) {
		t.Fatalf("want ErrRequestRejected, got %v", err)
	}
	if m.Phase() != PhaseRadioConfigInput {
		t.Fatalf("phase: got %v want input after rejection", m.Phase())
	}
	status := m.Status()
	if !status.Visible || status.Kind != StatusError {
		t.Fatalf("expected visible error status, got %+v", status)
	}
}

func TestRequestOutsideInputPhaseIsRejected(t *testing.T) {
	m, backend := newTestMachine(t)

	if err := m.RequestStart(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("want ErrNotReady, got %v", err)
	}
	if backend.startCalls != 0 {
		t.Fatalf("start request reached backend from radio config phase")
	}
	if m.Phase() != PhaseRadioConfigInput {
		t.Fatalf("phase changed: %v", m.Phase())
	}
}

func TestPingFinderConfigRequiresTargetFrequency(t *testing.T) {
	m, backend := newTestMachine(t)
	m.resolveSuccess(StageRadioConfig, bridge.Event{})

	err := m.RequestPingFinderConfig(context.Background(), bridge.PingFinderConfig{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
	if backend.configCalls != 0 {
		t.Fatalf("config request reached backend without frequencies")
	}
	if m.Phase() != PhasePingFinderConfigInput {
		t.Fatalf("phase changed: %v", m.Phase())
	}
}

func TestSuccessAdvancesStagesAndLoops(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()

	if err := m.RequestRadioConfig(ctx, serialConfig()); err != nil {
		t.Fatalf("request radio config: %v", err)
	}
	m.resolveSuccess(StageRadioConfig, bridge.Event{Message: "synced"})
	if m.Phase() != PhasePingFinderConfigInput {
		t.Fatalf("after sync success: got %v", m.Phase())
	}
	if !m.Connected() {
		t.Fatalf("connection flag not set on sync success")
	}

	cfg := bridge.PingFinderConfig{TargetFrequencies: []uint32{173043000}}
	if err := m.RequestPingFinderConfig(ctx, cfg); err != nil {
		t.Fatalf("request ping finder config: %v", err)
	}
	m.resolveSuccess(StagePingFinderConfig, bridge.Event{})
	if m.Phase() != PhaseStartInput {
		t.Fatalf("after config success: got %v", m.Phase())
	}

	if err := m.RequestStart(ctx); err != nil {
		t.Fatalf("request start: %v", err)
	}
	m.resolveSuccess(StageStart, bridge.Event{})
	if m.Phase() != PhaseStopInput {
		t.Fatalf("after start success: got %v", m.Phase())
	}

	if err := m.RequestStop(ctx); err != nil {
		t.Fatalf("request stop: %v", err)
	}
	m.resolveSuccess(StageStop, bridge.Event{})
	if m.Phase() != PhaseRadioConfigInput {
		t.Fatalf("stop success must reset the session: got %v", m.Phase())
	}
	if !m.Connected() {
		t.Fatalf("stop success must not clear the connection flag")
	}
}

func TestStaleEventsAreDropped(t *testing.T) {
	m, _ := newTestMachine(t)

	m.resolveSuccess(StageStart, bridge.Event{})
	if m.Phase() != PhaseRadioConfigInput {
		t.Fatalf("stale start success mutated phase: %v", m.Phase())
	}
	m.resolveFailure(StageStop, bridge.Event{Message: "boom"})
	if m.Phase() != PhaseRadioConfigInput || m.Status().Visible {
		t.Fatalf("stale stop failure mutated state: %v %+v", m.Phase(), m.Status())
	}
}

func TestTimeoutUnlocksCancelButStaysResolvable(t *testing.T) {
	m, _ := newTestMachine(t)

	if err := m.RequestRadioConfig(context.Background(), serialConfig()); err != nil {
		t.Fatalf("request radio config: %v", err)
	}
	m.resolveTimeout(StageRadioConfig)
	if m.Phase() != PhaseRadioConfigTimeout {
		t.Fatalf("after timeout: got %v", m.Phase())
	}

	// A repeated timeout is a no-op: it only fires from Waiting.
	m.resolveTimeout(StageRadioConfig)
	if m.Phase() != PhaseRadioConfigTimeout {
		t.Fatalf("repeated timeout mutated phase: %v", m.Phase())
	}

	// A late success still resolves the stage.
	m.resolveSuccess(StageRadioConfig, bridge.Event{})
	if m.Phase() != PhasePingFinderConfigInput {
		t.Fatalf("late success not honored after timeout: %v", m.Phase())
	}
	if !m.Connected() {
		t.Fatalf("late success must set the connection flag")
	}
}

func TestFailureRevertsToStageInput(t *testing.T) {
	m, _ := newTestMachine(t)

	if err := m.RequestRadioConfig(context.Background(), serialConfig()); err != nil {
		t.Fatalf("request radio config: %v", err)
	}
	m.resolveFailure(StageRadioConfig, bridge.Event{Message: "no ack"})
	if m.Phase() != PhaseRadioConfigInput {
		t.Fatalf("after failure: got %v", m.Phase())
	}
	status := m.Status()
	if status.Kind != StatusError || status.Text != "no ack" {
		t.Fatalf("failure status not surfaced: %+v", status)
	}
}

func TestCancelIsLocallyAuthoritative(t *testing.T) {
	m, backend := newTestMachine(t)
	m.resolveSuccess(StageRadioConfig, bridge.Event{})
	m.resolveSuccess(StagePingFinderConfig, bridge.Event{})

	if err := m.RequestStart(context.Background()); err != nil {
		t.Fatalf("request start: %v", err)
	}
	backend.failNext = errors.New("cancel lost")
	m.CancelStart(context.Background())
	if m.Phase() != PhaseStartInput {
		t.Fatalf("cancel must return to input regardless of backend outcome: %v", m.Phase())
	}

	// Late events for the canceled request are guard-rejected.
	m.resolveSuccess(StageStart, bridge.Event{})
	if m.Phase() != PhaseStartInput {
		t.Fatalf("late event after cancel mutated phase: %v", m.Phase())
	}
}

func TestDisconnectForcesResetFromAnyPhase(t *testing.T) {
	m, _ := newTestMachine(t)
	m.resolveSuccess(StageRadioConfig, bridge.Event{})
	m.resolveSuccess(StagePingFinderConfig, bridge.Event{})
	m.resolveSuccess(StageStart, bridge.Event{})

	m.resolveDisconnect(bridge.Event{Message: "link lost"}, StatusError)
	if m.Phase() != PhaseRadioConfigInput {
		t.Fatalf("disconnect must force radio config input: %v", m.Phase())
	}
	if m.Connected() {
		t.Fatalf("disconnect must clear the connection flag")
	}
	status := m.Status()
	if status.Kind != StatusError || status.Text != "link lost" {
		t.Fatalf("disconnect status not surfaced: %+v", status)
	}
}

func TestDisconnectRejectionForcesLocalReset(t *testing.T) {
	m, backend := newTestMachine(t)
	m.resolveSuccess(StageRadioConfig, bridge.Event{})

	backend.failNext = errors.New("not connected")
	m.Disconnect(context.Background())
	if m.Phase() != PhaseRadioConfigInput || m.Connected() {
		t.Fatalf("rejected disconnect must still reset locally: %v connected=%v", m.Phase(), m.Connected())
	}
}

func TestClearStatus(t *testing.T) {
	m, _ := newTestMachine(t)

	if err := m.RequestRadioConfig(context.Background(), serialConfig()); err != nil {
		t.Fatalf("request radio config: %v", err)
	}
	m.resolveFailure(StageRadioConfig, bridge.Event{Message: "nope"})
	m.ClearStatus()
	if m.Status().Visible {
		t.Fatalf("status still visible after clear")
	}
}

func TestEventsArriveThroughBus(t *testing.T) {
	b := bus.New(testLogger())
	t.Cleanup(b.Close)
	backend := &fakeBackend{}
	m := NewMachine(testLogger(), b, backend)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m.Run(ctx)

	if err := m.RequestRadioConfig(ctx, serialConfig()); err != nil {
		t.Fatalf("request radio config: %v", err)
	}
	b.Publish(bridge.TopicSyncSuccess, bridge.Event{Message: "synced"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Phase() == PhasePingFinderConfigInput && m.Connected() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sync success via bus not applied: phase=%v connected=%v", m.Phase(), m.Connected())
}
