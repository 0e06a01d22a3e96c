package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"rttgcs/internal/bridge"
	"rttgcs/internal/bus"
)

// TopicState is published after every transition with a State snapshot.
const TopicState = "lifecycle.state"

var (
	// ErrValidation marks request preconditions that fail before any backend
	// call is made. The phase is unchanged.
	ErrValidation = errors.New("validation failed")
	// ErrRequestRejected marks a backend call that failed synchronously. The
	// phase has already been reverted to the stage's Input sub-state.
	ErrRequestRejected = errors.New("request rejected")
	// ErrNotReady marks a request issued outside the stage's Input sub-state.
	ErrNotReady = errors.New("operation not available in current phase")
)

type StatusKind string

const (
	StatusError   StatusKind = "error"
	StatusSuccess StatusKind = "success"
)

// StatusMessage is the transient user-facing outcome of the most recent
// transition. It is cleared explicitly, never time-decayed.
type StatusMessage struct {
	Text    string
	Visible bool
	Kind    StatusKind
}

// State is the UI-consumable snapshot published on TopicState.
type State struct {
	Phase     Phase
	Status    StatusMessage
	Connected bool
}

// Machine sequences the device through the four-stage handshake. All state
// lives behind one mutex; event handlers read the live phase under that mutex,
// so a guard can never observe a stale snapshot and late events for an exited
// stage are dropped.
type Machine struct {
	logger  *slog.Logger
	backend bridge.Requester
	bus     bus.MessageBus

	mu        sync.Mutex
	phase     Phase
	status    StatusMessage
	connected bool
}

func NewMachine(logger *slog.Logger, messageBus bus.MessageBus, backend bridge.Requester) *Machine {
	if logger == nil {
		logger = slog.Default().With("component", "lifecycle")
	}

	return &Machine{
		logger:  logger,
		backend: backend,
		bus:     messageBus,
		phase:   PhaseRadioConfigInput,
	}
}

// Run registers one handler per named backend event. Handlers stay subscribed
// until ctx is canceled.
func (m *Machine) Run(ctx context.Context) {
	m.watch(ctx, bridge.TopicSyncSuccess, func(ev bridge.Event) { m.resolveSuccess(StageRadioConfig, ev) })
	m.watch(ctx, bridge.TopicSyncFailure, func(ev bridge.Event) { m.resolveFailure(StageRadioConfig, ev) })
	m.watch(ctx, bridge.TopicSyncTimeout, func(bridge.Event) { m.resolveTimeout(StageRadioConfig) })

	m.watch(ctx, bridge.TopicConfigSuccess, func(ev bridge.Event) { m.resolveSuccess(StagePingFinderConfig, ev) })
	m.watch(ctx, bridge.TopicConfigFailure, func(ev bridge.Event) { m.resolveFailure(StagePingFinderConfig, ev) })
	m.watch(ctx, bridge.TopicConfigTimeout, func(bridge.Event) { m.resolveTimeout(StagePingFinderConfig) })

	m.watch(ctx, bridge.TopicStartSuccess, func(ev bridge.Event) { m.resolveSuccess(StageStart, ev) })
	m.watch(ctx, bridge.TopicStartFailure, func(ev bridge.Event) { m.resolveFailure(StageStart, ev) })
	m.watch(ctx, bridge.TopicStartTimeout, func(bridge.Event) { m.resolveTimeout(StageStart) })

	m.watch(ctx, bridge.TopicStopSuccess, func(ev bridge.Event) { m.resolveSuccess(StageStop, ev) })
	m.watch(ctx, bridge.TopicStopFailure, func(ev bridge.Event) { m.resolveFailure(StageStop, ev) })
	m.watch(ctx, bridge.TopicStopTimeout, func(bridge.Event) { m.resolveTimeout(StageStop) })

	m.watch(ctx, bridge.TopicDisconnectSuccess, func(ev bridge.Event) { m.resolveDisconnect(ev, StatusSuccess) })
	m.watch(ctx, bridge.TopicDisconnectFailure, func(ev bridge.Event) { m.resolveDisconnect(ev, StatusError) })
}

func (m *Machine) watch(ctx context.Context, topic string, handler func(bridge.Event)) {
	sub := m.bus.Subscribe(topic)
	go func() {
		defer m.bus.Unsubscribe(sub, topic)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				ev, ok := raw.(bridge.Event)
				if !ok {
					m.logger.Warn("unexpected payload on event topic", "topic", topic)
					continue
				}
				handler(ev)
			}
		}
	}()
}

// Phase returns the current lifecycle phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.phase
}

// Status returns the most recent status message.
func (m *Machine) Status() StatusMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.status
}

// Connected reports whether radio configuration has completed successfully
// and no disconnect has happened since.
func (m *Machine) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.connected
}

// State returns the full UI snapshot.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stateLocked()
}

// ClearStatus hides the current status message.
func (m *Machine) ClearStatus() {
	m.mu.Lock()
	m.status = StatusMessage{}
	state := m.stateLocked()
	m.mu.Unlock()

	m.bus.Publish(TopicState, state)
}

// RequestRadioConfig validates the comms configuration and issues the
// "initialize comms" request. Validation failures leave the phase untouched
// and never reach the backend.
func (m *Machine) RequestRadioConfig(ctx context.Context, cfg bridge.CommsConfig) error {
	if err := validateCommsConfig(cfg); err != nil {
		return err
	}

	if err := m.enterWaiting(StageRadioConfig); err != nil {
		return err
	}

	if err := m.backend.InitializeComms(ctx, cfg); err != nil {
		m.revertRejected(StageRadioConfig, fmt.Sprintf("Connection failed: %s", err))

		return fmt.Errorf("%w: initialize comms: %s", ErrRequestRejected, err)
	}

	return nil
}

// CancelRadioConfig abandons an in-flight connection attempt. The local phase
// always returns to input; the backend's own acknowledgment is best-effort.
func (m *Machine) CancelRadioConfig(ctx context.Context) {
	if err := m.backend.CancelConnection(ctx); err != nil {
		m.logger.Warn("cancel connection request failed", "error", err)
	}
	m.forcePhase(StageRadioConfig)
}

// RequestPingFinderConfig sends the sensor configuration. At least one target
// frequency is required.
func (m *Machine) RequestPingFinderConfig(ctx context.Context, cfg bridge.PingFinderConfig) error {
	if len(cfg.TargetFrequencies) == 0 {
		return fmt.Errorf("%w: at least one target frequency is required", ErrValidation)
	}

	if err := m.enterWaiting(StagePingFinderConfig); err != nil {
		return err
	}

	if err := m.backend.SendConfigRequest(ctx, cfg); err != nil {
		m.revertRejected(StagePingFinderConfig, fmt.Sprintf("Config request failed: %s", err))

		return fmt.Errorf("%w: send config request: %s", ErrRequestRejected, err)
	}

	return nil
}

func (m *Machine) CancelPingFinderConfig(ctx context.Context) {
	if err := m.backend.CancelConfigRequest(ctx); err != nil {
		m.logger.Warn("cancel config request failed", "error", err)
	}
	m.forcePhase(StagePingFinderConfig)
}

// RequestStart asks the ping finder to begin scanning.
func (m *Machine) RequestStart(ctx context.Context) error {
	if err := m.enterWaiting(StageStart); err != nil {
		return err
	}

	if err := m.backend.SendStartRequest(ctx); err != nil {
		m.revertRejected(StageStart, fmt.Sprintf("Start request failed: %s", err))

		return fmt.Errorf("%w: send start request: %s", ErrRequestRejected, err)
	}

	return nil
}

func (m *Machine) CancelStart(ctx context.Context) {
	if err := m.backend.CancelStartRequest(ctx); err != nil {
		m.logger.Warn("cancel start request failed", "error", err)
	}
	m.forcePhase(StageStart)
}

// RequestStop asks the ping finder to stop scanning.
func (m *Machine) RequestStop(ctx context.Context) error {
	if err := m.enterWaiting(StageStop); err != nil {
		return err
	}

	if err := m.backend.SendStopRequest(ctx); err != nil {
		m.revertRejected(StageStop, fmt.Sprintf("Stop request failed: %s", err))

		return fmt.Errorf("%w: send stop request: %s", ErrRequestRejected, err)
	}

	return nil
}

func (m *Machine) CancelStop(ctx context.Context) {
	if err := m.backend.CancelStopRequest(ctx); err != nil {
		m.logger.Warn("cancel stop request failed", "error", err)
	}
	m.forcePhase(StageStop)
}

// Disconnect is valid from any phase. The phase reset happens when the
// backend's disconnect outcome event arrives; a synchronous rejection forces
// the reset locally so the UI can never get stuck connected.
func (m *Machine) Disconnect(ctx context.Context) {
	if err := m.backend.Disconnect(ctx); err != nil {
		m.logger.Warn("disconnect request failed, forcing local reset", "error", err)
		m.resolveDisconnect(bridge.Event{Message: fmt.Sprintf("Disconnect failed: %s", err)}, StatusError)
	}
}

// enterWaiting moves stage Input -> Waiting and clears the previous status.
func (m *Machine) enterWaiting(stage Stage) error {
	m.mu.Lock()
	if m.phase != inputPhase(stage) {
		phase := m.phase
		m.mu.Unlock()

		return fmt.Errorf("%w: %s request while in %s", ErrNotReady, stage, phase)
	}
	m.status = StatusMessage{}
	m.setPhaseLocked(waitingPhase(stage))
	state := m.stateLocked()
	m.mu.Unlock()

	m.bus.Publish(TopicState, state)

	return nil
}

// revertRejected undoes enterWaiting after a synchronous backend rejection.
func (m *Machine) revertRejected(stage Stage, message string) {
	m.mu.Lock()
	m.status = StatusMessage{Text: message, Visible: true, Kind: StatusError}
	m.setPhaseLocked(inputPhase(stage))
	state := m.stateLocked()
	m.mu.Unlock()

	m.bus.Publish(TopicState, state)
}

// forcePhase implements local-authoritative cancellation: the stage returns
// to Input regardless of what the backend later says.
func (m *Machine) forcePhase(stage Stage) {
	m.mu.Lock()
	m.setPhaseLocked(inputPhase(stage))
	state := m.stateLocked()
	m.mu.Unlock()

	m.bus.Publish(TopicState, state)
}

func (m *Machine) resolveSuccess(stage Stage, ev bridge.Event) {
	m.mu.Lock()
	if !m.inFlightLocked(stage) {
		m.dropStaleLocked(stage, "success")
		m.mu.Unlock()

		return
	}
	m.status = StatusMessage{Text: successText(stage, ev), Visible: true, Kind: StatusSuccess}
	if stage == StageRadioConfig {
		m.connected = true
	}
	m.setPhaseLocked(nextInputPhase(stage))
	state := m.stateLocked()
	m.mu.Unlock()

	m.bus.Publish(TopicState, state)
}

func (m *Machine) resolveFailure(stage Stage, ev bridge.Event) {
	m.mu.Lock()
	if !m.inFlightLocked(stage) {
		m.dropStaleLocked(stage, "failure")
		m.mu.Unlock()

		return
	}
	m.status = StatusMessage{Text: failureText(stage, ev), Visible: true, Kind: StatusError}
	m.setPhaseLocked(inputPhase(stage))
	state := m.stateLocked()
	m.mu.Unlock()

	m.bus.Publish(TopicState, state)
}

// resolveTimeout unlocks the cancel affordance. It only fires while Waiting;
// the operation stays resolvable by a later success or failure event.
func (m *Machine) resolveTimeout(stage Stage) {
	m.mu.Lock()
	if m.phase != waitingPhase(stage) {
		m.dropStaleLocked(stage, "timeout")
		m.mu.Unlock()

		return
	}
	m.setPhaseLocked(timeoutPhase(stage))
	state := m.stateLocked()
	m.mu.Unlock()

	m.bus.Publish(TopicState, state)
}

// resolveDisconnect is unguarded: any disconnect outcome forces the session
// back to radio configuration and clears the connection flag.
func (m *Machine) resolveDisconnect(ev bridge.Event, kind StatusKind) {
	text := strings.TrimSpace(ev.Message)
	if text == "" {
		text = "Disconnected"
	}

	m.mu.Lock()
	m.connected = false
	m.status = StatusMessage{Text: text, Visible: true, Kind: kind}
	m.setPhaseLocked(PhaseRadioConfigInput)
	state := m.stateLocked()
	m.mu.Unlock()

	m.bus.Publish(TopicState, state)
}

func (m *Machine) inFlightLocked(stage Stage) bool {
	return m.phase.InFlight() && m.phase.Stage() == stage
}

func (m *Machine) dropStaleLocked(stage Stage, outcome string) {
	m.logger.Debug("dropping stale event", "stage", stage.String(), "outcome", outcome, "phase", m.phase.String())
}

func (m *Machine) setPhaseLocked(next Phase) {
	if m.phase == next {
		return
	}
	m.logger.Info("phase transition", "from", m.phase.String(), "to", next.String())
	m.phase = next
}

func (m *Machine) stateLocked() State {
	return State{Phase: m.phase, Status: m.status, Connected: m.connected}
}

func successText(stage Stage, ev bridge.Event) string {
	if msg := strings.TrimSpace(ev.Message); msg != "" {
		return msg
	}
	switch stage {
	case StageRadioConfig:
		return "Connected to drone"
	case StagePingFinderConfig:
		return "Ping finder configured"
	case StageStart:
		return "Scanning started"
	default:
		return "Scanning stopped"
	}
}

func failureText(stage Stage, ev bridge.Event) string {
	if msg := strings.TrimSpace(ev.Message); msg != "" {
		return msg
	}

	return fmt.Sprintf("%s request failed", stage)
}

func validateCommsConfig(cfg bridge.CommsConfig) error {
	switch cfg.InterfaceKind {
	case bridge.InterfaceSerial:
		if strings.TrimSpace(cfg.Port) == "" {
			return fmt.Errorf("%w: serial port is required", ErrValidation)
		}
	case bridge.InterfaceSimulated:
		if strings.TrimSpace(cfg.Host) == "" {
			return fmt.Errorf("%w: host is required", ErrValidation)
		}
		if cfg.TCPPort <= 0 {
			return fmt.Errorf("%w: tcp port is required", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown interface kind: %q", ErrValidation, cfg.InterfaceKind)
	}

	return nil
}
