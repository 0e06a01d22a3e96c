package comms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"

	"rttgcs/internal/bridge"
	"rttgcs/internal/bus"
	"rttgcs/internal/telemetry"
	"rttgcs/internal/transport"
)

const (
	// Transient transport write errors are retried briefly before the
	// request is reported as rejected.
	writeRetryInterval = 200 * time.Millisecond
	writeRetryAttempts = 2
)

var errNotConnected = errors.New("comms is not initialized")

// pendingRequest tracks one in-flight request awaiting its response message.
// After the response window expires the stage's timeout event is published
// but the entry stays registered: a late response must still resolve it.
type pendingRequest struct {
	frame        []byte
	successTopic string
	failureTopic string
	timeoutTopic string
	disconnect   bool
	resolved     chan struct{}
}

// Service drives the field device over a framed transport and implements
// bridge.Requester. Request outcomes and inbound telemetry are published on
// the bus; nothing is delivered synchronously.
type Service struct {
	logger *slog.Logger
	bus    bus.MessageBus

	packetID atomic.Uint32

	// newTransport is swapped out by tests to inject an in-memory link.
	newTransport func(bridge.CommsConfig) (transport.Transport, error)

	mu            sync.Mutex
	cfg           bridge.CommsConfig
	tr            transport.Transport
	runCancel     context.CancelFunc
	pending       map[MessageType]*pendingRequest
	disconnecting bool
}

func NewService(logger *slog.Logger, messageBus bus.MessageBus) *Service {
	if logger == nil {
		logger = slog.Default().With("component", "comms")
	}

	return &Service{
		logger:       logger,
		bus:          messageBus,
		newTransport: buildTransport,
		pending:      make(map[MessageType]*pendingRequest),
	}
}

// InitializeComms opens the transport and dispatches the sync request. The
// sync outcome arrives later as a sync.* event.
func (s *Service) InitializeComms(ctx context.Context, cfg bridge.CommsConfig) error {
	tr, err := s.newTransport(cfg)
	if err != nil {
		return err
	}
	if err := tr.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s transport: %w", tr.Name(), err)
	}

	s.mu.Lock()
	if s.tr != nil {
		s.mu.Unlock()
		_ = tr.Close()

		return errors.New("comms is already initialized")
	}
	s.cfg = cfg
	s.tr = tr
	s.disconnecting = false
	s.pending = make(map[MessageType]*pendingRequest)

	runCtx, cancel := context.WithCancel(context.Background())
	s.runCancel = cancel
	s.mu.Unlock()

	go s.run(runCtx, tr)

	payload := syncRequestPayload{
		header:       s.newHeader(),
		AckTimeoutMS: cfg.AckTimeoutMS,
		MaxRetries:   cfg.MaxRetries,
	}

	if err := s.dispatch(ctx, MsgSyncRequest, payload, MsgSyncResponse,
		bridge.TopicSyncSuccess, bridge.TopicSyncFailure, bridge.TopicSyncTimeout); err != nil {
		s.teardown()

		return err
	}

	return nil
}

// CancelConnection abandons the connection attempt and releases the
// transport. Always succeeds locally.
func (s *Service) CancelConnection(context.Context) error {
	s.teardown()

	return nil
}

// Disconnect asks the device to stop, then reports disconnect.success or
// disconnect.failure. Either way the transport ends up released.
func (s *Service) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.tr == nil {
		s.mu.Unlock()

		return errNotConnected
	}
	s.disconnecting = true
	s.mu.Unlock()

	payload := bareRequestPayload{header: s.newHeader()}

	if err := s.dispatch(ctx, MsgStopRequest, payload, MsgStopResponse, "", "", ""); err != nil {
		s.teardown()

		return err
	}

	return nil
}

func (s *Service) SendConfigRequest(ctx context.Context, cfg bridge.PingFinderConfig) error {
	payload := configRequestPayload{
		header:            s.newHeader(),
		Gain:              cfg.Gain,
		SamplingRate:      cfg.SamplingRate,
		CenterFrequency:   cfg.CenterFrequency,
		RunNum:            cfg.RunNum,
		EnableTestData:    cfg.EnableTestData,
		PingWidthMS:       cfg.PingWidthMS,
		PingMinSNR:        cfg.PingMinSNR,
		PingMaxLenMult:    cfg.PingMaxLenMult,
		PingMinLenMult:    cfg.PingMinLenMult,
		TargetFrequencies: cfg.TargetFrequencies,
	}

	return s.dispatch(ctx, MsgConfigRequest, payload, MsgConfigResponse,
		bridge.TopicConfigSuccess, bridge.TopicConfigFailure, bridge.TopicConfigTimeout)
}

func (s *Service) CancelConfigRequest(context.Context) error {
	return s.cancelPending(MsgConfigResponse)
}

func (s *Service) SendStartRequest(ctx context.Context) error {
	payload := bareRequestPayload{header: s.newHeader()}

	return s.dispatch(ctx, MsgStartRequest, payload, MsgStartResponse,
		bridge.TopicStartSuccess, bridge.TopicStartFailure, bridge.TopicStartTimeout)
}

func (s *Service) CancelStartRequest(context.Context) error {
	return s.cancelPending(MsgStartResponse)
}

func (s *Service) SendStopRequest(ctx context.Context) error {
	payload := bareRequestPayload{header: s.newHeader()}

	return s.dispatch(ctx, MsgStopRequest, payload, MsgStopResponse,
		bridge.TopicStopSuccess, bridge.TopicStopFailure, bridge.TopicStopTimeout)
}

func (s *Service) CancelStopRequest(context.Context) error {
	return s.cancelPending(MsgStopResponse)
}

// dispatch encodes and sends a request, then arms the response watcher that
// resends on silence and eventually synthesizes the stage's timeout event.
func (s *Service) dispatch(ctx context.Context, msgType MessageType, payload any, respType MessageType,
	successTopic, failureTopic, timeoutTopic string,
) error {
	s.mu.Lock()
	tr := s.tr
	cfg := s.cfg
	disconnecting := s.disconnecting
	s.mu.Unlock()

	if tr == nil {
		return errNotConnected
	}

	frame, err := encodeMessage(msgType, payload)
	if err != nil {
		return err
	}

	p := &pendingRequest{
		frame:        frame,
		successTopic: successTopic,
		failureTopic: failureTopic,
		timeoutTopic: timeoutTopic,
		disconnect:   disconnecting && msgType == MsgStopRequest,
		resolved:     make(chan struct{}),
	}

	// Register before the first write: the device can answer faster than
	// WriteFrame returns, and the reader must find the entry.
	s.mu.Lock()
	if old, ok := s.pending[respType]; ok {
		close(old.resolved)
	}
	s.pending[respType] = p
	s.mu.Unlock()

	if err := s.writeFrame(ctx, tr, frame); err != nil {
		s.mu.Lock()
		if s.pending[respType] == p {
			delete(s.pending, respType)
			close(p.resolved)
		}
		s.mu.Unlock()

		return fmt.Errorf("send %s: %w", msgType, err)
	}

	go s.watchResponse(tr, cfg, respType, p)
	s.logger.Debug("request dispatched", "type", msgType.String(), "frame_len", len(frame))

	return nil
}

// watchResponse resends the request every ack timeout until the device
// answers or the attempts are used up.
func (s *Service) watchResponse(tr transport.Transport, cfg bridge.CommsConfig, respType MessageType, p *pendingRequest) {
	attempts := 1
	maxAttempts := cfg.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for {
		select {
		case <-p.resolved:
			return
		case <-time.After(cfg.AckTimeout()):
			if attempts < maxAttempts {
				attempts++
				s.logger.Debug("resending request", "response_type", respType.String(), "attempt", attempts)
				if err := tr.WriteFrame(context.Background(), p.frame); err != nil {
					s.logger.Warn("resend failed", "response_type", respType.String(), "error", err)
				}
				continue
			}

			if p.disconnect {
				// No answer to the disconnect request: force the local
				// cleanup and report the failure.
				s.removePending(respType)
				s.teardown()
				s.bus.Publish(bridge.TopicDisconnectFailure, bridge.Event{Message: "No response to disconnect request"})

				return
			}

			// The entry stays registered: a late response can still resolve
			// the stage while the state machine sits in its Timeout phase.
			s.logger.Info("response window expired", "response_type", respType.String())
			s.bus.Publish(p.timeoutTopic, bridge.Event{})

			return
		}
	}
}

func (s *Service) cancelPending(respType MessageType) error {
	s.mu.Lock()
	connected := s.tr != nil
	p, ok := s.pending[respType]
	if ok {
		delete(s.pending, respType)
		close(p.resolved)
	}
	s.mu.Unlock()

	if !connected {
		return errNotConnected
	}

	return nil
}

func (s *Service) removePending(respType MessageType) *pendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[respType]
	if !ok {
		return nil
	}
	delete(s.pending, respType)
	close(p.resolved)

	return p
}

// run reads inbound frames until the transport dies or the service is torn
// down. An unexpected read error is surfaced as a disconnect failure so the
// state machine resets instead of waiting forever.
func (s *Service) run(ctx context.Context, tr transport.Transport) {
	for {
		payload, err := tr.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("read frame failed", "error", err)
			s.teardown()
			s.bus.Publish(bridge.TopicDisconnectFailure, bridge.Event{Message: fmt.Sprintf("Connection lost: %s", err)})

			return
		}

		s.handleMessage(payload)
	}
}

func (s *Service) handleMessage(data []byte) {
	receivedAt := time.Now()

	msgType, raw, err := decodeMessage(data)
	if err != nil {
		s.logger.Warn("decode inbound message failed", "error", err)

		return
	}

	var hdr header
	if h, err := decodePayload[header](msgType, raw); err == nil {
		hdr = h
		s.bus.Publish(bridge.TopicStatusPacket, bridge.StatusPacket{
			PacketID:    hdr.PacketID,
			TimestampUS: hdr.TimestampUS,
			ReceivedAt:  receivedAt,
		})
	}

	switch msgType {
	case MsgSyncResponse, MsgConfigResponse, MsgStartResponse, MsgStopResponse:
		resp, err := decodePayload[responsePayload](msgType, raw)
		if err != nil {
			s.logger.Warn("decode response failed", "type", msgType.String(), "error", err)

			return
		}
		s.resolveResponse(msgType, resp)
	case MsgGPSData:
		gps, err := decodePayload[gpsPayload](msgType, raw)
		if err != nil {
			s.logger.Warn("decode gps failed", "error", err)

			return
		}
		s.bus.Publish(bridge.TopicGPSData, telemetry.GPSData{
			Lat:       gps.Lat,
			Long:      gps.Long,
			Altitude:  gps.Altitude,
			Heading:   gps.Heading,
			Timestamp: time.UnixMicro(gps.TimestampUS),
			PacketID:  gps.PacketID,
		})
	case MsgPingData:
		ping, err := decodePayload[pingPayload](msgType, raw)
		if err != nil {
			s.logger.Warn("decode ping failed", "error", err)

			return
		}
		s.bus.Publish(bridge.TopicPingData, telemetry.PingData{
			Frequency: ping.Frequency,
			Amplitude: ping.Amplitude,
			Lat:       ping.Lat,
			Long:      ping.Long,
			Timestamp: time.UnixMicro(ping.TimestampUS),
			PacketID:  ping.PacketID,
		})
	case MsgLocEstData:
		est, err := decodePayload[locEstPayload](msgType, raw)
		if err != nil {
			s.logger.Warn("decode location estimate failed", "error", err)

			return
		}
		s.bus.Publish(bridge.TopicLocationEstimate, telemetry.LocationEstimate{
			Frequency: est.Frequency,
			Lat:       est.Lat,
			Long:      est.Long,
			Timestamp: time.UnixMicro(est.TimestampUS),
			PacketID:  est.PacketID,
		})
	case MsgError:
		e, err := decodePayload[errorPayload](msgType, raw)
		if err != nil {
			s.logger.Warn("decode error packet failed", "error", err)

			return
		}
		s.logger.Error("device reported error", "message", e.Message, "fatal", e.Fatal)
		if e.Fatal {
			s.teardown()
			s.bus.Publish(bridge.TopicDisconnectFailure, bridge.Event{Message: e.Message})
		}
	default:
		s.logger.Warn("unexpected inbound message", "type", msgType.String())
	}
}

func (s *Service) resolveResponse(respType MessageType, resp responsePayload) {
	p := s.removePending(respType)
	if p == nil {
		s.logger.Debug("response without pending request", "type", respType.String())

		return
	}

	if p.disconnect {
		s.teardown()
		if resp.Success {
			s.bus.Publish(bridge.TopicDisconnectSuccess, bridge.Event{Message: resp.Message})
		} else {
			s.bus.Publish(bridge.TopicDisconnectFailure, bridge.Event{Message: resp.Message})
		}

		return
	}

	if resp.Success {
		s.bus.Publish(p.successTopic, bridge.Event{Message: resp.Message})
	} else {
		s.bus.Publish(p.failureTopic, bridge.Event{Message: resp.Message})
	}
}

// teardown releases the transport and drops every pending request. Safe to
// call repeatedly.
func (s *Service) teardown() {
	s.mu.Lock()
	cancel := s.runCancel
	tr := s.tr
	pending := s.pending
	s.runCancel = nil
	s.tr = nil
	s.pending = make(map[MessageType]*pendingRequest)
	s.disconnecting = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if tr != nil {
		if err := tr.Close(); err != nil {
			s.logger.Warn("close transport", "error", err)
		}
	}
	for _, p := range pending {
		close(p.resolved)
	}
}

func (s *Service) writeFrame(ctx context.Context, tr transport.Transport, frame []byte) error {
	op := func() error {
		return tr.WriteFrame(ctx, frame)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(writeRetryInterval), writeRetryAttempts), ctx)

	return backoff.Retry(op, policy)
}

func (s *Service) newHeader() header {
	return header{
		PacketID:    s.packetID.Add(1),
		TimestampUS: time.Now().UnixMicro(),
	}
}

func buildTransport(cfg bridge.CommsConfig) (transport.Transport, error) {
	switch cfg.InterfaceKind {
	case bridge.InterfaceSerial:
		return transport.NewSerialTransport(cfg.Port, cfg.BaudRate), nil
	case bridge.InterfaceSimulated:
		return transport.NewTCPTransport(cfg.Host, cfg.TCPPort), nil
	default:
		return nil, fmt.Errorf("unknown interface kind: %q", cfg.InterfaceKind)
	}
}
