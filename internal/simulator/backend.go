// Package simulator provides an in-process backend bridge that acknowledges
// the four-stage handshake on timers and, while scanning, generates a drone
// flight path with synthetic ping detections. It exists so the full UI flow
// can run without a field device.
package simulator

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"rttgcs/internal/bridge"
	"rttgcs/internal/bus"
	"rttgcs/internal/telemetry"
)

const (
	// responseDelay is how long the simulated device "thinks" before
	// acknowledging a request.
	responseDelay = 150 * time.Millisecond

	statusInterval = 500 * time.Millisecond
	flightInterval = time.Second

	// simulatedLatency offsets the producer timestamp so the link quality
	// estimator sees a realistic ping.
	simulatedLatency = 45 * time.Millisecond

	horizontalSpeed = 5.0  // meters per tick
	degPerMeter     = 1.0 / 111_320.0
)

type waypoint struct {
	lat  float64
	long float64
}

// Backend implements bridge.Requester without any transport.
type Backend struct {
	logger *slog.Logger
	bus    bus.MessageBus
	rng    *rand.Rand

	packetID atomic.Uint32

	mu         sync.Mutex
	runCtx     context.Context
	connected  bool
	configured bool
	targets    []uint32
	statusStop context.CancelFunc
	flightStop context.CancelFunc
}

func NewBackend(logger *slog.Logger, messageBus bus.MessageBus) *Backend {
	if logger == nil {
		logger = slog.Default().With("component", "simulator")
	}

	return &Backend{
		logger: logger,
		bus:    messageBus,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run pins the lifetime of all simulated activity to ctx.
func (b *Backend) Run(ctx context.Context) {
	b.mu.Lock()
	b.runCtx = ctx
	b.mu.Unlock()
}

func (b *Backend) baseCtx() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.runCtx != nil {
		return b.runCtx
	}

	return context.Background()
}

func (b *Backend) InitializeComms(_ context.Context, cfg bridge.CommsConfig) error {
	b.mu.Lock()
	if b.connected {
		b.mu.Unlock()

		return errors.New("simulator is already connected")
	}
	b.connected = true

	statusCtx, cancel := context.WithCancel(b.baseCtxLocked())
	b.statusStop = cancel
	b.mu.Unlock()

	b.logger.Info("simulated connection", "host", cfg.Host, "tcp_port", cfg.TCPPort)
	go b.runStatusStream(statusCtx)
	b.respondLater(statusCtx, bridge.TopicSyncSuccess, "Simulated drone connected")

	return nil
}

func (b *Backend) CancelConnection(context.Context) error {
	b.shutdown()

	return nil
}

func (b *Backend) Disconnect(context.Context) error {
	b.mu.Lock()
	connected := b.connected
	b.mu.Unlock()
	if !connected {
		return errors.New("simulator is not connected")
	}

	// The disconnect outcome must outlive the shutdown of the status stream.
	ctx := b.baseCtx()
	b.shutdown()
	b.respondLater(ctx, bridge.TopicDisconnectSuccess, "Simulated drone disconnected")

	return nil
}

func (b *Backend) SendConfigRequest(_ context.Context, cfg bridge.PingFinderConfig) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()

		return errors.New("simulator is not connected")
	}
	b.configured = true
	b.targets = append([]uint32(nil), cfg.TargetFrequencies...)
	ctx := b.baseCtxLocked()
	b.mu.Unlock()

	b.respondLater(ctx, bridge.TopicConfigSuccess, "Ping finder configured")

	return nil
}

func (b *Backend) CancelConfigRequest(context.Context) error { return nil }

func (b *Backend) SendStartRequest(context.Context) error {
	b.mu.Lock()
	if !b.connected || !b.configured {
		b.mu.Unlock()

		return errors.New("simulator is not configured")
	}
	if b.flightStop != nil {
		b.flightStop()
	}
	flightCtx, cancel := context.WithCancel(b.baseCtxLocked())
	b.flightStop = cancel
	targets := append([]uint32(nil), b.targets...)
	b.mu.Unlock()

	go b.runFlight(flightCtx, targets)
	b.respondLater(flightCtx, bridge.TopicStartSuccess, "Scan started")

	return nil
}

func (b *Backend) CancelStartRequest(context.Context) error { return nil }

func (b *Backend) SendStopRequest(context.Context) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()

		return errors.New("simulator is not connected")
	}
	if b.flightStop != nil {
		b.flightStop()
		b.flightStop = nil
	}
	ctx := b.baseCtxLocked()
	b.mu.Unlock()

	b.respondLater(ctx, bridge.TopicStopSuccess, "Scan stopped")

	return nil
}

func (b *Backend) CancelStopRequest(context.Context) error { return nil }

// respondLater emits the outcome event after the simulated device delay.
func (b *Backend) respondLater(ctx context.Context, topic, message string) {
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(responseDelay):
			b.bus.Publish(topic, bridge.Event{Message: message})
		}
	}()
}

// runStatusStream emits the continuous status packet stream the link quality
// estimator feeds on.
func (b *Backend) runStatusStream(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			b.bus.Publish(bridge.TopicStatusPacket, bridge.StatusPacket{
				PacketID:    b.packetID.Add(1),
				TimestampUS: now.Add(-simulatedLatency).UnixMicro(),
				ReceivedAt:  now,
			})
		}
	}
}

// runFlight walks a lawnmower pattern over a small survey box, publishing GPS
// fixes every tick and synthetic pings that grow stronger near a hidden
// transmitter per target frequency.
func (b *Backend) runFlight(ctx context.Context, targets []uint32) {
	start := waypoint{lat: 32.6309, long: -116.4247}
	waypoints := lawnmowerPattern(start, 4, 200.0, 60.0)

	transmitters := make(map[uint32]waypoint, len(targets))
	for _, f := range targets {
		transmitters[f] = waypoint{
			lat:  start.lat + (b.rng.Float64()-0.5)*300*degPerMeter,
			long: start.long + (b.rng.Float64()-0.5)*300*degPerMeter,
		}
	}

	pos := start
	wpIdx := 0
	tick := 0

	ticker := time.NewTicker(flightInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			target := waypoints[wpIdx%len(waypoints)]
			heading := headingDeg(pos, target)
			pos = stepToward(pos, target, horizontalSpeed)
			if distanceMeters(pos, target) < horizontalSpeed {
				wpIdx++
			}

			now := time.Now()
			b.bus.Publish(bridge.TopicGPSData, telemetry.GPSData{
				Lat:       pos.lat + b.rng.NormFloat64()*0.3*degPerMeter,
				Long:      pos.long + b.rng.NormFloat64()*0.3*degPerMeter,
				Altitude:  30 + b.rng.NormFloat64()*0.5,
				Heading:   heading,
				Timestamp: now,
				PacketID:  b.packetID.Add(1),
			})

			// Roughly one detection per four ticks per frequency.
			for freq, tx := range transmitters {
				if b.rng.Intn(4) != 0 {
					continue
				}
				dist := distanceMeters(pos, tx)
				b.bus.Publish(bridge.TopicPingData, telemetry.PingData{
					Frequency: freq,
					Amplitude: -40 - dist/10 + b.rng.NormFloat64()*2,
					Lat:       pos.lat,
					Long:      pos.long,
					Timestamp: now,
					PacketID:  b.packetID.Add(1),
				})
			}

			// A slowly converging location estimate every few ticks.
			if tick%5 == 0 {
				for freq, tx := range transmitters {
					drift := 50.0 / float64(tick)
					b.bus.Publish(bridge.TopicLocationEstimate, telemetry.LocationEstimate{
						Frequency: freq,
						Lat:       tx.lat + b.rng.NormFloat64()*drift*degPerMeter,
						Long:      tx.long + b.rng.NormFloat64()*drift*degPerMeter,
						Timestamp: now,
						PacketID:  b.packetID.Add(1),
					})
				}
			}
		}
	}
}

func (b *Backend) shutdown() {
	b.mu.Lock()
	statusStop := b.statusStop
	flightStop := b.flightStop
	b.statusStop = nil
	b.flightStop = nil
	b.connected = false
	b.configured = false
	b.targets = nil
	b.mu.Unlock()

	if flightStop != nil {
		flightStop()
	}
	if statusStop != nil {
		statusStop()
	}
}

// baseCtxLocked requires b.mu held.
func (b *Backend) baseCtxLocked() context.Context {
	if b.runCtx != nil {
		return b.runCtx
	}

	return context.Background()
}

func lawnmowerPattern(origin waypoint, passes int, widthM, spacingM float64) []waypoint {
	points := make([]waypoint, 0, passes*2)
	for i := 0; i < passes; i++ {
		lat := origin.lat + float64(i)*spacingM*degPerMeter
		left := waypoint{lat: lat, long: origin.long}
		right := waypoint{lat: lat, long: origin.long + widthM*degPerMeter}
		if i%2 == 0 {
			points = append(points, left, right)
		} else {
			points = append(points, right, left)
		}
	}

	return points
}

func distanceMeters(a, b waypoint) float64 {
	dLat := (b.lat - a.lat) / degPerMeter
	dLong := (b.long - a.long) / degPerMeter

	return math.Hypot(dLat, dLong)
}

func stepToward(from, to waypoint, stepM float64) waypoint {
	dist := distanceMeters(from, to)
	if dist <= stepM {
		return to
	}
	frac := stepM / dist

	return waypoint{
		lat:  from.lat + (to.lat-from.lat)*frac,
		long: from.long + (to.long-from.long)*frac,
	}
}

func headingDeg(from, to waypoint) float64 {
	dLat := (to.lat - from.lat) / degPerMeter
	dLong := (to.long - from.long) / degPerMeter
	deg := math.Atan2(dLong, dLat) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}

	return deg
}
