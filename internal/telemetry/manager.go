package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"rttgcs/internal/bridge"
	"rttgcs/internal/bus"
)

// Store persists telemetry rows keyed by scan run number.
type Store interface {
	InsertPing(ctx context.Context, runNum int64, p PingData) error
	UpsertEstimate(ctx context.Context, runNum int64, e LocationEstimate) error
	DeleteFrequencyData(ctx context.Context, runNum int64, frequency uint32) error
}

// Enqueuer defers a persistence write onto a background queue.
type Enqueuer interface {
	Enqueue(name string, fn func(context.Context) error)
}

// Manager accumulates the current session's telemetry from the bus: latest
// drone position, ping detections per target frequency, and the newest
// transmitter location estimate per frequency. Writes are mirrored to the
// store when one is configured.
type Manager struct {
	logger *slog.Logger
	bus    bus.MessageBus
	store  Store
	writes Enqueuer

	mu        sync.RWMutex
	runNum    int64
	gps       GPSData
	haveGPS   bool
	pings     map[uint32][]PingData
	estimates map[uint32]LocationEstimate
}

func NewManager(logger *slog.Logger, b bus.MessageBus, store Store, writes Enqueuer) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		logger:    logger.With("component", "telemetry"),
		bus:       b,
		store:     store,
		writes:    writes,
		pings:     make(map[uint32][]PingData),
		estimates: make(map[uint32]LocationEstimate),
	}
}

// SetRun tags subsequent telemetry with the given scan run number. Called
// when a ping finder configuration is accepted.
func (m *Manager) SetRun(runNum int64) {
	m.mu.Lock()
	m.runNum = runNum
	m.mu.Unlock()
}

// Run consumes telemetry topics until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	sub := m.bus.Subscribe(bridge.TopicGPSData, bridge.TopicPingData, bridge.TopicLocationEstimate)
	defer m.bus.Unsubscribe(sub, bridge.TopicGPSData, bridge.TopicPingData, bridge.TopicLocationEstimate)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			switch v := msg.(type) {
			case GPSData:
				m.handleGPS(v)
			case PingData:
				m.handlePing(v)
			case LocationEstimate:
				m.handleEstimate(v)
			}
		}
	}
}

func (m *Manager) handleGPS(g GPSData) {
	m.mu.Lock()
	m.gps = g
	m.haveGPS = true
	m.mu.Unlock()
}

func (m *Manager) handlePing(p PingData) {
	m.mu.Lock()
	m.pings[p.Frequency] = append(m.pings[p.Frequency], p)
	run := m.runNum
	m.mu.Unlock()

	m.logger.Debug("ping detected", "frequency", p.Frequency, "amplitude", p.Amplitude)

	if m.store != nil && m.writes != nil {
		m.writes.Enqueue("insert ping", func(ctx context.Context) error {
			return m.store.InsertPing(ctx, run, p)
		})
	}
}

func (m *Manager) handleEstimate(e LocationEstimate) {
	m.mu.Lock()
	m.estimates[e.Frequency] = e
	run := m.runNum
	m.mu.Unlock()

	m.logger.Debug("location estimate updated", "frequency", e.Frequency, "lat", e.Lat, "long", e.Long)

	if m.store != nil && m.writes != nil {
		m.writes.Enqueue("upsert estimate", func(ctx context.Context) error {
			return m.store.UpsertEstimate(ctx, run, e)
		})
	}
}

// LatestGPS returns the most recent drone position, if any has arrived.
func (m *Manager) LatestGPS() (GPSData, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.gps, m.haveGPS
}

// Pings returns a copy of all detections recorded for the frequency.
func (m *Manager) Pings(frequency uint32) []PingData {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.pings[frequency]
	if len(stored) == 0 {
		return nil
	}
	out := make([]PingData, len(stored))
	copy(out, stored)

	return out
}

// Estimate returns the latest transmitter location estimate for the frequency.
func (m *Manager) Estimate(frequency uint32) (LocationEstimate, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.estimates[frequency]

	return e, ok
}

// Frequencies lists every frequency with at least one ping or estimate.
func (m *Manager) Frequencies() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[uint32]struct{}, len(m.pings)+len(m.estimates))
	for f := range m.pings {
		seen[f] = struct{}{}
	}
	for f := range m.estimates {
		seen[f] = struct{}{}
	}

	out := make([]uint32, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}

	return out
}

// ClearFrequencyData drops everything recorded for one frequency, in memory
// and in the store. The store delete runs synchronously so the caller knows
// whether history was actually removed.
func (m *Manager) ClearFrequencyData(ctx context.Context, frequency uint32) error {
	m.mu.Lock()
	delete(m.pings, frequency)
	delete(m.estimates, frequency)
	run := m.runNum
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.DeleteFrequencyData(ctx, run, frequency); err != nil {
			return fmt.Errorf("clear frequency data: %w", err)
		}
	}

	m.logger.Info("frequency data cleared", "frequency", frequency)

	return nil
}
