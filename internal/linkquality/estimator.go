// Package linkquality derives a small, stable quality signal from the
// backend's raw status packet stream: an instantaneous ping estimate, a
// windowed update frequency, and a discrete 0-5 tier.
package linkquality

import (
	"context"
	"log/slog"
	"sync"

	"rttgcs/internal/bridge"
	"rttgcs/internal/bus"
)

// TopicSnapshot is published after every observed sample.
const TopicSnapshot = "linkquality.snapshot"

// windowSize bounds the FIFO of inter-packet intervals.
const windowSize = 10

// Ping tier thresholds in milliseconds.
const (
	pingTier5MS = 200
	pingTier4MS = 500
	pingTier3MS = 1000
	pingTier2MS = 2000
)

// Update frequency tier thresholds in Hz.
const (
	freqTier5Hz = 1.0
	freqTier4Hz = 0.75
	freqTier3Hz = 0.5
	freqTier2Hz = 0.25
)

// Snapshot is the derived quality signal. Tier 0 is the distinct "no signal"
// state reached only through the disconnected reset path, never computed from
// ping and frequency.
type Snapshot struct {
	PingMS   float64 `json:"ping_ms"`
	UpdateHz float64 `json:"update_hz"`
	Tier     int     `json:"tier"`
}

// Estimator folds status packets into a Snapshot. Samples and disconnect
// resets can race under the Go event model, so window and snapshot sit behind
// one mutex.
type Estimator struct {
	logger *slog.Logger

	mu         sync.Mutex
	window     []float64 // producer-timestamp deltas, ms
	havePrev   bool
	prevProdMS float64
	snap       Snapshot
}

func NewEstimator(logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default().With("component", "linkquality")
	}

	return &Estimator{
		logger: logger,
		window: make([]float64, 0, windowSize),
	}
}

// Observe folds one inbound status packet into the snapshot. A disconnected
// sample zeroes the snapshot and empties the window.
func (e *Estimator) Observe(pkt bridge.StatusPacket, connected bool) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !connected {
		e.window = e.window[:0]
		e.havePrev = false
		e.snap = Snapshot{}

		return e.snap
	}

	// Producer timestamps are microseconds in the producer's clock domain.
	// Only this absolute ping estimate crosses clock domains; interval math
	// below diffs producer timestamps against themselves.
	prodMS := float64(pkt.TimestampUS) / 1000.0
	recvMS := float64(pkt.ReceivedAt.UnixMicro()) / 1000.0
	e.snap.PingMS = recvMS - prodMS

	if e.havePrev {
		e.window = append(e.window, prodMS-e.prevProdMS)
		if len(e.window) > windowSize {
			e.window = e.window[1:]
		}
	}
	e.prevProdMS = prodMS
	e.havePrev = true

	if len(e.window) > 0 {
		var sum float64
		for _, d := range e.window {
			sum += d
		}
		avgIntervalS := sum / float64(len(e.window)) / 1000.0
		if avgIntervalS > 0 {
			e.snap.UpdateHz = 1.0 / avgIntervalS
		}
	}

	e.snap.Tier = combinedTier(e.snap.PingMS, e.snap.UpdateHz)

	return e.snap
}

// Snapshot returns the current quality snapshot.
func (e *Estimator) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.snap
}

// Run consumes the continuous status packet stream, independent of lifecycle
// phase. connected must report the live connection flag.
func (e *Estimator) Run(ctx context.Context, messageBus bus.MessageBus, connected func() bool) {
	sub := messageBus.Subscribe(bridge.TopicStatusPacket)
	go func() {
		defer messageBus.Unsubscribe(sub, bridge.TopicStatusPacket)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				pkt, ok := raw.(bridge.StatusPacket)
				if !ok {
					e.logger.Warn("unexpected payload on status packet topic")
					continue
				}
				snap := e.Observe(pkt, connected())
				messageBus.Publish(TopicSnapshot, snap)
			}
		}
	}()
}

func pingTier(pingMS float64) int {
	switch {
	case pingMS < pingTier5MS:
		return 5
	case pingMS < pingTier4MS:
		return 4
	case pingMS < pingTier3MS:
		return 3
	case pingMS < pingTier2MS:
		return 2
	default:
		return 1
	}
}

func freqTier(updateHz float64) int {
	switch {
	case updateHz >= freqTier5Hz:
		return 5
	case updateHz >= freqTier4Hz:
		return 4
	case updateHz >= freqTier3Hz:
		return 3
	case updateHz >= freqTier2Hz:
		return 2
	default:
		return 1
	}
}

// combinedTier rounds down so a mixed good/bad signal is never reported as a
// falsely reassuring tier.
func combinedTier(pingMS, updateHz float64) int {
	tier := (pingTier(pingMS) + freqTier(updateHz)) / 2
	if tier < 1 {
		tier = 1
	}
	if tier > 5 {
		tier = 5
	}

	return tier
}
