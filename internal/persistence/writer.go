package persistence

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"
)

const (
	defaultQueueDepth  = 256
	writeRetryInterval = 300 * time.Millisecond
	writeRetryAttempts = 2
)

type writeCmd struct {
	name string
	fn   func(context.Context) error
}

// WriterQueue serializes database writes off the bus goroutines so a slow
// disk never backs up telemetry handling. Failed writes are retried a couple
// of times, then dropped with an error log; telemetry history is best effort.
type WriterQueue struct {
	logger *slog.Logger
	queue  chan writeCmd
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if capacity <= 0 {
		capacity = defaultQueueDepth
	}

	return &WriterQueue{
		logger: logger,
		queue:  make(chan writeCmd, capacity),
	}
}

// Enqueue never blocks the caller; when the queue is full the handoff moves
// to a goroutine.
func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) {
	cmd := writeCmd{name: name, fn: fn}
	select {
	case w.queue <- cmd:
	default:
		go func() { w.queue <- cmd }()
	}
}

func (w *WriterQueue) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cmd := <-w.queue:
				w.execute(ctx, cmd)
			}
		}
	}()
}

func (w *WriterQueue) execute(ctx context.Context, cmd writeCmd) {
	attempt := 0
	op := func() error {
		attempt++
		if err := cmd.fn(ctx); err != nil {
			w.logger.Error("db write failed", "cmd", cmd.name, "attempt", attempt, "error", err)

			return err
		}

		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(writeRetryInterval), writeRetryAttempts), ctx)
	_ = backoff.Retry(op, policy)
}
