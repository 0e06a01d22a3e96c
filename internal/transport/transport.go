// Package transport moves framed packets between the GCS and the drone's
// field device over a serial line or a TCP socket.
package transport

import "context"

type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, payload []byte) error
}
