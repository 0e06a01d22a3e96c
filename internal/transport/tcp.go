package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

const tcpDialTimeout = 6 * time.Second

// TCPTransport carries framed traffic to a simulated (or networked) field
// device over a TCP socket.
type TCPTransport struct {
	host string
	port int

	mu      sync.Mutex
	conn    net.Conn
	writeMu sync.Mutex
}

func NewTCPTransport(host string, port int) *TCPTransport {
	return &TCPTransport{host: host, port: port}
}

func (t *TCPTransport) Name() string {
	return "tcp"
}

func (t *TCPTransport) Target() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.host == "" {
		return ""
	}

	return net.JoinHostPort(t.host, fmt.Sprintf("%d", t.port))
}

func (t *TCPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}
	if t.host == "" {
		return errors.New("tcp host is empty")
	}
	if t.port <= 0 {
		return fmt.Errorf("invalid tcp port: %d", t.port)
	}

	dialer := net.Dialer{Timeout: tcpDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(t.host, fmt.Sprintf("%d", t.port)))
	if err != nil {
		return fmt.Errorf("dial tcp: %w", err)
	}
	t.conn = conn

	return nil
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil

	return err
}

func (t *TCPTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	conn, err := t.currentConn()
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}

	return readFrame(ioReadFullFunc(conn))
}

func (t *TCPTransport) WriteFrame(ctx context.Context, payload []byte) error {
	conn, err := t.currentConn()
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}

	frame, err := encodeFrame(payload)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	return nil
}

func (t *TCPTransport) currentConn() (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, errors.New("transport is not connected")
	}

	return t.conn, nil
}
