package client

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// Transport is the byte stream of one HiSLIP channel.
//
// The timeout applies to every single Read and Write call. A timeout of zero blocks forever.
type Transport interface {
	io.ReadWriteCloser
	// SetTimeout sets the timeout of subsequent Read and Write calls.
	SetTimeout(timeout time.Duration) error
	// Timeout returns the current timeout.
	Timeout() time.Duration
}

// Dialer opens the transport of a channel. The timeout bounds the connection establishment and
// becomes the initial timeout of the returned transport.
type Dialer func(ctx context.Context, address string, timeout time.Duration) (Transport, error)

// DialTCP is the default Dialer. It opens a TCP connection with Nagle's algorithm disabled.
func DialTCP(ctx context.Context, address string, timeout time.Duration) (Transport, error) {
	d := net.Dialer{Timeout: timeout}

	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	return NewConnTransport(conn, timeout), nil
}

// NewConnTransport wraps a net.Conn into a Transport that applies the timeout through deadlines.
func NewConnTransport(conn net.Conn, timeout time.Duration) Transport {
	t := &connTransport{conn: conn}
	t.timeout.Store(int64(timeout))

	return t
}

type connTransport struct {
	conn    net.Conn
	timeout atomic.Int64
}

func (t *connTransport) Read(p []byte) (int, error) {
	if err := t.conn.SetReadDeadline(t.deadline()); err != nil {
		return 0, err
	}

	return t.conn.Read(p)
}

func (t *connTransport) Write(p []byte) (int, error) {
	if err := t.conn.SetWriteDeadline(t.deadline()); err != nil {
		return 0, err
	}

	return t.conn.Write(p)
}

func (t *connTransport) Close() error {
	return t.conn.Close()
}

func (t *connTransport) SetTimeout(timeout time.Duration) error {
	t.timeout.Store(int64(timeout))
	return nil
}

func (t *connTransport) Timeout() time.Duration {
	return time.Duration(t.timeout.Load())
}

func (t *connTransport) deadline() time.Time {
	timeout := t.Timeout()
	if timeout <= 0 {
		return time.Time{}
	}

	return time.Now().Add(timeout)
}
