package client

import (
	"bytes"
	"context"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-hislip/hislip"
)

// fakeRead is one scripted arrival on a fakeTransport.
type fakeRead struct {
	data []byte
	// delay advances the fake clock before the data becomes readable.
	delay time.Duration
	err   error
}

// fakeTransport is an in-memory Transport that serves scripted reads and records writes.
// Once the script is exhausted, reads fail with os.ErrDeadlineExceeded.
type fakeTransport struct {
	mu       sync.Mutex
	clock    *clockwork.FakeClock
	reads    []fakeRead
	cur      []byte
	maxRead  int
	written  bytes.Buffer
	timeout  time.Duration
	timeouts []time.Duration
	closed   bool
}

func newFakeTransport(clock *clockwork.FakeClock, timeout time.Duration, reads ...fakeRead) *fakeTransport {
	return &fakeTransport{clock: clock, timeout: timeout, reads: reads}
}

func (t *fakeTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, net.ErrClosed
	}

	if len(t.cur) == 0 {
		if len(t.reads) == 0 {
			return 0, os.ErrDeadlineExceeded
		}

		r := t.reads[0]
		t.reads = t.reads[1:]
		if t.clock != nil && r.delay > 0 {
			t.clock.Advance(r.delay)
		}
		if r.err != nil {
			return 0, r.err
		}
		t.cur = r.data
	}

	limit := len(p)
	if t.maxRead > 0 && limit > t.maxRead {
		limit = t.maxRead
	}

	n := copy(p[:limit], t.cur)
	t.cur = t.cur[n:]

	return n, nil
}

func (t *fakeTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, net.ErrClosed
	}

	return t.written.Write(p)
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true

	return nil
}

func (t *fakeTransport) SetTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.timeout = timeout
	t.timeouts = append(t.timeouts, timeout)

	return nil
}

func (t *fakeTransport) Timeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.timeout
}

func (t *fakeTransport) setTimeoutHistory() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]time.Duration(nil), t.timeouts...)
}

func (t *fakeTransport) writtenBytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]byte(nil), t.written.Bytes()...)
}

// writtenMessages splits the written bytes into messages.
func (t *fakeTransport) writtenMessages(tb testing.TB) []*hislip.Message {
	tb.Helper()

	b := t.writtenBytes()
	msgs := []*hislip.Message{}
	for len(b) > 0 {
		h, err := hislip.DecodeHeader(b[:hislip.HeaderSize])
		require.NoError(tb, err)

		end := hislip.HeaderSize + int(h.PayloadLength)
		require.LessOrEqual(tb, end, len(b))

		msgs = append(msgs, hislip.NewMessage(h.Type, h.ControlCode, h.Parameter, b[hislip.HeaderSize:end]))
		b = b[end:]
	}

	return msgs
}

func frame(body hislip.Body) []byte {
	return body.ToMessage().ToBytes()
}

func arrive(body hislip.Body) fakeRead {
	return fakeRead{data: frame(body)}
}

func arriveAfter(delay time.Duration, body hislip.Body) fakeRead {
	return fakeRead{data: frame(body), delay: delay}
}

func fakeDialer(t Transport) Dialer {
	return func(context.Context, string, time.Duration) (Transport, error) {
		return t, nil
	}
}

// newTestSyncChannel returns a connected synchronous channel backed by a fakeTransport.
func newTestSyncChannel(t *testing.T, maxSize *MaxMessageSize, reads ...fakeRead) (*SyncChannel, *fakeTransport, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	ft := newFakeTransport(clock, time.Second, reads...)

	ch := NewSyncChannel(fakeDialer(ft), maxSize, clock, nil, nil)
	require.NoError(t, ch.Connect(context.Background(), "fake:4880", time.Second))

	return ch, ft, clock
}

// newTestAsyncChannel returns a connected asynchronous channel backed by a fakeTransport.
func newTestAsyncChannel(t *testing.T, maxSize *MaxMessageSize, reads ...fakeRead) (*AsyncChannel, *fakeTransport) {
	t.Helper()

	ft := newFakeTransport(nil, time.Second, reads...)

	ch := NewAsyncChannel(fakeDialer(ft), maxSize, nil, nil)
	require.NoError(t, ch.Connect(context.Background(), "fake:4880", time.Second))

	return ch, ft
}
