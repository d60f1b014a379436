package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-hislip/hislip"
	"github.com/arloliu/go-hislip/logger"
)

const (
	// DefaultChunkSize is the maximum number of payload bytes requested by a single transport read.
	DefaultChunkSize = 4096

	// maxPrealloc bounds the payload buffer allocated before any payload byte arrived.
	maxPrealloc = 1024 * 1024
	// maxEmptyReads is the number of consecutive zero-byte reads tolerated before giving up.
	maxEmptyReads = 100
)

// MaxMessageSize holds the maximum message size, header included, accepted by the server.
//
// The value is negotiated on the asynchronous channel and read by every send of both channels,
// so a single MaxMessageSize is shared by the two channels of a session.
type MaxMessageSize struct {
	v atomic.Uint64
}

// NewMaxMessageSize creates a MaxMessageSize with an initial value.
func NewMaxMessageSize(size uint64) *MaxMessageSize {
	m := &MaxMessageSize{}
	m.v.Store(size)

	return m
}

// Load returns the current value.
func (m *MaxMessageSize) Load() uint64 { return m.v.Load() }

// Store sets the value.
func (m *MaxMessageSize) Store(size uint64) { m.v.Store(size) }

// channel implements the behaviour shared by the synchronous and asynchronous channels:
// connection management and the framing of single messages.
type channel struct {
	name    string
	dial    Dialer
	maxSize *MaxMessageSize
	logger  logger.Logger
	metrics *ConnectionMetrics

	mu        sync.RWMutex
	transport Transport
}

func newChannel(name string, dial Dialer, maxSize *MaxMessageSize, l logger.Logger, m *ConnectionMetrics) channel {
	if dial == nil {
		dial = DialTCP
	}
	if maxSize == nil {
		maxSize = NewMaxMessageSize(hislip.DefaultMaxMessageSize)
	}
	if l == nil {
		l = logger.GetLogger()
	}
	if m == nil {
		m = &ConnectionMetrics{}
	}

	return channel{
		name:    name,
		dial:    dial,
		maxSize: maxSize,
		logger:  l.With("channel", name),
		metrics: m,
	}
}

// Connect opens the connection to address ("host:port"). An existing connection is closed first.
func (c *channel) Connect(ctx context.Context, address string, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport != nil {
		_ = c.transport.Close()
		c.transport = nil
	}

	t, err := c.dial(ctx, address, timeout)
	if err != nil {
		return err
	}

	c.transport = t
	c.logger.Debug("channel connected", "address", address)

	return nil
}

// Close closes the connection. It is a no-op if the channel is not connected.
func (c *channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport == nil {
		return nil
	}

	err := c.transport.Close()
	c.transport = nil
	c.logger.Debug("channel closed")

	return err
}

// Connected reports whether the channel has an open connection.
func (c *channel) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.transport != nil
}

// Timeout returns the I/O timeout of the connection, zero if it is not connected.
func (c *channel) Timeout() time.Duration {
	t := c.getTransport()
	if t == nil {
		return 0
	}

	return t.Timeout()
}

// SetTimeout sets the I/O timeout of the connection. Zero or a negative value blocks forever.
func (c *channel) SetTimeout(timeout time.Duration) error {
	t := c.getTransport()
	if t == nil {
		return errSocketClosed()
	}

	if timeout < 0 {
		timeout = 0
	}

	return t.SetTimeout(timeout)
}

// MaximumServerMessageSize returns the maximum message size, header included, that the server accepts.
func (c *channel) MaximumServerMessageSize() uint64 {
	return c.maxSize.Load()
}

// GetDescriptors requests the descriptors of the server.
func (c *channel) GetDescriptors() (*hislip.GetDescriptorsResponse, error) {
	return transact[*hislip.GetDescriptorsResponse](c, &hislip.GetDescriptors{}, hislip.GetDescriptorsResponseMsgType)
}

func (c *channel) getTransport() Transport {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.transport
}

// send writes a single message.
//
// A message larger than the negotiated maximum server message size is rejected with
// an *hislip.Error of code ErrorMessageTooLarge without writing anything.
func (c *channel) send(msg *hislip.Message) error {
	t := c.getTransport()
	if t == nil {
		return errSocketClosed()
	}

	size := uint64(msg.Size())
	if maxSize := c.maxSize.Load(); size > maxSize {
		return hislip.NewError(hislip.ErrorMessageTooLarge, fmt.Sprintf("%d > %d", size, maxSize))
	}

	if _, err := t.Write(msg.ToBytes()); err != nil {
		return fmt.Errorf("write %s message: %w", msg.Type(), err)
	}

	c.metrics.incMsgSend(msg.Size())
	c.logger.Debug("message sent", "msg", msg)

	return nil
}

// receive reads a single message. Use hislip.UndefinedMsgType as expected to accept any message type.
//
// The payload is read in pieces of at most chunkSize bytes.
func (c *channel) receive(expected hislip.MessageType, chunkSize int) (*hislip.Message, error) {
	t := c.getTransport()
	if t == nil {
		return nil, errSocketClosed()
	}

	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var header [hislip.HeaderSize]byte
	n, err := io.ReadFull(t, header[:])
	if err != nil {
		if n == 0 && isTimeout(err) {
			return nil, fmt.Errorf("read %s header: %w", c.name, err)
		}
		fatal := hislip.NewFatalError(hislip.FatalBadHeader, "The reply header is != 16 bytes")
		fatal.Err = err

		return nil, fatal
	}

	h, err := hislip.DecodeHeader(header[:])
	if err != nil {
		return nil, err
	}

	payload, err := readPayload(t, h.PayloadLength, chunkSize)
	if err != nil {
		return nil, err
	}

	c.metrics.incMsgRecv(hislip.HeaderSize + len(payload))

	msg, err := hislip.Decode(header[:], payload, expected)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("message received", "msg", msg)

	return msg, nil
}

// readPayload reads exactly length bytes in pieces of at most chunkSize bytes.
// A read may return fewer bytes than requested.
func readPayload(r io.Reader, length uint64, chunkSize int) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}

	if length > math.MaxInt32 {
		return nil, hislip.NewFatalError(hislip.FatalBadHeader,
			fmt.Sprintf("payload length %d is not supported", length))
	}

	total := int(length)
	payload := make([]byte, 0, min(total, maxPrealloc))
	empty := 0

	for len(payload) < total {
		request := min(chunkSize, total-len(payload))
		if cap(payload)-len(payload) < request {
			payload = growBuffer(payload, request, total)
		}

		n, err := r.Read(payload[len(payload) : len(payload)+request])
		payload = payload[:len(payload)+n]

		if err != nil {
			if len(payload) == total {
				break
			}
			if errors.Is(err, io.EOF) {
				fatal := hislip.NewFatalError(hislip.FatalUnidentified,
					fmt.Sprintf("connection closed after %d of %d payload bytes", len(payload), total))
				fatal.Err = io.ErrUnexpectedEOF

				return nil, fatal
			}

			return nil, fmt.Errorf("read payload: %w", err)
		}

		if n == 0 {
			empty++
			if empty >= maxEmptyReads {
				return nil, io.ErrNoProgress
			}
		} else {
			empty = 0
		}
	}

	return payload, nil
}

// growBuffer doubles the capacity of b, but never beyond total, until request more bytes fit.
func growBuffer(b []byte, request int, total int) []byte {
	newCap := max(cap(b)*2, len(b)+request)
	newCap = min(newCap, total)

	nb := make([]byte, len(b), newCap)
	copy(nb, b)

	return nb
}

func errSocketClosed() *hislip.FatalError {
	return hislip.NewFatalError(hislip.FatalChannelsInactivated, "socket closed")
}

// receiveBody reads a message of the expected type and returns its typed body.
func receiveBody[T hislip.Body](c *channel, expected hislip.MessageType) (T, error) {
	var zero T

	msg, err := c.receive(expected, DefaultChunkSize)
	if err != nil {
		return zero, err
	}

	body, ok := msg.Body().(T)
	if !ok {
		return zero, hislip.NewError(hislip.ErrorBadMessageType,
			fmt.Sprintf("unexpected body %T for %s", msg.Body(), msg.Type()))
	}

	return body, nil
}

// transact sends a request and waits for the response of the expected type.
func transact[T hislip.Body](c *channel, request hislip.Body, expected hislip.MessageType) (T, error) {
	if err := c.send(request.ToMessage()); err != nil {
		var zero T
		return zero, err
	}

	return receiveBody[T](c, expected)
}
