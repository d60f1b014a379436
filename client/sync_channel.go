package client

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/arloliu/go-hislip/hislip"
	"github.com/arloliu/go-hislip/logger"
)

// SyncChannel is the synchronous channel of a HiSLIP session.
//
// It carries the data transfers: Initialize, Data/DataEnd, Trigger, DeviceClearComplete and the
// secure connection and authentication messages. SyncChannel keeps the message id sequence used to
// correlate requests and responses.
//
// The message id fields are guarded by a mutex, so they may be read by the asynchronous channel
// while a transfer is in progress. The transfers themselves must not be run concurrently.
type SyncChannel struct {
	channel
	clock clockwork.Clock

	stateMu           sync.Mutex
	messageID         uint32
	previousMessageID uint32
	messageIDReceived uint32
	rmt               bool

	sendingBlocked atomic.Bool
}

// NewSyncChannel creates an unconnected synchronous channel.
//
// maxSize is shared with the asynchronous channel of the same session. A nil dial, maxSize,
// clock or logger selects the default.
func NewSyncChannel(dial Dialer, maxSize *MaxMessageSize, clock clockwork.Clock, l logger.Logger, m *ConnectionMetrics) *SyncChannel {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	c := &SyncChannel{
		channel: newChannel("sync", dial, maxSize, l, m),
		clock:   clock,
	}
	c.resetMessageID()

	return c
}

// MessageID returns the id that the next Data, DataEnd or Trigger message is sent with.
func (c *SyncChannel) MessageID() uint32 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.messageID
}

// PreviousMessageID returns the id of the most recently sent Data, DataEnd or Trigger message,
// i.e. the id of the most recently completed transfer.
func (c *SyncChannel) PreviousMessageID() uint32 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.previousMessageID
}

// MessageIDReceived returns the id of the most recent Data or DataEnd message received from the server.
func (c *SyncChannel) MessageIDReceived() uint32 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.messageIDReceived
}

// RMT reports whether the most recent response was terminated by a DataEnd message
// and no message has been sent since.
func (c *SyncChannel) RMT() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.rmt
}

// SendingBlocked reports whether an Interrupted message was received without the matching
// AsyncInterrupted message. Send fails while it is true.
func (c *SyncChannel) SendingBlocked() bool {
	return c.sendingBlocked.Load()
}

// Initialize opens the session on the synchronous channel.
//
// clientID must be 2 bytes and subAddress at most 256 bytes, otherwise an error wrapping
// hislip.ErrInvalidArgument is returned without any I/O. The message id is reset before
// the Initialize message is sent.
func (c *SyncChannel) Initialize(major, minor uint8, clientID []byte, subAddress []byte) (*hislip.InitializeResponse, error) {
	req, err := hislip.NewInitialize(major, minor, clientID, subAddress)
	if err != nil {
		return nil, err
	}

	c.resetMessageID()
	c.sendingBlocked.Store(false)

	return transact[*hislip.InitializeResponse](&c.channel, req, hislip.InitializeResponseMsgType)
}

// Send sends data as one transfer and returns the number of bytes sent.
//
// The data is split into Data messages that fit into the maximum server message size,
// the last fragment is sent as DataEnd. Every message consumes one message id.
func (c *SyncChannel) Send(data []byte) (int, error) {
	if c.sendingBlocked.Load() {
		return 0, ErrSendingBlocked
	}

	maxSize := c.maxSize.Load()
	if len(data) > 0 && maxSize <= hislip.HeaderSize {
		return 0, hislip.NewError(hislip.ErrorMessageTooLarge,
			fmt.Sprintf("maximum server message size %d leaves no room for payload", maxSize))
	}
	maxChunk := maxSize - hislip.HeaderSize

	sent := 0
	for sent < len(data) {
		remaining := uint64(len(data) - sent)
		chunk := int(min(remaining, maxChunk))

		var body hislip.Body
		rmt, messageID := c.sendState()
		if uint64(chunk) < remaining {
			body = &hislip.Data{RMT: rmt, MessageID: messageID, Payload: data[sent : sent+chunk]}
		} else {
			body = &hislip.DataEnd{RMT: rmt, MessageID: messageID, Payload: data[sent:]}
		}

		if err := c.send(body.ToMessage()); err != nil {
			return sent, err
		}

		sent += chunk
		c.incrementMessageID()
	}

	return sent, nil
}

// Trigger sends the Trigger message, emulating a GPIB Group Execute Trigger.
func (c *SyncChannel) Trigger() error {
	rmt, messageID := c.sendState()
	if err := c.send((&hislip.Trigger{RMT: rmt, MessageID: messageID}).ToMessage()); err != nil {
		return err
	}

	c.incrementMessageID()

	return nil
}

// DeviceClearComplete finishes a device clear with the feature bitmap acknowledged on the
// asynchronous channel. The message id is reset once the server acknowledged it.
func (c *SyncChannel) DeviceClearComplete(featureBitmap uint8) (*hislip.DeviceClearAcknowledge, error) {
	resp, err := transact[*hislip.DeviceClearAcknowledge](&c.channel,
		&hislip.DeviceClearComplete{FeatureBitmap: featureBitmap}, hislip.DeviceClearAcknowledgeMsgType)
	if err != nil {
		return nil, err
	}

	c.resetMessageID()

	return resp, nil
}

// Receive reads one response.
//
// If size is positive the call returns as soon as more than size bytes were received,
// truncated to size bytes. If maxSize is positive a response larger than maxSize bytes is a
// fatal error. chunkSize bounds a single transport read, zero selects DefaultChunkSize.
//
// The channel timeout bounds the whole call, not a single message. The timeout is restored
// before Receive returns.
func (c *SyncChannel) Receive(size int, maxSize int, chunkSize int) ([]byte, error) {
	timeout := c.Timeout()
	defer func() {
		_ = c.SetTimeout(timeout)
	}()

	return c.receiveResponse(timeout, size, maxSize, chunkSize)
}

// interruptState tracks the Interrupted and AsyncInterrupted messages seen by one Receive call.
type interruptState uint8

const (
	// interruptNone: neither Interrupted nor AsyncInterrupted was received.
	interruptNone interruptState = iota
	// interruptDiscarding: AsyncInterrupted arrived first, Data and DataEnd are discarded until Interrupted.
	interruptDiscarding
	// interruptBlocked: Interrupted arrived first, sending is blocked until AsyncInterrupted.
	interruptBlocked
	// interruptResolved: both messages were received.
	interruptResolved
)

func (s interruptState) onAsyncInterrupted() interruptState {
	switch s {
	case interruptNone, interruptDiscarding:
		return interruptDiscarding
	default:
		return interruptResolved
	}
}

func (s interruptState) onInterrupted() interruptState {
	switch s {
	case interruptNone, interruptBlocked:
		return interruptBlocked
	default:
		return interruptResolved
	}
}

func (s interruptState) discarding() bool { return s == interruptDiscarding }

func (c *SyncChannel) receiveResponse(timeout time.Duration, size int, maxSize int, chunkSize int) ([]byte, error) {
	var (
		state interruptState
		data  []byte
	)

	start := c.clock.Now()

	for {
		msg, err := c.receive(hislip.UndefinedMsgType, chunkSize)
		if err != nil {
			var fatalErr *hislip.FatalError
			if !errors.As(err, &fatalErr) && isTimeout(err) && timeout > 0 {
				fatal := hislip.NewFatalError(hislip.FatalUnidentified, timeoutReason(timeout))
				fatal.Err = err

				return nil, fatal
			}

			return nil, err
		}

		switch body := msg.Body().(type) {
		case *hislip.DataEnd:
			if state.discarding() {
				break
			}

			if !c.acceptResponse(body.MessageID, false) {
				data = data[:0]
				break
			}

			return c.appendResponse(data, body.Payload, size, maxSize)

		case *hislip.Data:
			if state.discarding() {
				break
			}

			if !c.acceptResponse(body.MessageID, true) {
				data = data[:0]
				break
			}

			var done bool
			data, done, err = c.appendPartial(data, body.Payload, size, maxSize)
			if err != nil || done {
				return data, err
			}

		case *hislip.AsyncInterrupted:
			c.metrics.incInterruptedCount()
			data = data[:0]
			state = state.onAsyncInterrupted()
			c.sendingBlocked.Store(false)
			c.logger.Warn("async interrupted received", "message_id", body.MessageID)

		case *hislip.Interrupted:
			c.metrics.incInterruptedCount()
			data = data[:0]
			state = state.onInterrupted()
			if state == interruptBlocked {
				c.sendingBlocked.Store(true)
			}
			c.logger.Warn("interrupted received", "message_id", body.MessageID)

		default:
			c.logger.Debug("ignore message while receiving", "msg", msg)
		}

		if timeout > 0 {
			elapsed := c.clock.Since(start)
			remaining := timeout - elapsed
			if remaining <= 0 {
				return nil, hislip.NewFatalError(hislip.FatalUnidentified, timeoutReason(timeout))
			}
			if err := c.SetTimeout(remaining); err != nil {
				return nil, err
			}
		}
	}
}

// acceptResponse records the id of a received Data or DataEnd message and reports whether it
// answers the most recent request. Data sent with hislip.UnknownMessageID is accepted when
// allowUnknown is true.
func (c *SyncChannel) acceptResponse(messageID uint32, allowUnknown bool) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	c.messageIDReceived = messageID
	if messageID == c.previousMessageID || (allowUnknown && messageID == hislip.UnknownMessageID) {
		return true
	}

	c.metrics.incStaleMsgCount()
	c.logger.Warn("discard stale response", "message_id", messageID, "expected", c.previousMessageID)

	return false
}

// appendResponse appends the final fragment and completes the response.
func (c *SyncChannel) appendResponse(data []byte, payload []byte, size int, maxSize int) ([]byte, error) {
	c.stateMu.Lock()
	c.rmt = true
	c.stateMu.Unlock()

	data, _, err := c.appendPartial(data, payload, size, maxSize)
	if err != nil {
		return nil, err
	}

	if data == nil {
		data = []byte{}
	}

	return data, nil
}

// appendPartial appends a fragment and reports whether the response is complete because size
// bytes were received.
func (c *SyncChannel) appendPartial(data []byte, payload []byte, size int, maxSize int) ([]byte, bool, error) {
	data = append(data, payload...)

	if size > 0 && len(data) > size {
		return data[:size], true, nil
	}

	if maxSize > 0 && len(data) > maxSize {
		return nil, false, hislip.NewFatalError(hislip.FatalUnidentified,
			fmt.Sprintf("len(message) [%d] > max_read_size [%d]", len(data), maxSize))
	}

	return data, false, nil
}

// StartTLS sends the StartTLS message that follows a successful AsyncStartTLS transaction.
func (c *SyncChannel) StartTLS() error {
	return c.send((&hislip.StartTLS{}).ToMessage())
}

// EndTLS sends the EndTLS message that follows a successful AsyncEndTLS transaction.
func (c *SyncChannel) EndTLS() error {
	return c.send((&hislip.EndTLS{}).ToMessage())
}

// GetSaslMechanismList requests the SASL mechanisms supported by the server.
func (c *SyncChannel) GetSaslMechanismList() (*hislip.GetSaslMechanismListResponse, error) {
	return transact[*hislip.GetSaslMechanismListResponse](&c.channel,
		&hislip.GetSaslMechanismList{}, hislip.GetSaslMechanismListResponseMsgType)
}

// AuthenticationStart selects the SASL mechanism.
func (c *SyncChannel) AuthenticationStart(mechanism []byte) error {
	return c.send((&hislip.AuthenticationStart{Mechanism: mechanism}).ToMessage())
}

// WriteAuthenticationExchange sends SASL exchange data.
func (c *SyncChannel) WriteAuthenticationExchange(data []byte) error {
	return c.send((&hislip.AuthenticationExchange{Data: data}).ToMessage())
}

// ReadAuthenticationExchange receives SASL exchange data.
func (c *SyncChannel) ReadAuthenticationExchange() (*hislip.AuthenticationExchange, error) {
	return receiveBody[*hislip.AuthenticationExchange](&c.channel, hislip.AuthenticationExchangeMsgType)
}

// AuthenticationResult receives the outcome of the SASL authentication.
func (c *SyncChannel) AuthenticationResult() (*hislip.AuthenticationResult, error) {
	return receiveBody[*hislip.AuthenticationResult](&c.channel, hislip.AuthenticationResultMsgType)
}

func (c *SyncChannel) sendState() (bool, uint32) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.rmt, c.messageID
}

// incrementMessageID must be called after every Data, DataEnd or Trigger message sent.
func (c *SyncChannel) incrementMessageID() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	c.rmt = false
	c.previousMessageID = c.messageID
	c.messageID += 2 // wraps at 2^32
}

func (c *SyncChannel) resetMessageID() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	c.messageID = hislip.InitialMessageID
	c.previousMessageID = c.messageID - 2
	c.messageIDReceived = c.messageID - 2
}

func timeoutReason(timeout time.Duration) string {
	return fmt.Sprintf("timeout after %v seconds", timeout.Seconds())
}
