package client

import (
	"math"
	"time"

	"github.com/arloliu/go-hislip/hislip"
	"github.com/arloliu/go-hislip/logger"
)

const (
	// LockWaitForever is the lock timeout used when a negative timeout is requested.
	LockWaitForever = 24 * time.Hour

	// lockTimeoutMargin is added to the lock timeout to get the I/O timeout of a lock request,
	// so the server answers before the read deadline expires.
	lockTimeoutMargin = 10 * time.Second
)

// AsyncChannel is the asynchronous channel of a HiSLIP session.
//
// It carries the out-of-band operations: maximum message size negotiation, locking, device clear,
// remote/local control, status queries and the secure connection requests.
type AsyncChannel struct {
	channel
}

// NewAsyncChannel creates an unconnected asynchronous channel.
//
// maxSize is shared with the synchronous channel of the same session. A nil dial, maxSize or
// logger selects the default.
func NewAsyncChannel(dial Dialer, maxSize *MaxMessageSize, l logger.Logger, m *ConnectionMetrics) *AsyncChannel {
	return &AsyncChannel{channel: newChannel("async", dial, maxSize, l, m)}
}

// AsyncInitialize opens the session on the asynchronous channel with the session id returned by Initialize.
func (c *AsyncChannel) AsyncInitialize(sessionID uint16) (*hislip.AsyncInitializeResponse, error) {
	return transact[*hislip.AsyncInitializeResponse](&c.channel,
		&hislip.AsyncInitialize{SessionID: sessionID}, hislip.AsyncInitializeResponseMsgType)
}

// AsyncMaximumMessageSize exchanges the maximum message sizes. size is the largest message the
// client accepts. The size returned by the server becomes the maximum server message size of
// both channels.
func (c *AsyncChannel) AsyncMaximumMessageSize(size uint64) (*hislip.AsyncMaximumMessageSizeResponse, error) {
	resp, err := transact[*hislip.AsyncMaximumMessageSizeResponse](&c.channel,
		&hislip.AsyncMaximumMessageSize{Size: size}, hislip.AsyncMaximumMessageSizeResponseMsgType)
	if err != nil {
		return nil, err
	}

	c.maxSize.Store(resp.Size)
	c.logger.Debug("maximum server message size negotiated", "size", resp.Size)

	return resp, nil
}

// AsyncLockRequest requests the exclusive lock (empty lockString) or the shared lock named lockString.
//
// timeout is how long the server waits for the lock. Zero grants the lock only if it is available
// immediately, a negative timeout waits up to LockWaitForever. The I/O timeout of the channel is
// extended for the duration of the request.
func (c *AsyncChannel) AsyncLockRequest(timeout time.Duration, lockString string) (*hislip.AsyncLockResponse, error) {
	if timeout < 0 {
		timeout = LockWaitForever
	}
	if timeout.Milliseconds() > math.MaxUint32 {
		timeout = math.MaxUint32 * time.Millisecond
	}

	req, err := hislip.NewAsyncLockRequest(uint32(timeout.Milliseconds()), lockString)
	if err != nil {
		return nil, err
	}

	ioTimeout := c.Timeout()
	if err := c.SetTimeout(lockTimeoutMargin + timeout); err != nil {
		return nil, err
	}
	defer func() {
		_ = c.SetTimeout(ioTimeout)
	}()

	return transact[*hislip.AsyncLockResponse](&c.channel, req, hislip.AsyncLockResponseMsgType)
}

// AsyncLockRelease releases the lock. messageID is the id of the most recently completed
// transfer on the synchronous channel, see SyncChannel.PreviousMessageID.
func (c *AsyncChannel) AsyncLockRelease(messageID uint32) (*hislip.AsyncLockResponse, error) {
	return transact[*hislip.AsyncLockResponse](&c.channel,
		hislip.NewAsyncLockRelease(messageID), hislip.AsyncLockResponseMsgType)
}

// AsyncLockInfo requests the lock status of the server.
func (c *AsyncChannel) AsyncLockInfo() (*hislip.AsyncLockInfoResponse, error) {
	return transact[*hislip.AsyncLockInfoResponse](&c.channel,
		&hislip.AsyncLockInfo{}, hislip.AsyncLockInfoResponseMsgType)
}

// AsyncRemoteLocalControl sends a GPIB-like remote/local request. messageID is the current
// message id of the synchronous channel.
func (c *AsyncChannel) AsyncRemoteLocalControl(request hislip.RemoteLocalRequest, messageID uint32) (*hislip.AsyncRemoteLocalResponse, error) {
	req, err := hislip.NewAsyncRemoteLocalControl(request, messageID)
	if err != nil {
		return nil, err
	}

	return transact[*hislip.AsyncRemoteLocalResponse](&c.channel, req, hislip.AsyncRemoteLocalResponseMsgType)
}

// AsyncDeviceClear starts a device clear. The returned feature bitmap must be passed to
// SyncChannel.DeviceClearComplete.
func (c *AsyncChannel) AsyncDeviceClear() (*hislip.AsyncDeviceClearAcknowledge, error) {
	return transact[*hislip.AsyncDeviceClearAcknowledge](&c.channel,
		&hislip.AsyncDeviceClear{}, hislip.AsyncDeviceClearAcknowledgeMsgType)
}

// AsyncStatusQuery reads the status byte of the device, like VISA viReadSTB.
// The request carries the RMT flag and the current message id of sync.
func (c *AsyncChannel) AsyncStatusQuery(sync *SyncChannel) (*hislip.AsyncStatusResponse, error) {
	req := &hislip.AsyncStatusQuery{RMT: sync.RMT(), MessageID: sync.MessageID()}

	return transact[*hislip.AsyncStatusResponse](&c.channel, req, hislip.AsyncStatusResponseMsgType)
}

// AsyncStartTLS starts the secure connection transaction.
func (c *AsyncChannel) AsyncStartTLS(sync *SyncChannel) (*hislip.AsyncStartTLSResponse, error) {
	req := &hislip.AsyncStartTLS{
		RMT:               sync.RMT(),
		MessageID:         sync.MessageID(),
		MessageIDReceived: sync.MessageIDReceived(),
	}

	return transact[*hislip.AsyncStartTLSResponse](&c.channel, req, hislip.AsyncStartTLSResponseMsgType)
}

// AsyncEndTLS starts the transaction that ends the secure connection.
func (c *AsyncChannel) AsyncEndTLS(sync *SyncChannel) (*hislip.AsyncEndTLSResponse, error) {
	req := &hislip.AsyncEndTLS{
		RMT:               sync.RMT(),
		MessageID:         sync.MessageID(),
		MessageIDReceived: sync.MessageIDReceived(),
	}

	return transact[*hislip.AsyncEndTLSResponse](&c.channel, req, hislip.AsyncEndTLSResponseMsgType)
}
