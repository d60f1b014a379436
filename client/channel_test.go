package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-hislip/hislip"
)

// TestChannel_NotConnected verifies that I/O on a closed channel reports inactive channels.
func TestChannel_NotConnected(t *testing.T) {
	require := require.New(t)

	ch := NewSyncChannel(nil, nil, nil, nil, nil)
	require.False(ch.Connected())
	require.Equal(time.Duration(0), ch.Timeout())

	_, err := ch.Send([]byte("*IDN?"))
	var fatalErr *hislip.FatalError
	require.ErrorAs(err, &fatalErr)
	require.Equal(hislip.FatalChannelsInactivated, fatalErr.Code)
	require.Equal("socket closed", fatalErr.Reason)

	_, err = ch.Receive(0, 0, 0)
	require.ErrorAs(err, &fatalErr)
	require.Equal(hislip.FatalChannelsInactivated, fatalErr.Code)

	require.ErrorAs(ch.SetTimeout(time.Second), &fatalErr)
	require.NoError(ch.Close())
}

// TestChannel_ConnectClosesPrevious verifies that Connect replaces an existing connection.
func TestChannel_ConnectClosesPrevious(t *testing.T) {
	require := require.New(t)

	first := newFakeTransport(nil, time.Second)
	second := newFakeTransport(nil, time.Second)
	transports := []*fakeTransport{first, second}

	dial := func(context.Context, string, time.Duration) (Transport, error) {
		t := transports[0]
		transports = transports[1:]

		return t, nil
	}

	ch := NewAsyncChannel(dial, nil, nil, nil)
	require.NoError(ch.Connect(context.Background(), "fake:4880", time.Second))
	require.NoError(ch.Connect(context.Background(), "fake:4880", time.Second))

	require.True(first.closed)
	require.False(second.closed)
	require.True(ch.Connected())

	require.NoError(ch.Close())
	require.True(second.closed)
	require.False(ch.Connected())
	require.NoError(ch.Close())
}

// TestChannel_DialError verifies that a dial failure is returned and leaves the channel closed.
func TestChannel_DialError(t *testing.T) {
	require := require.New(t)

	dialErr := errors.New("connection refused")
	ch := NewAsyncChannel(func(context.Context, string, time.Duration) (Transport, error) {
		return nil, dialErr
	}, nil, nil, nil)

	require.ErrorIs(ch.Connect(context.Background(), "fake:4880", time.Second), dialErr)
	require.False(ch.Connected())
}

// TestChannel_SendTooLarge verifies that an oversized message is rejected before any write.
func TestChannel_SendTooLarge(t *testing.T) {
	require := require.New(t)

	ch, ft := newTestAsyncChannel(t, NewMaxMessageSize(20))

	err := ch.send(hislip.NewMessage(hislip.DataEndMsgType, 0, 0, []byte("12345")))
	var hislipErr *hislip.Error
	require.ErrorAs(err, &hislipErr)
	require.Equal(hislip.ErrorMessageTooLarge, hislipErr.Code)
	require.Equal("21 > 20", hislipErr.Reason)
	require.Empty(ft.writtenBytes())

	require.NoError(ch.send(hislip.NewMessage(hislip.DataEndMsgType, 0, 0, []byte("1234"))))
	require.Len(ft.writtenBytes(), 20)
}

// TestChannel_ReceivePartialReads verifies that a payload delivered in small pieces is reassembled.
func TestChannel_ReceivePartialReads(t *testing.T) {
	require := require.New(t)

	payload := bytes.Repeat([]byte("0123456789"), 100)
	ch, ft := newTestAsyncChannel(t, nil, arrive(&hislip.GetDescriptorsResponse{Descriptors: payload}))
	ft.maxRead = 3

	msg, err := ch.receive(hislip.GetDescriptorsResponseMsgType, 7)
	require.NoError(err)
	require.Equal(payload, msg.Payload())
	require.Equal(payload, msg.Body().(*hislip.GetDescriptorsResponse).Descriptors)
}

// TestChannel_ReceiveShortHeader verifies that a header cut short is a fatal BAD_HEADER error.
func TestChannel_ReceiveShortHeader(t *testing.T) {
	require := require.New(t)

	ch, _ := newTestAsyncChannel(t, nil, fakeRead{data: []byte("<16bytes")})

	_, err := ch.receive(hislip.UndefinedMsgType, 0)
	var fatalErr *hislip.FatalError
	require.ErrorAs(err, &fatalErr)
	require.Equal(hislip.FatalBadHeader, fatalErr.Code)
	require.Equal("The reply header is != 16 bytes", fatalErr.Reason)
}

// TestChannel_ReceiveBadPrologue verifies that a header without the "HS" prologue is rejected.
func TestChannel_ReceiveBadPrologue(t *testing.T) {
	require := require.New(t)

	data := frame(&hislip.AsyncLockInfo{})
	data[0], data[1] = 'X', 'X'
	ch, _ := newTestAsyncChannel(t, nil, fakeRead{data: data})

	_, err := ch.receive(hislip.UndefinedMsgType, 0)
	var fatalErr *hislip.FatalError
	require.ErrorAs(err, &fatalErr)
	require.Equal(hislip.FatalBadHeader, fatalErr.Code)
	require.Equal("prologue != HS", fatalErr.Reason)
}

// TestChannel_ReceiveTruncatedPayload verifies that a connection closed mid-payload is fatal.
func TestChannel_ReceiveTruncatedPayload(t *testing.T) {
	require := require.New(t)

	data := frame(&hislip.DataEnd{MessageID: 1, Payload: []byte("0123456789")})
	ch, _ := newTestAsyncChannel(t, nil,
		fakeRead{data: data[:hislip.HeaderSize+4]},
		fakeRead{err: io.EOF},
	)

	_, err := ch.receive(hislip.UndefinedMsgType, 0)
	var fatalErr *hislip.FatalError
	require.ErrorAs(err, &fatalErr)
	require.ErrorIs(err, io.ErrUnexpectedEOF)
	require.Contains(fatalErr.Reason, "after 4 of 10 payload bytes")
}

// TestChannel_ReceiveTimeout verifies that a read timeout before any header byte is returned as a timeout.
func TestChannel_ReceiveTimeout(t *testing.T) {
	require := require.New(t)

	ch, _ := newTestAsyncChannel(t, nil)

	_, err := ch.receive(hislip.UndefinedMsgType, 0)
	require.Error(err)
	require.True(isTimeout(err))
}

// TestChannel_ReceiveUnexpectedType verifies that a message of another type is a non-fatal error.
func TestChannel_ReceiveUnexpectedType(t *testing.T) {
	require := require.New(t)

	ch, _ := newTestAsyncChannel(t, nil, arrive(&hislip.AsyncLockInfoResponse{Exclusive: true, NumLocks: 1}))

	_, err := ch.AsyncDeviceClear()
	var hislipErr *hislip.Error
	require.ErrorAs(err, &hislipErr)
	require.Equal(hislip.ErrorBadMessageType, hislipErr.Code)
	require.Equal("expected AsyncDeviceClearAcknowledge, received AsyncLockInfoResponse", hislipErr.Reason)
}

// TestChannel_ReceiveServerErrors verifies that FatalError and Error messages from the server are returned as errors.
func TestChannel_ReceiveServerErrors(t *testing.T) {
	require := require.New(t)

	ch, _ := newTestAsyncChannel(t, nil,
		arrive(hislip.NewFatalError(hislip.FatalMaxClients, "too many")),
		arrive(hislip.NewError(hislip.ErrorBadControlCode, "bad code")),
	)

	_, err := ch.AsyncLockInfo()
	var fatalErr *hislip.FatalError
	require.ErrorAs(err, &fatalErr)
	require.Equal(hislip.FatalMaxClients, fatalErr.Code)
	require.Equal("too many", fatalErr.Reason)

	_, err = ch.AsyncLockInfo()
	var hislipErr *hislip.Error
	require.ErrorAs(err, &hislipErr)
	require.Equal(hislip.ErrorBadControlCode, hislipErr.Code)
	require.Equal("bad code", hislipErr.Reason)
}

// TestChannel_GetDescriptors verifies the descriptors transaction.
func TestChannel_GetDescriptors(t *testing.T) {
	require := require.New(t)

	ch, ft, _ := newTestSyncChannel(t, nil, arrive(&hislip.GetDescriptorsResponse{Descriptors: []byte{1, 2, 3}}))

	resp, err := ch.GetDescriptors()
	require.NoError(err)
	require.Equal([]byte{1, 2, 3}, resp.Descriptors)

	msgs := ft.writtenMessages(t)
	require.Len(msgs, 1)
	require.Equal(hislip.GetDescriptorsMsgType, msgs[0].Type())
}

// TestMaxMessageSize_Shared verifies that both channels read the same maximum message size.
func TestMaxMessageSize_Shared(t *testing.T) {
	require := require.New(t)

	shared := NewMaxMessageSize(hislip.DefaultMaxMessageSize)
	syncCh := NewSyncChannel(nil, shared, nil, nil, nil)
	asyncCh := NewAsyncChannel(nil, shared, nil, nil)

	shared.Store(4096)
	require.Equal(uint64(4096), syncCh.MaximumServerMessageSize())
	require.Equal(uint64(4096), asyncCh.MaximumServerMessageSize())
}
