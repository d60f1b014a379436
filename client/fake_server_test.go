package client

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"github.com/arloliu/go-hislip/hislip"
)

var idnReply = []byte("Manufacturer of the Device,Model,Serial,X.01.23-45.67-89.ab-cd.ef-gh-ij\n")

// fakeServer is a minimal HiSLIP server on a loopback listener.
//
// It answers the handshake, "*IDN?" queries and the asynchronous requests. The noReply and
// badHeader switches make it ignore queries or answer them with a malformed header, unknownType
// puts a message of an undefined type between the Data and DataEnd of the answer.
type fakeServer struct {
	ln        net.Listener
	sessionID uint16

	encrypted   atomic.Bool
	noReply     atomic.Bool
	badHeader   atomic.Bool
	unknownType atomic.Bool
	fatalCount  atomic.Int32
	triggers    atomic.Int32

	mu       sync.Mutex
	requests [][]byte
	locks    []hislip.AsyncLock
	conns    []net.Conn
	wg       sync.WaitGroup
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	ln, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)

	s := &fakeServer{ln: ln, sessionID: 0x1c}

	s.wg.Add(1)
	go s.serve()

	t.Cleanup(s.close)

	return s
}

func (s *fakeServer) host() string {
	return s.ln.Addr().(*net.TCPAddr).IP.String()
}

func (s *fakeServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeServer) close() {
	_ = s.ln.Close()

	s.mu.Lock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *fakeServer) dataRequests() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([][]byte(nil), s.requests...)
}

func (s *fakeServer) lockRequests() []hislip.AsyncLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]hislip.AsyncLock(nil), s.locks...)
}

func (s *fakeServer) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	for {
		raw, msg, err := s.readMessage(conn)
		if err != nil {
			return
		}
		if msg == nil { // FatalError from the client
			continue
		}

		reply := s.reply(conn, raw, msg)
		if reply == nil {
			continue
		}

		if _, err := conn.Write(reply.ToMessage().ToBytes()); err != nil {
			return
		}
	}
}

func (s *fakeServer) readMessage(conn net.Conn) ([]byte, *hislip.Message, error) {
	header := make([]byte, hislip.HeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, nil, err
	}

	h, err := hislip.DecodeHeader(header)
	if err != nil {
		return nil, nil, err
	}

	payload := make([]byte, h.PayloadLength)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, nil, err
	}

	raw := append(header, payload...)

	if h.Type == hislip.FatalErrorMsgType {
		s.fatalCount.Add(1)
		return raw, nil, nil
	}

	msg, err := hislip.Decode(header, payload, hislip.UndefinedMsgType)
	if err != nil {
		var hislipErr *hislip.Error
		if errors.As(err, &hislipErr) {
			return raw, nil, nil
		}

		return nil, nil, err
	}

	return raw, msg, nil
}

func (s *fakeServer) reply(conn net.Conn, raw []byte, msg *hislip.Message) hislip.Body {
	switch body := msg.Body().(type) {
	case *hislip.Initialize:
		return &hislip.InitializeResponse{
			Encrypted: s.encrypted.Load(),
			Version:   hislip.Version{Major: 1, Minor: 0},
			SessionID: s.sessionID,
		}

	case *hislip.AsyncInitialize:
		return &hislip.AsyncInitializeResponse{ServerVendorID: [2]byte{'X', 'Y'}}

	case *hislip.AsyncMaximumMessageSize:
		return &hislip.AsyncMaximumMessageSizeResponse{Size: body.Size}

	case *hislip.DataEnd:
		s.mu.Lock()
		s.requests = append(s.requests, raw)
		s.mu.Unlock()

		if !bytes.HasSuffix(body.Payload, []byte("?")) && !bytes.HasSuffix(body.Payload, []byte("?\n")) {
			return nil
		}
		if s.noReply.Load() {
			return nil
		}
		if s.badHeader.Load() {
			_, _ = conn.Write([]byte("<16bytes"))
			return nil
		}
		if s.unknownType.Load() {
			_, _ = conn.Write((&hislip.Data{MessageID: body.MessageID, Payload: []byte("part1")}).ToMessage().ToBytes())
			_, _ = conn.Write([]byte("HS\xc8\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"))

			return &hislip.DataEnd{MessageID: body.MessageID, Payload: []byte("part2")}
		}

		return &hislip.DataEnd{MessageID: body.MessageID, Payload: idnReply}

	case *hislip.Trigger:
		s.triggers.Add(1)
		return nil

	case *hislip.DeviceClearComplete:
		return &hislip.DeviceClearAcknowledge{FeatureBitmap: body.FeatureBitmap}

	case *hislip.AsyncDeviceClear:
		return &hislip.AsyncDeviceClearAcknowledge{FeatureBitmap: 1}

	case *hislip.AsyncStatusQuery:
		return &hislip.AsyncStatusResponse{Status: 0x10}

	case *hislip.AsyncLock:
		s.mu.Lock()
		s.locks = append(s.locks, *body)
		s.mu.Unlock()

		return &hislip.AsyncLockResponse{Result: hislip.LockSuccess}

	case *hislip.AsyncLockInfo:
		return &hislip.AsyncLockInfoResponse{Exclusive: true, NumLocks: 1}

	case *hislip.AsyncRemoteLocalControl:
		return &hislip.AsyncRemoteLocalResponse{}

	default:
		return hislip.NewError(hislip.ErrorBadMessageType, "unsupported")
	}
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return host, port
}
