package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/arloliu/go-hislip/hislip"
	"github.com/arloliu/go-hislip/internal/pool"
	"github.com/arloliu/go-hislip/logger"
)

const tracerName = "github.com/arloliu/go-hislip/client"

// SessionInfo contains the parameters negotiated by the last successful handshake.
type SessionInfo struct {
	// SessionID is the id assigned by the server in InitializeResponse.
	SessionID uint16
	// ServerVersion is the protocol version the server selected.
	ServerVersion hislip.Version
	// ServerVendorID is the 2-byte vendor id of the server.
	ServerVendorID [2]byte
	// Overlapped reports whether the server runs in overlapped mode.
	Overlapped bool
	// SecureConnectionSupported reports whether the server supports encrypted connections.
	SecureConnectionSupported bool
	// MaximumServerMessageSize is the largest message, header included, that the server accepts.
	MaximumServerMessageSize uint64
}

// Session is a HiSLIP client session: a synchronous and an asynchronous channel to the same device.
//
// Operations that use the same channel are serialized. A Read blocked on the synchronous channel does
// not prevent ReadSTB or RemoteLocalControl on the asynchronous channel.
//
// When an operation detects a fatal error the session sends a FatalError message on both channels,
// closes them and moves to FailedState. Connect or Reconnect must be called before the session can
// be used again. Non-fatal *hislip.Error values and invalid arguments leave the session open.
type Session struct {
	ctx    context.Context
	cfg    *SessionConfig
	logger logger.Logger
	tracer trace.Tracer

	maxSize *MaxMessageSize
	sync    *SyncChannel
	async   *AsyncChannel

	syncMu  sync.Mutex // serializes synchronous channel operations
	asyncMu sync.Mutex // serializes asynchronous channel operations

	state      atomicSessionState
	handlerMu  sync.RWMutex
	handlers   []SessionStateChangeHandler
	infoMu     sync.RWMutex
	info       SessionInfo
	metrics    ConnectionMetrics
	spanAttrib []attribute.KeyValue
}

// NewSession creates an unconnected session with the given context and configuration.
// The context is the parent of the spans recorded by the session operations.
func NewSession(ctx context.Context, cfg *SessionConfig) (*Session, error) {
	if cfg == nil {
		return nil, ErrSessionConfigNil
	}

	addr := cfg.Address()

	cfg.mu.RLock()
	dialer, clock, tp, l := cfg.dialer, cfg.clock, cfg.tracerProvider, cfg.logger
	cfg.mu.RUnlock()

	s := &Session{
		ctx:     ctx,
		cfg:     cfg,
		logger:  l.With("address", addr.String()),
		tracer:  tp.Tracer(tracerName),
		maxSize: NewMaxMessageSize(hislip.DefaultMaxMessageSize),
		spanAttrib: []attribute.KeyValue{
			attribute.String("hislip.host", addr.Host),
			attribute.Int("hislip.port", addr.Port),
			attribute.String("hislip.sub_address", addr.Name),
		},
	}

	s.sync = NewSyncChannel(dialer, s.maxSize, clock, s.logger, &s.metrics)
	s.async = NewAsyncChannel(dialer, s.maxSize, s.logger, &s.metrics)

	return s, nil
}

// Config returns the session configuration.
func (s *Session) Config() *SessionConfig { return s.cfg }

// GetLogger returns the logger of the session.
func (s *Session) GetLogger() logger.Logger { return s.logger }

// Metrics returns the metrics of the session.
func (s *Session) Metrics() *ConnectionMetrics { return &s.metrics }

// SyncChannel returns the synchronous channel, e.g. for the secure connection and authentication
// primitives. Using it concurrently with the session operations is not safe.
func (s *Session) SyncChannel() *SyncChannel { return s.sync }

// AsyncChannel returns the asynchronous channel. Using it concurrently with the session
// operations is not safe.
func (s *Session) AsyncChannel() *AsyncChannel { return s.async }

// State returns the current session state.
func (s *Session) State() SessionState { return s.state.Get() }

// Info returns the parameters negotiated by the last successful handshake.
func (s *Session) Info() SessionInfo {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()

	return s.info
}

// AddStateChangeHandler adds handlers invoked on session state changes.
func (s *Session) AddStateChangeHandler(handlers ...SessionStateChangeHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()

	s.handlers = append(s.handlers, handlers...)
}

// UpdateConfigOptions applies options to a session that already exists.
// It returns ErrNotRuntimeOption for an option that can't be changed at runtime.
func (s *Session) UpdateConfigOptions(opts ...SessionOption) error {
	for _, opt := range opts {
		if !opt.isRuntime() {
			return ErrNotRuntimeOption
		}
	}

	prevMaxReadSize := s.cfg.MaxReadSize()

	for _, opt := range opts {
		if err := opt.apply(s.cfg); err != nil {
			return err
		}
	}

	if s.sync.Connected() {
		timeout := s.cfg.Timeout()
		_ = s.sync.SetTimeout(timeout)
		_ = s.async.SetTimeout(timeout)
	}

	if maxReadSize := s.cfg.MaxReadSize(); maxReadSize != prevMaxReadSize && s.State().IsReady() {
		return s.negotiateMaxMessageSize(maxReadSize)
	}

	return nil
}

// Connect performs the initialization handshake. It is a no-op if the session is ready.
//
// A failure is returned as a *ConnectionError and leaves the session in FailedState.
func (s *Session) Connect(ctx context.Context) (err error) {
	s.asyncMu.Lock()
	defer s.asyncMu.Unlock()
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	prev, ok := s.state.ToConnecting()
	if !ok {
		return nil
	}
	s.invokeHandlers(prev, ConnectingState)

	ctx, span := s.tracer.Start(ctx, "hislip.Connect",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(s.spanAttrib...),
	)
	defer func() { endSpan(span, err) }()

	if err := s.handshake(ctx); err != nil {
		s.closeChannels()
		s.metrics.incConnRetryGauge()
		s.setState(FailedState)
		s.logger.Error("failed to connect", "method", "Connect", "error", err)

		return &ConnectionError{Address: s.cfg.Address().String(), Err: err}
	}

	s.metrics.incConnectCount()
	s.metrics.resetConnRetryGauge()

	if s.state.ToReady() {
		s.invokeHandlers(ConnectingState, ReadyState)
	}

	info := s.Info()
	s.logger.Info("session connected", "session_id", info.SessionID,
		"server_version", info.ServerVersion.String(),
		"max_message_size", info.MaximumServerMessageSize,
	)

	return nil
}

func (s *Session) handshake(ctx context.Context) error {
	addr := s.cfg.Address()
	hostPort := addr.HostPort()
	connectTimeout := s.cfg.ConnectTimeout()
	timeout := s.cfg.Timeout()
	version := s.cfg.Version()
	clientID := s.cfg.ClientID()

	if err := s.sync.Connect(ctx, hostPort, connectTimeout); err != nil {
		return err
	}
	if err := s.sync.SetTimeout(timeout); err != nil {
		return err
	}

	// a new session starts with the default size until the server tells otherwise
	s.maxSize.Store(hislip.DefaultMaxMessageSize)

	initResp, err := s.sync.Initialize(version.Major, version.Minor, clientID[:], []byte(addr.Name))
	if err != nil {
		return err
	}

	if initResp.Encrypted || initResp.InitialEncryption {
		return ErrEncryptionRequired
	}

	if err := s.async.Connect(ctx, hostPort, connectTimeout); err != nil {
		return err
	}
	if err := s.async.SetTimeout(timeout); err != nil {
		return err
	}

	asyncResp, err := s.async.AsyncInitialize(initResp.SessionID)
	if err != nil {
		return err
	}

	sizeResp, err := s.async.AsyncMaximumMessageSize(s.cfg.MaxReadSize())
	if err != nil {
		return err
	}

	s.infoMu.Lock()
	s.info = SessionInfo{
		SessionID:                 initResp.SessionID,
		ServerVersion:             initResp.Version,
		ServerVendorID:            asyncResp.ServerVendorID,
		Overlapped:                initResp.Overlapped,
		SecureConnectionSupported: asyncResp.SecureConnectionSupported,
		MaximumServerMessageSize:  sizeResp.Size,
	}
	s.infoMu.Unlock()

	return nil
}

// Disconnect closes the asynchronous channel, then the synchronous channel.
// It can be called in any state and unblocks operations that wait for the server.
func (s *Session) Disconnect() error {
	s.closeChannels()
	s.setState(DisconnectedState)
	s.logger.Debug("session disconnected")

	return nil
}

// Reconnect disconnects the session and repeats the handshake until it succeeds.
//
// A maxAttempts value <= 0 retries until ctx is done. Otherwise the error of the last attempt is
// returned once maxAttempts handshakes failed.
func (s *Session) Reconnect(ctx context.Context, maxAttempts int) error {
	for attempt := 1; ; attempt++ {
		_ = s.Disconnect()

		err := s.Connect(ctx)
		if err == nil {
			return nil
		}

		if maxAttempts > 0 && attempt >= maxAttempts {
			return err
		}

		s.logger.Warn("reconnect failed, retrying", "attempt", attempt, "error", err)

		if waitErr := pool.Wait(ctx, s.cfg.ReconnectDelay()); waitErr != nil {
			return errors.Join(err, waitErr)
		}
	}
}

// Write sends data as one transfer to the device and returns the number of bytes sent.
func (s *Session) Write(data []byte) (n int, err error) {
	span := s.startSpan("Write", attribute.Int("hislip.bytes", len(data)))
	defer func() { endSpan(span, err) }()

	if err := s.checkReady(); err != nil {
		return 0, err
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	n, err = s.sync.Send(data)
	if err != nil {
		return n, s.handleTransferError("Write", err, n)
	}

	return n, nil
}

// Read receives a complete response from the device.
func (s *Session) Read() ([]byte, error) {
	return s.ReadN(0)
}

// ReadN receives a response from the device. If size is positive, it returns as soon as more
// than size bytes arrived, truncated to size bytes.
//
// A response larger than the maximum read size is a fatal error, as is a response that doesn't
// complete within the session timeout.
func (s *Session) ReadN(size int) (data []byte, err error) {
	span := s.startSpan("Read")
	defer func() {
		span.SetAttributes(attribute.Int("hislip.bytes", len(data)))
		endSpan(span, err)
	}()

	if err := s.checkReady(); err != nil {
		return nil, err
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	maxSize := min(s.cfg.MaxReadSize(), math.MaxInt)

	data, err = s.sync.Receive(size, int(maxSize), s.cfg.BufferSize())
	if err != nil {
		return nil, s.handleTransferError("Read", err, -1)
	}

	return data, nil
}

// Query writes a command and reads the response.
func (s *Session) Query(command []byte) ([]byte, error) {
	if _, err := s.Write(command); err != nil {
		return nil, err
	}

	return s.Read()
}

// ReadSTB reads the status byte of the device.
func (s *Session) ReadSTB() (status uint8, err error) {
	span := s.startSpan("ReadSTB")
	defer func() { endSpan(span, err) }()

	if err := s.checkReady(); err != nil {
		return 0, err
	}

	s.asyncMu.Lock()
	defer s.asyncMu.Unlock()

	resp, err := s.async.AsyncStatusQuery(s.sync)
	if err != nil {
		return 0, s.handleError("ReadSTB", err)
	}

	return resp.Status, nil
}

// Trigger sends a trigger to the device.
func (s *Session) Trigger() (err error) {
	span := s.startSpan("Trigger")
	defer func() { endSpan(span, err) }()

	if err := s.checkReady(); err != nil {
		return err
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	if err := s.sync.Trigger(); err != nil {
		return s.handleError("Trigger", err)
	}

	return nil
}

// Clear performs a device clear: AsyncDeviceClear on the asynchronous channel, then
// DeviceClearComplete on the synchronous channel.
func (s *Session) Clear() (err error) {
	span := s.startSpan("Clear")
	defer func() { endSpan(span, err) }()

	if err := s.checkReady(); err != nil {
		return err
	}

	s.asyncMu.Lock()
	defer s.asyncMu.Unlock()
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	ack, err := s.async.AsyncDeviceClear()
	if err != nil {
		return s.handleError("Clear", err)
	}

	if _, err := s.sync.DeviceClearComplete(ack.FeatureBitmap); err != nil {
		return s.handleError("Clear", err)
	}

	return nil
}

// Lock requests the exclusive lock (empty lockString) or the shared lock named lockString and
// reports whether it was granted. The server waits up to the session lock timeout.
func (s *Session) Lock(lockString string) (granted bool, err error) {
	span := s.startSpan("Lock", attribute.String("hislip.lock_string", lockString))
	defer func() { endSpan(span, err) }()

	if err := s.checkReady(); err != nil {
		return false, err
	}

	s.asyncMu.Lock()
	defer s.asyncMu.Unlock()

	resp, err := s.async.AsyncLockRequest(s.cfg.lockTimeoutRaw(), lockString)
	if err != nil {
		return false, s.handleError("Lock", err)
	}

	return resp.Success(), nil
}

// Unlock releases the lock and reports whether it succeeded.
func (s *Session) Unlock() (released bool, err error) {
	span := s.startSpan("Unlock")
	defer func() { endSpan(span, err) }()

	if err := s.checkReady(); err != nil {
		return false, err
	}

	s.asyncMu.Lock()
	defer s.asyncMu.Unlock()

	resp, err := s.async.AsyncLockRelease(s.sync.PreviousMessageID())
	if err != nil {
		return false, s.handleError("Unlock", err)
	}

	return resp.Success(), nil
}

// LockStatus reports whether a client holds the exclusive lock and the number of clients that
// hold a lock.
func (s *Session) LockStatus() (exclusive bool, numLocks uint32, err error) {
	span := s.startSpan("LockStatus")
	defer func() { endSpan(span, err) }()

	if err := s.checkReady(); err != nil {
		return false, 0, err
	}

	s.asyncMu.Lock()
	defer s.asyncMu.Unlock()

	resp, err := s.async.AsyncLockInfo()
	if err != nil {
		return false, 0, s.handleError("LockStatus", err)
	}

	return resp.Exclusive, resp.NumLocks, nil
}

// RemoteLocalControl sends a GPIB-like remote/local request.
func (s *Session) RemoteLocalControl(request hislip.RemoteLocalRequest) (err error) {
	span := s.startSpan("RemoteLocalControl", attribute.Int("hislip.request", int(request)))
	defer func() { endSpan(span, err) }()

	if err := s.checkReady(); err != nil {
		return err
	}

	s.asyncMu.Lock()
	defer s.asyncMu.Unlock()

	if _, err := s.async.AsyncRemoteLocalControl(request, s.sync.MessageID()); err != nil {
		return s.handleError("RemoteLocalControl", err)
	}

	return nil
}

// SetTimeout sets the I/O timeout of both channels. Zero or a negative value blocks forever.
func (s *Session) SetTimeout(timeout time.Duration) error {
	return s.UpdateConfigOptions(WithTimeout(timeout))
}

// Timeout returns the I/O timeout of both channels.
func (s *Session) Timeout() time.Duration {
	return s.cfg.Timeout()
}

// SetMaxReadSize sets the largest message the client accepts. A ready session renegotiates the
// maximum message size with the server.
func (s *Session) SetMaxReadSize(size uint64) error {
	return s.UpdateConfigOptions(WithMaxReadSize(size))
}

// MaxReadSize returns the largest message the client accepts.
func (s *Session) MaxReadSize() uint64 {
	return s.cfg.MaxReadSize()
}

// SetLockTimeout sets how long the server waits to grant a lock. A negative value waits forever.
func (s *Session) SetLockTimeout(timeout time.Duration) error {
	return s.UpdateConfigOptions(WithLockTimeout(timeout))
}

// LockTimeout returns the lock timeout. A session that waits forever reports 0.
func (s *Session) LockTimeout() time.Duration {
	return s.cfg.LockTimeout()
}

func (s *Session) negotiateMaxMessageSize(size uint64) (err error) {
	span := s.startSpan("SetMaxReadSize", attribute.Int64("hislip.max_read_size", int64(size)))
	defer func() { endSpan(span, err) }()

	s.asyncMu.Lock()
	defer s.asyncMu.Unlock()

	resp, err := s.async.AsyncMaximumMessageSize(size)
	if err != nil {
		return s.handleError("SetMaxReadSize", err)
	}

	s.infoMu.Lock()
	s.info.MaximumServerMessageSize = resp.Size
	s.infoMu.Unlock()

	return nil
}

func (s *Session) checkReady() error {
	if !s.State().IsReady() {
		return ErrNotConnected
	}

	return nil
}

// handleError applies the fatal error procedure: notify the server on both channels, then close
// the session. Non-fatal errors and invalid arguments are returned as is.
func (s *Session) handleError(method string, err error) error {
	var hislipErr *hislip.Error
	if errors.As(err, &hislipErr) || isUsageError(err) {
		return s.recoverable(method, err)
	}

	return s.fatal(method, err)
}

// handleTransferError is handleError for Data and DataEnd transfers. Any protocol error leaves the
// synchronous channel somewhere inside a response, so only usage errors and a local size check
// that failed before the first write keep the session open.
func (s *Session) handleTransferError(method string, err error, sent int) error {
	if isUsageError(err) {
		return s.recoverable(method, err)
	}

	var hislipErr *hislip.Error
	if sent == 0 && errors.As(err, &hislipErr) && hislipErr.Code == hislip.ErrorMessageTooLarge {
		return s.recoverable(method, err)
	}

	return s.fatal(method, err)
}

func isUsageError(err error) bool {
	return errors.Is(err, ErrSendingBlocked) || errors.Is(err, hislip.ErrInvalidArgument)
}

func (s *Session) recoverable(method string, err error) error {
	s.metrics.incErrorCount()
	s.logger.Warn("operation failed", "method", method, "error", err)

	return err
}

func (s *Session) fatal(method string, err error) error {
	var msg *hislip.Message
	var fatalErr *hislip.FatalError
	if errors.As(err, &fatalErr) {
		msg = fatalErr.Message()
	} else {
		msg = hislip.NewFatalErrorMessage(err.Error())
	}

	_ = s.sync.send(msg)
	_ = s.async.send(msg)

	s.closeChannels()
	s.setState(FailedState)
	s.metrics.incFatalErrCount()
	s.logger.Error("fatal error, session closed", "method", method, "error", err)

	return err
}

func (s *Session) closeChannels() {
	if err := s.async.Close(); err != nil {
		s.logger.Debug("failed to close channel", "channel", "async", "error", err)
	}
	if err := s.sync.Close(); err != nil {
		s.logger.Debug("failed to close channel", "channel", "sync", "error", err)
	}
}

func (s *Session) setState(state SessionState) {
	prev := s.state.Set(state)
	if prev != state {
		s.invokeHandlers(prev, state)
	}
}

func (s *Session) invokeHandlers(prevState SessionState, newState SessionState) {
	s.handlerMu.RLock()
	handlers := make([]SessionStateChangeHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.handlerMu.RUnlock()

	for _, handler := range handlers {
		if handler != nil {
			handler(s, prevState, newState)
		}
	}
}

func (s *Session) startSpan(method string, attrs ...attribute.KeyValue) trace.Span {
	_, span := s.tracer.Start(s.ctx, "hislip."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(s.spanAttrib...),
		trace.WithAttributes(attrs...),
	)

	return span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (s *Session) String() string {
	return fmt.Sprintf("Session(%s, %s)", s.cfg.Address(), s.State())
}
