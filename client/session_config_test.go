package client

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/arloliu/go-hislip/hislip"
	"github.com/arloliu/go-hislip/logger"
)

// TestSessionConfig_Defaults verifies the default configuration values.
func TestSessionConfig_Defaults(t *testing.T) {
	require := require.New(t)

	cfg, err := NewSessionConfig("TCPIP::10.0.0.1::hislip0::INSTR")
	require.NoError(err)

	require.Equal(hislip.Address{Host: "10.0.0.1", Name: "hislip0", Port: hislip.DefaultPort}, cfg.Address())
	require.Equal(10*time.Second, cfg.ConnectTimeout())
	require.Equal(10*time.Second, cfg.Timeout())
	require.Equal(uint64(hislip.DefaultMaxMessageSize), cfg.MaxReadSize())
	require.Equal(DefaultChunkSize, cfg.BufferSize())
	require.Zero(cfg.LockTimeout())
	require.Equal(hislip.Version{Major: 1, Minor: 0}, cfg.Version())
	require.Equal([2]byte{'X', 'X'}, cfg.ClientID())
	require.Equal(100*time.Millisecond, cfg.ReconnectDelay())
	require.NotNil(cfg.Logger())
}

// TestSessionConfig_InvalidAddress verifies the address validation of the constructors.
func TestSessionConfig_InvalidAddress(t *testing.T) {
	require := require.New(t)

	_, err := NewSessionConfig("GPIB::1::INSTR")
	require.ErrorIs(err, hislip.ErrInvalidAddress)

	_, err = NewHostSessionConfig("", hislip.DefaultPort, "hislip0")
	require.ErrorIs(err, hislip.ErrInvalidAddress)

	_, err = NewHostSessionConfig("10.0.0.1", 0, "hislip0")
	require.Error(err)

	_, err = NewHostSessionConfig("10.0.0.1", 70000, "hislip0")
	require.Error(err)

	longName := make([]byte, hislip.MaxSubAddressLength+1)
	_, err = NewHostSessionConfig("10.0.0.1", hislip.DefaultPort, string(longName))
	require.ErrorIs(err, hislip.ErrSubAddressTooLong)
}

// TestSessionConfig_Options verifies that the options are applied and validated.
func TestSessionConfig_Options(t *testing.T) {
	require := require.New(t)

	l := logger.NewMockLogger()
	cfg, err := NewHostSessionConfig("10.0.0.1", 5000, "hislip1",
		WithConnectTimeout(3*time.Second),
		WithTimeout(-time.Second),
		WithMaxReadSize(4096),
		WithBufferSize(512),
		WithLockTimeout(-time.Second),
		WithProtocolVersion(2, 0),
		WithClientID("AB"),
		WithReconnectDelay(0),
		WithDialer(DialTCP),
		WithClock(clockwork.NewFakeClock()),
		WithTracerProvider(noop.NewTracerProvider()),
		WithLogger(l),
	)
	require.NoError(err)

	require.Equal(3*time.Second, cfg.ConnectTimeout())
	require.Zero(cfg.Timeout())
	require.Equal(uint64(4096), cfg.MaxReadSize())
	require.Equal(512, cfg.BufferSize())
	require.Zero(cfg.LockTimeout())
	require.Equal(-time.Second, cfg.lockTimeoutRaw())
	require.Equal(hislip.Version{Major: 2, Minor: 0}, cfg.Version())
	require.Equal([2]byte{'A', 'B'}, cfg.ClientID())
	require.Zero(cfg.ReconnectDelay())
	require.Same(l, cfg.Logger())

	invalid := []SessionOption{
		WithConnectTimeout(0),
		WithMaxReadSize(hislip.HeaderSize),
		WithBufferSize(0),
		WithReconnectDelay(-time.Millisecond),
		WithDialer(nil),
		WithClock(nil),
		WithTracerProvider(nil),
		WithLogger(nil),
	}
	for _, opt := range invalid {
		_, err := NewSessionConfig("TCPIP::10.0.0.1::hislip0", opt)
		require.Error(err)
	}

	_, err = NewSessionConfig("TCPIP::10.0.0.1::hislip0", WithClientID("ABC"))
	require.ErrorIs(err, hislip.ErrInvalidClientID)
	require.ErrorContains(err, "WithClientID")
}

// TestSessionOption_Runtime verifies which options can be applied to an existing session.
func TestSessionOption_Runtime(t *testing.T) {
	require := require.New(t)

	runtime := []SessionOption{
		WithConnectTimeout(time.Second),
		WithTimeout(time.Second),
		WithMaxReadSize(1024),
		WithBufferSize(1024),
		WithLockTimeout(time.Second),
		WithReconnectDelay(time.Second),
	}
	for _, opt := range runtime {
		require.True(opt.isRuntime())
	}

	static := []SessionOption{
		WithProtocolVersion(1, 0),
		WithClientID("XX"),
		WithDialer(DialTCP),
		WithClock(clockwork.NewRealClock()),
		WithTracerProvider(noop.NewTracerProvider()),
		WithLogger(logger.NewMockLogger()),
	}
	for _, opt := range static {
		require.False(opt.isRuntime())
	}

	require.ErrorIs(WithTimeout(time.Second).apply(nil), ErrSessionConfigNil)
}

// TestSessionState verifies the state names and transitions.
func TestSessionState(t *testing.T) {
	require := require.New(t)

	require.Equal("disconnected", DisconnectedState.String())
	require.Equal("connecting", ConnectingState.String())
	require.Equal("ready", ReadyState.String())
	require.Equal("failed", FailedState.String())
	require.Equal("unknown", SessionState(42).String())
	require.True(ReadyState.IsReady())
	require.False(FailedState.IsReady())

	var st atomicSessionState
	require.Equal(DisconnectedState, st.Get())

	require.False(st.ToReady())

	prev, ok := st.ToConnecting()
	require.True(ok)
	require.Equal(DisconnectedState, prev)

	prev, ok = st.ToConnecting()
	require.False(ok)
	require.Equal(ConnectingState, prev)

	require.True(st.ToReady())
	_, ok = st.ToConnecting()
	require.False(ok)

	require.Equal(ReadyState, st.Set(FailedState))
	prev, ok = st.ToConnecting()
	require.True(ok)
	require.Equal(FailedState, prev)
}
