package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/arloliu/go-hislip/hislip"
	"github.com/arloliu/go-hislip/logger"
)

// SessionConfig represents the configuration parameters of a HiSLIP session.
type SessionConfig struct {
	mu sync.RWMutex

	// address is the parsed VISA resource string of the device.
	address hislip.Address

	// connectTimeout defines the timeout for establishing the TCP connection of each channel.
	// Defaults to 10 seconds.
	connectTimeout time.Duration

	// timeout defines the I/O timeout of both channels. A Read is bounded by the timeout as a whole,
	// not per message. Zero blocks forever.
	// Defaults to 10 seconds.
	timeout time.Duration

	// maxReadSize is the largest message the client accepts, advertised to the server
	// with AsyncMaximumMessageSize. It also bounds the size of a single response.
	// Defaults to 1 MiB.
	maxReadSize uint64

	// bufferSize is the maximum number of bytes requested by a single transport read.
	// Defaults to 4096.
	bufferSize int

	// lockTimeout is how long the server waits to grant a lock. Negative waits forever.
	// Defaults to 0, the lock is only granted if it is available immediately.
	lockTimeout time.Duration

	// version is the protocol version sent in Initialize.
	// Defaults to 1.0.
	version hislip.Version

	// clientID is the 2-byte vendor id of the client sent in Initialize.
	// Defaults to "XX".
	clientID [2]byte

	// reconnectDelay is the delay between two handshake attempts of Reconnect.
	// Defaults to 100 milliseconds.
	reconnectDelay time.Duration

	dialer         Dialer
	clock          clockwork.Clock
	tracerProvider trace.TracerProvider

	// logger provides a logger instance for logging HiSLIP-related events and errors.
	logger logger.Logger
}

// NewSessionConfig creates a session configuration from a VISA resource string such as
// "TCPIP::192.168.1.10::hislip0::INSTR" and optional functional options.
//
// Returns a pointer to the initialized SessionConfig and an error if the address is invalid
// or an option fails validation.
func NewSessionConfig(address string, opts ...SessionOption) (*SessionConfig, error) {
	addr, err := hislip.ParseAddress(address)
	if err != nil {
		return nil, err
	}

	return newSessionConfig(addr, opts...)
}

// NewHostSessionConfig creates a session configuration from the host, the TCP port and the
// sub-address (the LAN device name, e.g. "hislip0") of the device.
func NewHostSessionConfig(host string, port int, subAddress string, opts ...SessionOption) (*SessionConfig, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", hislip.ErrInvalidAddress)
	}
	if port < 1 || port > 65535 {
		return nil, errors.New("port is out of range [1, 65535]")
	}
	if len(subAddress) > hislip.MaxSubAddressLength {
		return nil, hislip.ErrSubAddressTooLong
	}

	return newSessionConfig(hislip.Address{Host: host, Name: subAddress, Port: port}, opts...)
}

func newSessionConfig(addr hislip.Address, opts ...SessionOption) (*SessionConfig, error) {
	cfg := &SessionConfig{
		address:        addr,
		connectTimeout: 10 * time.Second,
		timeout:        10 * time.Second,
		maxReadSize:    hislip.DefaultMaxMessageSize,
		bufferSize:     DefaultChunkSize,
		lockTimeout:    0,
		version:        hislip.Version{Major: 1, Minor: 0},
		clientID:       [2]byte{'X', 'X'},
		reconnectDelay: 100 * time.Millisecond,
		dialer:         DialTCP,
		clock:          clockwork.NewRealClock(),
		tracerProvider: otel.GetTracerProvider(),
		logger:         logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func (cfg *SessionConfig) Address() hislip.Address {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.address
}

func (cfg *SessionConfig) ConnectTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.connectTimeout
}

func (cfg *SessionConfig) Timeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.timeout
}

func (cfg *SessionConfig) MaxReadSize() uint64 {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.maxReadSize
}

func (cfg *SessionConfig) BufferSize() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.bufferSize
}

// LockTimeout returns the lock timeout. A session that waits forever reports 0.
func (cfg *SessionConfig) LockTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	if cfg.lockTimeout < 0 {
		return 0
	}

	return cfg.lockTimeout
}

func (cfg *SessionConfig) Version() hislip.Version {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.version
}

func (cfg *SessionConfig) ClientID() [2]byte {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.clientID
}

func (cfg *SessionConfig) ReconnectDelay() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.reconnectDelay
}

func (cfg *SessionConfig) Logger() logger.Logger {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.logger
}

func (cfg *SessionConfig) lockTimeoutRaw() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.lockTimeout
}

// SessionOption represents a functional option for configuring a SessionConfig.
type SessionOption interface {
	apply(*SessionConfig) error
	// isRuntime reports whether the option may be applied to a session that already exists.
	isRuntime() bool
}

type sessionOptFunc struct {
	name      string
	runtime   bool
	applyFunc func(*SessionConfig) error
}

func (o *sessionOptFunc) apply(cfg *SessionConfig) error {
	if cfg == nil {
		return ErrSessionConfigNil
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	if err := o.applyFunc(cfg); err != nil {
		return fmt.Errorf("%s: %w", o.name, err)
	}

	return nil
}

func (o *sessionOptFunc) isRuntime() bool { return o.runtime }

func newSessionOptFunc(name string, runtime bool, f func(*SessionConfig) error) *sessionOptFunc {
	return &sessionOptFunc{
		name:      name,
		runtime:   runtime,
		applyFunc: f,
	}
}

// WithConnectTimeout sets the timeout for establishing the TCP connection of each channel.
// An error is returned if the timeout is not positive.
//
// The default value is 10 seconds.
//
// This option can be changed at runtime, it applies to the next handshake.
func WithConnectTimeout(val time.Duration) SessionOption {
	return newSessionOptFunc("WithConnectTimeout", true, func(cfg *SessionConfig) error {
		if val <= 0 {
			return errors.New("connect timeout must be positive")
		}
		cfg.connectTimeout = val

		return nil
	})
}

// WithTimeout sets the I/O timeout of both channels. Zero or a negative value blocks forever.
//
// The default value is 10 seconds.
//
// This option can be changed at runtime, see also Session.SetTimeout.
func WithTimeout(val time.Duration) SessionOption {
	return newSessionOptFunc("WithTimeout", true, func(cfg *SessionConfig) error {
		if val < 0 {
			val = 0
		}
		cfg.timeout = val

		return nil
	})
}

// WithMaxReadSize sets the largest message the client accepts. The size must hold at least a
// message header.
//
// The default value is 1 MiB.
//
// This option can be changed at runtime, see also Session.SetMaxReadSize.
func WithMaxReadSize(size uint64) SessionOption {
	return newSessionOptFunc("WithMaxReadSize", true, func(cfg *SessionConfig) error {
		if size <= hislip.HeaderSize {
			return fmt.Errorf("max read size must be larger than %d", hislip.HeaderSize)
		}
		cfg.maxReadSize = size

		return nil
	})
}

// WithBufferSize sets the maximum number of bytes requested by a single transport read.
//
// The default value is 4096.
//
// This option can be changed at runtime.
func WithBufferSize(size int) SessionOption {
	return newSessionOptFunc("WithBufferSize", true, func(cfg *SessionConfig) error {
		if size <= 0 {
			return errors.New("buffer size must be positive")
		}
		cfg.bufferSize = size

		return nil
	})
}

// WithLockTimeout sets how long the server waits to grant a lock. A negative value waits forever.
//
// The default value is 0, the lock is only granted if it is available immediately.
//
// This option can be changed at runtime, see also Session.SetLockTimeout.
func WithLockTimeout(val time.Duration) SessionOption {
	return newSessionOptFunc("WithLockTimeout", true, func(cfg *SessionConfig) error {
		cfg.lockTimeout = val
		return nil
	})
}

// WithProtocolVersion sets the protocol version sent in Initialize.
//
// The default value is 1.0.
//
// This option can't be changed at runtime.
func WithProtocolVersion(major, minor uint8) SessionOption {
	return newSessionOptFunc("WithProtocolVersion", false, func(cfg *SessionConfig) error {
		cfg.version = hislip.Version{Major: major, Minor: minor}
		return nil
	})
}

// WithClientID sets the 2-byte vendor id of the client.
// An error wrapping hislip.ErrInvalidArgument is returned if id is not 2 bytes.
//
// The default value is "XX".
//
// This option can't be changed at runtime.
func WithClientID(id string) SessionOption {
	return newSessionOptFunc("WithClientID", false, func(cfg *SessionConfig) error {
		if len(id) != 2 {
			return hislip.ErrInvalidClientID
		}
		cfg.clientID = [2]byte{id[0], id[1]}

		return nil
	})
}

// WithReconnectDelay sets the delay between two handshake attempts of Reconnect.
//
// The default value is 100 milliseconds.
//
// This option can be changed at runtime.
func WithReconnectDelay(val time.Duration) SessionOption {
	return newSessionOptFunc("WithReconnectDelay", true, func(cfg *SessionConfig) error {
		if val < 0 {
			return errors.New("reconnect delay must not be negative")
		}
		cfg.reconnectDelay = val

		return nil
	})
}

// WithDialer sets the function that opens the transport of each channel.
//
// The default is DialTCP.
//
// This option can't be changed at runtime.
func WithDialer(dialer Dialer) SessionOption {
	return newSessionOptFunc("WithDialer", false, func(cfg *SessionConfig) error {
		if dialer == nil {
			return errors.New("dialer is nil")
		}
		cfg.dialer = dialer

		return nil
	})
}

// WithClock sets the clock that measures the cumulative receive timeout.
//
// This option can't be changed at runtime.
func WithClock(clock clockwork.Clock) SessionOption {
	return newSessionOptFunc("WithClock", false, func(cfg *SessionConfig) error {
		if clock == nil {
			return errors.New("clock is nil")
		}
		cfg.clock = clock

		return nil
	})
}

// WithTracerProvider sets the OpenTelemetry tracer provider of the session spans.
//
// The default is the global tracer provider.
//
// This option can't be changed at runtime.
func WithTracerProvider(tp trace.TracerProvider) SessionOption {
	return newSessionOptFunc("WithTracerProvider", false, func(cfg *SessionConfig) error {
		if tp == nil {
			return errors.New("tracer provider is nil")
		}
		cfg.tracerProvider = tp

		return nil
	})
}

// WithLogger sets the logger of the session.
//
// This option can't be changed at runtime.
func WithLogger(l logger.Logger) SessionOption {
	return newSessionOptFunc("WithLogger", false, func(cfg *SessionConfig) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
