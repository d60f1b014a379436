package client

import (
	"errors"
	"fmt"
	"net"
	"os"
)

var (
	// ErrSessionConfigNil indicates that a nil SessionConfig was provided.
	ErrSessionConfigNil = errors.New("session config is nil")

	// ErrNotRuntimeOption indicates that an option can't be changed after the session is created.
	ErrNotRuntimeOption = errors.New("option can't be changed at runtime")

	// ErrNotConnected indicates that the session is not connected.
	ErrNotConnected = errors.New("hislip: session is not connected")

	// ErrSendingBlocked indicates that an Interrupted message was received and sending is blocked
	// until the matching AsyncInterrupted message arrives.
	ErrSendingBlocked = errors.New("hislip: cannot send data, must wait for an AsyncInterrupted message")

	// ErrEncryptionRequired indicates that the server requires an encrypted connection, which is not supported.
	ErrEncryptionRequired = errors.New("hislip: the server requires encryption")
)

// ConnectionError is returned when the session handshake fails.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Timeout reports whether the handshake failed because a deadline expired.
func (e *ConnectionError) Timeout() bool { return isTimeout(e.Err) }

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
