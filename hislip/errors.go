package hislip

import (
	"errors"
	"fmt"
	"net"
	"os"
)

// FatalCode is the control code of a FatalError message (IVI-6.1 Table 14).
type FatalCode uint8

const (
	FatalUnidentified        FatalCode = 0
	FatalBadHeader           FatalCode = 1
	FatalChannelsInactivated FatalCode = 2
	FatalInvalidInitSequence FatalCode = 3
	FatalMaxClients          FatalCode = 4
)

var fatalDescriptions = [...]string{
	"Unidentified error",
	"Poorly formed message header",
	"Attempt to use connection without both channels established",
	"Invalid initialization sequence",
	"Server refused connection due to maximum number of clients exceeded",
}

// Description returns the protocol text of the fatal error code.
func (c FatalCode) Description() string {
	if int(c) < len(fatalDescriptions) {
		return fatalDescriptions[c]
	}

	return fatalDescriptions[FatalUnidentified]
}

// ErrorCode is the control code of a non-fatal Error message (IVI-6.1 Table 16).
type ErrorCode uint8

const (
	ErrorUnidentified         ErrorCode = 0
	ErrorBadMessageType       ErrorCode = 1
	ErrorBadControlCode       ErrorCode = 2
	ErrorBadVendor            ErrorCode = 3
	ErrorMessageTooLarge      ErrorCode = 4
	ErrorAuthenticationFailed ErrorCode = 5
)

var errorDescriptions = [...]string{
	"Unidentified error",
	"Unrecognized message type",
	"Unrecognized control code",
	"Unrecognized vendor defined message",
	"Message too large",
	"Authentication failed",
}

// Description returns the protocol text of the error code.
func (c ErrorCode) Description() string {
	if int(c) < len(errorDescriptions) {
		return errorDescriptions[c]
	}

	return errorDescriptions[ErrorUnidentified]
}

// FatalError is a HiSLIP fatal error. It is either received from the server or detected locally.
//
// A fatal error leaves the session unusable: the client notifies the server with Message on both
// channels and closes the connection.
type FatalError struct {
	Code   FatalCode
	Reason string
	// Err is the local cause, if any, e.g. a read deadline that expired.
	Err error
}

// NewFatalError creates a FatalError. Unknown codes are mapped to FatalUnidentified.
func NewFatalError(code FatalCode, reason string) *FatalError {
	if int(code) >= len(fatalDescriptions) {
		code = FatalUnidentified
	}

	return &FatalError{Code: code, Reason: reason}
}

func (e *FatalError) Error() string {
	return formatError(e.Code.Description(), uint8(e.Code), e.Reason)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Description returns the protocol text of the error code.
func (e *FatalError) Description() string { return e.Code.Description() }

// Timeout reports whether the error was caused by an expired deadline.
func (e *FatalError) Timeout() bool {
	return isTimeout(e.Err)
}

// Message returns the FatalError message that notifies the peer about this error.
func (e *FatalError) Message() *Message {
	return NewMessage(FatalErrorMsgType, uint8(e.Code), 0, []byte(e.Code.Description()))
}

// Error is a HiSLIP non-fatal error.
type Error struct {
	Code   ErrorCode
	Reason string
}

// NewError creates an Error. Unknown codes are mapped to ErrorUnidentified.
func NewError(code ErrorCode, reason string) *Error {
	if int(code) >= len(errorDescriptions) {
		code = ErrorUnidentified
	}

	return &Error{Code: code, Reason: reason}
}

func (e *Error) Error() string {
	return formatError(e.Code.Description(), uint8(e.Code), e.Reason)
}

// Description returns the protocol text of the error code.
func (e *Error) Description() string { return e.Code.Description() }

// Message returns the Error message that notifies the peer about this error.
func (e *Error) Message() *Message {
	return NewMessage(ErrorMsgType, uint8(e.Code), 0, []byte(e.Code.Description()))
}

// NewFatalErrorMessage builds an unidentified FatalError message whose payload is the given text.
// It is used to report local failures that have no protocol error code.
func NewFatalErrorMessage(text string) *Message {
	return NewMessage(FatalErrorMsgType, uint8(FatalUnidentified), 0, toASCII(text))
}

func formatError(text string, code uint8, reason string) string {
	if reason != "" {
		return fmt.Sprintf("%s [code=%d, reason=%q]", text, code, reason)
	}

	return fmt.Sprintf("%s [code=%d]", text, code)
}

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

// toASCII replaces every non-ASCII byte with '?'.
func toASCII(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c > 0x7F {
			c = '?'
		}
		out = append(out, c)
	}

	return out
}

// ErrInvalidArgument is wrapped by every error returned for invalid caller input.
// Such errors are returned before any I/O takes place.
var ErrInvalidArgument = errors.New("hislip: invalid argument")

var (
	// ErrInvalidClientID indicates that the client vendor ID is not exactly 2 bytes.
	ErrInvalidClientID = fmt.Errorf("%w: client id must be 2 bytes", ErrInvalidArgument)

	// ErrSubAddressTooLong indicates that the sub-address exceeds MaxSubAddressLength bytes.
	ErrSubAddressTooLong = fmt.Errorf("%w: sub-address must not exceed 256 bytes", ErrInvalidArgument)

	// ErrLockStringTooLong indicates that the shared lock name exceeds MaxLockStringLength characters.
	ErrLockStringTooLong = fmt.Errorf("%w: lock string must not exceed 256 characters", ErrInvalidArgument)

	// ErrLockStringNotASCII indicates that the shared lock name contains a non-ASCII character.
	ErrLockStringNotASCII = fmt.Errorf("%w: lock string must be ASCII", ErrInvalidArgument)

	// ErrInvalidRemoteLocalRequest indicates a remote/local control request outside [0, 6].
	ErrInvalidRemoteLocalRequest = fmt.Errorf("%w: remote/local request must be in range of [0, 6]", ErrInvalidArgument)

	// ErrInvalidAddress indicates that an address is not a VISA HiSLIP resource string.
	ErrInvalidAddress = fmt.Errorf("%w: not a HiSLIP address", ErrInvalidArgument)
)
