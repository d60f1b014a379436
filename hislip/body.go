package hislip

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Body is the typed view of a message: the control code, parameter and payload interpreted
// according to the message type. Every message type has exactly one Body implementation.
type Body interface {
	// Type returns the message type of the body.
	Type() MessageType
	// ToMessage encodes the body into a message.
	ToMessage() *Message
}

// Version is a HiSLIP protocol version.
type Version struct {
	Major uint8
	Minor uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// LockResult is the control code of an AsyncLockResponse (IVI-6.1 Tables 19 and 20).
type LockResult uint8

const (
	// LockFailed means the lock was requested but not granted before the timeout expired.
	LockFailed LockResult = 0
	// LockSuccess means the lock was granted, or released.
	LockSuccess LockResult = 1
	// LockSharedReleased means a shared lock was released while the exclusive lock is still held.
	LockSharedReleased LockResult = 2
	// LockError means an invalid release of a lock that is not held, or a request for a lock that is already granted.
	LockError LockResult = 3
)

// TLSResult is the control code of AsyncStartTLSResponse and AsyncEndTLSResponse.
type TLSResult uint8

const (
	TLSBusy    TLSResult = 0
	TLSSuccess TLSResult = 1
	TLSError   TLSResult = 3
)

// RemoteLocalRequest is the GPIB-like request of an AsyncRemoteLocalControl message.
type RemoteLocalRequest uint8

const (
	// RENDeassert disables remote (VI_GPIB_REN_DEASSERT).
	RENDeassert RemoteLocalRequest = iota
	// RENAssert enables remote (VI_GPIB_REN_ASSERT).
	RENAssert
	// RENDeassertGTL disables remote and goes to local (VI_GPIB_REN_DEASSERT_GTL).
	RENDeassertGTL
	// RENAssertAddress enables remote and goes to remote (VI_GPIB_REN_ASSERT_ADDRESS).
	RENAssertAddress
	// RENAssertLLO enables remote and locks out local (VI_GPIB_REN_ASSERT_LLO).
	RENAssertLLO
	// RENAssertAddressLLO enables remote, goes to remote and sets local lockout (VI_GPIB_REN_ASSERT_ADDRESS_LLO).
	RENAssertAddressLLO
	// AddressGTL goes to local without changing REN or lockout state (VI_GPIB_REN_ADDRESS_GTL).
	AddressGTL
)

// IsValid reports whether r is one of the defined requests.
func (r RemoteLocalRequest) IsValid() bool { return r <= AddressGTL }

// Initialize opens the synchronous channel.
type Initialize struct {
	Version    Version
	ClientID   [2]byte
	SubAddress []byte
}

// NewInitialize creates an Initialize request after validating the caller input.
func NewInitialize(major, minor uint8, clientID []byte, subAddress []byte) (*Initialize, error) {
	if len(clientID) != 2 {
		return nil, ErrInvalidClientID
	}
	if len(subAddress) > MaxSubAddressLength {
		return nil, ErrSubAddressTooLong
	}

	return &Initialize{
		Version:    Version{Major: major, Minor: minor},
		ClientID:   [2]byte{clientID[0], clientID[1]},
		SubAddress: subAddress,
	}, nil
}

func (*Initialize) Type() MessageType { return InitializeMsgType }

func (b *Initialize) ToMessage() *Message {
	param := uint32(b.Version.Major)<<24 | uint32(b.Version.Minor)<<16 |
		uint32(b.ClientID[0])<<8 | uint32(b.ClientID[1])

	return NewMessage(InitializeMsgType, 0, param, b.SubAddress)
}

// InitializeResponse is the server answer to Initialize.
type InitializeResponse struct {
	Overlapped        bool
	Encrypted         bool
	InitialEncryption bool
	Version           Version
	SessionID         uint16
}

func (*InitializeResponse) Type() MessageType { return InitializeResponseMsgType }

func (b *InitializeResponse) ToMessage() *Message {
	control := bit(b.Overlapped, 0) | bit(b.Encrypted, 1) | bit(b.InitialEncryption, 2)
	param := uint32(b.Version.Major)<<24 | uint32(b.Version.Minor)<<16 | uint32(b.SessionID)

	return NewMessage(InitializeResponseMsgType, control, param, nil)
}

// Type implements Body for received FatalError messages.
func (*FatalError) Type() MessageType { return FatalErrorMsgType }

// ToMessage encodes the error with its reason as payload.
// Use Message to notify the peer about a locally detected error.
func (e *FatalError) ToMessage() *Message {
	return NewMessage(FatalErrorMsgType, uint8(e.Code), 0, []byte(e.Reason))
}

// Type implements Body for received Error messages.
func (*Error) Type() MessageType { return ErrorMsgType }

// ToMessage encodes the error with its reason as payload.
// Use Message to notify the peer about a locally detected error.
func (e *Error) ToMessage() *Message {
	return NewMessage(ErrorMsgType, uint8(e.Code), 0, []byte(e.Reason))
}

// AsyncLock requests (Release false) or releases (Release true) the device lock.
type AsyncLock struct {
	Release bool
	// TimeoutMillis is how long the server waits to grant the lock. Only used by requests.
	TimeoutMillis uint32
	// LockString names a shared lock, empty requests the exclusive lock. Only used by requests.
	LockString []byte
	// MessageID is the id of the most recently completed synchronous transfer. Only used by releases.
	MessageID uint32
}

// NewAsyncLockRequest creates a lock request after validating the lock name.
func NewAsyncLockRequest(timeoutMillis uint32, lockString string) (*AsyncLock, error) {
	if len(lockString) > MaxLockStringLength {
		return nil, ErrLockStringTooLong
	}
	for i := 0; i < len(lockString); i++ {
		if lockString[i] > 0x7F {
			return nil, ErrLockStringNotASCII
		}
	}

	return &AsyncLock{TimeoutMillis: timeoutMillis, LockString: []byte(lockString)}, nil
}

// NewAsyncLockRelease creates a lock release request.
func NewAsyncLockRelease(messageID uint32) *AsyncLock {
	return &AsyncLock{Release: true, MessageID: messageID}
}

func (*AsyncLock) Type() MessageType { return AsyncLockMsgType }

func (b *AsyncLock) ToMessage() *Message {
	if b.Release {
		return NewMessage(AsyncLockMsgType, 0, b.MessageID, nil)
	}

	return NewMessage(AsyncLockMsgType, 1, b.TimeoutMillis, b.LockString)
}

// AsyncLockResponse is the server answer to AsyncLock.
type AsyncLockResponse struct {
	Result LockResult
}

// Success reports whether requesting or releasing the lock succeeded.
func (b *AsyncLockResponse) Success() bool {
	return b.Result == LockSuccess || b.Result == LockSharedReleased
}

// Failed reports whether the lock was not granted before the timeout expired.
func (b *AsyncLockResponse) Failed() bool { return b.Result == LockFailed }

// SharedReleased reports whether a shared lock was released.
func (b *AsyncLockResponse) SharedReleased() bool { return b.Result == LockSharedReleased }

// Error reports whether the request was invalid.
func (b *AsyncLockResponse) Error() bool { return b.Result == LockError }

func (*AsyncLockResponse) Type() MessageType { return AsyncLockResponseMsgType }

func (b *AsyncLockResponse) ToMessage() *Message {
	return NewMessage(AsyncLockResponseMsgType, uint8(b.Result), 0, nil)
}

// Data carries a non-final fragment of a synchronous transfer.
type Data struct {
	RMT       bool
	MessageID uint32
	Payload   []byte
}

func (*Data) Type() MessageType { return DataMsgType }

func (b *Data) ToMessage() *Message {
	return NewMessage(DataMsgType, bit(b.RMT, 0), b.MessageID, b.Payload)
}

// DataEnd carries the final fragment of a synchronous transfer.
type DataEnd struct {
	RMT       bool
	MessageID uint32
	Payload   []byte
}

func (*DataEnd) Type() MessageType { return DataEndMsgType }

func (b *DataEnd) ToMessage() *Message {
	return NewMessage(DataEndMsgType, bit(b.RMT, 0), b.MessageID, b.Payload)
}

// DeviceClearComplete finishes a device clear on the synchronous channel.
type DeviceClearComplete struct {
	FeatureBitmap uint8
}

func (*DeviceClearComplete) Type() MessageType { return DeviceClearCompleteMsgType }

func (b *DeviceClearComplete) ToMessage() *Message {
	return NewMessage(DeviceClearCompleteMsgType, b.FeatureBitmap, 0, nil)
}

// DeviceClearAcknowledge is the server answer to DeviceClearComplete.
type DeviceClearAcknowledge struct {
	FeatureBitmap uint8
}

func (*DeviceClearAcknowledge) Type() MessageType { return DeviceClearAcknowledgeMsgType }

func (b *DeviceClearAcknowledge) ToMessage() *Message {
	return NewMessage(DeviceClearAcknowledgeMsgType, b.FeatureBitmap, 0, nil)
}

// AsyncRemoteLocalControl sends a GPIB-like remote/local request.
type AsyncRemoteLocalControl struct {
	Request   RemoteLocalRequest
	MessageID uint32
}

// NewAsyncRemoteLocalControl creates a remote/local request after validating the request code.
func NewAsyncRemoteLocalControl(request RemoteLocalRequest, messageID uint32) (*AsyncRemoteLocalControl, error) {
	if !request.IsValid() {
		return nil, ErrInvalidRemoteLocalRequest
	}

	return &AsyncRemoteLocalControl{Request: request, MessageID: messageID}, nil
}

func (*AsyncRemoteLocalControl) Type() MessageType { return AsyncRemoteLocalControlMsgType }

func (b *AsyncRemoteLocalControl) ToMessage() *Message {
	return NewMessage(AsyncRemoteLocalControlMsgType, uint8(b.Request), b.MessageID, nil)
}

// AsyncRemoteLocalResponse acknowledges AsyncRemoteLocalControl.
type AsyncRemoteLocalResponse struct{}

func (*AsyncRemoteLocalResponse) Type() MessageType { return AsyncRemoteLocalResponseMsgType }

func (*AsyncRemoteLocalResponse) ToMessage() *Message {
	return NewMessage(AsyncRemoteLocalResponseMsgType, 0, 0, nil)
}

// Trigger emulates a GPIB Group Execute Trigger.
type Trigger struct {
	RMT       bool
	MessageID uint32
}

func (*Trigger) Type() MessageType { return TriggerMsgType }

func (b *Trigger) ToMessage() *Message {
	return NewMessage(TriggerMsgType, bit(b.RMT, 0), b.MessageID, nil)
}

// Interrupted is sent on the synchronous channel when the server discards a response.
type Interrupted struct {
	MessageID uint32
}

func (*Interrupted) Type() MessageType { return InterruptedMsgType }

func (b *Interrupted) ToMessage() *Message {
	return NewMessage(InterruptedMsgType, 0, b.MessageID, nil)
}

// AsyncInterrupted is the asynchronous channel counterpart of Interrupted.
type AsyncInterrupted struct {
	MessageID uint32
}

func (*AsyncInterrupted) Type() MessageType { return AsyncInterruptedMsgType }

func (b *AsyncInterrupted) ToMessage() *Message {
	return NewMessage(AsyncInterruptedMsgType, 0, b.MessageID, nil)
}

// AsyncMaximumMessageSize advertises the size of the client message buffer.
type AsyncMaximumMessageSize struct {
	Size uint64
}

func (*AsyncMaximumMessageSize) Type() MessageType { return AsyncMaximumMessageSizeMsgType }

func (b *AsyncMaximumMessageSize) ToMessage() *Message {
	return NewMessage(AsyncMaximumMessageSizeMsgType, 0, 0, binary.BigEndian.AppendUint64(nil, b.Size))
}

// AsyncMaximumMessageSizeResponse carries the size of the server message buffer.
type AsyncMaximumMessageSizeResponse struct {
	Size uint64
}

func (*AsyncMaximumMessageSizeResponse) Type() MessageType {
	return AsyncMaximumMessageSizeResponseMsgType
}

func (b *AsyncMaximumMessageSizeResponse) ToMessage() *Message {
	return NewMessage(AsyncMaximumMessageSizeResponseMsgType, 0, 0, binary.BigEndian.AppendUint64(nil, b.Size))
}

// AsyncInitialize opens the asynchronous channel of an existing session.
type AsyncInitialize struct {
	SessionID uint16
}

func (*AsyncInitialize) Type() MessageType { return AsyncInitializeMsgType }

func (b *AsyncInitialize) ToMessage() *Message {
	return NewMessage(AsyncInitializeMsgType, 0, uint32(b.SessionID), nil)
}

// AsyncInitializeResponse is the server answer to AsyncInitialize.
type AsyncInitializeResponse struct {
	SecureConnectionSupported bool
	ServerVendorID            [2]byte
}

func (*AsyncInitializeResponse) Type() MessageType { return AsyncInitializeResponseMsgType }

func (b *AsyncInitializeResponse) ToMessage() *Message {
	param := uint32(b.ServerVendorID[0])<<8 | uint32(b.ServerVendorID[1])
	return NewMessage(AsyncInitializeResponseMsgType, bit(b.SecureConnectionSupported, 0), param, nil)
}

// AsyncDeviceClear starts a device clear.
type AsyncDeviceClear struct{}

func (*AsyncDeviceClear) Type() MessageType { return AsyncDeviceClearMsgType }

func (*AsyncDeviceClear) ToMessage() *Message {
	return NewMessage(AsyncDeviceClearMsgType, 0, 0, nil)
}

// AsyncServiceRequest is sent by the server to request service.
type AsyncServiceRequest struct {
	Status uint8
}

func (*AsyncServiceRequest) Type() MessageType { return AsyncServiceRequestMsgType }

func (b *AsyncServiceRequest) ToMessage() *Message {
	return NewMessage(AsyncServiceRequestMsgType, b.Status, 0, nil)
}

// AsyncStatusQuery requests the status byte.
type AsyncStatusQuery struct {
	RMT       bool
	MessageID uint32
}

func (*AsyncStatusQuery) Type() MessageType { return AsyncStatusQueryMsgType }

func (b *AsyncStatusQuery) ToMessage() *Message {
	return NewMessage(AsyncStatusQueryMsgType, bit(b.RMT, 0), b.MessageID, nil)
}

// AsyncStatusResponse carries the status byte.
type AsyncStatusResponse struct {
	Status uint8
}

func (*AsyncStatusResponse) Type() MessageType { return AsyncStatusResponseMsgType }

func (b *AsyncStatusResponse) ToMessage() *Message {
	return NewMessage(AsyncStatusResponseMsgType, b.Status, 0, nil)
}

// AsyncDeviceClearAcknowledge is the server answer to AsyncDeviceClear.
type AsyncDeviceClearAcknowledge struct {
	FeatureBitmap uint8
}

func (*AsyncDeviceClearAcknowledge) Type() MessageType { return AsyncDeviceClearAcknowledgeMsgType }

func (b *AsyncDeviceClearAcknowledge) ToMessage() *Message {
	return NewMessage(AsyncDeviceClearAcknowledgeMsgType, b.FeatureBitmap, 0, nil)
}

// AsyncLockInfo requests the lock status.
type AsyncLockInfo struct{}

func (*AsyncLockInfo) Type() MessageType { return AsyncLockInfoMsgType }

func (*AsyncLockInfo) ToMessage() *Message {
	return NewMessage(AsyncLockInfoMsgType, 0, 0, nil)
}

// AsyncLockInfoResponse carries the lock status.
type AsyncLockInfoResponse struct {
	// Exclusive reports whether a client holds the exclusive lock.
	Exclusive bool
	// NumLocks is the number of clients that hold a lock.
	NumLocks uint32
}

func (*AsyncLockInfoResponse) Type() MessageType { return AsyncLockInfoResponseMsgType }

func (b *AsyncLockInfoResponse) ToMessage() *Message {
	return NewMessage(AsyncLockInfoResponseMsgType, bit(b.Exclusive, 0), b.NumLocks, nil)
}

// GetDescriptors requests the server descriptors.
type GetDescriptors struct{}

func (*GetDescriptors) Type() MessageType { return GetDescriptorsMsgType }

func (*GetDescriptors) ToMessage() *Message {
	return NewMessage(GetDescriptorsMsgType, 0, 0, nil)
}

// GetDescriptorsResponse carries the raw server descriptors.
type GetDescriptorsResponse struct {
	Descriptors []byte
}

func (*GetDescriptorsResponse) Type() MessageType { return GetDescriptorsResponseMsgType }

func (b *GetDescriptorsResponse) ToMessage() *Message {
	return NewMessage(GetDescriptorsResponseMsgType, 0, 0, b.Descriptors)
}

// StartTLS is sent on the synchronous channel to switch to an encrypted connection.
type StartTLS struct{}

func (*StartTLS) Type() MessageType { return StartTLSMsgType }

func (*StartTLS) ToMessage() *Message {
	return NewMessage(StartTLSMsgType, 0, 0, nil)
}

// AsyncStartTLS is sent on the asynchronous channel to switch to an encrypted connection.
type AsyncStartTLS struct {
	RMT               bool
	MessageID         uint32
	MessageIDReceived uint32
}

func (*AsyncStartTLS) Type() MessageType { return AsyncStartTLSMsgType }

func (b *AsyncStartTLS) ToMessage() *Message {
	return NewMessage(AsyncStartTLSMsgType, bit(b.RMT, 0), b.MessageID,
		binary.BigEndian.AppendUint32(nil, b.MessageIDReceived))
}

// AsyncStartTLSResponse is the server answer to AsyncStartTLS.
type AsyncStartTLSResponse struct {
	Result TLSResult
}

func (*AsyncStartTLSResponse) Type() MessageType { return AsyncStartTLSResponseMsgType }

func (b *AsyncStartTLSResponse) ToMessage() *Message {
	return NewMessage(AsyncStartTLSResponseMsgType, uint8(b.Result), 0, nil)
}

// EndTLS is sent on the synchronous channel to return to an unencrypted connection.
type EndTLS struct{}

func (*EndTLS) Type() MessageType { return EndTLSMsgType }

func (*EndTLS) ToMessage() *Message {
	return NewMessage(EndTLSMsgType, 0, 0, nil)
}

// AsyncEndTLS is sent on the asynchronous channel to return to an unencrypted connection.
type AsyncEndTLS struct {
	RMT               bool
	MessageID         uint32
	MessageIDReceived uint32
}

func (*AsyncEndTLS) Type() MessageType { return AsyncEndTLSMsgType }

func (b *AsyncEndTLS) ToMessage() *Message {
	return NewMessage(AsyncEndTLSMsgType, bit(b.RMT, 0), b.MessageID,
		binary.BigEndian.AppendUint32(nil, b.MessageIDReceived))
}

// AsyncEndTLSResponse is the server answer to AsyncEndTLS.
type AsyncEndTLSResponse struct {
	Result TLSResult
}

func (*AsyncEndTLSResponse) Type() MessageType { return AsyncEndTLSResponseMsgType }

func (b *AsyncEndTLSResponse) ToMessage() *Message {
	return NewMessage(AsyncEndTLSResponseMsgType, uint8(b.Result), 0, nil)
}

// GetSaslMechanismList requests the SASL mechanisms supported by the server.
type GetSaslMechanismList struct{}

func (*GetSaslMechanismList) Type() MessageType { return GetSaslMechanismListMsgType }

func (*GetSaslMechanismList) ToMessage() *Message {
	return NewMessage(GetSaslMechanismListMsgType, 0, 0, nil)
}

// GetSaslMechanismListResponse carries the SASL mechanism names.
type GetSaslMechanismListResponse struct {
	Mechanisms [][]byte
}

func (*GetSaslMechanismListResponse) Type() MessageType {
	return GetSaslMechanismListResponseMsgType
}

func (b *GetSaslMechanismListResponse) ToMessage() *Message {
	return NewMessage(GetSaslMechanismListResponseMsgType, 0, 0, bytes.Join(b.Mechanisms, []byte(" ")))
}

// AuthenticationStart selects the SASL mechanism.
type AuthenticationStart struct {
	Mechanism []byte
}

func (*AuthenticationStart) Type() MessageType { return AuthenticationStartMsgType }

func (b *AuthenticationStart) ToMessage() *Message {
	return NewMessage(AuthenticationStartMsgType, 0, 0, b.Mechanism)
}

// AuthenticationExchange carries opaque SASL data in either direction.
type AuthenticationExchange struct {
	Data []byte
}

func (*AuthenticationExchange) Type() MessageType { return AuthenticationExchangeMsgType }

func (b *AuthenticationExchange) ToMessage() *Message {
	return NewMessage(AuthenticationExchangeMsgType, 0, 0, b.Data)
}

// AuthenticationResult finishes a SASL exchange.
type AuthenticationResult struct {
	Failed  bool
	Success bool
	// ErrorCode is the mechanism-dependent error code of a failed authentication.
	ErrorCode uint32
	Data      []byte
}

func (*AuthenticationResult) Type() MessageType { return AuthenticationResultMsgType }

func (b *AuthenticationResult) ToMessage() *Message {
	return NewMessage(AuthenticationResultMsgType, bit(b.Failed, 0)|bit(b.Success, 1), b.ErrorCode, b.Data)
}

// DecodeBody interprets the fields of msg according to its message type.
//
// It returns an *Error with code ErrorBadMessageType for unknown message types and a *FatalError
// if the payload is malformed for the message type.
func DecodeBody(msg *Message) (Body, error) { //nolint:gocyclo,cyclop
	ctrl, param, payload := msg.controlCode, msg.parameter, msg.payload

	switch msg.msgType {
	case InitializeMsgType:
		return &Initialize{
			Version:    Version{Major: uint8(param >> 24), Minor: uint8(param >> 16)},
			ClientID:   [2]byte{uint8(param >> 8), uint8(param)},
			SubAddress: payload,
		}, nil
	case InitializeResponseMsgType:
		return &InitializeResponse{
			Overlapped:        ctrl&(1<<0) != 0,
			Encrypted:         ctrl&(1<<1) != 0,
			InitialEncryption: ctrl&(1<<2) != 0,
			Version:           Version{Major: uint8(param >> 24), Minor: uint8(param >> 16)},
			SessionID:         uint16(param),
		}, nil
	case FatalErrorMsgType:
		return NewFatalError(FatalCode(ctrl), string(payload)), nil
	case ErrorMsgType:
		return NewError(ErrorCode(ctrl), string(payload)), nil
	case AsyncLockMsgType:
		if ctrl == 0 {
			return &AsyncLock{Release: true, MessageID: param}, nil
		}
		return &AsyncLock{TimeoutMillis: param, LockString: payload}, nil
	case AsyncLockResponseMsgType:
		return &AsyncLockResponse{Result: LockResult(ctrl)}, nil
	case DataMsgType:
		return &Data{RMT: ctrl&1 != 0, MessageID: param, Payload: payload}, nil
	case DataEndMsgType:
		return &DataEnd{RMT: ctrl&1 != 0, MessageID: param, Payload: payload}, nil
	case DeviceClearCompleteMsgType:
		return &DeviceClearComplete{FeatureBitmap: ctrl}, nil
	case DeviceClearAcknowledgeMsgType:
		return &DeviceClearAcknowledge{FeatureBitmap: ctrl}, nil
	case AsyncRemoteLocalControlMsgType:
		return &AsyncRemoteLocalControl{Request: RemoteLocalRequest(ctrl), MessageID: param}, nil
	case AsyncRemoteLocalResponseMsgType:
		return &AsyncRemoteLocalResponse{}, nil
	case TriggerMsgType:
		return &Trigger{RMT: ctrl&1 != 0, MessageID: param}, nil
	case InterruptedMsgType:
		return &Interrupted{MessageID: param}, nil
	case AsyncInterruptedMsgType:
		return &AsyncInterrupted{MessageID: param}, nil
	case AsyncMaximumMessageSizeMsgType:
		size, err := payloadUint64(msg)
		if err != nil {
			return nil, err
		}
		return &AsyncMaximumMessageSize{Size: size}, nil
	case AsyncMaximumMessageSizeResponseMsgType:
		size, err := payloadUint64(msg)
		if err != nil {
			return nil, err
		}
		return &AsyncMaximumMessageSizeResponse{Size: size}, nil
	case AsyncInitializeMsgType:
		return &AsyncInitialize{SessionID: uint16(param)}, nil
	case AsyncInitializeResponseMsgType:
		return &AsyncInitializeResponse{
			SecureConnectionSupported: ctrl&1 != 0,
			ServerVendorID:            [2]byte{uint8(param >> 8), uint8(param)},
		}, nil
	case AsyncDeviceClearMsgType:
		return &AsyncDeviceClear{}, nil
	case AsyncServiceRequestMsgType:
		return &AsyncServiceRequest{Status: ctrl}, nil
	case AsyncStatusQueryMsgType:
		return &AsyncStatusQuery{RMT: ctrl&1 != 0, MessageID: param}, nil
	case AsyncStatusResponseMsgType:
		return &AsyncStatusResponse{Status: ctrl}, nil
	case AsyncDeviceClearAcknowledgeMsgType:
		return &AsyncDeviceClearAcknowledge{FeatureBitmap: ctrl}, nil
	case AsyncLockInfoMsgType:
		return &AsyncLockInfo{}, nil
	case AsyncLockInfoResponseMsgType:
		return &AsyncLockInfoResponse{Exclusive: ctrl == 1, NumLocks: param}, nil
	case GetDescriptorsMsgType:
		return &GetDescriptors{}, nil
	case GetDescriptorsResponseMsgType:
		return &GetDescriptorsResponse{Descriptors: payload}, nil
	case StartTLSMsgType:
		return &StartTLS{}, nil
	case AsyncStartTLSMsgType:
		received, err := payloadUint32(msg)
		if err != nil {
			return nil, err
		}
		return &AsyncStartTLS{RMT: ctrl&1 != 0, MessageID: param, MessageIDReceived: received}, nil
	case AsyncStartTLSResponseMsgType:
		return &AsyncStartTLSResponse{Result: TLSResult(ctrl)}, nil
	case EndTLSMsgType:
		return &EndTLS{}, nil
	case AsyncEndTLSMsgType:
		received, err := payloadUint32(msg)
		if err != nil {
			return nil, err
		}
		return &AsyncEndTLS{RMT: ctrl&1 != 0, MessageID: param, MessageIDReceived: received}, nil
	case AsyncEndTLSResponseMsgType:
		return &AsyncEndTLSResponse{Result: TLSResult(ctrl)}, nil
	case GetSaslMechanismListMsgType:
		return &GetSaslMechanismList{}, nil
	case GetSaslMechanismListResponseMsgType:
		return &GetSaslMechanismListResponse{Mechanisms: bytes.Fields(payload)}, nil
	case AuthenticationStartMsgType:
		return &AuthenticationStart{Mechanism: payload}, nil
	case AuthenticationExchangeMsgType:
		return &AuthenticationExchange{Data: payload}, nil
	case AuthenticationResultMsgType:
		return &AuthenticationResult{
			Failed:    ctrl&(1<<0) != 0,
			Success:   ctrl&(1<<1) != 0,
			ErrorCode: param,
			Data:      payload,
		}, nil
	default:
		return nil, NewError(ErrorBadMessageType, fmt.Sprintf("%d is not a valid MessageType", msg.msgType))
	}
}

// Busy reports whether the server is still processing a previous request.
func (r TLSResult) Busy() bool { return r == TLSBusy }

// Success reports whether the switch succeeded.
func (r TLSResult) Success() bool { return r == TLSSuccess }

// Error reports whether the switch failed.
func (r TLSResult) Error() bool { return r == TLSError }

func payloadUint64(msg *Message) (uint64, error) {
	if len(msg.payload) != 8 {
		return 0, NewFatalError(FatalUnidentified,
			fmt.Sprintf("%s payload must be 8 bytes, got %d", msg.msgType, len(msg.payload)))
	}

	return binary.BigEndian.Uint64(msg.payload), nil
}

func payloadUint32(msg *Message) (uint32, error) {
	if len(msg.payload) != 4 {
		return 0, NewFatalError(FatalUnidentified,
			fmt.Sprintf("%s payload must be 4 bytes, got %d", msg.msgType, len(msg.payload)))
	}

	return binary.BigEndian.Uint32(msg.payload), nil
}

func bit(set bool, pos uint) uint8 {
	if set {
		return 1 << pos
	}

	return 0
}
