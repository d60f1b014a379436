package hislip

import "strconv"

// MessageType is the HiSLIP message type carried in the third byte of every header.
type MessageType uint8

// Message types defined by IVI-6.1 Table 4.
const (
	InitializeMsgType                      MessageType = 0
	InitializeResponseMsgType              MessageType = 1
	FatalErrorMsgType                      MessageType = 2
	ErrorMsgType                           MessageType = 3
	AsyncLockMsgType                       MessageType = 4
	AsyncLockResponseMsgType               MessageType = 5
	DataMsgType                            MessageType = 6
	DataEndMsgType                         MessageType = 7
	DeviceClearCompleteMsgType             MessageType = 8
	DeviceClearAcknowledgeMsgType          MessageType = 9
	AsyncRemoteLocalControlMsgType         MessageType = 10
	AsyncRemoteLocalResponseMsgType        MessageType = 11
	TriggerMsgType                         MessageType = 12
	InterruptedMsgType                     MessageType = 13
	AsyncInterruptedMsgType                MessageType = 14
	AsyncMaximumMessageSizeMsgType         MessageType = 15
	AsyncMaximumMessageSizeResponseMsgType MessageType = 16
	AsyncInitializeMsgType                 MessageType = 17
	AsyncInitializeResponseMsgType         MessageType = 18
	AsyncDeviceClearMsgType                MessageType = 19
	AsyncServiceRequestMsgType             MessageType = 20
	AsyncStatusQueryMsgType                MessageType = 21
	AsyncStatusResponseMsgType             MessageType = 22
	AsyncDeviceClearAcknowledgeMsgType     MessageType = 23
	AsyncLockInfoMsgType                   MessageType = 24
	AsyncLockInfoResponseMsgType           MessageType = 25
	GetDescriptorsMsgType                  MessageType = 26
	GetDescriptorsResponseMsgType          MessageType = 27
	StartTLSMsgType                        MessageType = 28
	AsyncStartTLSMsgType                   MessageType = 29
	AsyncStartTLSResponseMsgType           MessageType = 30
	EndTLSMsgType                          MessageType = 31
	AsyncEndTLSMsgType                     MessageType = 32
	AsyncEndTLSResponseMsgType             MessageType = 33
	GetSaslMechanismListMsgType            MessageType = 34
	GetSaslMechanismListResponseMsgType    MessageType = 35
	AuthenticationStartMsgType             MessageType = 36
	AuthenticationExchangeMsgType          MessageType = 37
	AuthenticationResultMsgType            MessageType = 38

	// UndefinedMsgType is not a wire value. Passing it to Decode accepts any valid message type.
	UndefinedMsgType MessageType = 0xFF
)

var msgTypeNames = [...]string{
	"Initialize",
	"InitializeResponse",
	"FatalError",
	"Error",
	"AsyncLock",
	"AsyncLockResponse",
	"Data",
	"DataEnd",
	"DeviceClearComplete",
	"DeviceClearAcknowledge",
	"AsyncRemoteLocalControl",
	"AsyncRemoteLocalResponse",
	"Trigger",
	"Interrupted",
	"AsyncInterrupted",
	"AsyncMaximumMessageSize",
	"AsyncMaximumMessageSizeResponse",
	"AsyncInitialize",
	"AsyncInitializeResponse",
	"AsyncDeviceClear",
	"AsyncServiceRequest",
	"AsyncStatusQuery",
	"AsyncStatusResponse",
	"AsyncDeviceClearAcknowledge",
	"AsyncLockInfo",
	"AsyncLockInfoResponse",
	"GetDescriptors",
	"GetDescriptorsResponse",
	"StartTLS",
	"AsyncStartTLS",
	"AsyncStartTLSResponse",
	"EndTLS",
	"AsyncEndTLS",
	"AsyncEndTLSResponse",
	"GetSaslMechanismList",
	"GetSaslMechanismListResponse",
	"AuthenticationStart",
	"AuthenticationExchange",
	"AuthenticationResult",
}

// IsValid reports whether t is one of the message types defined by the protocol.
func (t MessageType) IsValid() bool {
	return int(t) < len(msgTypeNames)
}

func (t MessageType) String() string {
	if t.IsValid() {
		return msgTypeNames[t]
	}
	if t == UndefinedMsgType {
		return "Undefined"
	}

	return "MessageType(" + strconv.Itoa(int(t)) + ")"
}
