package hislip

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

const (
	// HeaderSize is the size of every HiSLIP message header in bytes.
	HeaderSize = 16
	// Prologue is the constant two-byte marker that starts every header.
	Prologue = "HS"

	// DefaultPort is the IANA registered TCP port of HiSLIP servers.
	DefaultPort = 4880
	// DefaultMaxMessageSize is the size of the local message buffer advertised to the server.
	DefaultMaxMessageSize = 1024 * 1024

	// MaxSubAddressLength is the maximum length of the Initialize sub-address.
	MaxSubAddressLength = 256
	// MaxLockStringLength is the maximum length of a shared lock name.
	MaxLockStringLength = 256

	// InitialMessageID is the first message id used on the synchronous channel.
	InitialMessageID uint32 = 0xFFFFFF00
	// UnknownMessageID marks Data sent by the server that does not belong to a specific request.
	UnknownMessageID uint32 = 0xFFFFFFFF
)

// Header is a decoded HiSLIP message header.
type Header struct {
	Type          MessageType
	ControlCode   uint8
	Parameter     uint32
	PayloadLength uint64
}

// DecodeHeader decodes a 16-byte message header.
//
// It returns a *FatalError with code FatalBadHeader if b is not exactly HeaderSize bytes or if the
// prologue is not "HS".
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, NewFatalError(FatalBadHeader, "The reply header is != 16 bytes")
	}

	if b[0] != Prologue[0] || b[1] != Prologue[1] {
		return Header{}, NewFatalError(FatalBadHeader, "prologue != HS")
	}

	return Header{
		Type:          MessageType(b[2]),
		ControlCode:   b[3],
		Parameter:     binary.BigEndian.Uint32(b[4:8]),
		PayloadLength: binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

// Put encodes the header into the first HeaderSize bytes of b.
func (h Header) Put(b []byte) {
	_ = b[HeaderSize-1]
	b[0] = Prologue[0]
	b[1] = Prologue[1]
	b[2] = byte(h.Type)
	b[3] = h.ControlCode
	binary.BigEndian.PutUint32(b[4:8], h.Parameter)
	binary.BigEndian.PutUint64(b[8:16], h.PayloadLength)
}

// Message is a single HiSLIP frame: a 16-byte header followed by the payload.
//
// A Message is immutable once created. The typed interpretation of its fields is available
// through Body.
type Message struct {
	msgType     MessageType
	controlCode uint8
	parameter   uint32
	payload     []byte
	body        Body
}

// NewMessage creates a message. The payload is referenced, not copied.
func NewMessage(msgType MessageType, controlCode uint8, parameter uint32, payload []byte) *Message {
	return &Message{
		msgType:     msgType,
		controlCode: controlCode,
		parameter:   parameter,
		payload:     payload,
	}
}

// Decode decodes a message from its header and payload bytes.
//
// A FatalError or Error message is returned as a *FatalError or *Error carrying the control code and
// the payload text as reason. If expected is UndefinedMsgType any valid message type is accepted,
// otherwise a message of another type results in an *Error with code ErrorBadMessageType.
func Decode(header []byte, payload []byte, expected MessageType) (*Message, error) {
	h, err := DecodeHeader(header)
	if err != nil {
		return nil, err
	}

	if h.PayloadLength != uint64(len(payload)) {
		return nil, NewFatalError(FatalBadHeader,
			fmt.Sprintf("payload length %d != %d", len(payload), h.PayloadLength))
	}

	switch h.Type { //nolint:exhaustive
	case FatalErrorMsgType:
		return nil, NewFatalError(FatalCode(h.ControlCode), string(payload))
	case ErrorMsgType:
		return nil, NewError(ErrorCode(h.ControlCode), string(payload))
	}

	if expected == UndefinedMsgType {
		if !h.Type.IsValid() {
			return nil, NewError(ErrorBadMessageType, fmt.Sprintf("%d is not a valid MessageType", h.Type))
		}
	} else if h.Type != expected {
		return nil, NewError(ErrorBadMessageType, fmt.Sprintf("expected %s, received %s", expected, h.Type))
	}

	msg := NewMessage(h.Type, h.ControlCode, h.Parameter, payload)
	body, err := DecodeBody(msg)
	if err != nil {
		return nil, err
	}
	msg.body = body

	return msg, nil
}

// Type returns the message type.
func (m *Message) Type() MessageType { return m.msgType }

// ControlCode returns the raw control code.
func (m *Message) ControlCode() uint8 { return m.controlCode }

// Parameter returns the raw message parameter.
func (m *Message) Parameter() uint32 { return m.parameter }

// Payload returns the payload. The returned slice must not be modified.
func (m *Message) Payload() []byte { return m.payload }

// PayloadLength returns the payload length as encoded in the header.
func (m *Message) PayloadLength() uint64 { return uint64(len(m.payload)) }

// Size returns the encoded size of the message, header included.
func (m *Message) Size() int { return HeaderSize + len(m.payload) }

// Header returns the message header.
func (m *Message) Header() Header {
	return Header{
		Type:          m.msgType,
		ControlCode:   m.controlCode,
		Parameter:     m.parameter,
		PayloadLength: m.PayloadLength(),
	}
}

// Body returns the typed view of the message.
//
// The body of a received message is decoded once by Decode. For locally created messages it is
// decoded on each call and is nil if the fields are malformed for the message type.
func (m *Message) Body() Body {
	if m.body != nil {
		return m.body
	}

	body, err := DecodeBody(m)
	if err != nil {
		return nil
	}

	return body
}

// ToBytes encodes the message into its wire representation.
func (m *Message) ToBytes() []byte {
	b := make([]byte, m.Size())
	m.Header().Put(b)
	copy(b[HeaderSize:], m.payload)

	return b
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *Message) MarshalBinary() ([]byte, error) {
	return m.ToBytes(), nil
}

func (m *Message) String() string {
	var sb strings.Builder
	sb.WriteString(m.msgType.String())
	sb.WriteString("(control_code=")
	sb.WriteString(strconv.Itoa(int(m.controlCode)))
	sb.WriteString(", parameter=")
	sb.WriteString(strconv.FormatUint(uint64(m.parameter), 10))
	sb.WriteString(", payload_length=")
	sb.WriteString(strconv.Itoa(len(m.payload)))
	sb.WriteByte(')')

	return sb.String()
}
