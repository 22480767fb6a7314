package websocket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// MessageType represents the kind of an application-level Message.
//
// Values match the opcode of the single frame a message is encoded into:
// - Text (UTF-8 encoded text).
// - Binary (arbitrary binary data).
// - Ping and Pong (control payloads, at most 125 bytes).
type MessageType int

const (
	// TextMessage represents a UTF-8 text message (opcode 0x1).
	// Text frames MUST contain valid UTF-8 data (RFC 6455 Section 8.1).
	TextMessage MessageType = opcodeText

	// BinaryMessage represents a binary data message (opcode 0x2).
	BinaryMessage MessageType = opcodeBinary

	// PingMessage represents a ping (opcode 0x9).
	PingMessage MessageType = opcodePing

	// PongMessage represents a pong (opcode 0xA).
	PongMessage MessageType = opcodePong
)

// String returns string representation of message type.
func (mt MessageType) String() string {
	switch mt {
	case TextMessage:
		return "Text"
	case BinaryMessage:
		return "Binary"
	case PingMessage:
		return "Ping"
	case PongMessage:
		return "Pong"
	default:
		return "Unknown"
	}
}

// OpCode returns the opcode a message of this type is sent with.
func (mt MessageType) OpCode() (OpCode, error) {
	switch mt {
	case TextMessage:
		return OpText, nil
	case BinaryMessage:
		return OpBinary, nil
	case PingMessage:
		return OpPing, nil
	case PongMessage:
		return OpPong, nil
	default:
		return OpCode{}, ErrInvalidMessageType
	}
}

// Message is the unit handed to a Codec by the application.
type Message struct {
	Type MessageType
	Data []byte
}

// NewTextMessage returns a text message.
func NewTextMessage(s string) Message {
	return Message{Type: TextMessage, Data: []byte(s)}
}

// NewBinaryMessage returns a binary message.
func NewBinaryMessage(b []byte) Message {
	return Message{Type: BinaryMessage, Data: b}
}

// NewPingMessage returns a ping message.
func NewPingMessage(b []byte) Message {
	return Message{Type: PingMessage, Data: b}
}

// NewPongMessage returns a pong message.
func NewPongMessage(b []byte) Message {
	return Message{Type: PongMessage, Data: b}
}

// Text returns the payload as a string.
func (m Message) Text() string {
	return string(m.Data)
}

// CloseCode represents WebSocket close status codes (RFC 6455 Section 7.4).
//
// Close frames MAY contain a status code indicating the reason for closure.
// Status codes 1000-4999 are defined by the WebSocket protocol.
type CloseCode uint16

const (
	// CloseNormalClosure indicates normal closure (1000).
	CloseNormalClosure CloseCode = 1000

	// CloseGoingAway indicates endpoint going away (1001).
	CloseGoingAway CloseCode = 1001

	// CloseProtocolError indicates protocol error (1002).
	CloseProtocolError CloseCode = 1002

	// CloseUnsupportedData indicates unsupported data type (1003).
	CloseUnsupportedData CloseCode = 1003

	// 1004 is reserved and MUST NOT be used.

	// CloseNoStatusReceived indicates no status code was received (1005).
	// Reserved: MUST NOT be set in a close frame.
	CloseNoStatusReceived CloseCode = 1005

	// CloseAbnormalClosure indicates abnormal closure (1006).
	// Reserved: MUST NOT be set in a close frame.
	CloseAbnormalClosure CloseCode = 1006

	// CloseInvalidFramePayloadData indicates invalid frame payload (1007).
	CloseInvalidFramePayloadData CloseCode = 1007

	// ClosePolicyViolation indicates policy violation (1008).
	ClosePolicyViolation CloseCode = 1008

	// CloseMessageTooBig indicates message too large (1009).
	CloseMessageTooBig CloseCode = 1009

	// CloseMandatoryExtension indicates missing extension (1010).
	CloseMandatoryExtension CloseCode = 1010

	// CloseInternalServerErr indicates internal server error (1011).
	CloseInternalServerErr CloseCode = 1011

	// CloseServiceRestart indicates service restart (1012).
	CloseServiceRestart CloseCode = 1012

	// CloseTryAgainLater indicates try again later (1013).
	CloseTryAgainLater CloseCode = 1013

	// 1014 is reserved and MUST NOT be used.

	// CloseTLSHandshake indicates TLS handshake failure (1015).
	// Reserved: MUST NOT be set in a close frame.
	CloseTLSHandshake CloseCode = 1015
)

// String returns string representation of close code.
//
//nolint:cyclop // 14 close codes per RFC 6455
func (cc CloseCode) String() string {
	switch cc {
	case CloseNormalClosure:
		return "Normal Closure"
	case CloseGoingAway:
		return "Going Away"
	case CloseProtocolError:
		return "Protocol Error"
	case CloseUnsupportedData:
		return "Unsupported Data"
	case CloseNoStatusReceived:
		return "No Status Received"
	case CloseAbnormalClosure:
		return "Abnormal Closure"
	case CloseInvalidFramePayloadData:
		return "Invalid Frame Payload Data"
	case ClosePolicyViolation:
		return "Policy Violation"
	case CloseMessageTooBig:
		return "Message Too Big"
	case CloseMandatoryExtension:
		return "Mandatory Extension"
	case CloseInternalServerErr:
		return "Internal Server Error"
	case CloseServiceRestart:
		return "Service Restart"
	case CloseTryAgainLater:
		return "Try Again Later"
	case CloseTLSHandshake:
		return "TLS Handshake"
	default:
		if cc >= 3000 && cc <= 4999 {
			return fmt.Sprintf("Application(%d)", uint16(cc))
		}
		return "Unknown"
	}
}

// Sendable reports whether the code may appear in a close frame.
//
// RFC 6455 Section 7.4.1/7.4.2: 1005, 1006, 1015 are for local use only,
// 1004 and 1016-2999 are unassigned, and codes below 1000 are unused.
func (cc CloseCode) Sendable() bool {
	switch {
	case cc >= CloseNormalClosure && cc <= CloseUnsupportedData:
		return true
	case cc >= CloseInvalidFramePayloadData && cc <= CloseTryAgainLater:
		return true
	case cc >= 3000 && cc <= 4999:
		return true
	default:
		return false
	}
}

// CloseReason is the structured body of a Close frame.
type CloseReason struct {
	Code        CloseCode
	Description string
}

// Error lets a received CloseReason travel as an error value.
func (r *CloseReason) Error() string {
	if r.Description == "" {
		return fmt.Sprintf("websocket: close %d (%s)", uint16(r.Code), r.Code)
	}
	return fmt.Sprintf("websocket: close %d (%s): %s", uint16(r.Code), r.Code, r.Description)
}

// Is makes errors.Is(err, ErrClosed) true for a received close.
func (r *CloseReason) Is(target error) bool {
	return target == ErrClosed
}

// appendPayload appends the close frame body: 2-byte code + UTF-8 reason.
func (r *CloseReason) appendPayload(dst []byte) ([]byte, error) {
	if !r.Code.Sendable() {
		return dst, fmt.Errorf("%w: %d", ErrInvalidCloseCode, uint16(r.Code))
	}
	if !utf8.ValidString(r.Description) {
		return dst, ErrInvalidUTF8
	}
	if 2+len(r.Description) > maxControlPayload {
		return dst, ErrControlTooLarge
	}

	dst = binary.BigEndian.AppendUint16(dst, uint16(r.Code))
	return append(dst, r.Description...), nil
}

// parseCloseReason parses a received close frame body.
//
// RFC 6455 Section 5.5.1:
//   - Empty body: no reason (nil, nil)
//   - 1 byte: protocol error
//   - Otherwise 2-byte code followed by UTF-8 reason
func parseCloseReason(payload []byte) (*CloseReason, error) {
	switch len(payload) {
	case 0:
		return nil, nil
	case 1:
		return nil, fmt.Errorf("%w: 1-byte close body", ErrInvalidCloseCode)
	}

	code := CloseCode(binary.BigEndian.Uint16(payload))
	if !code.Sendable() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCloseCode, uint16(code))
	}

	desc := payload[2:]
	if !utf8.Valid(desc) {
		return nil, ErrInvalidUTF8
	}

	return &CloseReason{Code: code, Description: string(desc)}, nil
}

// IsCloseError checks if error represents a WebSocket close.
//
// Returns true if a close frame was sent or received, false for network or
// protocol errors.
func IsCloseError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrClosed)
}

// CloseReasonOf extracts the peer's close reason from an error returned by
// Receiver.ReadFrame or Receiver.ReadMessage.
func CloseReasonOf(err error) (*CloseReason, bool) {
	var r *CloseReason
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
