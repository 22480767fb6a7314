package websocket

import (
	"errors"
	"fmt"
)

// Protocol error types defined by RFC 6455 Section 7.4.1.
//
// These are caused by bytes received from the peer and are connection-fatal.

var (
	// ErrProtocolError indicates a violation of the WebSocket protocol.
	// RFC 6455 Section 7.4.1: Status code 1002.
	//
	// Causes:
	//   - Reserved opcode
	//   - 64-bit length with the most significant bit set
	//   - Malformed close frame body
	ErrProtocolError = errors.New("websocket: protocol error")

	// ErrInvalidOpcode indicates a value outside the 4-bit opcode field.
	// The frame reader masks the field, so this is only seen from ParseOpCode
	// callers passing raw bytes.
	ErrInvalidOpcode = errors.New("websocket: invalid opcode")

	// ErrInvalidUTF8 indicates text frame contains invalid UTF-8.
	// RFC 6455 Section 8.1: Text frames must contain valid UTF-8.
	// Status code 1007.
	ErrInvalidUTF8 = errors.New("websocket: invalid UTF-8 in text frame")

	// ErrFrameTooLarge indicates frame exceeds Config.MaxFrameSize.
	// Implementation-specific limit (not defined in RFC).
	ErrFrameTooLarge = errors.New("websocket: frame too large")

	// ErrReservedBits indicates RSV1/RSV2/RSV3 bits are set that no
	// negotiated extension claims.
	// RFC 6455 Section 5.2: Reserved bits must be 0 unless extension negotiated.
	ErrReservedBits = errors.New("websocket: reserved bits must be 0")

	// ErrControlFragmented indicates a control frame with FIN=0.
	// RFC 6455 Section 5.5: Control frames must NOT be fragmented.
	ErrControlFragmented = errors.New("websocket: control frame must not be fragmented")

	// ErrControlTooLarge indicates control frame payload > 125 bytes.
	// RFC 6455 Section 5.5: Control frame payload length must be <= 125.
	ErrControlTooLarge = errors.New("websocket: control frame payload too large")

	// ErrMaskUnexpected indicates server frame with masking.
	// RFC 6455 Section 5.1: A client MUST close a connection if it detects a
	// masked frame.
	ErrMaskUnexpected = errors.New("websocket: server frames must not be masked")

	// ErrInvalidCloseCode indicates a close frame carrying a code that must
	// not appear on the wire (RFC 6455 Section 7.4.1), or a 1-byte body.
	ErrInvalidCloseCode = errors.New("websocket: invalid close code")
)

// Caller contract violations. No peer bytes are involved.

var (
	// ErrNotEstablished indicates a write on a handle that was not produced by
	// a completed handshake.
	ErrNotEstablished = errors.New("websocket: connection not established")

	// ErrMaskKeyRequired indicates a client-role codec without a mask key source.
	ErrMaskKeyRequired = errors.New("websocket: client frames require a mask key")

	// ErrInvalidMessageType indicates a message or frame kind the operation
	// cannot handle, e.g. decoding a Close frame into a Message.
	ErrInvalidMessageType = errors.New("websocket: invalid message type")

	// ErrFragmented is returned by Receiver.ReadMessage when the next data
	// frame is part of a fragmented message. Use Receiver.ReadFrame instead.
	ErrFragmented = errors.New("websocket: fragmented message")

	// ErrConcurrentRead is returned when a read is started on a Receiver
	// while another read on it is still in progress.
	ErrConcurrentRead = errors.New("websocket: concurrent read on receiver")
)

// Connection error types (runtime errors).

var (
	// ErrClosed indicates the connection is closing or closed.
	// Returned when sending data after a Close frame was sent or received,
	// or when using a released handle.
	ErrClosed = errors.New("websocket: connection closed")

	// ErrWriteFailed indicates an earlier write failed mid-frame.
	// The writer is unusable afterwards; partial frames are never retried.
	ErrWriteFailed = errors.New("websocket: writer broken by earlier failure")

	// ErrReadFailed indicates an earlier read was aborted mid-frame.
	ErrReadFailed = errors.New("websocket: reader broken by earlier failure")
)

// OpCodeError classifies an opcode value that is not defined by RFC 6455.
type OpCodeError struct {
	// Value is the offending opcode value.
	Value byte

	// Reserved is true for 0x3-0x7 and 0xB-0xF, false for values above 0xF.
	Reserved bool
}

func (e *OpCodeError) Error() string {
	if e.Reserved {
		return fmt.Sprintf("websocket: reserved opcode: 0x%X", e.Value)
	}
	return fmt.Sprintf("websocket: invalid opcode: 0x%X", e.Value)
}

// Unwrap maps reserved opcodes to ErrProtocolError and out-of-range values
// to ErrInvalidOpcode.
func (e *OpCodeError) Unwrap() error {
	if e.Reserved {
		return ErrProtocolError
	}
	return ErrInvalidOpcode
}

// EncodeError wraps a failure to turn a Message into frame bytes.
type EncodeError struct {
	Type MessageType
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("websocket: encode %s message: %v", e.Type, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError wraps a failure to turn a received frame into a Message.
type DecodeError struct {
	OpCode OpCode
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("websocket: decode %s frame: %v", e.OpCode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// HandshakeError describes a failed opening handshake.
type HandshakeError struct {
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return "websocket: handshake: " + e.Reason + ": " + e.Err.Error()
	}
	return "websocket: handshake: " + e.Reason
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// IsProtocolError reports whether err was caused by peer bytes that violate
// RFC 6455. The connection should be closed with CloseProtocolError.
func IsProtocolError(err error) bool {
	if err == nil {
		return false
	}

	var oe *OpCodeError
	if errors.As(err, &oe) {
		return true
	}

	return errors.Is(err, ErrProtocolError) ||
		errors.Is(err, ErrReservedBits) ||
		errors.Is(err, ErrControlFragmented) ||
		errors.Is(err, ErrControlTooLarge) ||
		errors.Is(err, ErrMaskUnexpected) ||
		errors.Is(err, ErrInvalidCloseCode)
}
