// Package websocket implements the client side framing layer of the RFC 6455
// WebSocket protocol.
//
// This package provides frame-level encoding and decoding plus a split
// connection model. It handles:
//   - Opcode classification (data, control, reserved, invalid)
//   - Client-to-server masking
//   - Payload length encoding (7-bit, 16-bit, 64-bit)
//   - A transmit half and a receive half sharing one transport
//
// The opening handshake is performed by ClientHandshake; multi-frame message
// reassembly is left to callers of Receiver.ReadFrame.
//
// RFC Reference: https://datatracker.ietf.org/doc/html/rfc6455
package websocket

import "fmt"

// Opcode values defined in RFC 6455 Section 5.2.
//
// Opcodes 0x0-0x2 are data frames, 0x8-0xA are control frames.
// Opcodes 0x3-0x7 and 0xB-0xF are reserved for future use.
const (
	// opcodeContinuation indicates a continuation frame (RFC 6455 Section 5.4).
	opcodeContinuation = 0x0

	// opcodeText indicates a text data frame (RFC 6455 Section 5.6).
	// Payload must be valid UTF-8.
	opcodeText = 0x1

	// opcodeBinary indicates a binary data frame (RFC 6455 Section 5.6).
	opcodeBinary = 0x2

	// opcodeClose indicates a close control frame (RFC 6455 Section 5.5.1).
	opcodeClose = 0x8

	// opcodePing indicates a ping control frame (RFC 6455 Section 5.5.2).
	opcodePing = 0x9

	// opcodePong indicates a pong control frame (RFC 6455 Section 5.5.3).
	opcodePong = 0xA

	// opcodeMax is the largest value representable in the 4-bit opcode field.
	opcodeMax = 0xF
)

// OpCode is a frame opcode that is known to be defined by RFC 6455.
//
// The zero value is OpContinuation. An OpCode can only be obtained from the
// package-level values or from ParseOpCode, so reserved and out-of-range
// values never exist as an OpCode.
type OpCode struct {
	code byte
}

// Defined opcodes.
var (
	OpContinuation = OpCode{opcodeContinuation}
	OpText         = OpCode{opcodeText}
	OpBinary       = OpCode{opcodeBinary}
	OpClose        = OpCode{opcodeClose}
	OpPing         = OpCode{opcodePing}
	OpPong         = OpCode{opcodePong}
)

// ParseOpCode converts the 4-bit opcode field of a frame header into an OpCode.
//
// Returns:
//   - *OpCodeError with Reserved=true for 0x3-0x7 and 0xB-0xF
//   - *OpCodeError with Reserved=false for values above 0xF
//
// A reserved opcode is a protocol violation; the connection must be failed.
func ParseOpCode(b byte) (OpCode, error) {
	switch b {
	case opcodeContinuation, opcodeText, opcodeBinary,
		opcodeClose, opcodePing, opcodePong:
		return OpCode{b}, nil
	}

	if b <= opcodeMax {
		return OpCode{}, &OpCodeError{Value: b, Reserved: true}
	}

	return OpCode{}, &OpCodeError{Value: b}
}

// Byte returns the wire value of the opcode.
func (op OpCode) Byte() byte {
	return op.code
}

// IsControl returns true for Close, Ping and Pong.
//
// RFC 6455 Section 5.5: Control frames are identified by opcodes where
// the most significant bit of the opcode is 1.
//
// Control frames:
//   - Must NOT be fragmented (FIN must be 1)
//   - May be interleaved with fragmented messages
//   - Payload length must be <= 125 bytes
func (op OpCode) IsControl() bool {
	return op.code&0x08 != 0
}

// IsData returns true for Continuation, Text and Binary.
func (op OpCode) IsData() bool {
	return !op.IsControl()
}

// String returns the opcode name.
func (op OpCode) String() string {
	switch op.code {
	case opcodeContinuation:
		return "Continuation"
	case opcodeText:
		return "Text"
	case opcodeBinary:
		return "Binary"
	case opcodeClose:
		return "Close"
	case opcodePing:
		return "Ping"
	case opcodePong:
		return "Pong"
	default:
		return fmt.Sprintf("OpCode(0x%X)", op.code)
	}
}
