package websocket

import (
	"fmt"
	"unicode/utf8"
)

// Codec turns Messages into frame bytes and received frames into Messages.
//
// Each half of a split connection holds its own Codec obtained through
// Clone, so implementations may keep per-half scratch state. A Codec is
// only ever used while its half holds the shared write guard or by the
// single reader, never concurrently.
type Codec interface {
	// Encode appends the encoded message to dst.
	// Failures are reported as *EncodeError.
	Encode(dst []byte, msg Message) ([]byte, error)

	// EncodeFrame appends a single frame with explicit flags to dst.
	EncodeFrame(dst []byte, flags HeaderFlags, op OpCode, payload []byte) ([]byte, error)

	// Decode converts a complete single-frame message into a Message.
	// Failures are reported as *DecodeError.
	Decode(f *Frame) (Message, error)

	// Clone returns an independent codec with the same configuration.
	Clone() Codec
}

// FrameCodec is the default Codec. Every message becomes one frame with
// FIN set; client frames are masked with a fresh key per frame.
type FrameCodec struct {
	maskKey      MaskKeySource
	maxFrameSize int64

	// scratch holds the copy of a payload that WriteInto masks in place,
	// so caller buffers are never modified.
	scratch []byte
}

// NewFrameCodec returns a client FrameCodec configured from cfg.
func NewFrameCodec(cfg Config) *FrameCodec {
	cfg = cfg.withDefaults()
	return &FrameCodec{
		maskKey:      cfg.MaskKey,
		maxFrameSize: cfg.MaxFrameSize,
	}
}

// Encode implements Codec.
func (c *FrameCodec) Encode(dst []byte, msg Message) ([]byte, error) {
	op, err := msg.Type.OpCode()
	if err != nil {
		return dst, &EncodeError{Type: msg.Type, Err: err}
	}

	if msg.Type == TextMessage && !utf8.Valid(msg.Data) {
		return dst, &EncodeError{Type: msg.Type, Err: ErrInvalidUTF8}
	}

	out, err := c.EncodeFrame(dst, FlagFin, op, msg.Data)
	if err != nil {
		return dst, &EncodeError{Type: msg.Type, Err: err}
	}
	return out, nil
}

// EncodeFrame implements Codec.
//
// Enforces:
//   - Control frames: FIN=1 and payload <= 125 bytes
//   - Data frames: payload <= MaxFrameSize
//   - A mask key source is configured
func (c *FrameCodec) EncodeFrame(dst []byte, flags HeaderFlags, op OpCode, payload []byte) ([]byte, error) {
	if op.IsControl() {
		if !flags.Has(FlagFin) {
			return dst, ErrControlFragmented
		}
		if len(payload) > maxControlPayload {
			return dst, ErrControlTooLarge
		}
	}

	if c.maxFrameSize > 0 && int64(len(payload)) > c.maxFrameSize {
		return dst, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	flags = flags.Set(FlagMasked, false)

	// RFC 6455 Section 5.3: Client frames are always masked.
	if c.maskKey == nil {
		return dst, ErrMaskKeyRequired
	}
	key, err := c.maskKey()
	if err != nil {
		return dst, err
	}

	c.scratch = append(c.scratch[:0], payload...)
	out := WriteInto(dst, flags|FlagMasked, op, c.scratch, key)
	if cap(c.scratch) > maxRetainedBuffer {
		c.scratch = nil
	}
	return out, nil
}

// Decode implements Codec.
func (c *FrameCodec) Decode(f *Frame) (Message, error) {
	op := f.Kind.OpCode()

	if !f.Fin || f.Kind == KindContinuation {
		return Message{}, &DecodeError{OpCode: op, Err: ErrFragmented}
	}

	// Payloads transformed by an extension are left to that extension.
	if f.Rsv != 0 {
		return Message{}, &DecodeError{OpCode: op, Err: ErrReservedBits}
	}

	switch f.Kind {
	case KindText:
		if !utf8.Valid(f.Payload) {
			return Message{}, &DecodeError{OpCode: op, Err: ErrInvalidUTF8}
		}
		return Message{Type: TextMessage, Data: f.Payload}, nil
	case KindBinary:
		return Message{Type: BinaryMessage, Data: f.Payload}, nil
	case KindPing:
		return Message{Type: PingMessage, Data: f.Payload}, nil
	case KindPong:
		return Message{Type: PongMessage, Data: f.Payload}, nil
	default:
		return Message{}, &DecodeError{OpCode: op, Err: ErrInvalidMessageType}
	}
}

// Clone implements Codec. The clone shares configuration but not scratch
// space.
func (c *FrameCodec) Clone() Codec {
	return &FrameCodec{
		maskKey:      c.maskKey,
		maxFrameSize: c.maxFrameSize,
	}
}
