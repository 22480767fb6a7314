package websocket

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// Maximum payload sizes (implementation limits).
const (
	// maxControlPayload is the maximum payload length for control frames.
	// RFC 6455 Section 5.5: Control frames must have payload <= 125 bytes.
	maxControlPayload = 125

	// defaultMaxFrameSize is the default limit for data frame payloads (32 MB).
	defaultMaxFrameSize = 32 * 1024 * 1024

	// payloadChunk is the most a read allocates before payload bytes arrive.
	payloadChunk = 64 * 1024
)

// FrameKind identifies what a Frame carries.
type FrameKind uint8

const (
	KindContinuation FrameKind = iota
	KindText
	KindBinary
	KindClose
	KindPing
	KindPong
)

// String returns the kind name.
func (k FrameKind) String() string {
	return k.OpCode().String()
}

// OpCode returns the opcode that carries frames of this kind.
func (k FrameKind) OpCode() OpCode {
	switch k {
	case KindText:
		return OpText
	case KindBinary:
		return OpBinary
	case KindClose:
		return OpClose
	case KindPing:
		return OpPing
	case KindPong:
		return OpPong
	default:
		return OpContinuation
	}
}

func frameKindOf(op OpCode) FrameKind {
	switch op {
	case OpText:
		return KindText
	case OpBinary:
		return KindBinary
	case OpClose:
		return KindClose
	case OpPing:
		return KindPing
	case OpPong:
		return KindPong
	default:
		return KindContinuation
	}
}

// Frame is a single parsed WebSocket frame (RFC 6455 Section 5.2).
//
// Frame structure:
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-------+-+-------------+-------------------------------+
//	|F|R|R|R| opcode|M| Payload len |    Extended payload length    |
//	|I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
//	|N|V|V|V|       |S|             |   (if payload len==126/127)   |
//	| |1|2|3|       |K|             |                               |
//	+-+-+-+-+-------+-+-------------+ - - - - - - - - - - - - - - - +
//	|     Extended payload length continued, if payload len == 127  |
//	+ - - - - - - - - - - - - - - - +-------------------------------+
//	|                               |Masking-key, if MASK set to 1  |
//	+-------------------------------+-------------------------------+
//	| Masking-key (continued)       |          Payload Data         |
//	+-------------------------------- - - - - - - - - - - - - - - - +
//	:                     Payload Data continued ...                :
//	+---------------------------------------------------------------+
//
// A Frame is built right before it is written or right after it is read,
// and is not meant to be retained.
type Frame struct {
	Kind FrameKind

	// Fin is set on the final fragment of a message.
	Fin bool

	// Rsv holds the RSV bits claimed by the negotiated extension.
	Rsv HeaderFlags

	// Payload is unmasked application data. For Close frames it is the raw
	// body; Close holds the parsed form.
	Payload []byte

	// Close is the parsed body of a Close frame, nil when the body is empty.
	Close *CloseReason
}

// Role is the side of the connection an endpoint plays. It never changes
// for the lifetime of a connection.
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// readOptions carries the negotiated parameters the frame reader enforces.
type readOptions struct {
	role         Role
	maxFrameSize int64
	allowedRsv   HeaderFlags
}

// readFrame reads a WebSocket frame from the buffered reader.
//
// RFC 6455 Section 5.2: Base Framing Protocol.
//
// Steps:
//  1. Read 2-byte header (FIN, RSV, opcode, MASK, payload length)
//  2. Classify opcode; reserved opcodes are connection-fatal
//  3. Read extended payload length if needed (16-bit or 64-bit)
//  4. Read masking key if MASK=1 (servers only; clients reject it)
//  5. Read and unmask payload
//  6. Validate UTF-8 for text frames, parse close body
func readFrame(r *bufio.Reader, opts readOptions) (*Frame, error) {
	var hdr [maxHeaderSize]byte

	// Step 1: Read 2-byte header.
	if _, err := io.ReadFull(r, hdr[:2]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	flags := HeaderFlags(hdr[0]) &^ 0x0F
	masked := hdr[1]&0x80 != 0

	// Step 2: Classify opcode.
	op, err := ParseOpCode(hdr[0] & 0x0F)
	if err != nil {
		return nil, err
	}

	f := &Frame{
		Kind: frameKindOf(op),
		Fin:  flags.Has(FlagFin),
		Rsv:  flags.Rsv(),
	}

	// RFC 6455 Section 5.2: RSV bits reserved for extensions.
	allowed := opts.allowedRsv
	if op.IsControl() {
		allowed = 0
	}
	if f.Rsv&^allowed != 0 {
		return nil, ErrReservedBits
	}

	// RFC 6455 Section 5.5: Control frames must NOT be fragmented.
	if op.IsControl() && !f.Fin {
		return nil, ErrControlFragmented
	}

	// RFC 6455 Section 5.1: Masking direction depends on role.
	if masked && opts.role == RoleClient {
		return nil, ErrMaskUnexpected
	}

	// Step 3: Read payload length (7-bit, 16-bit, or 64-bit).
	payloadLen := uint64(hdr[1] & 0x7F)

	switch payloadLen {
	case payloadLen16Bit:
		if _, err := io.ReadFull(r, hdr[2:4]); err != nil {
			return nil, fmt.Errorf("read 16-bit length: %w", err)
		}
		payloadLen = uint64(binary.BigEndian.Uint16(hdr[2:4]))
	case payloadLen64Bit:
		if _, err := io.ReadFull(r, hdr[2:10]); err != nil {
			return nil, fmt.Errorf("read 64-bit length: %w", err)
		}
		payloadLen = binary.BigEndian.Uint64(hdr[2:10])
		// RFC 6455 Section 5.2: Most significant bit must be 0.
		if payloadLen&(1<<63) != 0 {
			return nil, ErrProtocolError
		}
	}

	if op.IsControl() && payloadLen > maxControlPayload {
		return nil, ErrControlTooLarge
	}

	if opts.maxFrameSize > 0 && payloadLen > uint64(opts.maxFrameSize) {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, payloadLen)
	}
	if payloadLen > math.MaxInt {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, payloadLen)
	}

	// Step 4: Read masking key if MASK=1.
	var mask uint32
	if masked {
		if _, err := io.ReadFull(r, hdr[10:14]); err != nil {
			return nil, fmt.Errorf("read mask: %w", err)
		}
		// Inverse of WriteInto: the key travels little-endian.
		mask = binary.LittleEndian.Uint32(hdr[10:14])
	}

	// Step 5: Read payload data.
	if payloadLen > 0 {
		if f.Payload, err = readPayload(r, int(payloadLen)); err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		if masked {
			ApplyMask(mask, f.Payload)
		}
	}

	// Step 6: Validate payload content.
	switch f.Kind {
	case KindText:
		// Fragments may split a code point; only whole frames are checked.
		if f.Fin && f.Rsv == 0 && !utf8.Valid(f.Payload) {
			return nil, ErrInvalidUTF8
		}
	case KindClose:
		reason, err := parseCloseReason(f.Payload)
		if err != nil {
			return nil, err
		}
		f.Close = reason
	}

	return f, nil
}

// readPayload reads exactly n bytes. Beyond payloadChunk the buffer grows
// with the bytes actually received, so a length the peer never sends costs
// nothing up front.
func readPayload(r io.Reader, n int) ([]byte, error) {
	if n <= payloadChunk {
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}

	buf := bytes.NewBuffer(make([]byte, 0, payloadChunk))
	if _, err := io.CopyN(buf, r, int64(n)); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf.Bytes(), nil
}
