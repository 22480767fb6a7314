package websocket

import "encoding/binary"

// Payload length encoding thresholds (RFC 6455 Section 5.2).
const (
	payloadLen7Bit  = 125 // 0-125: stored in 7 bits
	payloadLen16Bit = 126 // 126: followed by 16-bit length
	payloadLen64Bit = 127 // 127: followed by 64-bit length

	maxPayload16Bit = 0xFFFF

	// maxHeaderSize is 2 header bytes, 8 length bytes and 4 mask bytes.
	maxHeaderSize = 14
)

// WriteInto appends one frame to dst and returns the extended slice.
//
// RFC 6455 Section 5.2: Base Framing Protocol.
//
//	byte0: [FIN|RSV1|RSV2|RSV3|opcode(4 bits)]
//	byte1: [MASK(1 bit)|payload_len(7 bits)]
//	  if payload_len == 126: next 2 bytes = length (big-endian u16)
//	  if payload_len == 127: next 8 bytes = length (big-endian u64)
//	  if MASK: next 4 bytes = masking key (little-endian u32)
//	payload bytes
//
// When flags carries FlagMasked the marker is cleared, payload is masked in
// place with mask exactly once, and the key follows the length field as a
// little-endian u32. ApplyMask takes the key octets in big-endian order, so
// a peer that XORs with the octets as read only unmasks correctly when the
// key is byte-palindromic, such as 0xA55A5AA5.
// Otherwise mask is ignored and payload is not modified.
//
// WriteInto never fails. The caller supplies a defined opcode, and a mask
// key whenever FlagMasked is set.
func WriteInto(dst []byte, flags HeaderFlags, op OpCode, payload []byte, mask uint32) []byte {
	masked := flags.IsMasked()

	var second byte
	offset := 2
	if masked {
		flags = flags.Set(FlagMasked, false)
		ApplyMask(mask, payload)
		second = 0x80
		offset = 6
	}

	length := len(payload)
	switch {
	case length > maxPayload16Bit:
		offset += 8
	case length > payloadLen7Bit:
		offset += 2
	}

	dst = grow(dst, offset+length)
	first := byte(flags) | op.Byte()

	switch {
	case length <= payloadLen7Bit:
		dst = append(dst, first, second|byte(length))
	case length <= maxPayload16Bit:
		dst = append(dst, first, second|payloadLen16Bit)
		dst = binary.BigEndian.AppendUint16(dst, uint16(length))
	default:
		dst = append(dst, first, second|payloadLen64Bit)
		dst = binary.BigEndian.AppendUint64(dst, uint64(length))
	}

	if masked {
		dst = binary.LittleEndian.AppendUint32(dst, mask)
	}

	return append(dst, payload...)
}

// frameSize returns the encoded size of a frame with the given payload length.
func frameSize(length int, masked bool) int {
	n := 2 + length
	switch {
	case length > maxPayload16Bit:
		n += 8
	case length > payloadLen7Bit:
		n += 2
	}
	if masked {
		n += 4
	}
	return n
}

// grow ensures dst has room for n more bytes without changing its length.
func grow(dst []byte, n int) []byte {
	if cap(dst)-len(dst) >= n {
		return dst
	}
	out := make([]byte, len(dst), len(dst)+n)
	copy(out, dst)
	return out
}
