package websocket

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// ApplyMask applies the WebSocket masking algorithm to b in place.
//
// RFC 6455 Section 5.3: Client-to-Server Masking.
//
// Algorithm:
//
//	transformed-octet-i = original-octet-i XOR masking-key-octet-j
//	where j = i MOD 4
//
// The masking key octets are mask in big-endian order. Applying the same
// mask twice restores the original bytes.
//
// Payloads are processed eight bytes at a time; the result is identical to
// the per-byte rule above.
func ApplyMask(mask uint32, b []byte) {
	var key [8]byte
	binary.BigEndian.PutUint32(key[:4], mask)
	copy(key[4:], key[:4])

	n := len(b) &^ 7
	if n > 0 {
		k := binary.LittleEndian.Uint64(key[:])
		for i := 0; i < n; i += 8 {
			binary.LittleEndian.PutUint64(b[i:], binary.LittleEndian.Uint64(b[i:])^k)
		}
	}

	// i is a multiple of 8 at n, so the key phase continues at i&3.
	for i := n; i < len(b); i++ {
		b[i] ^= key[i&3]
	}
}

// MaskKeySource produces a fresh masking key for each client frame.
//
// RFC 6455 Section 5.3: The masking key MUST be derived from a strong source
// of entropy and be unpredictable per frame.
type MaskKeySource func() (uint32, error)

// RandomMaskKey is the default MaskKeySource, backed by crypto/rand.
func RandomMaskKey() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("generate mask key: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
