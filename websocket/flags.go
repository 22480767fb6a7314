package websocket

// HeaderFlags holds the FIN and RSV bits of the first header byte, plus a
// request-to-mask marker in the low nibble.
//
// Byte 0 of a frame: FIN(1) RSV1(1) RSV2(1) RSV3(1) Opcode(4).
// FlagMasked shares the opcode nibble, so WriteInto clears it before the
// flags are combined with the opcode.
type HeaderFlags uint8

const (
	FlagFin    HeaderFlags = 0x80
	FlagRsv1   HeaderFlags = 0x40
	FlagRsv2   HeaderFlags = 0x20
	FlagRsv3   HeaderFlags = 0x10
	FlagMasked HeaderFlags = 0x08

	// flagRsvMask covers all three reserved bits.
	flagRsvMask = FlagRsv1 | FlagRsv2 | FlagRsv3
)

// Has reports whether all bits of f are set.
func (h HeaderFlags) Has(f HeaderFlags) bool {
	return h&f == f
}

// IsMasked reports whether the MASKED marker is set.
func (h HeaderFlags) IsMasked() bool {
	return h.Has(FlagMasked)
}

// Set returns h with f set or cleared.
func (h HeaderFlags) Set(f HeaderFlags, on bool) HeaderFlags {
	if on {
		return h | f
	}
	return h &^ f
}

// Rsv returns only the reserved bits.
func (h HeaderFlags) Rsv() HeaderFlags {
	return h & flagRsvMask
}
