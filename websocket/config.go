package websocket

import (
	"crypto/tls"
	"log/slog"
	"time"
)

// Default buffer sizes for WebSocket connections.
const (
	defaultReadBufferSize  = 4096
	defaultWriteBufferSize = 4096
)

// Config configures a client connection.
//
// All fields are optional. Zero values use sensible defaults.
type Config struct {
	// ReadBufferSize sets size of the receive half's read buffer (default: 4096).
	ReadBufferSize int

	// WriteBufferSize sets the initial capacity of the shared encode buffer
	// (default: 4096). The buffer grows for larger frames.
	WriteBufferSize int

	// MaxFrameSize limits the payload of a single frame in both directions
	// (default: 32 MB). Negative disables the limit.
	MaxFrameSize int64

	// HandshakeTimeout bounds the opening handshake. Zero means no limit
	// beyond the context passed to Client or Dial.
	HandshakeTimeout time.Duration

	// TLSConfig is used by Dial for wss:// URLs.
	TLSConfig *tls.Config

	// MaskKey supplies the masking key for each outbound frame
	// (default: RandomMaskKey). The key is sent little-endian and applied
	// with its big-endian octets; peers that unmask with the octets as sent
	// need a byte-palindromic key.
	MaskKey MaskKeySource

	// Logger receives connection lifecycle events (default: slog.Default()).
	Logger *slog.Logger
}

// withDefaults returns a copy of c with zero fields filled in.
func (c Config) withDefaults() Config {
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = defaultReadBufferSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = defaultWriteBufferSize
	}
	switch {
	case c.MaxFrameSize == 0:
		c.MaxFrameSize = defaultMaxFrameSize
	case c.MaxFrameSize < 0:
		c.MaxFrameSize = 0
	}
	if c.MaskKey == nil {
		c.MaskKey = RandomMaskKey
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
