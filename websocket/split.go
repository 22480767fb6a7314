package websocket

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Stream is a duplex byte stream, typically a net.Conn.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Client performs the opening handshake over stream and splits the upgraded
// connection into a Transmitter and a Receiver.
//
// Steps:
//  1. Run ClientHandshake; its error is returned as is
//  2. Split the stream into a read side and a write side
//  3. Put the write side behind a guard shared by both halves
//  4. Move the read side into the Receiver only
//  5. Give each half the role, negotiated extension and config
//
// A nil codec uses NewFrameCodec(cfg). The Transmitter gets a clone of the
// codec. Client owns stream from the call on: it is closed when the
// handshake fails, or when both halves have been closed.
//
// Returns the halves and the negotiated subprotocol ("" for none).
func Client(ctx context.Context, cfg Config, stream Stream, req *http.Request,
	codec Codec, ext ExtensionProvider, protocols *ProtocolRegistry,
) (*Transmitter, *Receiver, string, error) {
	cfg = cfg.withDefaults()

	if cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.HandshakeTimeout)
		defer cancel()
	}

	result, br, err := clientHandshake(ctx, stream, req, ext, protocols, cfg.ReadBufferSize)
	if err != nil {
		_ = stream.Close()
		return nil, nil, "", err
	}

	if codec == nil {
		codec = NewFrameCodec(cfg)
	}

	tx, rx := Split(cfg, stream, br, codec, result)
	return tx, rx, result.Subprotocol, nil
}

// Split builds the two halves of an already upgraded connection.
//
// br must be the reader that consumed the handshake response, or nil to
// read from stream directly. Use Client unless the handshake was performed
// elsewhere.
func Split(cfg Config, stream Stream, br *bufio.Reader, codec Codec, result HandshakeResult) (*Transmitter, *Receiver) {
	cfg = cfg.withDefaults()
	if br == nil {
		br = bufio.NewReaderSize(stream, cfg.ReadBufferSize)
	}
	if codec == nil {
		codec = NewFrameCodec(cfg)
	}

	logger := cfg.Logger.With(
		"role", RoleClient,
		"subprotocol", result.Subprotocol,
		"extension", result.Extension,
	)
	cfg.Logger = logger

	writer := newSharedWriter(stream, stream, cfg, 2)
	writer.established.Store(true)

	tx := &Transmitter{
		half: half{
			writer:    writer,
			codec:     codec.Clone(),
			role:      RoleClient,
			extension: result.Extension,
			config:    cfg,
			protocol:  result.Subprotocol,
		},
	}

	rx := &Receiver{
		half: half{
			writer:    writer,
			codec:     codec,
			role:      RoleClient,
			extension: result.Extension,
			config:    cfg,
			protocol:  result.Subprotocol,
		},
		reader: br,
		stream: stream,
		busy:   make(chan struct{}, 1),
	}

	logger.Debug("websocket connection split")
	return tx, rx
}

// half holds what both the Transmitter and the Receiver need to encode
// frames consistently with the negotiated parameters.
type half struct {
	writer    *sharedWriter
	codec     Codec
	role      Role
	extension NegotiatedExtension
	config    Config
	protocol  string
	closed    atomic.Bool
}

func (h *half) checkOpen() error {
	if h.writer == nil {
		return ErrNotEstablished
	}
	if h.closed.Load() {
		return ErrClosed
	}
	return nil
}

// send encodes msg and writes it as one unit.
func (h *half) send(ctx context.Context, msg Message) error {
	if err := h.checkOpen(); err != nil {
		return err
	}

	return h.writer.do(ctx, func() error {
		if h.writer.closeSent.Load() {
			return ErrClosed
		}
		return h.writer.encodeAndWrite(func(dst []byte) ([]byte, error) {
			return h.codec.Encode(dst, msg)
		})
	})
}

// sendClose writes a Close frame once per connection.
func (h *half) sendClose(ctx context.Context, reason *CloseReason) error {
	if err := h.checkOpen(); err != nil {
		return err
	}

	var payload []byte
	if reason != nil {
		var err error
		if payload, err = reason.appendPayload(make([]byte, 0, maxControlPayload)); err != nil {
			return err
		}
	}

	err := h.writer.do(ctx, func() error {
		if h.writer.closeSent.Load() {
			return ErrClosed
		}
		err := h.writer.encodeAndWrite(func(dst []byte) ([]byte, error) {
			return h.codec.EncodeFrame(dst, FlagFin, OpClose, payload)
		})
		if err == nil {
			h.writer.closeSent.Store(true)
		}
		return err
	})
	if err == nil {
		h.logger().Debug("websocket close sent", "state", h.writer.state())
	}
	return err
}

func (h *half) release() error {
	if h.writer == nil {
		return nil
	}
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return h.writer.release()
}

func (h *half) logger() *slog.Logger {
	if h.config.Logger == nil {
		return slog.Default()
	}
	return h.config.Logger
}

// State returns the connection state shared by both halves.
func (h *half) State() ConnState {
	return h.writer.state()
}

// Stats returns counters for the shared writer.
func (h *half) Stats() WriterStats {
	return h.writer.stats()
}

// Subprotocol returns the negotiated subprotocol, empty for none.
func (h *half) Subprotocol() string {
	return h.protocol
}

// Extension returns the negotiated extension state.
func (h *half) Extension() NegotiatedExtension {
	return h.extension
}

// Role returns the endpoint role, always RoleClient for halves built here.
func (h *half) Role() Role {
	return h.role
}
