package websocket

import (
	"context"
	"encoding/json"
	"fmt"
)

// Transmitter is the sending half of a split connection.
//
// It is safe for concurrent use: every send acquires the write guard shared
// with the Receiver, writes one complete frame (or batch) and releases it.
// Order between concurrent callers is whoever acquires the guard first.
//
// A zero Transmitter is not connected and fails with ErrNotEstablished.
//
// Example Usage:
//
//	tx, rx, _, err := websocket.Client(ctx, websocket.Config{}, conn, req, nil, nil, nil)
//	if err != nil {
//	    return err
//	}
//	defer tx.Close()
//	defer rx.Close()
//
//	go readLoop(rx)
//	err = tx.SendText(ctx, "Hello, WebSocket!")
type Transmitter struct {
	half
}

// Send encodes msg with the transmitter's codec and writes it.
//
// Returns:
//   - context error if ctx ends before the guard is acquired (nothing written)
//   - *EncodeError for invalid messages (writer stays usable)
//   - ErrClosed after a Close frame was sent
//   - wrapped transport error; later writes fail with ErrWriteFailed
func (t *Transmitter) Send(ctx context.Context, msg Message) error {
	return t.send(ctx, msg)
}

// SendText writes a text message.
//
// Returns an error wrapping ErrInvalidUTF8 if text contains invalid UTF-8.
func (t *Transmitter) SendText(ctx context.Context, text string) error {
	return t.send(ctx, NewTextMessage(text))
}

// SendBinary writes a binary message.
func (t *Transmitter) SendBinary(ctx context.Context, data []byte) error {
	return t.send(ctx, NewBinaryMessage(data))
}

// SendJSON marshals v and writes it as a text message.
func (t *Transmitter) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return t.send(ctx, Message{Type: TextMessage, Data: data})
}

// Ping sends a ping frame (for keep-alive).
//
// Application data is optional (max 125 bytes per RFC 6455 Section 5.5).
// Peer should respond with Pong containing same application data.
func (t *Transmitter) Ping(ctx context.Context, data []byte) error {
	return t.send(ctx, NewPingMessage(data))
}

// Pong sends an unsolicited pong frame.
func (t *Transmitter) Pong(ctx context.Context, data []byte) error {
	return t.send(ctx, NewPongMessage(data))
}

// WriteFrame writes a single frame with explicit flags, e.g. one fragment
// of a message or a frame whose payload was transformed by the negotiated
// extension.
//
// RSV bits must be claimed by the negotiated extension. Close frames go
// through SendClose.
func (t *Transmitter) WriteFrame(ctx context.Context, flags HeaderFlags, op OpCode, payload []byte) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if op == OpClose {
		return fmt.Errorf("%w: use SendClose for close frames", ErrInvalidMessageType)
	}
	if rsv := flags.Rsv(); rsv&^t.extension.ReservedBits() != 0 || (rsv != 0 && op.IsControl()) {
		return ErrReservedBits
	}

	return t.writer.do(ctx, func() error {
		if t.writer.closeSent.Load() {
			return ErrClosed
		}
		return t.writer.encodeAndWrite(func(dst []byte) ([]byte, error) {
			return t.codec.EncodeFrame(dst, flags, op, payload)
		})
	})
}

// SendBatch writes every queued message while holding the write guard once,
// so the batch is contiguous on the wire. Sent messages are removed from b;
// on error, the failing message and those after it remain queued.
func (t *Transmitter) SendBatch(ctx context.Context, b *Batch) error {
	if err := t.checkOpen(); err != nil {
		return err
	}

	return t.writer.do(ctx, func() error {
		if t.writer.closeSent.Load() {
			return ErrClosed
		}
		for b.Len() > 0 {
			msg := b.peek()
			err := t.writer.encodeAndWrite(func(dst []byte) ([]byte, error) {
				return t.codec.Encode(dst, msg)
			})
			if err != nil {
				return err
			}
			b.pop()
		}
		return nil
	})
}

// SendClose sends a Close frame. A nil reason sends an empty body.
//
// RFC 6455 Section 5.5.1: After sending a Close frame, no more data frames
// are sent. Only one Close frame is sent per connection; later calls from
// either half return ErrClosed.
func (t *Transmitter) SendClose(ctx context.Context, reason *CloseReason) error {
	return t.sendClose(ctx, reason)
}

// Close releases the transmitter's hold on the transport. The transport is
// closed once the Receiver has been closed too. Close does not send a Close
// frame; see SendClose. Idempotent.
func (t *Transmitter) Close() error {
	return t.release()
}
