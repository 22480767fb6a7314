package websocket

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"time"
)

// Receiver is the receiving half of a split connection.
//
// It exclusively owns the read side of the transport. Reads are sequential:
// ReadFrame and ReadMessage must not be called concurrently. The Receiver
// can still write control frames (Pong, Close) through the write guard it
// shares with the Transmitter.
type Receiver struct {
	half

	reader *bufio.Reader
	stream Stream

	// busy has one slot, held for the duration of a read.
	busy    chan struct{}
	readErr error
}

// readDeadliner is implemented by net.Conn.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// ReadFrame reads the next frame.
//
// Validates per RFC 6455 Section 5: reserved opcodes, RSV bits not claimed
// by the negotiated extension, fragmented or oversized control frames and
// masked server frames are protocol errors (see IsProtocolError).
//
// A Close frame is returned as a frame and moves the connection to Closing.
//
// If ctx ends during a read and the stream supports read deadlines, the read
// is interrupted. Any read error leaves the Receiver unusable: subsequent
// calls fail with ErrReadFailed, since part of a frame may have been
// consumed.
func (r *Receiver) ReadFrame(ctx context.Context) (*Frame, error) {
	if r.reader == nil {
		return nil, ErrNotEstablished
	}
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !r.enter() {
		return nil, ErrConcurrentRead
	}
	defer r.leave()

	if r.readErr != nil {
		return nil, r.readErr
	}

	stop := r.watchRead(ctx)
	f, err := readFrame(r.reader, readOptions{
		role:         r.role,
		maxFrameSize: r.config.MaxFrameSize,
		allowedRsv:   r.extension.ReservedBits(),
	})
	stop()

	if err != nil {
		err = contextCause(ctx, err)
		r.readErr = fmt.Errorf("%w: %w", ErrReadFailed, err)
		if IsProtocolError(err) {
			r.logger().Debug("websocket protocol violation", "error", err)
		}
		return nil, err
	}

	if f.Kind == KindClose {
		r.writer.closeReceived.Store(true)
		r.logger().Debug("websocket close received",
			"code", closeCodeOf(f.Close), "state", r.writer.state())
	}

	return f, nil
}

// ReadMessage reads the next single-frame message.
//
// Control frames are handled while reading, the way a read loop would:
//   - Ping: a Pong with the same payload is sent through the write guard
//   - Pong: skipped
//   - Close: the Close is echoed (if none was sent yet) and the peer's
//     *CloseReason is returned as the error, or ErrClosed for an empty body
//
// A fragmented data frame returns ErrFragmented; reassembly belongs to the
// caller, using ReadFrame.
func (r *Receiver) ReadMessage(ctx context.Context) (Message, error) {
	for {
		f, err := r.ReadFrame(ctx)
		if err != nil {
			return Message{}, err
		}

		switch f.Kind {
		case KindPing:
			if err := r.Pong(ctx, f.Payload); err != nil && !errors.Is(err, ErrClosed) {
				return Message{}, err
			}
			continue
		case KindPong:
			continue
		case KindClose:
			return Message{}, r.answerClose(ctx, f.Close)
		}

		msg, err := r.codec.Decode(f)
		if err != nil {
			if errors.Is(err, ErrFragmented) {
				return Message{}, ErrFragmented
			}
			return Message{}, err
		}
		return msg, nil
	}
}

// answerClose echoes the peer's close code and returns the close as an error.
func (r *Receiver) answerClose(ctx context.Context, reason *CloseReason) error {
	var echo *CloseReason
	if reason != nil {
		echo = &CloseReason{Code: reason.Code}
	}

	if err := r.sendClose(ctx, echo); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}

	if reason != nil {
		return reason
	}
	return ErrClosed
}

// Pong sends a pong frame without going through the Transmitter.
//
// RFC 6455 Section 5.5.3: Response to ping frame with identical payload.
func (r *Receiver) Pong(ctx context.Context, data []byte) error {
	return r.send(ctx, NewPongMessage(data))
}

// SendClose sends a Close frame through the shared writer.
// See Transmitter.SendClose.
func (r *Receiver) SendClose(ctx context.Context, reason *CloseReason) error {
	return r.sendClose(ctx, reason)
}

// Close releases the receiver's hold on the transport. The transport is
// closed once the Transmitter has been closed too. Idempotent.
func (r *Receiver) Close() error {
	return r.release()
}

// enter marks a read in progress; it fails if one already is.
func (r *Receiver) enter() bool {
	select {
	case r.busy <- struct{}{}:
		return true
	default:
		return false
	}
}

func (r *Receiver) leave() {
	<-r.busy
}

// watchRead interrupts a blocked read when ctx ends.
func (r *Receiver) watchRead(ctx context.Context) func() {
	d, ok := r.stream.(readDeadliner)
	if !ok || ctx.Done() == nil {
		return func() {}
	}

	return watchDeadline(ctx, d.SetReadDeadline)
}

func closeCodeOf(r *CloseReason) CloseCode {
	if r == nil {
		return CloseNoStatusReceived
	}
	return r.Code
}
