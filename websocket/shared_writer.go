package websocket

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// maxRetainedBuffer caps the encode buffer kept between frames.
const maxRetainedBuffer = 64 * 1024

// ConnState is the connection-level lifecycle state.
type ConnState int32

const (
	// StateConnecting: the opening handshake has not completed.
	StateConnecting ConnState = iota

	// StateOpen: frames may flow in both directions.
	StateOpen

	// StateClosing: a Close frame was sent or received, but not both.
	StateClosing

	// StateClosed: the close handshake completed or the transport was released.
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WriterStats counts what went over the shared writer.
type WriterStats struct {
	Frames uint64
	Bytes  uint64
}

// sharedWriter is the outbound half of the transport, reachable from both
// the Transmitter and the Receiver.
//
// Holding the guard grants exclusive write access. A frame is encoded,
// written and flushed while the guard is held, so frames from different
// callers never interleave. The guard is a one-slot channel so that
// acquisition can be abandoned through a context without touching the wire.
//
// The transport is closed when the last holder calls release.
type sharedWriter struct {
	guard chan struct{}

	// Fields below are only touched while holding guard.
	bw  *bufio.Writer
	buf []byte
	err error

	_ cpu.CacheLinePad

	refs          atomic.Int32
	established   atomic.Bool
	closeSent     atomic.Bool
	closeReceived atomic.Bool
	released      atomic.Bool
	frames        atomic.Uint64
	bytes         atomic.Uint64

	closer    io.Closer
	closeOnce sync.Once
	closeErr  error
	logger    *slog.Logger
}

func newSharedWriter(w io.Writer, closer io.Closer, cfg Config, holders int32) *sharedWriter {
	sw := &sharedWriter{
		guard:  make(chan struct{}, 1),
		bw:     bufio.NewWriterSize(w, cfg.WriteBufferSize),
		buf:    make([]byte, 0, cfg.WriteBufferSize),
		closer: closer,
		logger: cfg.Logger,
	}
	sw.refs.Store(holders)
	return sw
}

// lock acquires the guard, or returns the context error without writing.
func (w *sharedWriter) lock(ctx context.Context) error {
	// A done context never wins against a free guard.
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case w.guard <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *sharedWriter) unlock() {
	<-w.guard
}

// do runs fn with exclusive access and flushes what fn buffered.
// A failed write or flush leaves the writer permanently broken.
func (w *sharedWriter) do(ctx context.Context, fn func() error) error {
	if w == nil {
		return ErrNotEstablished
	}
	if w.released.Load() {
		return ErrClosed
	}

	if err := w.lock(ctx); err != nil {
		return err
	}
	defer w.unlock()

	if w.err != nil {
		return w.err
	}

	fnErr := fn()

	// Frames buffered before a failure are complete and still go out.
	if w.bw.Buffered() > 0 && w.err == nil {
		if err := w.bw.Flush(); err != nil {
			w.fail(err)
			return fmt.Errorf("flush: %w", err)
		}
	}

	if cap(w.buf) > maxRetainedBuffer {
		w.buf = nil
	}

	return fnErr
}

// writeFrame buffers one complete encoded frame. Caller holds the guard.
func (w *sharedWriter) writeFrame(frame []byte) error {
	if _, err := w.bw.Write(frame); err != nil {
		w.fail(err)
		return fmt.Errorf("write frame: %w", err)
	}
	w.frames.Add(1)
	w.bytes.Add(uint64(len(frame)))
	return nil
}

// encodeAndWrite encodes with enc into the shared buffer and buffers it.
// Caller holds the guard. Encode errors leave the writer usable.
func (w *sharedWriter) encodeAndWrite(enc func(dst []byte) ([]byte, error)) error {
	out, err := enc(w.buf[:0])
	if err != nil {
		return err
	}
	w.buf = out
	return w.writeFrame(out)
}

func (w *sharedWriter) fail(err error) {
	w.err = fmt.Errorf("%w: %w", ErrWriteFailed, err)
	w.logger.Warn("websocket write failed", "error", err)
}

func (w *sharedWriter) state() ConnState {
	if w == nil || !w.established.Load() {
		return StateConnecting
	}
	if w.released.Load() {
		return StateClosed
	}

	sent, received := w.closeSent.Load(), w.closeReceived.Load()
	switch {
	case sent && received:
		return StateClosed
	case sent || received:
		return StateClosing
	default:
		return StateOpen
	}
}

func (w *sharedWriter) stats() WriterStats {
	if w == nil {
		return WriterStats{}
	}
	return WriterStats{Frames: w.frames.Load(), Bytes: w.bytes.Load()}
}

// release drops one holder. The last holder closes the transport.
func (w *sharedWriter) release() error {
	if w.refs.Add(-1) > 0 {
		return nil
	}

	w.closeOnce.Do(func() {
		w.released.Store(true)
		if w.closer != nil {
			w.closeErr = w.closer.Close()
		}
		w.logger.Debug("websocket transport closed", "error", w.closeErr)
	})
	return w.closeErr
}
