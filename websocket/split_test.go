package websocket

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// captureStream records everything written and serves reads from in.
type captureStream struct {
	mu       sync.Mutex
	out      bytes.Buffer
	in       io.Reader
	writeErr error
	closes   int
}

func (s *captureStream) Read(p []byte) (int, error) {
	if s.in == nil {
		return 0, io.EOF
	}
	return s.in.Read(p)
}

func (s *captureStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.out.Write(p)
}

func (s *captureStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *captureStream) written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.out.Bytes()...)
}

func (s *captureStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func testConfig() Config {
	return Config{
		MaskKey: fixedMask(0x0BADF00D),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newTestSplit(stream Stream) (*Transmitter, *Receiver) {
	return Split(testConfig(), stream, nil, nil, HandshakeResult{Subprotocol: "chat"})
}

// parseFrames reads every frame in data the way a server would.
func parseFrames(t *testing.T, data []byte) []*Frame {
	t.Helper()

	r := bufio.NewReader(bytes.NewReader(data))
	var frames []*Frame
	for {
		f, err := readFrame(r, readOptions{role: RoleServer, allowedRsv: flagRsvMask})
		if errors.Is(err, io.EOF) {
			return frames
		}
		if err != nil {
			t.Fatalf("frame %d: %v", len(frames), err)
		}
		frames = append(frames, f)
	}
}

func TestTransmitter_SendText(t *testing.T) {
	stream := &captureStream{}
	tx, rx := newTestSplit(stream)
	defer rx.Close()
	defer tx.Close()

	if err := tx.SendText(context.Background(), "hello"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}

	wire := stream.written()
	if wire[1]&0x80 == 0 {
		t.Error("client frame not masked")
	}

	frames := parseFrames(t, wire)
	if len(frames) != 1 || frames[0].Kind != KindText || string(frames[0].Payload) != "hello" {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestTransmitter_SendVariants(t *testing.T) {
	stream := &captureStream{}
	tx, _ := newTestSplit(stream)
	ctx := context.Background()

	if err := tx.SendBinary(ctx, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := tx.SendJSON(ctx, map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Ping(ctx, []byte("p")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Pong(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if err := tx.Send(ctx, NewTextMessage("t")); err != nil {
		t.Fatal(err)
	}

	frames := parseFrames(t, stream.written())
	want := []FrameKind{KindBinary, KindText, KindPing, KindPong, KindText}
	if len(frames) != len(want) {
		t.Fatalf("got %d frames, want %d", len(frames), len(want))
	}
	for i, k := range want {
		if frames[i].Kind != k {
			t.Errorf("frame %d: kind = %v, want %v", i, frames[i].Kind, k)
		}
	}
	if string(frames[1].Payload) != `{"n":1}` {
		t.Errorf("JSON payload = %q", frames[1].Payload)
	}

	if err := tx.SendJSON(ctx, make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
}

// TestTransmitter_ConcurrentSends tests frames from concurrent senders on
// both halves never interleave.
func TestTransmitter_ConcurrentSends(t *testing.T) {
	stream := &captureStream{}
	tx, rx := newTestSplit(stream)
	ctx := context.Background()

	const (
		senders = 8
		perSend = 50
	)

	var wg sync.WaitGroup
	for g := 0; g < senders; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perSend; i++ {
				// Some payloads exceed the write buffer.
				msg := fmt.Sprintf("g%d-%d:", g, i) + strings.Repeat("x", (i%5)*2000)
				if err := tx.SendText(ctx, msg); err != nil {
					t.Errorf("SendText: %v", err)
					return
				}
			}
		}(g)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < perSend; i++ {
			if err := rx.Pong(ctx, []byte(fmt.Sprintf("pong-%d", i))); err != nil {
				t.Errorf("Pong: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	frames := parseFrames(t, stream.written())
	if len(frames) != senders*perSend+perSend {
		t.Fatalf("got %d frames, want %d", len(frames), senders*perSend+perSend)
	}

	next := make(map[int]int)
	pongs := 0
	for _, f := range frames {
		if f.Kind == KindPong {
			if want := fmt.Sprintf("pong-%d", pongs); string(f.Payload) != want {
				t.Errorf("pong payload = %q, want %q", f.Payload, want)
			}
			pongs++
			continue
		}

		var g, i int
		if _, err := fmt.Sscanf(string(f.Payload), "g%d-%d:", &g, &i); err != nil {
			t.Fatalf("corrupt payload %.20q: %v", f.Payload, err)
		}
		if i != next[g] {
			t.Errorf("sender %d: got message %d, want %d", g, i, next[g])
		}
		next[g] = i + 1
		if want := (i % 5) * 2000; strings.Count(string(f.Payload), "x") != want {
			t.Errorf("sender %d message %d: payload corrupted", g, i)
		}
	}

	stats := tx.Stats()
	if stats.Frames != uint64(len(frames)) || stats.Bytes != uint64(len(stream.written())) {
		t.Errorf("stats = %+v, frames %d bytes %d", stats, len(frames), len(stream.written()))
	}
}

// TestSplit_RefcountedClose tests the transport closes only after both
// halves are closed.
func TestSplit_RefcountedClose(t *testing.T) {
	stream := &captureStream{}
	tx, rx := newTestSplit(stream)

	if err := tx.Close(); err != nil {
		t.Fatalf("tx.Close: %v", err)
	}
	if stream.closeCount() != 0 {
		t.Fatal("transport closed while receiver still holds it")
	}
	if tx.State() != StateOpen {
		t.Errorf("state = %v, want open", tx.State())
	}

	// The receiver can still write control frames.
	if err := rx.Pong(context.Background(), nil); err != nil {
		t.Errorf("rx.Pong after tx.Close: %v", err)
	}

	if err := rx.Close(); err != nil {
		t.Fatalf("rx.Close: %v", err)
	}
	if stream.closeCount() != 1 {
		t.Fatalf("transport closed %d times, want 1", stream.closeCount())
	}

	_ = tx.Close()
	_ = rx.Close()
	if stream.closeCount() != 1 {
		t.Errorf("transport closed %d times after repeated Close", stream.closeCount())
	}

	if rx.State() != StateClosed {
		t.Errorf("state = %v, want closed", rx.State())
	}
	if err := tx.SendText(context.Background(), "late"); !errors.Is(err, ErrClosed) {
		t.Errorf("send after close: %v", err)
	}
	if _, err := rx.ReadFrame(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("read after close: %v", err)
	}
}

// TestSplit_NotEstablished tests zero halves refuse every operation.
func TestSplit_NotEstablished(t *testing.T) {
	var tx Transmitter
	var rx Receiver
	ctx := context.Background()

	if err := tx.SendText(ctx, "x"); !errors.Is(err, ErrNotEstablished) {
		t.Errorf("SendText = %v", err)
	}
	if err := tx.WriteFrame(ctx, FlagFin, OpText, nil); !errors.Is(err, ErrNotEstablished) {
		t.Errorf("WriteFrame = %v", err)
	}
	if err := tx.SendBatch(ctx, NewBatch(NewTextMessage("x"))); !errors.Is(err, ErrNotEstablished) {
		t.Errorf("SendBatch = %v", err)
	}
	if err := tx.SendClose(ctx, nil); !errors.Is(err, ErrNotEstablished) {
		t.Errorf("SendClose = %v", err)
	}
	if _, err := rx.ReadFrame(ctx); !errors.Is(err, ErrNotEstablished) {
		t.Errorf("ReadFrame = %v", err)
	}
	if err := rx.Pong(ctx, nil); !errors.Is(err, ErrNotEstablished) {
		t.Errorf("Pong = %v", err)
	}
	if tx.State() != StateConnecting {
		t.Errorf("State = %v, want connecting", tx.State())
	}
	if err := tx.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}

// TestTransmitter_CancelledContext tests a done context writes nothing.
func TestTransmitter_CancelledContext(t *testing.T) {
	stream := &captureStream{}
	tx, _ := newTestSplit(stream)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := tx.SendText(ctx, "never"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(stream.written()) != 0 {
		t.Errorf("wrote %d bytes with cancelled context", len(stream.written()))
	}
}

// TestTransmitter_GuardWaitCancelled tests waiting for a held guard can be
// abandoned without touching the wire.
func TestTransmitter_GuardWaitCancelled(t *testing.T) {
	stream := &captureStream{}
	tx, _ := newTestSplit(stream)

	// Hold the guard as another writer would.
	tx.writer.guard <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := tx.SendText(ctx, "blocked"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}

	tx.writer.unlock()

	if len(stream.written()) != 0 {
		t.Error("abandoned send reached the wire")
	}
	if err := tx.SendText(context.Background(), "after"); err != nil {
		t.Errorf("send after abandoned wait: %v", err)
	}
}

// TestTransmitter_StickyWriteError tests a transport failure breaks the
// shared writer for both halves.
func TestTransmitter_StickyWriteError(t *testing.T) {
	boom := errors.New("connection reset")
	stream := &captureStream{writeErr: boom}
	tx, rx := newTestSplit(stream)
	ctx := context.Background()

	if err := tx.SendText(ctx, "first"); !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}

	stream.mu.Lock()
	stream.writeErr = nil
	stream.mu.Unlock()

	if err := tx.SendText(ctx, "second"); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("tx after failure: %v", err)
	}
	if err := rx.Pong(ctx, nil); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("rx after failure: %v", err)
	}
	if len(stream.written()) != 0 {
		t.Error("broken writer wrote bytes")
	}
}

// TestTransmitter_EncodeErrorRecoverable tests invalid messages leave the
// writer usable.
func TestTransmitter_EncodeErrorRecoverable(t *testing.T) {
	stream := &captureStream{}
	tx, _ := newTestSplit(stream)
	ctx := context.Background()

	err := tx.SendText(ctx, "\xff\xfe")
	var ee *EncodeError
	if !errors.As(err, &ee) || !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("expected EncodeError(ErrInvalidUTF8), got %v", err)
	}

	if err := tx.Ping(ctx, make([]byte, 126)); !errors.Is(err, ErrControlTooLarge) {
		t.Errorf("oversized ping: %v", err)
	}

	if err := tx.SendText(ctx, "ok"); err != nil {
		t.Fatalf("send after encode error: %v", err)
	}
	if frames := parseFrames(t, stream.written()); len(frames) != 1 {
		t.Errorf("got %d frames, want 1", len(frames))
	}
}

// TestSplit_SendCloseOnce tests one Close frame per connection.
// RFC 6455 Section 5.5.1: No data frames after a Close frame.
func TestSplit_SendCloseOnce(t *testing.T) {
	stream := &captureStream{}
	tx, rx := newTestSplit(stream)
	ctx := context.Background()

	if err := tx.SendClose(ctx, &CloseReason{Code: CloseNormalClosure, Description: "bye"}); err != nil {
		t.Fatalf("SendClose: %v", err)
	}
	if tx.State() != StateClosing {
		t.Errorf("state = %v, want closing", tx.State())
	}

	if err := rx.SendClose(ctx, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("second SendClose: %v", err)
	}
	if err := tx.SendText(ctx, "late"); !errors.Is(err, ErrClosed) {
		t.Errorf("SendText after close: %v", err)
	}
	if err := tx.WriteFrame(ctx, FlagFin, OpBinary, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("WriteFrame after close: %v", err)
	}

	frames := parseFrames(t, stream.written())
	if len(frames) != 1 || frames[0].Kind != KindClose {
		t.Fatalf("frames = %+v", frames)
	}
	if c := frames[0].Close; c == nil || c.Code != CloseNormalClosure || c.Description != "bye" {
		t.Errorf("close = %+v", frames[0].Close)
	}
}

func TestSplit_SendCloseInvalidReason(t *testing.T) {
	stream := &captureStream{}
	tx, _ := newTestSplit(stream)

	if err := tx.SendClose(context.Background(), &CloseReason{Code: CloseNoStatusReceived}); !errors.Is(err, ErrInvalidCloseCode) {
		t.Errorf("expected ErrInvalidCloseCode, got %v", err)
	}
	if tx.State() != StateOpen {
		t.Errorf("state = %v, want open", tx.State())
	}
}

// TestTransmitter_SendBatch tests a batch stays contiguous next to
// concurrent single sends.
func TestTransmitter_SendBatch(t *testing.T) {
	stream := &captureStream{}
	tx, _ := newTestSplit(stream)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = tx.SendText(ctx, "single")
		}
	}()

	for i := 0; i < 10; i++ {
		b := NewBatch()
		for j := 0; j < 5; j++ {
			b.Add(NewTextMessage(fmt.Sprintf("batch-%d-%d", i, j)))
		}
		if err := tx.SendBatch(ctx, b); err != nil {
			t.Fatalf("SendBatch: %v", err)
		}
		if b.Len() != 0 {
			t.Errorf("batch left %d messages", b.Len())
		}
	}
	wg.Wait()

	frames := parseFrames(t, stream.written())
	for i := 0; i < len(frames); i++ {
		p := string(frames[i].Payload)
		if !strings.HasSuffix(p, "-0") || !strings.HasPrefix(p, "batch-") {
			continue
		}
		if i+5 > len(frames) {
			t.Fatalf("batch %q truncated", p)
		}
		prefix := strings.TrimSuffix(p, "0")
		for j := 1; j < 5; j++ {
			if got := string(frames[i+j].Payload); got != fmt.Sprintf("%s%d", prefix, j) {
				t.Fatalf("batch interrupted: frame %d = %q", i+j, got)
			}
		}
	}
}

// TestTransmitter_SendBatchPartial tests a failing message stays queued.
func TestTransmitter_SendBatchPartial(t *testing.T) {
	stream := &captureStream{}
	tx, _ := newTestSplit(stream)

	b := NewBatch(
		NewTextMessage("one"),
		Message{Type: TextMessage, Data: []byte{0xFF}},
		NewTextMessage("three"),
	)

	err := tx.SendBatch(context.Background(), b)
	if !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("expected ErrInvalidUTF8, got %v", err)
	}
	if b.Len() != 2 {
		t.Errorf("Len = %d, want 2", b.Len())
	}
	if frames := parseFrames(t, stream.written()); len(frames) != 1 {
		t.Errorf("got %d frames on wire, want 1", len(frames))
	}
}

func TestBatch_ZeroValue(t *testing.T) {
	var b Batch
	if b.Len() != 0 {
		t.Errorf("zero batch Len = %d", b.Len())
	}
	b.Add(NewTextMessage("a"))
	b.Add(NewTextMessage("b"))
	if b.Len() != 2 || b.peek().Text() != "a" {
		t.Errorf("FIFO order broken")
	}
	b.pop()
	if b.peek().Text() != "b" {
		t.Errorf("FIFO order broken after pop")
	}

	var nilBatch *Batch
	if nilBatch.Len() != 0 {
		t.Error("nil batch Len != 0")
	}
}

// TestTransmitter_WriteFrame tests fragments and RSV policing.
func TestTransmitter_WriteFrame(t *testing.T) {
	stream := &captureStream{}
	tx, _ := newTestSplit(stream)
	ctx := context.Background()

	if err := tx.WriteFrame(ctx, 0, OpText, []byte("hel")); err != nil {
		t.Fatal(err)
	}
	if err := tx.WriteFrame(ctx, FlagFin, OpContinuation, []byte("lo")); err != nil {
		t.Fatal(err)
	}

	if err := tx.WriteFrame(ctx, FlagFin|FlagRsv1, OpBinary, nil); !errors.Is(err, ErrReservedBits) {
		t.Errorf("RSV1 without extension: %v", err)
	}
	if err := tx.WriteFrame(ctx, FlagFin, OpClose, nil); !errors.Is(err, ErrInvalidMessageType) {
		t.Errorf("close via WriteFrame: %v", err)
	}

	frames := parseFrames(t, stream.written())
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Fin || frames[0].Kind != KindText || !frames[1].Fin || frames[1].Kind != KindContinuation {
		t.Errorf("fragments = %+v %+v", frames[0], frames[1])
	}
}

func TestTransmitter_WriteFrameExtension(t *testing.T) {
	stream := &captureStream{}
	tx, _ := Split(testConfig(), stream, nil, nil, HandshakeResult{
		Extension: NegotiatedExtension{ext: testExtension{}},
	})
	ctx := context.Background()

	if err := tx.WriteFrame(ctx, FlagFin|FlagRsv1, OpBinary, []byte{1}); err != nil {
		t.Fatalf("RSV1 with extension: %v", err)
	}
	if err := tx.WriteFrame(ctx, FlagFin|FlagRsv2, OpBinary, nil); !errors.Is(err, ErrReservedBits) {
		t.Errorf("unclaimed RSV2: %v", err)
	}
	if err := tx.WriteFrame(ctx, FlagFin|FlagRsv1, OpPing, nil); !errors.Is(err, ErrReservedBits) {
		t.Errorf("RSV1 on ping: %v", err)
	}

	frames := parseFrames(t, stream.written())
	if len(frames) != 1 || frames[0].Rsv != FlagRsv1 {
		t.Errorf("frames = %+v", frames)
	}
}

func TestSplit_Accessors(t *testing.T) {
	tx, rx := newTestSplit(&captureStream{})

	if tx.Subprotocol() != "chat" || rx.Subprotocol() != "chat" {
		t.Errorf("Subprotocol = %q / %q", tx.Subprotocol(), rx.Subprotocol())
	}
	if tx.Role() != RoleClient || rx.Role() != RoleClient {
		t.Error("halves not client role")
	}
	if tx.Extension().String() != "none" {
		t.Errorf("Extension = %v", tx.Extension())
	}
	if tx.codec == rx.codec {
		t.Error("halves share a codec instance")
	}
}

// BenchmarkTransmitter_SendText benchmarks the guarded send path.
func BenchmarkTransmitter_SendText(b *testing.B) {
	tx, _ := Split(testConfig(), nopStream{}, nil, nil, HandshakeResult{})
	ctx := context.Background()
	msg := strings.Repeat("x", 128)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := tx.SendText(ctx, msg); err != nil {
			b.Fatal(err)
		}
	}
}

type nopStream struct{}

func (nopStream) Read([]byte) (int, error)    { return 0, io.EOF }
func (nopStream) Write(p []byte) (int, error) { return len(p), nil }
func (nopStream) Close() error                { return nil }

// BenchmarkTransmitter_SendWithStateReaders benchmarks sends while other
// goroutines poll State and Stats, which read the atomics kept on their own
// cache line away from the guarded encode state.
func BenchmarkTransmitter_SendWithStateReaders(b *testing.B) {
	tx, rx := Split(testConfig(), nopStream{}, nil, nil, HandshakeResult{})
	ctx := context.Background()
	msg := strings.Repeat("x", 128)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = rx.State()
					_ = rx.Stats()
				}
			}
		}()
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := tx.SendText(ctx, msg); err != nil {
				b.Error(err)
				return
			}
		}
	})
	b.StopTimer()

	close(stop)
	wg.Wait()
}
