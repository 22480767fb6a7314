package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Hub fans messages out to a set of Transmitters, e.g. one client feeding
// several upstream servers.
//
// Registration, removal and broadcasts go through a single event loop.
// Each delivery runs on its own goroutine, so a slow peer never delays the
// others; a Transmitter whose send fails is dropped from the Hub. The Hub
// never closes Transmitters, their owner does.
//
// Example Usage:
//
//	hub := websocket.NewHub(nil)
//	go hub.Run()
//	defer hub.Close()
//
//	for _, url := range upstreams {
//	    tx, rx, _, err := websocket.Dial(ctx, url, websocket.Config{}, nil)
//	    if err != nil {
//	        return err
//	    }
//	    hub.Register(tx)
//	    go drain(rx)
//	}
//	hub.BroadcastText("hello, upstreams")
type Hub struct {
	members map[*Transmitter]struct{}

	// Channels for event loop
	register   chan *Transmitter
	unregister chan *Transmitter
	broadcast  chan Message

	done      chan struct{}
	closeOnce sync.Once
	sends     sync.WaitGroup

	// mu guards members and closed. Only the event loop adds members.
	mu     sync.RWMutex
	closed bool

	// SendTimeout bounds each delivery. Zero means no limit.
	SendTimeout time.Duration

	logger *slog.Logger
}

// NewHub returns a Hub. A nil logger uses slog.Default().
//
// The Hub must be started by calling Run in a goroutine.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		members:    make(map[*Transmitter]struct{}),
		register:   make(chan *Transmitter),
		unregister: make(chan *Transmitter),
		broadcast:  make(chan Message, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes registrations and broadcasts until Close is called.
func (h *Hub) Run() {
	for {
		select {
		case tx := <-h.register:
			h.mu.Lock()
			if !h.closed {
				h.members[tx] = struct{}{}
			}
			h.mu.Unlock()

		case tx := <-h.unregister:
			h.mu.Lock()
			delete(h.members, tx)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			// Deliveries start under the lock, so Close cannot miss them.
			h.mu.RLock()
			if !h.closed {
				for tx := range h.members {
					h.sends.Add(1)
					go h.deliver(tx, msg)
				}
			}
			h.mu.RUnlock()

		case <-h.done:
			return
		}
	}
}

func (h *Hub) deliver(tx *Transmitter, msg Message) {
	defer h.sends.Done()

	ctx := context.Background()
	if h.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.SendTimeout)
		defer cancel()
	}

	if err := tx.Send(ctx, msg); err != nil {
		h.logger.Debug("websocket hub dropping transmitter", "error", err, "state", tx.State())
		h.Unregister(tx)
	}
}

// Register adds tx to the Hub. It is a no-op once the Hub is closed.
func (h *Hub) Register(tx *Transmitter) {
	select {
	case h.register <- tx:
	case <-h.done:
	}
}

// Unregister removes tx from the Hub without closing it.
// Safe to call multiple times for the same Transmitter.
func (h *Hub) Unregister(tx *Transmitter) {
	select {
	case h.unregister <- tx:
	case <-h.done:
	}
}

// Broadcast queues msg for delivery to every registered Transmitter.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// BroadcastText queues a text message.
func (h *Hub) BroadcastText(text string) {
	h.Broadcast(NewTextMessage(text))
}

// BroadcastJSON marshals v and queues it as a text message.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	h.Broadcast(Message{Type: TextMessage, Data: data})
	return nil
}

// Count returns the number of registered Transmitters.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// Close stops the event loop and waits for in-flight deliveries.
// Queued broadcasts that were not yet picked up are dropped. Idempotent.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		h.closed = true
		h.members = make(map[*Transmitter]struct{})
		h.mu.Unlock()

		h.sends.Wait()
	})
	return nil
}
