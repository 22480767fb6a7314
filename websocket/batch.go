package websocket

import "github.com/eapache/queue"

// Batch is a FIFO of messages written by Transmitter.SendBatch under a
// single hold of the write guard.
//
// The zero value is an empty batch. A Batch is not safe for concurrent use.
type Batch struct {
	q *queue.Queue
}

// NewBatch returns an empty batch.
func NewBatch(msgs ...Message) *Batch {
	b := &Batch{}
	for _, m := range msgs {
		b.Add(m)
	}
	return b
}

// Add queues msg.
func (b *Batch) Add(msg Message) {
	if b.q == nil {
		b.q = queue.New()
	}
	b.q.Add(msg)
}

// Len returns the number of queued messages.
func (b *Batch) Len() int {
	if b == nil || b.q == nil {
		return 0
	}
	return b.q.Length()
}

func (b *Batch) peek() Message {
	return b.q.Peek().(Message)
}

func (b *Batch) pop() {
	b.q.Remove()
}
