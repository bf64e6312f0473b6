package scanner

import (
	"context"
	"sync/atomic"

	"github.com/t-ogura/prospector-zmk-module-sub000/pkg/prospector"
)

// QueueCapacity is the bounded depth of the radio-to-worker handoff. The
// broadcaster retransmits unchanged state every cadence, so dropping on
// overflow loses nothing durable.
const QueueCapacity = 8

// MsgKind discriminates ingest-queue messages.
type MsgKind int

const (
	// MsgFrame carries one parsed advertisement from the radio callback.
	MsgFrame MsgKind = iota
	// MsgSweep asks the worker to run the liveness sweep now.
	MsgSweep
)

// Ingest is one observed advertisement with its ancillary metadata.
type Ingest struct {
	Addr         prospector.Addr
	RSSI         int8
	ScanResponse bool
	Parsed       prospector.Parsed
}

// Message is one unit of work handed from the radio callback to the worker.
type Message struct {
	Kind   MsgKind
	Ingest Ingest
}

// Queue is the single-producer/single-consumer bounded handoff between the
// radio callback and the scanner worker. Push never blocks; overflow drops
// the new message and counts it.
type Queue struct {
	ch      chan Message
	dropped atomic.Uint64
}

// NewQueue constructs a queue with the standard capacity.
func NewQueue() *Queue {
	return &Queue{ch: make(chan Message, QueueCapacity)}
}

// Push enqueues a message without blocking. It reports false when the queue
// is full and the message was dropped.
func (q *Queue) Push(m Message) bool {
	select {
	case q.ch <- m:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Pop blocks until a message arrives or the context is cancelled.
func (q *Queue) Pop(ctx context.Context) (Message, bool) {
	select {
	case m := <-q.ch:
		return m, true
	case <-ctx.Done():
		return Message{}, false
	}
}

// Dropped returns the number of messages lost to overflow.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Len returns the number of pending messages.
func (q *Queue) Len() int { return len(q.ch) }
