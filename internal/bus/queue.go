package bus

import (
	"context"
	"sync/atomic"

	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// Event is the unit passed through the in-memory bus. Exactly one of Quote or
// Fill is meaningful, selected by Header.Type.
type Event struct {
	Header schema.EventHeader
	Quote  schema.Quote
	Fill   schema.Fill
}

// QuoteEvent wraps a quote.
func QuoteEvent(seq uint64, q schema.Quote) Event {
	return Event{Header: schema.NewHeader(schema.EventQuote, 0, seq, q.Ts, 0), Quote: q}
}

// FillEvent wraps a fill.
func FillEvent(seq uint64, f schema.Fill) Event {
	return Event{Header: schema.NewHeader(schema.EventFill, 0, seq, f.Ts, 0), Fill: f}
}

// Queue is a bounded, non-blocking event queue with a single consumer.
type Queue struct {
	ch     chan Event
	closed uint32
	seq    uint64
	drops  uint64
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Event, capacity)}
}

// TryPublish enqueues an event without blocking. Events without a sequence
// number get the next one.
func (q *Queue) TryPublish(e Event) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return exception.ErrEventQueueClosed
	}
	if e.Header.Seq == 0 {
		e.Header.Seq = atomic.AddUint64(&q.seq, 1)
	}
	select {
	case q.ch <- e:
		return nil
	default:
		atomic.AddUint64(&q.drops, 1)
		return exception.ErrEventQueueFull
	}
}

// PublishQuote enqueues a quote.
func (q *Queue) PublishQuote(quote schema.Quote) error {
	return q.TryPublish(QuoteEvent(0, quote))
}

// PublishFill enqueues a fill. It matches og.FillPublisher.
func (q *Queue) PublishFill(fill schema.Fill) error {
	return q.TryPublish(FillEvent(0, fill))
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Drops returns how many publishes failed because the queue was full.
func (q *Queue) Drops() uint64 {
	return atomic.LoadUint64(&q.drops)
}

// Close stops the queue from accepting new events. Buffered events are still
// delivered by Run.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes events until the context is done or the queue is closed and
// drained.
func (q *Queue) Run(ctx context.Context, handler func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-q.ch:
			if !ok {
				return
			}
			handler(e)
		}
	}
}

// Drain delivers every buffered event without blocking and returns the count.
func (q *Queue) Drain(handler func(Event)) int {
	n := 0
	for {
		select {
		case e, ok := <-q.ch:
			if !ok {
				return n
			}
			handler(e)
			n++
		default:
			return n
		}
	}
}
