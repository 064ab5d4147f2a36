package audit

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"hftcore/pkg/exception"
)

const defaultWriteTimeout = 3 * time.Second

// Async moves writes to a background goroutine so the event loop never waits
// on the database. Records are dropped when the buffer is full.
type Async struct {
	sink    Sink
	ch      chan Record
	done    chan struct{}
	once    sync.Once
	timeout time.Duration
}

// NewAsync starts the writer goroutine.
func NewAsync(sink Sink, buffer int) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	a := &Async{
		sink:    sink,
		ch:      make(chan Record, buffer),
		done:    make(chan struct{}),
		timeout: defaultWriteTimeout,
	}
	go a.loop()
	return a
}

func (a *Async) Write(_ context.Context, rec Record) error {
	select {
	case a.ch <- rec:
		return nil
	default:
		return exception.ErrEventQueueFull
	}
}

func (a *Async) loop() {
	defer close(a.done)
	for rec := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.sink.Write(ctx, rec); err != nil {
			logs.Errorf("async audit write failed, kind: %s, err: %+v", rec.Kind, err)
		}
		cancel()
	}
}

// Close stops accepting records and waits until the buffer is written.
func (a *Async) Close() {
	a.once.Do(func() { close(a.ch) })
	<-a.done
}
