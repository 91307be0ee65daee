package streams

import (
	"sync"
	"sync/atomic"

	"github.com/durablestreams/streamd/internal/streams/event"
)

// liveSubscriber is the fan-out side of a single live subscriber: an
// independent bounded channel with one producer at a time (the owning
// Stream's publish step, or Manager.publishGlobal, which holds the global
// registry's write lock while offering) and one consumer (whatever is draining records,
// a live-only reader or the live half of a splice). Adapted from the
// pack's fire-and-forget bus.Publish (fluxor's pkg/bus), which drops on a
// full mailbox rather than blocking the publisher.
type liveSubscriber struct {
	id       uint64
	ch       chan event.Record
	lagged   atomic.Bool
	closeOnce sync.Once
}

func newLiveSubscriber(id uint64, bufSize int) *liveSubscriber {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &liveSubscriber{id: id, ch: make(chan event.Record, bufSize)}
}

// offer attempts a non-blocking send. On a full queue it marks the
// subscriber lagged and closes its channel; the writer path never blocks.
func (l *liveSubscriber) offer(rec event.Record) {
	if l.lagged.Load() {
		return
	}
	select {
	case l.ch <- rec:
	default:
		l.lagged.Store(true)
		l.closeOnce.Do(func() { close(l.ch) })
	}
}

// detach closes the subscriber's channel idempotently, used when the
// consumer cancels rather than the producer lagging it out.
func (l *liveSubscriber) detach() {
	l.closeOnce.Do(func() { close(l.ch) })
}
