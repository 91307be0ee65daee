// Package streams implements the per-path stream coordinator and the
// process-wide manager that multiplexes one writer into many live
// subscribers, grounded on the teacher's store package reworked from a
// poll-and-diff protocol handler into a push fan-out (the pack's
// fluxor pkg/bus.Publish non-blocking-send idiom), per spec.md section 4.2.
package streams

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/durablestreams/streamd/internal/storage"
	"github.com/durablestreams/streamd/internal/streams/event"
	"github.com/durablestreams/streamd/internal/streams/offset"
)

// BeforeAppendFunc is the single write-path hook the design notes call
// for in place of an open-ended middleware stack: an optional callback
// invoked inside Append before the event is persisted. Returning an error
// aborts the append with that error.
type BeforeAppendFunc func(path event.StreamPath, in event.Input) error

// Stream coordinates one writer with many live subscribers for a single
// path: it serialises appends, delegates durability to storage, and fans
// each newly appended record out to every attached live subscriber.
type Stream struct {
	path    event.StreamPath
	backend storage.Backend

	appendMu sync.Mutex

	subMu       sync.RWMutex
	subscribers map[uint64]*liveSubscriber
	nextSubID   atomic.Uint64

	bufSize      int
	beforeAppend BeforeAppendFunc
	onPublish    func(event.Record)
}

// newStream constructs a Stream bound to backend for path.
func newStream(path event.StreamPath, backend storage.Backend, bufSize int, hook BeforeAppendFunc) *Stream {
	return &Stream{
		path:         path,
		backend:      backend,
		subscribers:  make(map[uint64]*liveSubscriber),
		bufSize:      bufSize,
		beforeAppend: hook,
	}
}

// Append persists in and publishes the resulting record to every attached
// live subscriber. Publish is non-blocking: a slow subscriber is dropped,
// never the writer.
func (s *Stream) Append(ctx context.Context, in event.Input) (event.Record, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	if s.beforeAppend != nil {
		if err := s.beforeAppend(s.path, in); err != nil {
			return event.Record{}, err
		}
	}

	rec, err := s.backend.Append(ctx, s.path, in)
	if err != nil {
		return event.Record{}, err
	}

	s.publish(rec)
	return rec, nil
}

// publish fans rec out to every live subscriber without blocking on any
// of them.
func (s *Stream) publish(rec event.Record) {
	s.subMu.RLock()
	for _, sub := range s.subscribers {
		sub.offer(rec)
	}
	s.subMu.RUnlock()

	if s.onPublish != nil {
		s.onPublish(rec)
	}
}

// detachAll closes every live subscriber attached to this stream, used by
// Manager.Shutdown.
func (s *Stream) detachAll() {
	s.subMu.Lock()
	subs := make([]*liveSubscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.subscribers = make(map[uint64]*liveSubscriber)
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.detach()
	}
}

// attach registers a new live subscriber and returns it. Any event
// appended from this call returning onward will be offered to it.
func (s *Stream) attach() *liveSubscriber {
	sub := newLiveSubscriber(s.nextSubID.Add(1), s.bufSize)

	s.subMu.Lock()
	s.subscribers[sub.id] = sub
	s.subMu.Unlock()

	return sub
}

// detach removes a subscriber from the fan-out registry and closes its
// channel. Idempotent.
func (s *Stream) detach(sub *liveSubscriber) {
	s.subMu.Lock()
	delete(s.subscribers, sub.id)
	s.subMu.Unlock()
	sub.detach()
}

// Subscribe returns a cancellable stream of records for path starting
// strictly after the given bound, per mode.
func (s *Stream) Subscribe(ctx context.Context, mode Mode, after offset.Bound) (*Subscription, error) {
	switch mode {
	case ModeHistoryOnly:
		return s.subscribeHistoryOnly(ctx, after)
	case ModeLiveOnly:
		return s.subscribeLiveOnly(ctx, after), nil
	case ModeHistoryThenLive:
		return s.subscribeHistoryThenLive(ctx, after)
	default:
		return nil, ErrUnknownMode
	}
}

func (s *Stream) subscribeHistoryOnly(ctx context.Context, after offset.Bound) (*Subscription, error) {
	out := make(chan event.Record)
	sub := &Subscription{Records: out}

	go func() {
		defer close(out)
		records, err := s.backend.Read(ctx, s.path, after, offset.NoBound)
		if err != nil {
			sub.setErr(err)
			return
		}
		for _, rec := range records {
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	sub.detachFn = func() {}
	return sub, nil
}

func (s *Stream) subscribeLiveOnly(ctx context.Context, _ offset.Bound) *Subscription {
	live := s.attach()
	out := make(chan event.Record)
	sub := &Subscription{Records: out}
	sub.detachFn = sync.OnceFunc(func() { s.detach(live) })

	go func() {
		defer close(out)
		defer sub.detachFn()
		for {
			select {
			case rec, ok := <-live.ch:
				if !ok {
					if live.lagged.Load() {
						sub.setErr(ErrSubscriberLagged)
					}
					return
				}
				select {
				case out <- rec:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub
}

// subscribeHistoryThenLive implements the splice algorithm from spec.md
// section 4.2: attach the live queue before reading history, so nothing
// appended during the history scan is lost, then drain the live queue
// filtering out anything at or before the last offset already emitted so
// the seam delivers each event exactly once.
func (s *Stream) subscribeHistoryThenLive(ctx context.Context, after offset.Bound) (*Subscription, error) {
	live := s.attach()

	out := make(chan event.Record)
	sub := &Subscription{Records: out}
	sub.detachFn = sync.OnceFunc(func() { s.detach(live) })

	go func() {
		defer close(out)
		defer sub.detachFn()

		records, err := s.backend.Read(ctx, s.path, after, offset.NoBound)
		if err != nil {
			sub.setErr(err)
			return
		}

		lastEmitted := after
		for _, rec := range records {
			select {
			case out <- rec:
				lastEmitted = offset.At(rec.Offset)
			case <-ctx.Done():
				return
			}
		}

		for {
			select {
			case rec, ok := <-live.ch:
				if !ok {
					if live.lagged.Load() {
						sub.setErr(ErrSubscriberLagged)
					}
					return
				}
				if !lastEmitted.Unset && !rec.Offset.After(lastEmitted.Value) {
					continue // already delivered during the history phase
				}
				select {
				case out <- rec:
					lastEmitted = offset.At(rec.Offset)
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}
