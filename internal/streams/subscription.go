package streams

import (
	"sync"

	"github.com/durablestreams/streamd/internal/streams/event"
)

// Subscription is a cancellable stream of Records, the return value of
// Subscribe. Records is closed when the subscription ends, for any
// reason: history-only completion, subscriber lag, or cancellation. Err
// reports why, if the ending wasn't the ordinary completion of a
// history-only read.
type Subscription struct {
	Records <-chan event.Record

	mu       sync.Mutex
	err      error
	detachFn func()
}

// Err returns the error that ended the subscription, or nil if Records
// was closed because a history-only read finished normally or the caller
// cancelled it.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Close detaches the subscription. Idempotent.
func (s *Subscription) Close() {
	if s.detachFn != nil {
		s.detachFn()
	}
}
