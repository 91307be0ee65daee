package streams

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/durablestreams/streamd/internal/streams/event"
)

func TestLiveSubscriberOfferNonBlockingOnFullQueue(t *testing.T) {
	sub := newLiveSubscriber(1, 1)
	sub.offer(event.Record{Offset: 0})

	done := make(chan struct{})
	go func() {
		sub.offer(event.Record{Offset: 1}) // queue full, must not block
		close(done)
	}()
	select {
	case <-done:
	default:
	}
	<-done

	assert.True(t, sub.lagged.Load())
	_, ok := <-sub.ch
	assert.True(t, ok) // the one buffered record is still readable
	_, ok = <-sub.ch
	assert.False(t, ok) // channel was closed once lagged
}

func TestLiveSubscriberDetachIsIdempotent(t *testing.T) {
	sub := newLiveSubscriber(1, 4)
	sub.detach()
	assert.NotPanics(t, func() { sub.detach() })
}
