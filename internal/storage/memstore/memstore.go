// Package memstore is the in-memory storage backend: a map of per-path
// event slices guarded by per-path mutexes. It has no durability and is
// intended for tests and the backend-less default.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/durablestreams/streamd/internal/storage"
	"github.com/durablestreams/streamd/internal/streams/event"
	"github.com/durablestreams/streamd/internal/streams/offset"
)

// Store is an in-memory Backend implementation.
type Store struct {
	mu      sync.RWMutex
	streams map[event.StreamPath]*pathLog
}

type pathLog struct {
	mu      sync.Mutex
	records []event.Record
	next    offset.Offset
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{streams: make(map[event.StreamPath]*pathLog)}
}

func (s *Store) getOrCreate(path event.StreamPath) *pathLog {
	s.mu.RLock()
	p, ok := s.streams[path]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.streams[path]; ok {
		return p
	}
	p = &pathLog{}
	s.streams[path] = p
	return p
}

// Append implements storage.Backend.
func (s *Store) Append(ctx context.Context, path event.StreamPath, in event.Input) (event.Record, error) {
	p := s.getOrCreate(path)

	p.mu.Lock()
	defer p.mu.Unlock()

	rec := event.NewRecord(path, in, p.next, time.Now().UTC())
	p.records = append(p.records, rec)
	p.next = p.next.Next()
	return rec, nil
}

// Read implements storage.Backend.
func (s *Store) Read(ctx context.Context, path event.StreamPath, after, upTo offset.Bound) ([]event.Record, error) {
	s.mu.RLock()
	p, ok := s.streams[path]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]event.Record, 0, len(p.records))
	for _, rec := range p.records {
		if !after.Unset && !rec.Offset.After(after.Value) {
			continue
		}
		if !upTo.Unset && rec.Offset.After(upTo.Value) {
			break
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListPaths implements storage.Backend.
func (s *Store) ListPaths(ctx context.Context) ([]event.StreamPath, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]event.StreamPath, 0, len(s.streams))
	for p := range s.streams {
		paths = append(paths, p)
	}
	return paths, nil
}

// Close implements storage.Backend. The memory backend holds no external
// resources.
func (s *Store) Close() error { return nil }

var _ storage.Backend = (*Store)(nil)
