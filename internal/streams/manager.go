package streams

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/durablestreams/streamd/internal/storage"
	"github.com/durablestreams/streamd/internal/streams/event"
	"github.com/durablestreams/streamd/internal/streams/offset"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// SubscriberBuffer is the bounded channel capacity for each live
	// subscriber (per-path and the global subscribeAll fan-out). 0 uses
	// the liveSubscriber default.
	SubscriberBuffer int
	// BeforeAppend, if set, is invoked before every append on every
	// stream the manager creates.
	BeforeAppend BeforeAppendFunc
}

// Manager is the process-wide, singleton registry of per-path streams. It
// lazily creates a Stream on first reference to a path, under a guard
// that prevents two concurrent constructions for the same path.
type Manager struct {
	backend storage.Backend
	cfg     ManagerConfig

	mu      sync.RWMutex
	streams map[event.StreamPath]*Stream

	globalMu     sync.RWMutex
	globalSubs   map[uint64]*liveSubscriber
	nextGlobalID atomic.Uint64
}

// NewManager creates a Manager bound to backend.
func NewManager(backend storage.Backend, cfg ManagerConfig) *Manager {
	return &Manager{
		backend:    backend,
		cfg:        cfg,
		streams:    make(map[event.StreamPath]*Stream),
		globalSubs: make(map[uint64]*liveSubscriber),
	}
}

// getOrCreate returns the Stream for path, constructing it if this is the
// first reference. Double-checked locking avoids two concurrent
// constructions racing for the same path.
func (m *Manager) getOrCreate(path event.StreamPath) *Stream {
	m.mu.RLock()
	s, ok := m.streams[path]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.streams[path]; ok {
		return s
	}

	s = newStream(path, m.backend, m.cfg.SubscriberBuffer, m.cfg.BeforeAppend)
	s.onPublish = m.publishGlobal
	m.streams[path] = s
	return s
}

// Append appends in to path, lazily creating the stream if needed.
func (m *Manager) Append(ctx context.Context, path event.StreamPath, in event.Input) (event.Record, error) {
	return m.getOrCreate(path).Append(ctx, in)
}

// Subscribe subscribes to path in the given mode, lazily creating the
// stream if needed.
func (m *Manager) Subscribe(ctx context.Context, path event.StreamPath, mode Mode, after offset.Bound) (*Subscription, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	return m.getOrCreate(path).Subscribe(ctx, mode, after)
}

func (m *Manager) attachGlobal() *liveSubscriber {
	sub := newLiveSubscriber(m.nextGlobalID.Add(1), m.cfg.SubscriberBuffer)
	m.globalMu.Lock()
	m.globalSubs[sub.id] = sub
	m.globalMu.Unlock()
	return sub
}

func (m *Manager) detachGlobal(sub *liveSubscriber) {
	m.globalMu.Lock()
	delete(m.globalSubs, sub.id)
	m.globalMu.Unlock()
	sub.detach()
}

// publishGlobal offers rec to every subscribeAll subscriber. It is called
// from every stream's publish step, so it takes the write lock to keep one
// producer at a time on each global subscriber's channel.
func (m *Manager) publishGlobal(rec event.Record) {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	for _, sub := range m.globalSubs {
		sub.offer(rec)
	}
}

// SubscribeAll merges every known path into one subscription: it attaches
// to the global fan-out before snapshotting listPaths (so nothing
// appended during the snapshot is lost), reads history for each known
// path, then drains the global fan-out applying the same
// already-delivered-at-the-seam filter as a single-path subscribe, keyed
// per path. Events on paths that didn't exist at snapshot time arrive
// through the global fan-out with no history owed to them, matching
// spec.md section 4.3.
func (m *Manager) SubscribeAll(ctx context.Context, mode Mode, after offset.Bound) (*Subscription, error) {
	global := m.attachGlobal()

	var paths []event.StreamPath
	if mode != ModeLiveOnly {
		var err error
		paths, err = m.backend.ListPaths(ctx)
		if err != nil {
			m.detachGlobal(global)
			return nil, err
		}
	}

	out := make(chan event.Record)
	sub := &Subscription{Records: out}
	sub.detachFn = sync.OnceFunc(func() { m.detachGlobal(global) })

	go func() {
		defer close(out)
		defer sub.detachFn()

		lastEmitted := make(map[event.StreamPath]offset.Bound, len(paths))

		if mode != ModeLiveOnly {
			for _, p := range paths {
				records, err := m.backend.Read(ctx, p, after, offset.NoBound)
				if err != nil {
					sub.setErr(err)
					return
				}
				seam := after
				for _, rec := range records {
					select {
					case out <- rec:
						seam = offset.At(rec.Offset)
					case <-ctx.Done():
						return
					}
				}
				lastEmitted[p] = seam
			}
		}

		if mode == ModeHistoryOnly {
			return
		}

		for {
			select {
			case rec, ok := <-global.ch:
				if !ok {
					if global.lagged.Load() {
						sub.setErr(ErrSubscriberLagged)
					}
					return
				}
				seam, seen := lastEmitted[rec.Path]
				if seen && !seam.Unset && !rec.Offset.After(seam.Value) {
					continue // already delivered while scanning history
				}
				select {
				case out <- rec:
					lastEmitted[rec.Path] = offset.At(rec.Offset)
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

// Shutdown cancels every live subscriber across every stream and the
// global fan-out. It does not touch in-flight appends: each either
// already committed to storage before this call, or never returned
// success.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.RUnlock()

	for _, s := range streams {
		s.detachAll()
	}

	m.globalMu.Lock()
	subs := make([]*liveSubscriber, 0, len(m.globalSubs))
	for _, s := range m.globalSubs {
		subs = append(subs, s)
	}
	m.globalSubs = make(map[uint64]*liveSubscriber)
	m.globalMu.Unlock()

	for _, s := range subs {
		s.detach()
	}
}
