// Package filestore is the file-per-stream storage backend: one
// append-only segment file per path, with a bbolt-backed sibling cache for
// the next offset, reconciled against the log on first touch. Grounded on
// the teacher's store.FileStore, adapted from a TTL/content-type-aware
// protocol store down to the dense-offset append/read contract this
// service needs.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/durablestreams/streamd/internal/storage"
	"github.com/durablestreams/streamd/internal/streams/event"
	"github.com/durablestreams/streamd/internal/streams/offset"
)

const streamsSubdir = "streams"

// writerPool bounds the number of open append-mode file handles held at
// once. The stream layer already serialises appends per path, so the only
// job here is capping descriptor count across many distinct paths; eviction
// picks whichever open handle was least recently touched, tracked with a
// logical clock rather than an ordered list since the pool is small and
// scanning it on eviction is cheap.
type writerPool struct {
	mu      sync.Mutex
	maxSize int
	clock   uint64
	files   map[string]*pooledFile
}

type pooledFile struct {
	file     *os.File
	lastUsed uint64
}

// newFilePool creates a writer pool capped at maxSize open handles.
func newFilePool(maxSize int) *writerPool {
	if maxSize <= 0 {
		maxSize = 128
	}
	return &writerPool{
		maxSize: maxSize,
		files:   make(map[string]*pooledFile),
	}
}

// getWriter returns an append-mode handle for path, opening one if needed.
// The caller must not close the returned file.
func (p *writerPool) getWriter(path string) (*os.File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clock++
	if pf, ok := p.files[path]; ok {
		pf.lastUsed = p.clock
		return pf.file, nil
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	p.evictOldest()
	p.files[path] = &pooledFile{file: file, lastUsed: p.clock}
	return file, nil
}

// evictOldest closes the least-recently-used handle if the pool is full.
// Must be called with mu held.
func (p *writerPool) evictOldest() {
	if len(p.files) < p.maxSize {
		return
	}

	var oldestPath string
	oldestUsed := uint64(math.MaxUint64)
	for path, pf := range p.files {
		if pf.lastUsed < oldestUsed {
			oldestUsed = pf.lastUsed
			oldestPath = path
		}
	}
	if oldestPath == "" {
		return
	}
	p.files[oldestPath].file.Close()
	delete(p.files, oldestPath)
}

// close closes every open handle in the pool.
func (p *writerPool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for path, pf := range p.files {
		if err := pf.file.Close(); err != nil {
			lastErr = err
		}
		delete(p.files, path)
	}
	return lastErr
}

// Config configures the file backend.
type Config struct {
	DataDir        string
	MaxFileHandles int // 0 uses the default (128)
}

// Store is the file-per-stream Backend implementation.
type Store struct {
	dataDir string
	pool    *writerPool
	cache   *offsetCache

	mu         sync.Mutex // guards tails and reconciled
	tails      map[event.StreamPath]offset.Offset
	reconciled map[event.StreamPath]bool

	writeMu   sync.Mutex // guards pathLocks map construction
	pathLocks map[event.StreamPath]*sync.Mutex
}

// New opens (and if necessary creates) a file-backed store rooted at
// cfg.DataDir.
func New(cfg Config) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("filestore: data dir is required")
	}
	streamsDir := filepath.Join(cfg.DataDir, streamsSubdir)
	if err := os.MkdirAll(streamsDir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create streams dir: %w", err)
	}

	cache, err := openOffsetCache(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	maxHandles := cfg.MaxFileHandles
	if maxHandles <= 0 {
		maxHandles = 128
	}

	return &Store{
		dataDir:    cfg.DataDir,
		pool:       newFilePool(maxHandles),
		cache:      cache,
		tails:      make(map[event.StreamPath]offset.Offset),
		reconciled: make(map[event.StreamPath]bool),
		pathLocks:  make(map[event.StreamPath]*sync.Mutex),
	}, nil
}

func (s *Store) segmentPath(path event.StreamPath) string {
	return filepath.Join(s.dataDir, streamsSubdir, escapePath(string(path))+".log")
}

func (s *Store) lockFor(path event.StreamPath) *sync.Mutex {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if m, ok := s.pathLocks[path]; ok {
		return m
	}
	m := &sync.Mutex{}
	s.pathLocks[path] = m
	return m
}

// reconcile ensures s.tails[path] reflects at least the true record count
// on disk, scanning the segment file the first time this process touches
// path. Must be called with the path's write lock held (for Append) or
// independently for read-only callers that just want the tail.
func (s *Store) reconcile(path event.StreamPath) (offset.Offset, error) {
	s.mu.Lock()
	if s.reconciled[path] {
		next := s.tails[path]
		s.mu.Unlock()
		return next, nil
	}
	s.mu.Unlock()

	segPath := s.segmentPath(path)
	var scanned uint64
	if f, err := os.Open(segPath); err == nil {
		records, rerr := readAllRecords(f)
		f.Close()
		if rerr != nil {
			return 0, storage.NewDecodeError(path, rerr)
		}
		scanned = uint64(len(records))
	} else if !os.IsNotExist(err) {
		return 0, storage.NewIOError(path, err)
	}

	cached, ok, err := s.cache.get(escapePath(string(path)))
	if err != nil {
		return 0, storage.NewIOError(path, err)
	}

	next := scanned
	if ok && cached > next {
		next = cached
	}

	s.mu.Lock()
	s.tails[path] = offset.Offset(next)
	s.reconciled[path] = true
	s.mu.Unlock()

	if !ok || cached != next {
		if err := s.cache.put(escapePath(string(path)), next); err != nil {
			return 0, storage.NewIOError(path, err)
		}
	}

	return offset.Offset(next), nil
}

// Append implements storage.Backend.
func (s *Store) Append(ctx context.Context, path event.StreamPath, in event.Input) (event.Record, error) {
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	next, err := s.reconcile(path)
	if err != nil {
		return event.Record{}, err
	}

	rec := event.NewRecord(path, in, next, time.Now().UTC())

	f, err := s.pool.getWriter(s.segmentPath(path))
	if err != nil {
		return event.Record{}, storage.NewIOError(path, err)
	}
	if err := writeRecord(f, rec); err != nil {
		return event.Record{}, storage.NewIOError(path, err)
	}
	if err := f.Sync(); err != nil {
		return event.Record{}, storage.NewIOError(path, err)
	}

	newNext := next.Next()
	if err := s.cache.put(escapePath(string(path)), uint64(newNext)); err != nil {
		return event.Record{}, storage.NewIOError(path, err)
	}

	s.mu.Lock()
	s.tails[path] = newNext
	s.mu.Unlock()

	return rec, nil
}

// Read implements storage.Backend.
func (s *Store) Read(ctx context.Context, path event.StreamPath, after, upTo offset.Bound) ([]event.Record, error) {
	f, err := os.Open(s.segmentPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, storage.NewIOError(path, err)
	}
	defer f.Close()

	out := make([]event.Record, 0)
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rec, err := readRecord(f)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			if errors.Is(err, errCorruptSegment) {
				return out, storage.NewDecodeError(path, err)
			}
			return out, storage.NewIOError(path, err)
		}
		if !after.Unset && !rec.Offset.After(after.Value) {
			continue
		}
		if !upTo.Unset && rec.Offset.After(upTo.Value) {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListPaths implements storage.Backend by listing segment files on disk.
func (s *Store) ListPaths(ctx context.Context) ([]event.StreamPath, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, streamsSubdir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, storage.NewIOError("", err)
	}

	paths := make([]event.StreamPath, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		const suffix = ".log"
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		escaped := name[:len(name)-len(suffix)]
		paths = append(paths, event.StreamPath(unescapePath(escaped)))
	}
	return paths, nil
}

// Close implements storage.Backend.
func (s *Store) Close() error {
	poolErr := s.pool.close()
	cacheErr := s.cache.close()
	if poolErr != nil {
		return poolErr
	}
	return cacheErr
}

var _ storage.Backend = (*Store)(nil)
