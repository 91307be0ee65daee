package filestore

// offsetCache is a single bbolt database, sibling to the per-path segment
// files, that caches each path's next-offset-to-assign. It is deliberately
// not the source of truth: on first touch per process lifetime the cache
// is reconciled against the segment file's actual record count (see
// store.reconcile), matching spec.md section 6's "sibling .offset file ...
// reconcilable from the log" and the open question in section 9 resolved
// here as "reconcile each path once, at first touch, by a full scan."
//
// Grounded on the teacher's store.BboltMetadataStore, simplified to a
// single uint64 value per key instead of a full metadata struct, since
// streamd's offset is just a dense counter rather than a byte position.

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var offsetsBucket = []byte("offsets")

type offsetCache struct {
	db *bbolt.DB
}

func openOffsetCache(dataDir string) (*offsetCache, error) {
	dbPath := filepath.Join(dataDir, "offsets.db")
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("filestore: open offset cache: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(offsetsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("filestore: init offset cache bucket: %w", err)
	}
	return &offsetCache{db: db}, nil
}

// get returns the cached next-offset for escapedPath, and whether it was present.
func (c *offsetCache) get(escapedPath string) (uint64, bool, error) {
	var (
		val uint64
		ok  bool
	)
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(offsetsBucket).Get([]byte(escapedPath))
		if b == nil {
			return nil
		}
		ok = true
		val = binary.BigEndian.Uint64(b)
		return nil
	})
	return val, ok, err
}

// put stores the next-offset for escapedPath.
func (c *offsetCache) put(escapedPath string, next uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(offsetsBucket).Put([]byte(escapedPath), buf[:])
	})
}

func (c *offsetCache) close() error {
	return c.db.Close()
}
