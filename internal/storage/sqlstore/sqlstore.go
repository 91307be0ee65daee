// Package sqlstore is the single-file embedded-SQL storage backend. It
// keeps every path's events in one table of a single DuckDB database file,
// using database/sql and the duckdb driver the way the rest of the pack
// drives database/sql-compatible stores (compare fluxor's pkg/db.Pool).
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb" // registers the "duckdb" driver

	"github.com/durablestreams/streamd/internal/storage"
	"github.com/durablestreams/streamd/internal/streams/event"
	"github.com/durablestreams/streamd/internal/streams/offset"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	path TEXT NOT NULL,
	offset TEXT NOT NULL,
	type TEXT NOT NULL,
	payload TEXT NOT NULL,
	version TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (path, offset)
);
CREATE INDEX IF NOT EXISTS idx_events_path_offset ON events(path, offset);
`

// Store is the DuckDB-backed Backend implementation.
type Store struct {
	db *sql.DB
}

// New opens (and migrates) a single-file DuckDB database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}

	// DuckDB's embedded engine serialises writers internally; a single
	// connection avoids cross-connection write contention, mirroring the
	// pack's database/sql pooling idiom (fluxor's pkg/db.Pool) scaled down
	// to DuckDB's single-writer model.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Append implements storage.Backend inside a serialisable transaction: the
// next offset is the count of existing rows for path, which combined with
// the (path, offset) primary key makes a concurrent duplicate allocation
// fail the commit rather than corrupt the log.
func (s *Store) Append(ctx context.Context, path event.StreamPath, in event.Input) (event.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return event.Record{}, storage.NewIOError(path, err)
	}
	defer tx.Rollback()

	var count int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE path = ?`, string(path),
	).Scan(&count); err != nil {
		return event.Record{}, storage.NewIOError(path, err)
	}

	next := offset.Offset(count)
	rec := event.NewRecord(path, in, next, time.Now().UTC())

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (path, offset, type, payload, version, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(path), next.String(), rec.Type, string(rec.Payload), fmt.Sprintf("%d", rec.Version),
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return event.Record{}, storage.NewIOError(path, err)
	}

	if err := tx.Commit(); err != nil {
		return event.Record{}, storage.NewIOError(path, err)
	}
	return rec, nil
}

// Read implements storage.Backend.
func (s *Store) Read(ctx context.Context, path event.StreamPath, after, upTo offset.Bound) ([]event.Record, error) {
	query := `SELECT offset, type, payload, version, created_at FROM events WHERE path = ?`
	args := []any{string(path)}
	if !after.Unset {
		query += ` AND offset > ?`
		args = append(args, after.Value.String())
	}
	if !upTo.Unset {
		query += ` AND offset <= ?`
		args = append(args, upTo.Value.String())
	}
	query += ` ORDER BY offset ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.NewIOError(path, err)
	}
	defer rows.Close()

	var out []event.Record
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		var (
			offsetStr, versionStr, createdAtStr, payloadStr string
			rec                                              event.Record
		)
		if err := rows.Scan(&offsetStr, &rec.Type, &payloadStr, &versionStr, &createdAtStr); err != nil {
			return out, storage.NewDecodeError(path, err)
		}
		bound, perr := offset.ParseAfter(offsetStr)
		if perr != nil || bound.Unset {
			return out, storage.NewDecodeError(path, fmt.Errorf("bad stored offset %q", offsetStr))
		}
		rec.Offset = bound.Value
		rec.Path = path
		rec.Payload = []byte(payloadStr)
		createdAt, perr := time.Parse(time.RFC3339Nano, createdAtStr)
		if perr != nil {
			return out, storage.NewDecodeError(path, perr)
		}
		rec.CreatedAt = createdAt
		if _, perr := fmt.Sscanf(versionStr, "%d", &rec.Version); perr != nil {
			return out, storage.NewDecodeError(path, perr)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return out, storage.NewIOError(path, err)
	}
	return out, nil
}

// ListPaths implements storage.Backend.
func (s *Store) ListPaths(ctx context.Context) ([]event.StreamPath, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT path FROM events`)
	if err != nil {
		return nil, storage.NewIOError("", err)
	}
	defer rows.Close()

	var paths []event.StreamPath
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return paths, storage.NewDecodeError("", err)
		}
		paths = append(paths, event.StreamPath(p))
	}
	return paths, rows.Err()
}

// Close implements storage.Backend.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ storage.Backend = (*Store)(nil)
