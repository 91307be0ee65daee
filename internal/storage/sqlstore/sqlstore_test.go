package sqlstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/durablestreams/streamd/internal/streams/event"
	"github.com/durablestreams/streamd/internal/streams/offset"
)

func input(t string) event.Input {
	return event.Input{Type: t, Payload: json.RawMessage(`{"x":1}`)}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "events.duckdb"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAssignsDenseOffsets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec, err := s.Append(ctx, "a", input("t"))
		require.NoError(t, err)
		assert.Equal(t, offset.Offset(i), rec.Offset)
	}
}

func TestAppendAndReadRoundTripsPayload(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec, err := s.Append(ctx, "a", input("t"))
	require.NoError(t, err)

	records, err := s.Read(ctx, "a", offset.NoBound, offset.NoBound)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.Type, records[0].Type)
	assert.JSONEq(t, string(rec.Payload), string(records[0].Payload))
	assert.Equal(t, rec.Version, records[0].Version)
}

func TestReadFiltersByAfterAndUpTo(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := s.Append(ctx, "a", input("t"))
		require.NoError(t, err)
	}

	// Offsets beyond 9 exercise the zero-padded lexicographic ordering
	// (offset "0000000000000010" must sort after "0000000000000009").
	records, err := s.Read(ctx, "a", offset.At(offset.Offset(8)), offset.At(offset.Offset(11)))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, offset.Offset(9), records[0].Offset)
	assert.Equal(t, offset.Offset(10), records[1].Offset)
	assert.Equal(t, offset.Offset(11), records[2].Offset)
}

func TestListPaths(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Append(ctx, "a", input("t"))
	require.NoError(t, err)
	_, err = s.Append(ctx, "b", input("t"))
	require.NoError(t, err)

	paths, err := s.ListPaths(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []event.StreamPath{"a", "b"}, paths)
}

func TestPrimaryKeyRejectsDuplicateOffset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (path, offset, type, payload, version, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		"a", offset.Zero.String(), "t", "{}", "1", "2025-01-20T12:00:00Z",
	)
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (path, offset, type, payload, version, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		"a", offset.Zero.String(), "t", "{}", "1", "2025-01-20T12:00:01Z",
	)
	assert.Error(t, err)
}
