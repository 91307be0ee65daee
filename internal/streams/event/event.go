// Package event defines the wire and storage representation of a single
// appended record: the opaque envelope a client sends, and the
// system-stamped record every storage backend and subscriber observes.
package event

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/durablestreams/streamd/internal/streams/offset"
)

// ErrEmptyPath is returned when a StreamPath is the empty string in a
// context that requires a concrete path (as opposed to the subscribe-all
// wildcard).
var ErrEmptyPath = errors.New("event: stream path must not be empty")

// ErrInvalidPath is returned for paths that are nothing but separators.
var ErrInvalidPath = errors.New("event: stream path must contain a non-separator segment")

// StreamPath is the opaque, hierarchical identifier for a stream. Equality
// is byte-equality; the core never interprets segments.
type StreamPath string

// Validate checks that p is usable as a concrete stream path (not the
// subscribe-all wildcard, and not composed solely of "/").
func (p StreamPath) Validate() error {
	if p == "" {
		return ErrEmptyPath
	}
	if strings.Trim(string(p), "/") == "" {
		return ErrInvalidPath
	}
	return nil
}

// Input is what a client sends to append.
type Input struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Version *int            `json:"version,omitempty"`
}

// ErrEmptyType is returned when Input.Type is empty or missing.
var ErrEmptyType = errors.New("event: type must be a non-empty string")

// ErrMissingPayload is returned when Input.Payload was not present at all
// (as opposed to present and null).
var ErrMissingPayload = errors.New("event: payload is required")

// ErrNegativeVersion is returned when Input.Version is present and negative.
var ErrNegativeVersion = errors.New("event: version must be a non-negative integer")

// Validate enforces the envelope rules from the append contract: type must
// be non-empty, payload must have been supplied (any JSON value, including
// null, counts), and version, if present, must be non-negative.
func (in Input) Validate() error {
	if strings.TrimSpace(in.Type) == "" {
		return ErrEmptyType
	}
	if len(in.Payload) == 0 {
		return ErrMissingPayload
	}
	if in.Version != nil && *in.Version < 0 {
		return ErrNegativeVersion
	}
	return nil
}

// VersionOrDefault returns the stored version, defaulting to 1 per the
// spec's envelope rule.
func (in Input) VersionOrDefault() int {
	if in.Version == nil {
		return 1
	}
	return *in.Version
}

// Record is the durable, system-stamped form of an event: everything a
// storage backend persists and every subscriber observes.
type Record struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Version   int             `json:"version"`
	Offset    offset.Offset   `json:"-"`
	CreatedAt time.Time       `json:"-"`
	Path      StreamPath      `json:"-"`
}

// wireRecord is the JSON shape clients actually see: offset and createdAt
// render as strings per the wire format in spec.md section 6.
type wireRecord struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Version   int             `json:"version"`
	Offset    string          `json:"offset"`
	CreatedAt string          `json:"createdAt"`
	Path      string          `json:"path"`
}

// MarshalJSON renders the record the way the wire format specifies:
// offset as a zero-padded string, createdAt as millisecond-precision
// RFC3339.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRecord{
		Type:      r.Type,
		Payload:   r.Payload,
		Version:   r.Version,
		Offset:    r.Offset.String(),
		CreatedAt: r.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Path:      string(r.Path),
	})
}

// UnmarshalJSON is the inverse of MarshalJSON, used by file-backed storage
// to decode records persisted as newline- or length-delimited JSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := offset.ParseAfter(w.Offset)
	if err != nil || parsed.Unset {
		return errors.New("event: record has invalid offset")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, w.CreatedAt)
	if err != nil {
		return err
	}
	r.Type = w.Type
	r.Payload = w.Payload
	r.Version = w.Version
	r.Offset = parsed.Value
	r.CreatedAt = createdAt
	r.Path = StreamPath(w.Path)
	return nil
}

// NewRecord stamps an Input into a Record at the given offset and time.
func NewRecord(path StreamPath, in Input, o offset.Offset, createdAt time.Time) Record {
	return Record{
		Type:      in.Type,
		Payload:   in.Payload,
		Version:   in.VersionOrDefault(),
		Offset:    o,
		CreatedAt: createdAt,
		Path:      path,
	}
}
