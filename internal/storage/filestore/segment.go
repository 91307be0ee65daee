package filestore

// Segment file format, adapted from the teacher's store.WriteMessage /
// store.ReadMessage: each record is
//
//	[4-byte big-endian length][JSON-encoded event.Record]
//
// records are concatenated without separators, so the file is
// self-delimiting and a reader never needs to know record boundaries in
// advance.

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"

	"github.com/durablestreams/streamd/internal/streams/event"
)

const (
	lengthPrefixSize = 4
	maxRecordSize    = 64 * 1024 * 1024
)

// errCorruptSegment is returned when a segment file's framing cannot be
// trusted (truncated write, torn record).
var errCorruptSegment = errors.New("filestore: corrupted segment file")

// errRecordTooLarge is returned when a record exceeds maxRecordSize.
var errRecordTooLarge = errors.New("filestore: record exceeds maximum size")

// writeRecord appends one length-prefixed JSON record to w.
func writeRecord(w io.Writer, rec event.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if len(data) > maxRecordSize {
		return errRecordTooLarge
	}

	var lenBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// readRecord reads one length-prefixed JSON record from r. Returns io.EOF
// (unwrapped) when the stream ends cleanly between records.
func readRecord(r io.Reader) (event.Record, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return event.Record{}, errCorruptSegment
		}
		return event.Record{}, err
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > maxRecordSize {
		return event.Record{}, errCorruptSegment
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return event.Record{}, errCorruptSegment
		}
		return event.Record{}, err
	}

	var rec event.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return event.Record{}, errCorruptSegment
	}
	return rec, nil
}

// readAllRecords scans an entire segment file from the start, returning
// every record in order.
func readAllRecords(r io.Reader) ([]event.Record, error) {
	var records []event.Record
	for {
		rec, err := readRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, err
		}
		records = append(records, rec)
	}
}
