package gatewayhttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/durablestreams/streamd/internal/streams/event"
)

const maxEnvelopeBytes = 8 << 20 // 8 MiB, generous for a single append body

// decodeEnvelope strictly decodes r's body into an event.Input: unknown
// top-level fields are rejected, and a second JSON value after the first
// is an error, matching the append contract's "strict" validation.
func decodeEnvelope(r *http.Request) (event.Input, error) {
	var in event.Input
	body := io.LimitReader(r.Body, maxEnvelopeBytes+1)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&in); err != nil {
		if errors.Is(err, io.EOF) {
			return event.Input{}, fmt.Errorf("request body is empty")
		}
		return event.Input{}, err
	}
	if err := dec.Decode(new(json.RawMessage)); err != io.EOF {
		return event.Input{}, fmt.Errorf("request body must contain exactly one JSON value")
	}
	return in, nil
}
