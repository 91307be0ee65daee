package streams

import "errors"

// ErrSubscriberLagged is surfaced to a live subscriber whose bounded queue
// overflowed. The subscription is terminated and is not recoverable; the
// caller must issue a fresh Subscribe call, which will replay from
// wherever it left off via history.
var ErrSubscriberLagged = errors.New("streams: subscriber lagged, queue overflowed")

// ErrUnknownMode is returned for an unrecognised subscribe mode.
var ErrUnknownMode = errors.New("streams: unknown subscribe mode")
