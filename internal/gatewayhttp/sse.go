package gatewayhttp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/durablestreams/streamd/internal/streams"
	"github.com/durablestreams/streamd/internal/streams/event"
)

// writeSSEFrame writes one SSE record for rec and flushes it immediately,
// exactly as spec.md section 4.4/6: an "event: data" line, an "id:" line
// carrying the offset (so a client can resume with offset=<last id>), a
// "data:" line with the minified record, then a blank line.
func writeSSEFrame(w http.ResponseWriter, flusher http.Flusher, rec event.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: data\nid: %s\ndata: %s\n\n", rec.Offset.String(), data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// streamSSE drains sub into the response as SSE frames until the
// subscription ends (history-only completion, lag, storage failure) or the
// client disconnects. It writes the headers and the 200 status itself
// before the first frame is known to succeed, per the SSE contract: once
// streaming starts there's no way to change the status.
func (g *Gateway) streamSSE(w http.ResponseWriter, r *http.Request, sub *streams.Subscription, pathLabel string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("response writer does not support flushing")
		return
	}

	connID := uuid.NewString()
	g.logger.Debug("sse connection opened", zap.String("conn_id", connID), zap.String("path", pathLabel))
	defer g.logger.Debug("sse connection closed", zap.String("conn_id", connID), zap.String("path", pathLabel))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	g.metrics.SubscribersActive.Inc()
	defer g.metrics.SubscribersActive.Dec()

	var keepalive <-chan time.Time
	if g.keepaliveInterval > 0 {
		ticker := time.NewTicker(g.keepaliveInterval)
		defer ticker.Stop()
		keepalive = ticker.C
	}

	ctx := r.Context()
	for {
		select {
		case rec, ok := <-sub.Records:
			if !ok {
				g.logEndOfSubscription(sub, pathLabel, connID)
				return
			}
			if err := writeSSEFrame(w, flusher, rec); err != nil {
				g.logger.Debug("sse write failed, client likely disconnected", zap.Error(err))
				return
			}
			g.metrics.EventsDeliveredTotal.WithLabelValues(pathLabel).Inc()
		case <-keepalive:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) logEndOfSubscription(sub *streams.Subscription, pathLabel, connID string) {
	err := sub.Err()
	switch {
	case err == nil:
		return
	case err == streams.ErrSubscriberLagged:
		g.metrics.SubscribersLagged.WithLabelValues(pathLabel).Inc()
		g.logger.Warn("subscriber lagged, terminating stream", zap.String("conn_id", connID), zap.String("path", pathLabel))
	default:
		g.logger.Error("subscription ended with error", zap.String("conn_id", connID), zap.String("path", pathLabel), zap.Error(err))
	}
}
