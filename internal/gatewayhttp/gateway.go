// Package gatewayhttp is the HTTP/SSE surface of streamd: exactly two
// routes under a configurable prefix, a strict envelope decoder, and an
// SSE framer, kept flat rather than layered into a middleware chain, per
// the design notes' warning against deep decorator nesting.
package gatewayhttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/durablestreams/streamd/internal/metrics"
	"github.com/durablestreams/streamd/internal/streams"
	"github.com/durablestreams/streamd/internal/streams/event"
	"github.com/durablestreams/streamd/internal/streams/offset"
)

// Gateway wires a streams.Manager to net/http.
type Gateway struct {
	manager           *streams.Manager
	prefix            string
	logger            *zap.Logger
	metrics           *metrics.Metrics
	keepaliveInterval time.Duration
}

// New constructs a Gateway. prefix must not have a trailing slash (e.g.
// "/agents"); keepalive of 0 disables SSE keepalive comments.
func New(manager *streams.Manager, prefix string, logger *zap.Logger, m *metrics.Metrics, keepalive time.Duration) *Gateway {
	return &Gateway{
		manager:           manager,
		prefix:            strings.TrimSuffix(prefix, "/"),
		logger:            logger,
		metrics:           m,
		keepaliveInterval: keepalive,
	}
}

// RegisterRoutes adds the gateway's two routes to mux. The caller owns
// the mux and mounts whatever else it needs (metrics, health) alongside
// it before wrapping the whole thing in Wrap.
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST "+g.prefix+"/{path...}", g.handleAppend)
	mux.HandleFunc("GET "+g.prefix+"/{path...}", g.handleRead)
	mux.HandleFunc("GET "+g.prefix, g.handleRead)
}

// Wrap applies the single logging/recovery middleware the design notes
// allow in place of a composable chain: a request log line plus panic
// recovery.
func (g *Gateway) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				g.logger.Error("panic handling request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Any("recovered", rec),
				)
				writeJSONError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
		g.logger.Debug("handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (g *Gateway) handleAppend(w http.ResponseWriter, r *http.Request) {
	path := event.StreamPath(r.PathValue("path"))
	if err := path.Validate(); err != nil {
		g.writeError(w, newHTTPError(http.StatusBadRequest, err.Error()))
		return
	}

	in, err := decodeEnvelope(r)
	if err != nil {
		g.logger.Info("invalid append envelope", zap.String("path", string(path)), zap.Error(err))
		g.writeError(w, newHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error()))
		return
	}
	if err := in.Validate(); err != nil {
		g.logger.Info("invalid append envelope", zap.String("path", string(path)), zap.Error(err))
		g.writeError(w, newHTTPError(http.StatusBadRequest, err.Error()))
		return
	}

	rec, err := g.manager.Append(r.Context(), path, in)
	if err != nil {
		g.metrics.AppendErrorsTotal.WithLabelValues(string(path), "storage").Inc()
		g.logger.Error("append failed", zap.String("path", string(path)), zap.Error(err))
		g.writeError(w, newHTTPError(http.StatusInternalServerError, "storage failure"))
		return
	}

	g.metrics.AppendsTotal.WithLabelValues(string(path)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "offset": rec.Offset.String()})
}

func (g *Gateway) handleRead(w http.ResponseWriter, r *http.Request) {
	rawPath := r.PathValue("path")

	after, err := parseOffsetParam(r)
	if err != nil {
		g.writeError(w, newHTTPError(http.StatusBadRequest, err.Error()))
		return
	}

	live := isLive(r)
	mode := streams.ModeHistoryOnly
	if live {
		mode = streams.ModeHistoryThenLive
	}

	var sub *streams.Subscription
	var pathLabel string

	if rawPath == "" {
		pathLabel = "*"
		sub, err = g.manager.SubscribeAll(r.Context(), mode, after)
	} else {
		path := event.StreamPath(rawPath)
		if verr := path.Validate(); verr != nil {
			g.writeError(w, newHTTPError(http.StatusBadRequest, verr.Error()))
			return
		}
		pathLabel = rawPath
		sub, err = g.manager.Subscribe(r.Context(), path, mode, after)
	}
	if err != nil {
		if errors.Is(err, event.ErrEmptyPath) || errors.Is(err, event.ErrInvalidPath) {
			g.writeError(w, newHTTPError(http.StatusBadRequest, err.Error()))
			return
		}
		g.logger.Error("subscribe failed", zap.String("path", pathLabel), zap.Error(err))
		g.writeError(w, newHTTPError(http.StatusInternalServerError, "storage failure"))
		return
	}
	defer sub.Close()

	g.streamSSE(w, r, sub, pathLabel)
}

// parseOffsetParam reads the "offset" query parameter, falling back to the
// Last-Event-ID header (the standard SSE resume mechanism) and finally to
// the spec's "-1" sentinel meaning "from the start".
func parseOffsetParam(r *http.Request) (offset.Bound, error) {
	raw := r.URL.Query().Get("offset")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	if raw == "" {
		raw = "-1"
	}
	return offset.ParseAfter(raw)
}

// isLive reports whether the request asked for live mode. The Accept
// header is informational only; live=sse or live=true is authoritative,
// per spec.md section 4.4.
func isLive(r *http.Request) bool {
	switch r.URL.Query().Get("live") {
	case "sse", "true":
		return true
	default:
		return false
	}
}
