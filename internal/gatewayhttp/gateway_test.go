package gatewayhttp

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/durablestreams/streamd/internal/metrics"
	"github.com/durablestreams/streamd/internal/storage/memstore"
	"github.com/durablestreams/streamd/internal/streams"
	"github.com/durablestreams/streamd/internal/streams/event"
)

func testInput(tpe string) event.Input {
	return event.Input{Type: tpe, Payload: json.RawMessage(`{}`)}
}

func testGateway(t *testing.T) *Gateway {
	t.Helper()
	manager := streams.NewManager(memstore.New(), streams.ManagerConfig{SubscriberBuffer: 16})
	m := metrics.New(prometheus.NewRegistry())
	return New(manager, "/agents", zap.NewNop(), m, 0)
}

func TestHandleAppendSuccess(t *testing.T) {
	g := testGateway(t)
	mux := http.NewServeMux()
	g.RegisterRoutes(mux)

	req := httptest.NewRequest("POST", "/agents/my/session", strings.NewReader(`{"type":"t","payload":{"x":1}}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "0000000000000000", body["offset"])
}

func TestHandleAppendInvalidEnvelopeIs400(t *testing.T) {
	g := testGateway(t)
	mux := http.NewServeMux()
	g.RegisterRoutes(mux)

	req := httptest.NewRequest("POST", "/agents/my/session", strings.NewReader(`{"payload":{}}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["error"])
}

func TestHandleAppendMissingPayloadIs400(t *testing.T) {
	g := testGateway(t)
	mux := http.NewServeMux()
	g.RegisterRoutes(mux)

	req := httptest.NewRequest("POST", "/agents/my/session", strings.NewReader(`{"type":"t"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReadOneShotClosesAfterHistory(t *testing.T) {
	g := testGateway(t)
	mux := http.NewServeMux()
	g.RegisterRoutes(mux)

	for i := 0; i < 3; i++ {
		body := strings.NewReader(`{"type":"t","payload":{}}`)
		req := httptest.NewRequest("POST", "/agents/a", body)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest("GET", "/agents/a?offset=-1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	var dataLines int
	for _, l := range lines {
		if strings.HasPrefix(l, "data: ") {
			dataLines++
		}
	}
	assert.Equal(t, 3, dataLines)
}

func TestHandleReadSubscribeAllEmptyPath(t *testing.T) {
	g := testGateway(t)
	mux := http.NewServeMux()
	g.RegisterRoutes(mux)

	req := httptest.NewRequest("POST", "/agents/a", strings.NewReader(`{"type":"t","payload":{}}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("GET", "/agents/?offset=-1", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"path":"a"`)
}

func TestHandleReadInvalidOffsetIs400(t *testing.T) {
	g := testGateway(t)
	mux := http.NewServeMux()
	g.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/agents/a?offset=not-a-number", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReadLiveModeSSEFraming(t *testing.T) {
	manager := streams.NewManager(memstore.New(), streams.ManagerConfig{SubscriberBuffer: 16})
	m := metrics.New(prometheus.NewRegistry())
	g := New(manager, "/agents", zap.NewNop(), m, 0)

	mux := http.NewServeMux()
	g.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", server.URL+"/agents/a?offset=-1&live=sse", nil)
	require.NoError(t, err)

	client := &http.Client{}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	go func() {
		time.Sleep(100 * time.Millisecond)
		_, err := manager.Append(context.Background(), "a", testInput("live"))
		assert.NoError(t, err)
	}()

	reader := bufio.NewReader(resp.Body)
	var sawDataLine bool
	for i := 0; i < 10; i++ {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if strings.HasPrefix(line, "data: ") {
			sawDataLine = true
			break
		}
	}
	assert.True(t, sawDataLine, "expected to observe at least one SSE data line")
}
