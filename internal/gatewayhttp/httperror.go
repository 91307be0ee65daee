package gatewayhttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// httpError pairs a status code with a client-facing message, the same
// shape as the teacher handler's httpError/newHTTPError/writeError trio,
// adapted to write the JSON error body the append/read contract specifies
// instead of plain text.
type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string { return e.message }

func newHTTPError(status int, message string) *httpError {
	return &httpError{status: status, message: message}
}

// writeError writes err as a JSON {"error": "..."} body. An *httpError
// carries its own status; any other error is logged and reported as a
// generic 500, never leaking internal detail to the client.
func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		writeJSONError(w, httpErr.status, httpErr.message)
		return
	}

	g.logger.Error("internal error", zap.Error(err))
	writeJSONError(w, http.StatusInternalServerError, "internal error")
}

func writeJSONError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reason})
}
