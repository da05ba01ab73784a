package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/54b3r/hamdam-go/internal/logging"
)

// logLines decodes the JSON log lines written to buf.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if raw == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			t.Fatalf("log line %q: %v", raw, err)
		}
		lines = append(lines, m)
	}
	return lines
}

func TestAccessLog_RequestID(t *testing.T) {
	t.Parallel()

	var seen string
	h := accessLog(logging.Discard(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The handler's logger must be the request-scoped one.
		if logging.FromContext(r.Context()) == logging.FromContext(context.Background()) {
			t.Error("request context carries no logger")
		}
		seen = w.Header().Get(requestIDHeader)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	got := w.Header().Get(requestIDHeader)
	if _, err := uuid.Parse(got); err != nil {
		t.Fatalf("generated id %q is not a UUID: %v", got, err)
	}
	if seen != got {
		t.Errorf("handler saw %q, response has %q", seen, got)
	}

	inbound := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	req.Header.Set(requestIDHeader, inbound)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get(requestIDHeader) != inbound {
		t.Errorf("inbound UUID should be kept, got %q", w.Header().Get(requestIDHeader))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/models", nil)
	req.Header.Set(requestIDHeader, "not a uuid\n")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get(requestIDHeader) == "not a uuid\n" {
		t.Error("malformed inbound id should be replaced")
	}
}

func TestAccessLog_LogsRoutedRequest(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := newTestServerWith(newFakeFactory(), &Config{})
	s.httpServer.Handler = accessLog(logging.NewWithWriter(&buf, "debug", "json"), s.instrument(s.routes()))
	h := s.Handler()

	id := createSession(t, h, "zephyr").ID
	buf.Reset()
	do(t, h, http.MethodGet, "/api/sessions/"+id, nil)

	lines := logLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected one log line, got %d: %s", len(lines), buf.String())
	}
	line := lines[0]
	if line["msg"] != "request" || line["level"] != "INFO" {
		t.Errorf("unexpected line: %v", line)
	}
	if line["session_id"] != id {
		t.Errorf("session_id: got %v, want %q", line["session_id"], id)
	}
	if status, _ := line["status"].(float64); status != http.StatusOK {
		t.Errorf("status: got %v", line["status"])
	}
	if n, _ := line["bytes"].(float64); n == 0 {
		t.Error("bytes should count the response body")
	}

	buf.Reset()
	do(t, h, http.MethodGet, "/api/health", nil)
	if lines := logLines(t, &buf); len(lines) != 1 || lines[0]["level"] != "DEBUG" {
		t.Errorf("health check should log at DEBUG: %s", buf.String())
	}
}
