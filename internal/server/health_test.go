package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/54b3r/hamdam-go/internal/version"
)

// fakePinger reports err on every Ping and counts the calls.
type fakePinger struct {
	name  string
	err   error
	calls atomic.Int32
}

func (f *fakePinger) Name() string { return f.name }

func (f *fakePinger) Ping(ctx context.Context) error {
	f.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("ping without deadline")
	}
	return f.err
}

func readyServer(pingers ...Pinger) *Server {
	return newTestServerWith(newFakeFactory(), &Config{Pingers: pingers})
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	h := s.Handler()
	createSession(t, h, "dorna")

	w := do(t, h, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}

	var resp healthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Version != version.Version || resp.Sessions != 1 {
		t.Errorf("unexpected health: %+v", resp)
	}
}

func TestReady(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		pingers    []*fakePinger
		wantStatus int
		wantReady  bool
		wantFailed []string
	}{
		{
			name:       "no dependencies",
			wantStatus: http.StatusOK,
			wantReady:  true,
		},
		{
			name:       "all reachable",
			pingers:    []*fakePinger{{name: "ollama"}, {name: "qdrant"}},
			wantStatus: http.StatusOK,
			wantReady:  true,
		},
		{
			name:       "qdrant down",
			pingers:    []*fakePinger{{name: "ollama"}, {name: "qdrant", err: errors.New("connection refused")}},
			wantStatus: http.StatusServiceUnavailable,
			wantFailed: []string{"qdrant"},
		},
		{
			name:       "everything down",
			pingers:    []*fakePinger{{name: "openai", err: errors.New("timeout")}, {name: "qdrant", err: errors.New("connection refused")}},
			wantStatus: http.StatusServiceUnavailable,
			wantFailed: []string{"openai", "qdrant"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var pingers []Pinger
			for _, p := range tt.pingers {
				pingers = append(pingers, p)
			}
			w := do(t, readyServer(pingers...).Handler(), http.MethodGet, "/api/ready", nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("status: got %d, want %d, body: %s", w.Code, tt.wantStatus, w.Body.String())
			}

			var resp readyResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Ready != tt.wantReady {
				t.Errorf("ready: got %v, want %v", resp.Ready, tt.wantReady)
			}
			if len(resp.Checks) != len(tt.pingers) {
				t.Fatalf("checks: got %d, want %d", len(resp.Checks), len(tt.pingers))
			}

			var failed []string
			for i, c := range resp.Checks {
				if c.Name != tt.pingers[i].name {
					t.Errorf("check %d: got %q, want %q", i, c.Name, tt.pingers[i].name)
				}
				if !c.OK {
					failed = append(failed, c.Name)
					if c.Error == "" {
						t.Errorf("check %q failed without an error", c.Name)
					}
				}
			}
			if strings.Join(failed, ",") != strings.Join(tt.wantFailed, ",") {
				t.Errorf("failed checks: got %v, want %v", failed, tt.wantFailed)
			}
		})
	}
}

func TestMultiPinger(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	ok := &fakePinger{name: "ollama"}
	if err := NewMultiPinger(ok).Ping(ctx); err != nil {
		t.Fatalf("healthy: %v", err)
	}

	down := &fakePinger{name: "qdrant", err: errors.New("connection refused")}
	err := NewMultiPinger(&fakePinger{name: "ollama", err: errors.New("timeout")}, down).Ping(ctx)
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, want := range []string{"ollama: timeout", "qdrant: connection refused"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
	if down.calls.Load() != 1 {
		t.Errorf("every dependency should be pinged once, qdrant got %d", down.calls.Load())
	}
}
