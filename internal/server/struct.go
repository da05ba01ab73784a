package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/hamdam-go/internal/chatbot"
	"github.com/54b3r/hamdam-go/internal/conversation"
	"github.com/54b3r/hamdam-go/internal/langdetect"
	"github.com/54b3r/hamdam-go/internal/session"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// outlast AskTimeout.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// AskTimeout bounds a single generation (default: 5m).
	AskTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency checks run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// Models is the catalogue served by GET /api/models.
	Models []session.Descriptor
	// MaxSessions bounds how many chat sessions coexist (default: 4).
	MaxSessions int
	// SessionIdleTimeout closes sessions that have not been used for this
	// long. Zero disables eviction.
	SessionIdleTimeout time.Duration
	// RateLimit is the sustained ask rate allowed per IP (requests/second).
	// Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all /api/* routes except the
	// health checks. If empty, authentication is disabled.
	APIKey string
	// MetricsRegistry receives the server collectors. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Chat is one conversation bound to its own model session.
// *chatbot.Chatbot satisfies it; tests inject a fake.
type Chat interface {
	ID() string
	ActiveModel() string
	Language() langdetect.Language
	History() []conversation.Turn
	Ask(ctx context.Context, question string, opts chatbot.AskOptions) (string, error)
	Switch(ctx context.Context, name string) error
	Reset()
	Close(ctx context.Context) error
}

// ChatFactory starts a new Chat with model active. An empty model selects
// the default.
type ChatFactory func(ctx context.Context, model string) (Chat, error)

// Server is the HTTP server that hosts chat sessions.
type Server struct {
	// newChat builds the chatbot behind each session.
	newChat ChatFactory
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency checks for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors for this server.
	metrics *serverMetrics
	// sessions tracks the live chat sessions.
	sessions *sessionStore
	// limiter throttles asks per client.
	limiter *askLimiter
}

// sessionStore is the registry of live chat sessions.
type sessionStore struct {
	mu sync.Mutex
	// chats maps session id to its entry.
	chats map[string]*sessionEntry
	// pending counts sessions being created; they hold a slot.
	pending int
	limit   int
}

// sessionEntry is one live session and when it was last used.
type sessionEntry struct {
	chat     Chat
	lastUsed time.Time
}

// createSessionRequest is the JSON body for POST /api/sessions.
type createSessionRequest struct {
	// Model selects the model to load. Empty means the default model.
	Model string `json:"model"`
}

// sessionResponse describes a session.
type sessionResponse struct {
	ID       string              `json:"id"`
	Model    string              `json:"model"`
	Language langdetect.Language `json:"language"`
	// History is only populated by GET /api/sessions/{id}.
	History []conversation.Turn `json:"history,omitempty"`
}

// askRequest is the JSON body for POST /api/sessions/{id}/ask.
type askRequest struct {
	Question string `json:"question"`
	// MaxTokens and Temperature are optional. An absent temperature uses
	// the server default; 0 is a valid value.
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
}

// askResponse is the JSON response for POST /api/sessions/{id}/ask.
type askResponse struct {
	Answer   string              `json:"answer"`
	Model    string              `json:"model"`
	Language langdetect.Language `json:"language"`
}

// switchRequest is the JSON body for POST /api/sessions/{id}/switch.
type switchRequest struct {
	Model string `json:"model"`
}

// modelsResponse is the JSON response for GET /api/models.
type modelsResponse struct {
	Models []session.Descriptor `json:"models"`
}

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Error string `json:"error"`
}
