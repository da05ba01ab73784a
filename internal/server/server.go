// Package server implements the HTTP API that hosts hamdam chat sessions.
// Each session owns its own chatbot and model session; the runtime, corpus
// and embedder behind them are shared. The server is started by the
// `hamdam serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/hamdam-go/internal/logging"
)

// New constructs a Server that builds chat sessions with newChat.
func New(newChat ChatFactory, cfg *Config) (*Server, error) {
	if newChat == nil {
		return nil, fmt.Errorf("server: chat factory must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.AskTimeout == 0 {
		cfg.AskTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = cfg.AskTimeout + 30*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 4
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		newChat:  newChat,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
		sessions: newSessionStore(cfg.MaxSessions),
	}

	s.limiter = newAskLimiter(cfg.RateLimit, cfg.RateBurst)
	s.limiter.rejected = s.metrics.askThrottledTotal.Inc

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      accessLog(s.log, s.instrument(s.routes())),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: API key not set, authentication disabled")
	}

	return s, nil
}

// routes registers every endpoint. Health checks and /metrics stay open;
// everything else sits behind the Bearer check.
func (s *Server) routes() *http.ServeMux {
	protect := func(h http.HandlerFunc) http.Handler {
		return requireAPIKey(s.cfg.APIKey, h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	mux.Handle("GET /api/models", protect(s.handleModels))
	mux.Handle("POST /api/sessions", protect(s.handleCreateSession))
	mux.Handle("GET /api/sessions/{id}", protect(s.handleGetSession))
	mux.Handle("DELETE /api/sessions/{id}", protect(s.handleDeleteSession))
	mux.Handle("POST /api/sessions/{id}/ask", requireAPIKey(s.cfg.APIKey, s.limiter.wrap(http.HandlerFunc(s.handleAsk))))
	mux.Handle("POST /api/sessions/{id}/switch", protect(s.handleSwitch))
	mux.Handle("POST /api/sessions/{id}/reset", protect(s.handleReset))
	return mux
}

// Handler returns the fully wrapped HTTP handler. Tests drive it with httptest.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown and closes every
// live session.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go s.housekeeping(ctx)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		s.closeAll(shutdownCtx)
		if err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleModels handles GET /api/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, modelsResponse{Models: s.cfg.Models})
}

// instrument records request counts and latency per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		// ServeMux fills in Pattern on the request it routed.
		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, pattern, fmt.Sprint(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

// writeJSON encodes v with status. Encoding failures are only logged; the
// header is already sent.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(ctx).Error("server: encode response", slog.Any("error", err))
	}
}

// writeError replies with {"error": msg}.
func writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	writeJSON(ctx, w, status, errorResponse{Error: msg})
}
