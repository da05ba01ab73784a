package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/hamdam-go/internal/chatbot"
	"github.com/54b3r/hamdam-go/internal/logging"
	"github.com/54b3r/hamdam-go/internal/session"
)

// errSessionLimit is returned when every session slot is taken.
var errSessionLimit = errors.New("server: session limit reached")

func newSessionStore(limit int) *sessionStore {
	return &sessionStore{chats: make(map[string]*sessionEntry), limit: limit}
}

// reserve claims a slot for a session that is about to be created.
func (st *sessionStore) reserve() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.chats)+st.pending >= st.limit {
		return errSessionLimit
	}
	st.pending++
	return nil
}

// commit turns a reserved slot into a live session. A nil chat releases
// the slot.
func (st *sessionStore) commit(c Chat) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pending--
	if c != nil {
		st.chats[c.ID()] = &sessionEntry{chat: c, lastUsed: time.Now()}
	}
}

// get returns the session and marks it used.
func (st *sessionStore) get(id string) (Chat, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.chats[id]
	if !ok {
		return nil, false
	}
	e.lastUsed = time.Now()
	return e.chat, true
}

// remove drops the session from the store and returns it.
func (st *sessionStore) remove(id string) (Chat, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.chats[id]
	if !ok {
		return nil, false
	}
	delete(st.chats, id)
	return e.chat, true
}

// idle removes and returns every session unused since cutoff.
func (st *sessionStore) idle(cutoff time.Time) []Chat {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []Chat
	for id, e := range st.chats {
		if e.lastUsed.Before(cutoff) {
			out = append(out, e.chat)
			delete(st.chats, id)
		}
	}
	return out
}

// drain removes and returns every session.
func (st *sessionStore) drain() []Chat {
	return st.idle(time.Now().Add(time.Hour))
}

func (st *sessionStore) count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.chats)
}

// handleCreateSession handles POST /api/sessions. It loads the requested
// model, which can take a while, so the slot is reserved up front.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)

	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(ctx, w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := s.sessions.reserve(); err != nil {
		log.Warn("server: session limit reached", slog.Int("max_sessions", s.cfg.MaxSessions))
		writeError(ctx, w, http.StatusTooManyRequests, "session limit reached")
		return
	}

	c, err := s.newChat(ctx, strings.TrimSpace(req.Model))
	if err != nil {
		s.sessions.commit(nil)
		if errors.Is(err, session.ErrConfiguration) {
			writeError(ctx, w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error("server: create session failed", slog.String("model", req.Model), slog.Any("error", err))
		writeError(ctx, w, http.StatusBadGateway, err.Error())
		return
	}
	s.sessions.commit(c)
	s.metrics.activeSessions.Set(float64(s.sessions.count()))

	log.Info("server: session created",
		slog.String("session_id", c.ID()),
		slog.String("model", c.ActiveModel()),
	)
	writeJSON(ctx, w, http.StatusCreated, sessionResponse{
		ID:       c.ID(),
		Model:    c.ActiveModel(),
		Language: c.Language(),
	})
}

// handleGetSession handles GET /api/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, sessionResponse{
		ID:       c.ID(),
		Model:    c.ActiveModel(),
		Language: c.Language(),
		History:  c.History(),
	})
}

// handleDeleteSession handles DELETE /api/sessions/{id}. The session's
// model is unloaded before the reply.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, ok := s.sessions.remove(r.PathValue("id"))
	if !ok {
		writeError(ctx, w, http.StatusNotFound, "session not found")
		return
	}
	s.metrics.activeSessions.Set(float64(s.sessions.count()))

	if err := c.Close(ctx); err != nil {
		logging.FromContext(ctx).Warn("server: close session", slog.String("session_id", c.ID()), slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAsk handles POST /api/sessions/{id}/ask.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)

	c, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(ctx, w, http.StatusBadRequest, "question is required")
		return
	}
	if t := req.Temperature; t != nil && (*t < 0 || *t > 2) {
		writeError(ctx, w, http.StatusBadRequest, "temperature must be within [0, 2]")
		return
	}

	askCtx, cancel := context.WithTimeout(ctx, s.cfg.AskTimeout)
	defer cancel()

	start := time.Now()
	answer, err := c.Ask(askCtx, req.Question, chatbot.AskOptions{MaxTokens: req.MaxTokens, Temperature: req.Temperature})
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
		s.metrics.observeAsk("ok", elapsed)
		writeJSON(ctx, w, http.StatusOK, askResponse{
			Answer:   answer,
			Model:    c.ActiveModel(),
			Language: c.Language(),
		})
	case errors.Is(err, context.DeadlineExceeded):
		s.metrics.observeAsk("timeout", elapsed)
		log.Warn("server: ask timed out", slog.String("session_id", c.ID()), slog.Duration("timeout", s.cfg.AskTimeout))
		writeError(ctx, w, http.StatusGatewayTimeout, "generation timed out")
	case errors.Is(err, chatbot.ErrGeneration):
		s.metrics.observeAsk("error", elapsed)
		log.Error("server: generation failed", slog.String("session_id", c.ID()), slog.Any("error", err))
		writeError(ctx, w, http.StatusBadGateway, err.Error())
	default:
		s.metrics.observeAsk("error", elapsed)
		log.Error("server: ask failed", slog.String("session_id", c.ID()), slog.Any("error", err))
		writeError(ctx, w, http.StatusInternalServerError, err.Error())
	}
}

// handleSwitch handles POST /api/sessions/{id}/switch.
func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	c, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Model) == "" {
		writeError(ctx, w, http.StatusBadRequest, "model is required")
		return
	}

	if err := c.Switch(ctx, strings.TrimSpace(req.Model)); err != nil {
		if errors.Is(err, session.ErrConfiguration) {
			writeError(ctx, w, http.StatusBadRequest, err.Error())
			return
		}
		logging.FromContext(ctx).Error("server: switch failed", slog.String("session_id", c.ID()), slog.Any("error", err))
		writeError(ctx, w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(ctx, w, http.StatusOK, sessionResponse{
		ID:       c.ID(),
		Model:    c.ActiveModel(),
		Language: c.Language(),
	})
}

// handleReset handles POST /api/sessions/{id}/reset.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	c.Reset()
	writeJSON(r.Context(), w, http.StatusOK, sessionResponse{
		ID:       c.ID(),
		Model:    c.ActiveModel(),
		Language: c.Language(),
	})
}

// lookup resolves {id} or writes 404.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (Chat, bool) {
	c, ok := s.sessions.get(r.PathValue("id"))
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return c, true
}

// housekeeping runs once a minute until ctx is cancelled. It forgets idle
// rate-limit buckets and, when SessionIdleTimeout is set, closes sessions
// idle for longer than that.
func (s *Server) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.limiter.sweep(now.Add(-limiterIdle))
			if s.cfg.SessionIdleTimeout > 0 {
				s.evictIdle(ctx, now.Add(-s.cfg.SessionIdleTimeout))
			}
		}
	}
}

func (s *Server) evictIdle(ctx context.Context, cutoff time.Time) {
	for _, c := range s.sessions.idle(cutoff) {
		s.log.Info("server: closing idle session", slog.String("session_id", c.ID()))
		if err := c.Close(ctx); err != nil {
			s.log.Warn("server: close idle session", slog.String("session_id", c.ID()), slog.Any("error", err))
		}
	}
	s.metrics.activeSessions.Set(float64(s.sessions.count()))
}

// closeAll unloads every live session during shutdown.
func (s *Server) closeAll(ctx context.Context) {
	for _, c := range s.sessions.drain() {
		if err := c.Close(ctx); err != nil {
			s.log.Warn("server: close session on shutdown", slog.String("session_id", c.ID()), slog.Any("error", err))
		}
	}
	s.metrics.activeSessions.Set(0)
}
