package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/hamdam-go/internal/logging"
)

// requireAPIKey guards h with the configured Bearer token. With no key
// configured it returns h unchanged. Rejections carry a WWW-Authenticate
// challenge and the usual JSON error body; the presented token is never
// logged.
func requireAPIKey(apiKey string, h http.Handler) http.Handler {
	if apiKey == "" {
		return h
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if ok && subtle.ConstantTimeCompare([]byte(token), want) == 1 {
			h.ServeHTTP(w, r)
			return
		}

		challenge := `Bearer realm="hamdam"`
		msg := "authorization required"
		if ok {
			challenge += `, error="invalid_token"`
			msg = "invalid API key"
		}
		logging.FromContext(r.Context()).Warn("server: request rejected",
			slog.String("reason", msg),
			slog.Bool("token_present", ok),
		)
		w.Header().Set("WWW-Authenticate", challenge)
		writeError(r.Context(), w, http.StatusUnauthorized, msg)
	})
}

// bearerToken returns the token of an "Authorization: Bearer <token>"
// header. The scheme is case-insensitive.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
