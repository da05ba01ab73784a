package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/hamdam-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained asks per second allowed per client.
	defaultRateLimit = 10
	// defaultRateBurst is how many asks a client may send back to back.
	defaultRateBurst = 20
	// limiterIdle is how long a client's bucket survives without asks.
	limiterIdle = 5 * time.Minute
)

// bucket is one client's token bucket.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// askLimiter throttles POST /api/sessions/{id}/ask per client IP. A single
// ask can hold the model for minutes, so the other routes are not limited.
type askLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rps     rate.Limit
	burst   int
	// rejected is incremented for every throttled ask. May be nil.
	rejected func()
}

func newAskLimiter(rps float64, burst int) *askLimiter {
	return &askLimiter{
		buckets: make(map[string]*bucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

// allow reports whether client may ask now.
func (l *askLimiter) allow(client string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[client]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[client] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// sweep forgets clients not seen since before cutoff and returns how many
// buckets remain.
func (l *askLimiter) sweep(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	for client, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, client)
		}
	}
	return len(l.buckets)
}

// retryAfter is the Retry-After value in whole seconds, at least 1.
func (l *askLimiter) retryAfter() string {
	secs := 1.0
	if l.rps > 0 {
		secs = math.Max(1, math.Ceil(1/float64(l.rps)))
	}
	return strconv.Itoa(int(secs))
}

// wrap rejects throttled asks with 429 and a JSON error body.
func (l *askLimiter) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		if !l.allow(client, time.Now()) {
			logging.FromContext(r.Context()).Warn("server: ask throttled",
				slog.String("client", client),
				slog.String("session_id", r.PathValue("id")),
			)
			if l.rejected != nil {
				l.rejected()
			}
			w.Header().Set("Retry-After", l.retryAfter())
			writeError(r.Context(), w, http.StatusTooManyRequests, "too many questions, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the host part of RemoteAddr. X-Forwarded-For is ignored: the
// server binds to localhost by default and is not meant to sit behind a
// proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
