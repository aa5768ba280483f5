package server

import (
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/livetemplate/lessonview/internal/cache"
	"github.com/livetemplate/lessonview/internal/metrics"
)

const (
	// idleLimiterTTL drops a client's bucket after this long without requests.
	idleLimiterTTL = 10 * time.Minute

	defaultMaxTrackedIPs = 10000

	// evictionLogInterval is the minimum time between eviction log lines.
	evictionLogInterval = 30 * time.Second
)

// RateLimiter applies a token bucket per client IP. At most maxIPs
// buckets are tracked; the least recently seen client is forgotten when
// a new one arrives at capacity.
type RateLimiter struct {
	rps     rate.Limit
	burst   int
	maxIPs  int
	buckets *cache.MemoryCache[*rate.Limiter]

	mu           sync.Mutex
	lastEvictLog time.Time
	evicted      int
}

// NewRateLimiter creates a limiter allowing rps requests per second per
// client with the given burst. Close releases its cleanup goroutine.
func NewRateLimiter(rps float64, burst, maxIPs int) *RateLimiter {
	if maxIPs <= 0 {
		maxIPs = defaultMaxTrackedIPs
	}
	l := &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		maxIPs:  maxIPs,
		buckets: cache.NewMemoryCache[*rate.Limiter](maxIPs),
	}
	l.buckets.OnEvict(func(string, *rate.Limiter) { l.noteEviction() })
	return l
}

func (l *RateLimiter) noteEviction() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evicted++
	if time.Since(l.lastEvictLog) >= evictionLogInterval {
		log.Printf("[RateLimit] Evicted %d least-recent IP(s) (at capacity: %d IPs)", l.evicted, l.maxIPs)
		l.lastEvictLog = time.Now()
		l.evicted = 0
	}
}

// Allow reports whether a request from ip may proceed.
func (l *RateLimiter) Allow(ip string) bool {
	bucket := l.buckets.GetOrCreate(ip, idleLimiterTTL, func() *rate.Limiter {
		return rate.NewLimiter(l.rps, l.burst)
	})
	return bucket.Allow()
}

// Tracked returns the number of clients with a live bucket.
func (l *RateLimiter) Tracked() int { return l.buckets.Len() }

// Middleware rejects over-limit requests with 429 and a JSON error.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			metrics.RateLimited.Inc()
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Close stops the background cleanup.
func (l *RateLimiter) Close() error {
	l.buckets.Stop()
	return nil
}

// clientIP returns the address a request is limited under. Forwarding
// headers are honored only when the peer is a loopback or private
// address, that is a reverse proxy in front of the server.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer := net.ParseIP(host)
	if peer == nil {
		return host
	}
	if peer.IsLoopback() || peer.IsPrivate() {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	return peer.String()
}
