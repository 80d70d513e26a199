package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// RequestLogger logs one line per request with its status and latency
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

const (
	defaultMaxClients  = 10000
	defaultIdleTimeout = 10 * time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter hands out one token bucket per client address. The bucket set
// is bounded: idle buckets are swept, and when the set is full the least
// recently seen client is dropped.
type IPRateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	limit      rate.Limit
	burst      int
	maxClients int
	idle       time.Duration
	now        func() time.Time
}

// LimiterOption tunes an IPRateLimiter
type LimiterOption func(*IPRateLimiter)

// WithMaxClients bounds the number of tracked client buckets
func WithMaxClients(n int) LimiterOption {
	return func(l *IPRateLimiter) {
		if n > 0 {
			l.maxClients = n
		}
	}
}

// WithIdleTimeout sets how long an unused bucket is kept
func WithIdleTimeout(d time.Duration) LimiterOption {
	return func(l *IPRateLimiter) {
		if d > 0 {
			l.idle = d
		}
	}
}

// NewIPRateLimiter allows rps requests per second per client with the given burst
func NewIPRateLimiter(rps float64, burst int, opts ...LimiterOption) *IPRateLimiter {
	l := &IPRateLimiter{
		buckets:    make(map[string]*bucket),
		limit:      rate.Limit(rps),
		burst:      burst,
		maxClients: defaultMaxClients,
		idle:       defaultIdleTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Len returns the number of tracked clients
func (l *IPRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Sweep drops buckets idle for longer than the idle timeout
func (l *IPRateLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(l.now())
}

// Run sweeps idle buckets every interval until ctx is done
func (l *IPRateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func (l *IPRateLimiter) sweepLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.buckets, key)
		}
	}
}

func (l *IPRateLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if b, ok := l.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}

	if len(l.buckets) >= l.maxClients {
		l.sweepLocked(now)
	}
	if len(l.buckets) >= l.maxClients {
		var oldest string
		var oldestSeen time.Time
		for k, b := range l.buckets {
			if oldest == "" || b.lastSeen.Before(oldestSeen) {
				oldest, oldestSeen = k, b.lastSeen
			}
		}
		delete(l.buckets, oldest)
	}

	b := &bucket{limiter: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
	l.buckets[key] = b
	return b.limiter
}

// Middleware rejects requests over the limit with 429. It keys on
// r.RemoteAddr, so forwarded headers only count when the router trusts them.
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			key = host
		}
		if !l.get(key).Allow() {
			writeMessage(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
