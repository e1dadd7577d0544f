// Package ratelimit throttles the routes that call the identity provider.
//
// Buckets are keyed by shopper session, falling back to client IP when the
// request has no session. State is in-process; each replica limits on its own.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	dErrors "storefront/pkg/domain-errors"
	"storefront/pkg/platform/httputil"
	metadata "storefront/pkg/platform/middleware/metadata"
	"storefront/pkg/requestcontext"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Middleware is a per-key token bucket limiter.
type Middleware struct {
	limit    rate.Limit
	burst    int
	idleFor  time.Duration
	disabled bool
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type Option func(*Middleware)

// WithDisabled turns limiting off (local demos, tests).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// WithIdleEviction sets how long an unused bucket is kept.
func WithIdleEviction(d time.Duration) Option {
	return func(m *Middleware) {
		if d > 0 {
			m.idleFor = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) {
		m.logger = logger
	}
}

// WithClock is for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Middleware) {
		if now != nil {
			m.now = now
		}
	}
}

// New allows rps requests per second per key with bursts up to burst.
func New(rps float64, burst int, opts ...Option) *Middleware {
	if burst < 1 {
		burst = 1
	}
	m := &Middleware{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleFor: 10 * time.Minute,
		logger:  slog.Default(),
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		m.logger.Info("rate limiting disabled")
	}
	return m
}

// Limit rejects requests over the key's budget with 429 and Retry-After.
func (m *Middleware) Limit(next http.Handler) http.Handler {
	if m == nil || m.disabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := keyFor(ctx, r)
		l := m.get(key)

		res := l.ReserveN(m.now(), 1)
		delay := res.DelayFrom(m.now())
		if !res.OK() || delay > 0 {
			res.CancelAt(m.now())
			retryAfter := int(math.Ceil(delay.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			m.logger.InfoContext(ctx, "rate limit exceeded",
				"request_id", requestcontext.RequestID(ctx),
				"path", r.URL.Path,
				"retry_after", retryAfter,
			)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, please try again later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Sweep drops buckets unused for longer than the idle period and returns how
// many were dropped.
func (m *Middleware) Sweep() int {
	cutoff := m.now().Add(-m.idleFor)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, k)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is cancelled.
func (m *Middleware) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Middleware) get(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buckets[key]; ok {
		b.lastSeen = m.now()
		return b.limiter
	}
	l := rate.NewLimiter(m.limit, m.burst)
	m.buckets[key] = &bucket{limiter: l, lastSeen: m.now()}
	return l
}

func keyFor(ctx context.Context, r *http.Request) string {
	if sid := requestcontext.SessionID(ctx); !sid.IsNil() {
		return "session:" + sid.String()
	}
	ip := metadata.GetClientIP(ctx)
	if ip == "" {
		ip = metadata.ClientIPFromRequest(r)
	}
	return "ip:" + ip
}
