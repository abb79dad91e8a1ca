package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/peregrinehq/stacks/pkg/contextkeys"
	"github.com/peregrinehq/stacks/pkg/httputil"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// DefaultRateLimitConfig returns default per-caller rate limit settings
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 1000,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter implements per-caller rate limiting using a token bucket.
// Buckets are kept in memory; limits are per process instance.
type RateLimiter struct {
	config  *RateLimitConfig
	buckets map[int64]*bucket
	mu      sync.Mutex
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter with the given configuration
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		config:  config,
		buckets: make(map[int64]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether the caller may proceed, consuming one token
func (rl *RateLimiter) Allow(userID int64) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[userID]
	if !ok {
		b = &bucket{
			tokens:     float64(rl.config.BurstSize),
			lastUpdate: now,
		}
		rl.buckets[userID] = b
	}

	refillRate := float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds()
	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.tokens += elapsed * refillRate
	if limit := float64(rl.config.BurstSize); b.tokens > limit {
		b.tokens = limit
	}
	b.lastUpdate = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Handler wraps an HTTP handler with per-caller rate limiting. It must
// run after Identity so the caller id is present in the context.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := contextkeys.GetUserID(r.Context())
		if !ok {
			// Identity middleware rejects unidentified callers before
			// we get here; an absent id means a misordered chain.
			httputil.WriteUnauthorized(w, "missing caller identity")
			return
		}

		if !rl.Allow(userID) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.config.WindowDuration.Seconds())))
			httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
