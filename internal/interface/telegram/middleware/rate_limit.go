package middleware

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER MIDDLEWARE
// Per-user token buckets. Bursts of a few taps are fine; floods are dropped.
// ══════════════════════════════════════════════════════════════════════════════

// RateLimitConfig holds configuration for the rate limiter.
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained rate per user. Zero disables limiting.
	RequestsPerMinute int

	// BurstSize is the maximum burst size.
	BurstSize int

	// MaxTrackedUsers bounds memory; the least recently seen users are forgotten.
	MaxTrackedUsers int

	// WhitelistedUsers are exempt from limiting.
	WhitelistedUsers map[int64]bool
}

// DefaultRateLimitConfig returns sensible defaults for rate limiting.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
		BurstSize:         8,
		MaxTrackedUsers:   10000,
		WhitelistedUsers:  make(map[int64]bool),
	}
}

// RateLimiter implements per-user rate limiting.
type RateLimiter struct {
	config  RateLimitConfig
	buckets *lru.Cache[int64, *rate.Limiter]
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) (*RateLimiter, error) {
	if config.MaxTrackedUsers <= 0 {
		config.MaxTrackedUsers = 10000
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 1
	}
	buckets, err := lru.New[int64, *rate.Limiter](config.MaxTrackedUsers)
	if err != nil {
		return nil, err
	}
	return &RateLimiter{config: config, buckets: buckets}, nil
}

// RateLimitResult represents the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Check consumes one token for the user at now.
func (rl *RateLimiter) Check(userID int64, now time.Time) RateLimitResult {
	if rl.config.RequestsPerMinute <= 0 || rl.config.WhitelistedUsers[userID] {
		return RateLimitResult{Allowed: true}
	}

	bucket, ok := rl.buckets.Get(userID)
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(float64(rl.config.RequestsPerMinute)/60), rl.config.BurstSize)
		rl.buckets.Add(userID, bucket)
	}

	r := bucket.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return RateLimitResult{Allowed: false, RetryAfter: delay}
	}
	return RateLimitResult{Allowed: true}
}

// Reset forgets a user's bucket.
func (rl *RateLimiter) Reset(userID int64) {
	rl.buckets.Remove(userID)
}
