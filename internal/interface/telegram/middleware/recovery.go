// Package middleware contains Telegram bot middlewares for update processing.
package middleware

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/estudia/material-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOVERY MIDDLEWARE
// Catches panics in conversation turns so one broken turn never takes the
// update loop down. Users get no stack traces; the log gets all of it.
// ══════════════════════════════════════════════════════════════════════════════

// RecoveryConfig holds configuration for the recovery middleware.
type RecoveryConfig struct {
	// EnableStackTrace enables capturing stack traces.
	EnableStackTrace bool

	// MaxPanicsPerMinute caps how many panics are logged in full per minute.
	MaxPanicsPerMinute int

	// OnPanic is called when a panic is recovered.
	OnPanic func(info *PanicInfo)
}

// DefaultRecoveryConfig returns sensible defaults for recovery middleware.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		EnableStackTrace:   true,
		MaxPanicsPerMinute: 100,
	}
}

// PanicInfo contains information about a recovered panic.
type PanicInfo struct {
	Error      error
	StackTrace string
	UserID     int64
	Event      string
	Timestamp  time.Time
}

// RecoveryMiddleware recovers from panics in turns.
type RecoveryMiddleware struct {
	config  RecoveryConfig
	log     *logger.Logger
	limiter *panicRateLimiter
}

// NewRecoveryMiddleware creates a new recovery middleware.
func NewRecoveryMiddleware(config RecoveryConfig, log *logger.Logger) *RecoveryMiddleware {
	if log == nil {
		log = logger.Nop()
	}
	return &RecoveryMiddleware{
		config:  config,
		log:     log.With(logger.Component("recovery")),
		limiter: newPanicRateLimiter(config.MaxPanicsPerMinute),
	}
}

// Run executes fn and reports whether it panicked.
func (m *RecoveryMiddleware) Run(userID int64, event string, fn func()) (info *PanicInfo) {
	defer func() {
		if r := recover(); r != nil {
			info = m.handlePanic(r, userID, event)
		}
	}()
	fn()
	return nil
}

func (m *RecoveryMiddleware) handlePanic(value any, userID int64, event string) *PanicInfo {
	info := &PanicInfo{
		Error:     toError(value),
		UserID:    userID,
		Event:     event,
		Timestamp: time.Now(),
	}

	if !m.limiter.allow() {
		m.log.Warn("panic recovered, details suppressed", logger.UserID(userID), logger.String("event", event))
		return info
	}

	if m.config.EnableStackTrace {
		info.StackTrace = string(debug.Stack())
	}
	m.log.Error("panic recovered",
		logger.UserID(userID),
		logger.String("event", event),
		logger.Err(info.Error),
		logger.String("stack", info.StackTrace),
	)
	if m.config.OnPanic != nil {
		m.config.OnPanic(info)
	}
	return info
}

// toError converts a panic value to an error.
func toError(value any) error {
	switch v := value.(type) {
	case error:
		return v
	case string:
		return fmt.Errorf("%s", v)
	default:
		return fmt.Errorf("panic: %v", v)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PANIC RATE LIMITER
// ══════════════════════════════════════════════════════════════════════════════

type panicRateLimiter struct {
	mu        sync.Mutex
	count     int
	maxPerMin int
	window    time.Time
}

func newPanicRateLimiter(maxPerMin int) *panicRateLimiter {
	return &panicRateLimiter{
		maxPerMin: maxPerMin,
		window:    time.Now(),
	}
}

func (p *panicRateLimiter) allow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if now.Sub(p.window) > time.Minute {
		p.count = 0
		p.window = now
	}
	if p.maxPerMin > 0 && p.count >= p.maxPerMin {
		return false
	}
	p.count++
	return true
}
