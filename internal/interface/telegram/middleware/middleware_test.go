package middleware

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	rl, err := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, BurstSize: 2})
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.True(t, rl.Check(1, now).Allowed)
	assert.True(t, rl.Check(1, now).Allowed)

	denied := rl.Check(1, now)
	assert.False(t, denied.Allowed)
	assert.Greater(t, denied.RetryAfter, time.Duration(0))

	// Other users have their own bucket.
	assert.True(t, rl.Check(2, now).Allowed)

	// One token refills per second.
	assert.True(t, rl.Check(1, now.Add(time.Second)).Allowed)
}

func TestRateLimiter_DisabledAndWhitelist(t *testing.T) {
	off, err := NewRateLimiter(RateLimitConfig{})
	require.NoError(t, err)
	now := time.Now()
	for i := 0; i < 100; i++ {
		require.True(t, off.Check(1, now).Allowed)
	}

	rl, err := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1, WhitelistedUsers: map[int64]bool{7: true}})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.True(t, rl.Check(7, now).Allowed)
	}
}

func TestRecovery_Run(t *testing.T) {
	var seen *PanicInfo
	cfg := DefaultRecoveryConfig()
	cfg.OnPanic = func(info *PanicInfo) { seen = info }
	m := NewRecoveryMiddleware(cfg, nil)

	assert.Nil(t, m.Run(1, "text", func() {}))

	info := m.Run(1, "payload", func() { panic(errors.New("boom")) })
	require.NotNil(t, info)
	assert.EqualError(t, info.Error, "boom")
	assert.Equal(t, "payload", info.Event)
	assert.NotEmpty(t, info.StackTrace)
	assert.Same(t, info, seen)
}
