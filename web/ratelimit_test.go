package web

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_AllowsBeforeThreshold(t *testing.T) {
	rl := newLoginRateLimiter()
	for i := 0; i < maxFailures-1; i++ {
		rl.recordFailure("ada@example.com")
		blocked, _ := rl.check("ada@example.com")
		assert.False(t, blocked, "should not block before reaching maxFailures")
	}
}

func TestRateLimiter_ExponentialBackoff(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newLoginRateLimiter()
	rl.now = func() time.Time { return now }

	for i := 0; i < maxFailures; i++ {
		rl.recordFailure("ada@example.com")
	}
	blocked, first := rl.check("ada@example.com")
	require.True(t, blocked)
	assert.Equal(t, baseLockout, first)

	rl.recordFailure("ada@example.com")
	_, second := rl.check("ada@example.com")
	assert.Equal(t, 2*baseLockout, second)

	for i := 0; i < 20; i++ {
		rl.recordFailure("ada@example.com")
	}
	_, capped := rl.check("ada@example.com")
	assert.Equal(t, maxLockout, capped)
}

func TestRateLimiter_SuccessResetsCounter(t *testing.T) {
	rl := newLoginRateLimiter()
	for i := 0; i < maxFailures; i++ {
		rl.recordFailure("ada@example.com")
	}
	blocked, _ := rl.check("ada@example.com")
	require.True(t, blocked)

	rl.recordSuccess("ada@example.com")
	blocked, _ = rl.check("ada@example.com")
	assert.False(t, blocked)
}

func TestRateLimiter_RecordsExpire(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newLoginRateLimiter()
	rl.now = func() time.Time { return now }
	for i := 0; i < maxFailures; i++ {
		rl.recordFailure("ada@example.com")
	}

	now = now.Add(attemptExpiry + time.Second)
	blocked, _ := rl.check("ada@example.com")
	assert.False(t, blocked)
	assert.Empty(t, rl.attempts)
}

func TestRateLimiter_IsolatesAccounts(t *testing.T) {
	rl := newLoginRateLimiter()
	for i := 0; i < maxFailures; i++ {
		rl.recordFailure("ada@example.com")
	}
	blocked, _ := rl.check("grace@example.com")
	assert.False(t, blocked)
}
