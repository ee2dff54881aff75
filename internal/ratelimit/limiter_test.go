package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tempmail/bot/internal/config"
)

func newTestLimiter(cfg config.RateLimitConfig) (*UserLimiter, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(cfg)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestUserLimiter_Allow(t *testing.T) {
	l, now := newTestLimiter(config.RateLimitConfig{PerMinute: 6, Burst: 2})

	t.Run("突发容量内放行", func(t *testing.T) {
		assert.True(t, l.Allow(1))
		assert.True(t, l.Allow(1))
		assert.False(t, l.Allow(1))
	})

	t.Run("用户之间独立", func(t *testing.T) {
		assert.True(t, l.Allow(2))
	})

	t.Run("令牌按速率恢复", func(t *testing.T) {
		*now = now.Add(10 * time.Second)
		assert.True(t, l.Allow(1))
		assert.False(t, l.Allow(1))
	})
}

func TestUserLimiter_Disabled(t *testing.T) {
	l := New(config.RateLimitConfig{PerMinute: 0})
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow(1))
	}
}

func TestUserLimiter_Cleanup(t *testing.T) {
	l, now := newTestLimiter(config.RateLimitConfig{PerMinute: 60, Burst: 1})
	l.Allow(1)
	*now = now.Add(time.Hour)
	l.Allow(2)

	assert.Equal(t, 1, l.Cleanup(30*time.Minute))
	assert.Len(t, l.limiters, 1)
}
