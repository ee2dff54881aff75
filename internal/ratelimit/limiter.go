package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tempmail/bot/internal/config"
)

// UserLimiter 按 Telegram 用户限流
//
// 每个用户一个令牌桶；长时间未出现的用户由 Run 定期清理。
type UserLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*userEntry
	limit    rate.Limit
	burst    int
	enabled  bool
	now      func() time.Time
}

type userEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New 创建用户限流器
//
// 参数:
//   - cfg.PerMinute: 每分钟允许的命令数，<= 0 时不限流
//   - cfg.Burst: 突发容量，<= 0 时取 1
func New(cfg config.RateLimitConfig) *UserLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	l := &UserLimiter{
		limiters: make(map[int64]*userEntry),
		burst:    burst,
		enabled:  cfg.PerMinute > 0,
		now:      time.Now,
	}
	if l.enabled {
		l.limit = rate.Every(time.Minute / time.Duration(cfg.PerMinute))
	}
	return l
}

// Allow 判断用户此刻是否可以执行命令
func (l *UserLimiter) Allow(userID int64) bool {
	if !l.enabled {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.limiters[userID]
	if !ok {
		entry = &userEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Cleanup 删除超过 idle 时长未出现的用户
func (l *UserLimiter) Cleanup(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for id, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, id)
			removed++
		}
	}
	return removed
}

// Run 定期清理空闲用户，直到 ctx 结束
func (l *UserLimiter) Run(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup(idle)
		}
	}
}
