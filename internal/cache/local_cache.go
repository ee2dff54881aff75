package cache

import (
	"context"
	"sync"
	"time"
)

// LocalCache 本地内存缓存
//
// 特点：
// - 支持 TTL 过期
// - 后台定期清理过期条目（Run 随 context 退出）
// - 容量限制：写满时先清理过期条目，仍满则淘汰最早过期的条目
type LocalCache struct {
	mu      sync.Mutex
	items   map[string]cacheEntry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// NewLocalCache 创建本地缓存
//
// 参数:
//   - maxSize: 最大缓存条目数，<= 0 表示不限制
//   - ttl: 默认过期时间
func NewLocalCache(maxSize int, ttl time.Duration) *LocalCache {
	return &LocalCache{
		items:   make(map[string]cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get 获取缓存值，过期条目视为不存在
func (c *LocalCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.items, key)
		return nil, false
	}
	return entry.value, true
}

// Set 设置缓存值；ttl 为 0 时使用默认过期时间
func (c *LocalCache) Set(key string, value any, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.maxSize > 0 && len(c.items) >= c.maxSize {
		c.removeExpiredLocked()
		if len(c.items) >= c.maxSize {
			c.evictOneLocked()
		}
	}

	c.items[key] = cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
}

// Delete 删除缓存值
func (c *LocalCache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Len 返回当前条目数（包含尚未清理的过期条目）
func (c *LocalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Cleanup 清理过期条目
func (c *LocalCache) Cleanup() {
	c.mu.Lock()
	c.removeExpiredLocked()
	c.mu.Unlock()
}

// Run 定期清理过期条目，直到 ctx 结束
func (c *LocalCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}

func (c *LocalCache) removeExpiredLocked() {
	now := c.now()
	for key, entry := range c.items {
		if !now.Before(entry.expiresAt) {
			delete(c.items, key)
		}
	}
}

func (c *LocalCache) evictOneLocked() {
	var (
		victim string
		first  = true
		oldest time.Time
	)
	for key, entry := range c.items {
		if first || entry.expiresAt.Before(oldest) {
			victim, oldest, first = key, entry.expiresAt, false
		}
	}
	if !first {
		delete(c.items, victim)
	}
}
