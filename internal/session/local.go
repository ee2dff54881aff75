package session

import (
	"context"
	"strconv"
	"time"

	"tempmail/bot/internal/cache"
	"tempmail/bot/internal/domain"
)

// LocalStore 进程内会话存储，未启用 Redis 时使用
type LocalStore struct {
	cache *cache.LocalCache
	ttl   time.Duration
}

// NewLocalStore 创建进程内会话存储
func NewLocalStore(c *cache.LocalCache, ttl time.Duration) *LocalStore {
	return &LocalStore{cache: c, ttl: ttl}
}

func localKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// Save 保存列表副本
func (s *LocalStore) Save(_ context.Context, userID int64, displayed []domain.MailboxRef) error {
	s.cache.Set(localKey(userID), append([]domain.MailboxRef(nil), displayed...), s.ttl)
	return nil
}

// Load 读取列表副本
func (s *LocalStore) Load(_ context.Context, userID int64) ([]domain.MailboxRef, error) {
	v, ok := s.cache.Get(localKey(userID))
	if !ok {
		return nil, ErrNotFound
	}
	displayed, _ := v.([]domain.MailboxRef)
	return append([]domain.MailboxRef(nil), displayed...), nil
}

// Clear 删除会话
func (s *LocalStore) Clear(_ context.Context, userID int64) error {
	s.cache.Delete(localKey(userID))
	return nil
}
