package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"tempmail/bot/internal/domain"
)

const redisKeyPrefix = "tempmail:session:"

// RedisStore 基于 Redis 的会话存储，适合多实例部署
type RedisStore struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewRedisStore 创建 Redis 会话存储
func NewRedisStore(rdb *goredis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func redisKey(userID int64) string {
	return redisKeyPrefix + strconv.FormatInt(userID, 10)
}

// Save 以 JSON 保存列表并设置过期时间
func (s *RedisStore) Save(ctx context.Context, userID int64, displayed []domain.MailboxRef) error {
	data, err := json.Marshal(displayed)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.rdb.Set(ctx, redisKey(userID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load 读取列表
func (s *RedisStore) Load(ctx context.Context, userID int64) ([]domain.MailboxRef, error) {
	data, err := s.rdb.Get(ctx, redisKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	var displayed []domain.MailboxRef
	if err := json.Unmarshal(data, &displayed); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return displayed, nil
}

// Clear 删除会话
func (s *RedisStore) Clear(ctx context.Context, userID int64) error {
	if err := s.rdb.Del(ctx, redisKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
