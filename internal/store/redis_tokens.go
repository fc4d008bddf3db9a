package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const tokenKeyPrefix = "chatbotmaker:token:"

// RedisTokenStore keeps the session token registry in Redis, using key TTLs for expiry.
type RedisTokenStore struct {
	rdb *redis.Client
}

// NewRedisTokenStore connects to url, accepting either a redis:// URL or a bare host:port.
func NewRedisTokenStore(ctx context.Context, url string) (*RedisTokenStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url}
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisTokenStore{rdb: rdb}, nil
}

func (s *RedisTokenStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisTokenStore) SaveToken(ctx context.Context, token *Token) error {
	var ttl time.Duration
	if !token.ExpiresAt.IsZero() {
		ttl = time.Until(token.ExpiresAt)
		if ttl <= 0 {
			return nil
		}
	}
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := s.rdb.Set(ctx, tokenKeyPrefix+token.Token, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) GetToken(ctx context.Context, token string) (*Token, error) {
	data, err := s.rdb.Get(ctx, tokenKeyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return &t, nil
}

func (s *RedisTokenStore) DeleteToken(ctx context.Context, token string) error {
	if err := s.rdb.Del(ctx, tokenKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}
