package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/traveltour/important-info-api/pkg/errors"
)

// CacheRepository caches per-user unread badge counts in Redis. The cache is
// a read optimization for the badge endpoint; every write path invalidates it
// and the visibility queries never depend on it.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

func unreadKey(userID string) string {
	return "unread:" + userID
}

// GetUnreadCount retrieves a cached badge count.
func (r *CacheRepository) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	if r.client == nil {
		return 0, appErrors.ErrCacheMiss
	}
	raw, err := r.client.Get(ctx, unreadKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, appErrors.ErrCacheMiss
		}
		return 0, fmt.Errorf("redis get %s: %w", unreadKey(userID), err)
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse cached unread count: %w", err)
	}
	return count, nil
}

// SetUnreadCount stores a badge count with the given TTL.
func (r *CacheRepository) SetUnreadCount(ctx context.Context, userID string, count int, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Set(ctx, unreadKey(userID), strconv.Itoa(count), ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", unreadKey(userID), err)
	}
	return nil
}

// InvalidateUnreadCount drops a user's cached badge count.
func (r *CacheRepository) InvalidateUnreadCount(ctx context.Context, userID string) {
	if r.client == nil {
		return
	}
	if err := r.client.Del(ctx, unreadKey(userID)).Err(); err != nil {
		r.logger.Warn("invalidate unread cache", zap.String("user_id", userID), zap.Error(err))
	}
}

// InvalidateAll drops every cached badge count, used after a broadcast
// fan-out where the recipient set is not enumerable up front.
func (r *CacheRepository) InvalidateAll(ctx context.Context) {
	if r.client == nil {
		return
	}
	iter := r.client.Scan(ctx, 0, "unread:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			r.logger.Warn("invalidate unread cache entry", zap.String("key", iter.Val()), zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("scan unread cache", zap.Error(err))
	}
}
