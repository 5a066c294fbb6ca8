package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/talkbridge/chat-server/internal/config"
	"github.com/talkbridge/chat-server/internal/domain"
)

// RedisHistoryCache implements HistoryCache on redis.
type RedisHistoryCache struct {
	client *redis.Client
	prefix string
}

func NewRedisHistoryCache(cfg config.RedisConfig) (*RedisHistoryCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisHistoryCache{
		client: client,
		prefix: cfg.Prefix,
	}, nil
}

// BuildKey includes the cleared cutoff so that clearing a chat cannot
// serve a page rendered for the old visibility window.
func (c *RedisHistoryCache) BuildKey(conversationID uint64, viewerUID string, beforeID uint64, limit int, cleared *time.Time) string {
	cutoff := int64(0)
	if cleared != nil {
		cutoff = cleared.UnixNano()
	}
	return fmt.Sprintf("%s:%d:%s:%d:%d:%d", c.prefix, conversationID, viewerUID, beforeID, limit, cutoff)
}

func (c *RedisHistoryCache) Get(ctx context.Context, key string) ([]domain.MessageView, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var views []domain.MessageView
	if err := json.Unmarshal(data, &views); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached page: %w", err)
	}
	return views, nil
}

func (c *RedisHistoryCache) Set(ctx context.Context, key string, views []domain.MessageView, ttl time.Duration) error {
	data, err := json.Marshal(views)
	if err != nil {
		return fmt.Errorf("failed to marshal page: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

func (c *RedisHistoryCache) Close() error {
	return c.client.Close()
}
