package cache

import (
	"context"
	"errors"
	"time"

	"github.com/talkbridge/chat-server/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// HistoryCache caches rendered history pages. Only pages behind a
// cursor are cached; the latest page of a conversation is always
// served from the store.
type HistoryCache interface {
	Get(ctx context.Context, key string) ([]domain.MessageView, error)
	Set(ctx context.Context, key string, views []domain.MessageView, ttl time.Duration) error
	BuildKey(conversationID uint64, viewerUID string, beforeID uint64, limit int, cleared *time.Time) string
	Close() error
}
