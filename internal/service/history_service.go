package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/talkbridge/chat-server/internal/audit"
	"github.com/talkbridge/chat-server/internal/cache"
	"github.com/talkbridge/chat-server/internal/domain"
	"github.com/talkbridge/chat-server/internal/repository"
	"github.com/talkbridge/chat-server/pkg/log"
	"golang.org/x/sync/singleflight"
)

type historyService struct {
	store    repository.Store
	cache    cache.HistoryCache
	cacheTTL time.Duration
	sf       singleflight.Group
}

// NewHistoryService builds the viewer-scoped retrieval service.
// historyCache may be nil, in which case every page is served from the
// store.
func NewHistoryService(store repository.Store, historyCache cache.HistoryCache, cacheTTL time.Duration) HistoryService {
	return &historyService{
		store:    store,
		cache:    historyCache,
		cacheTTL: cacheTTL,
	}
}

func (s *historyService) Messages(ctx context.Context, conversationID uint64, viewerUID string, limit int, beforeID uint64) ([]domain.MessageView, error) {
	ok, err := s.store.IsParticipant(ctx, conversationID, viewerUID)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if !ok {
		return nil, ErrNotParticipant
	}

	cleared, err := s.store.ClearedMarker(ctx, viewerUID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cleared marker: %w", err)
	}

	// The latest page is always fetched directly: it changes on every
	// send, and caching it would pin stale tails. Pages behind a cursor
	// are stable enough to cache.
	if beforeID == 0 || s.cache == nil {
		return s.fetchPage(ctx, conversationID, viewerUID, cleared, beforeID, limit)
	}

	cacheKey := s.cache.BuildKey(conversationID, viewerUID, beforeID, limit, cleared)

	result, err, _ := s.sf.Do(cacheKey, func() (interface{}, error) {
		return s.fetchWithCache(ctx, conversationID, viewerUID, cleared, beforeID, limit, cacheKey)
	})
	if err != nil {
		return nil, err
	}

	views, ok := result.([]domain.MessageView)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	return views, nil
}

func (s *historyService) fetchWithCache(ctx context.Context, conversationID uint64, viewerUID string, cleared *time.Time, beforeID uint64, limit int, cacheKey string) ([]domain.MessageView, error) {
	cached, err := s.cache.Get(ctx, cacheKey)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		log.Ctx(ctx).Warn().Err(err).Msg("cache get error")
	}

	views, err := s.fetchPage(ctx, conversationID, viewerUID, cleared, beforeID, limit)
	if err != nil {
		return nil, err
	}

	// Stored asynchronously so a slow cache never delays the response.
	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.cache.Set(cacheCtx, cacheKey, views, s.cacheTTL); err != nil {
			log.L().Warn().Err(err).Msg("cache set error")
		}
	}()

	return views, nil
}

// fetchPage loads one page from the store and renders it for the
// viewer, ascending by message id.
func (s *historyService) fetchPage(ctx context.Context, conversationID uint64, viewerUID string, cleared *time.Time, beforeID uint64, limit int) ([]domain.MessageView, error) {
	rows, err := s.store.MessagesBefore(ctx, conversationID, viewerUID, cleared, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	// Own messages carry the aggregate of all recipients' receipts,
	// loaded in one batch.
	var ownIDs []uint64
	for _, row := range rows {
		if row.SenderUID == viewerUID {
			ownIDs = append(ownIDs, row.MessageID)
		}
	}
	receipts := map[uint64][]domain.Receipt{}
	if len(ownIDs) > 0 {
		receipts, err = s.store.ReceiptsForMessages(ctx, ownIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load receipts: %w", err)
		}
	}

	views := make([]domain.MessageView, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		sentByMe := row.SenderUID == viewerUID

		var status, senderName string
		if sentByMe {
			status = domain.AggregateStatus(receipts[row.MessageID])
		} else {
			var viewerStatus string
			if row.ViewerStatus != nil {
				viewerStatus = *row.ViewerStatus
			}
			status = domain.ViewerStatus(viewerStatus)
			senderName = domain.DisplayName(row.SenderFirstName, row.SenderEmail)
		}

		views = append(views, domain.MessageView{
			MessageID:      row.MessageID,
			ConversationID: row.ConversationID,
			Text:           row.Body,
			Sender:         row.SenderEmail,
			SenderName:     senderName,
			Status:         status,
			SentAt:         row.SentAt,
			SentByMe:       sentByMe,
		})
	}
	return views, nil
}

func (s *historyService) Conversations(ctx context.Context, viewerUID string) ([]domain.ConversationView, error) {
	conversations, err := s.store.ConversationsForUser(ctx, viewerUID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	views := make([]domain.ConversationView, 0, len(conversations))
	for _, conv := range conversations {
		view, err := s.conversationView(ctx, conv, viewerUID)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *historyService) conversationView(ctx context.Context, conv domain.Conversation, viewerUID string) (domain.ConversationView, error) {
	users, err := s.store.ParticipantUsers(ctx, conv.ConversationID)
	if err != nil {
		return domain.ConversationView{}, fmt.Errorf("failed to load participants of conversation %d: %w", conv.ConversationID, err)
	}

	cleared, err := s.store.ClearedMarker(ctx, viewerUID, conv.ConversationID)
	if err != nil {
		return domain.ConversationView{}, fmt.Errorf("failed to load cleared marker: %w", err)
	}

	view := domain.ConversationView{
		ConversationID: conv.ConversationID,
		Name:           conversationName(conv, users, viewerUID),
		Type:           conv.Type,
		Participants:   make([]domain.ParticipantView, 0, len(users)),
	}
	for _, u := range users {
		view.Participants = append(view.Participants, domain.ParticipantView{
			UID:       u.UID,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Email:     u.Email,
		})
	}

	last, err := s.store.LastMessage(ctx, conv.ConversationID, cleared)
	switch {
	case err == nil:
		view.LastMessage = &domain.LastMessageView{
			Text:     last.Body,
			SentAt:   last.SentAt,
			SentByMe: last.SenderUID == viewerUID,
		}
	case errors.Is(err, repository.ErrNotFound):
		// Nothing visible past the cutoff.
	default:
		return domain.ConversationView{}, fmt.Errorf("failed to load last message of conversation %d: %w", conv.ConversationID, err)
	}

	view.UnreadCount, err = s.store.CountUnread(ctx, conv.ConversationID, viewerUID, cleared)
	if err != nil {
		return domain.ConversationView{}, fmt.Errorf("failed to count unread of conversation %d: %w", conv.ConversationID, err)
	}

	return view, nil
}

// conversationName falls back to the other participants' names when a
// conversation has no stored name, which direct conversations usually
// don't.
func conversationName(conv domain.Conversation, users []domain.User, viewerUID string) string {
	if conv.Name != "" {
		return conv.Name
	}
	var names []string
	for _, u := range users {
		if u.UID == viewerUID {
			continue
		}
		full := strings.TrimSpace(u.FirstName + " " + u.LastName)
		if full == "" {
			full = domain.DisplayName("", u.Email)
		}
		names = append(names, full)
	}
	return strings.Join(names, " & ")
}

func (s *historyService) UnreadCount(ctx context.Context, conversationID uint64, viewerUID string) (int64, error) {
	ok, err := s.store.IsParticipant(ctx, conversationID, viewerUID)
	if err != nil {
		return 0, fmt.Errorf("failed to check membership: %w", err)
	}
	if !ok {
		return 0, ErrNotParticipant
	}

	cleared, err := s.store.ClearedMarker(ctx, viewerUID, conversationID)
	if err != nil {
		return 0, fmt.Errorf("failed to load cleared marker: %w", err)
	}
	return s.store.CountUnread(ctx, conversationID, viewerUID, cleared)
}

func (s *historyService) ClearChat(ctx context.Context, conversationID uint64, viewerUID string) error {
	ok, err := s.store.IsParticipant(ctx, conversationID, viewerUID)
	if err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if !ok {
		return ErrNotParticipant
	}

	if err := s.store.UpsertClearedMarker(ctx, viewerUID, conversationID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set cleared marker: %w", err)
	}

	audit.LogWithConversation(ctx, audit.ActionClearChat, viewerUID, conversationID, "conversation cleared")
	return nil
}
