package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/talkbridge/chat-server/internal/audit"
	"github.com/talkbridge/chat-server/internal/domain"
	"github.com/talkbridge/chat-server/internal/hub"
	"github.com/talkbridge/chat-server/internal/notify"
	"github.com/talkbridge/chat-server/internal/repository"
	"github.com/talkbridge/chat-server/pkg/log"
)

type chatService struct {
	hub        *hub.Hub
	store      repository.Store
	dispatcher notify.Dispatcher
}

func NewChatService(h *hub.Hub, store repository.Store, dispatcher notify.Dispatcher) ChatService {
	return &chatService{
		hub:        h,
		store:      store,
		dispatcher: dispatcher,
	}
}

func (s *chatService) HandleIncoming(ctx context.Context, conversationID uint64, senderEmail string, sender hub.Handle, text string) error {
	if strings.TrimSpace(text) == "" {
		sender.Deliver(domain.NewErrorFrame(domain.ErrCodeBadRequest, "message body is required"))
		return nil
	}

	senderUser, err := s.store.UserByEmail(ctx, senderEmail)
	if err != nil {
		return fmt.Errorf("failed to resolve sender %s: %w", senderEmail, err)
	}

	// Message and its receipts land in one transaction: receipts start
	// delivered for every other participant, whether or not they are
	// live right now. The sender-side ack tracks liveness separately.
	sentAt := time.Now().UTC()
	message, recipients, err := s.store.CreateMessage(ctx, conversationID, senderUser.UID, text, sentAt)
	if err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}

	audit.LogWithConversation(ctx, audit.ActionSendMessage, senderUser.UID, conversationID, "message persisted")

	// Each Deliver gets its own event: a handle may hold on to what it
	// received, so a frame is never mutated once handed out.
	sentAck := domain.MessageEvent{
		MessageID:      message.MessageID,
		ConversationID: conversationID,
		Text:           text,
		Sender:         senderEmail,
		Status:         domain.StatusSent,
		SentAt:         message.SentAt,
	}
	if err := sender.Deliver(&sentAck); err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Uint64(log.FieldMessageID, message.MessageID).
			Msg("failed to ack sender")
	}

	event := sentAck
	event.Status = domain.StatusDelivered
	delivered := s.hub.Broadcast(conversationID, &event, senderUser.UID)

	if delivered {
		upgrade := event
		if err := sender.Deliver(&upgrade); err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Uint64(log.FieldMessageID, message.MessageID).
				Msg("failed to upgrade sender ack")
		}
	} else {
		log.Ctx(ctx).Debug().
			Uint64(log.FieldConversationID, conversationID).
			Uint64(log.FieldMessageID, message.MessageID).
			Msg("no live recipients, sender stays at sent")
	}

	s.notifyRecipients(ctx, recipients, senderUser, text)

	return nil
}

// notifyRecipients pushes to every registered device of every other
// participant, live or not. Each dispatch failure is logged and
// dropped.
func (s *chatService) notifyRecipients(ctx context.Context, recipients []string, senderUser *domain.User, text string) {
	devices, err := s.store.DevicesForUsers(ctx, recipients)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to load recipient devices")
		return
	}

	title := "New Message from " + domain.DisplayName(senderUser.FirstName, senderUser.Email)
	for _, device := range devices {
		if err := s.dispatcher.Send(ctx, device.Token, title, text); err != nil {
			log.Ctx(ctx).Error().Err(err).
				Str(log.FieldUserID, device.UID).
				Str(log.FieldDeviceToken, device.Token).
				Msg("failed to send push notification")
		}
	}
}

func (s *chatService) MarkRead(ctx context.Context, conversationID uint64, readerUID string) (int, error) {
	messageIDs, err := s.store.MarkReceiptsRead(ctx, conversationID, readerUID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to mark receipts read: %w", err)
	}
	if len(messageIDs) == 0 {
		return 0, nil
	}

	audit.LogWithConversation(ctx, audit.ActionMarkRead, readerUID, conversationID, "receipts marked read")

	for _, messageID := range messageIDs {
		s.hub.Broadcast(conversationID, &domain.MessageEvent{
			MessageID:      messageID,
			ConversationID: conversationID,
			Status:         domain.StatusRead,
		}, readerUID)
	}
	return len(messageIDs), nil
}
