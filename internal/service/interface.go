package service

import (
	"context"
	"errors"

	"github.com/talkbridge/chat-server/internal/domain"
	"github.com/talkbridge/chat-server/internal/hub"
)

// ErrNotParticipant marks a viewer who does not belong to the
// conversation.
var ErrNotParticipant = errors.New("not a participant of this conversation")

// ChatService coordinates inbound messages and read receipts.
type ChatService interface {
	// HandleIncoming processes one inbound message from the sender's
	// channel: validate, persist message plus receipts atomically, ack
	// the sender over its handle, fan out live, upgrade the ack when
	// anyone received it, and notify recipient devices. A returned
	// error means the message could not be handled at all (persistence
	// failure); fan-out and push failures never surface here.
	HandleIncoming(ctx context.Context, conversationID uint64, senderEmail string, sender hub.Handle, text string) error

	// MarkRead transitions every outstanding receipt of the reader in
	// the conversation to read and broadcasts one read event per
	// transitioned message, excluding the reader. Idempotent.
	MarkRead(ctx context.Context, conversationID uint64, readerUID string) (int, error)
}

// HistoryService answers viewer-scoped retrieval.
type HistoryService interface {
	// Messages returns the conversation history visible to the viewer,
	// ascending by send time, with per-message status resolved from the
	// viewer's perspective.
	Messages(ctx context.Context, conversationID uint64, viewerUID string, limit int, beforeID uint64) ([]domain.MessageView, error)

	// Conversations lists the viewer's conversations with participants,
	// last visible message and unread count.
	Conversations(ctx context.Context, viewerUID string) ([]domain.ConversationView, error)

	// UnreadCount counts unread messages for the viewer in one
	// conversation.
	UnreadCount(ctx context.Context, conversationID uint64, viewerUID string) (int64, error)

	// ClearChat records a visibility cutoff at now for the viewer.
	ClearChat(ctx context.Context, conversationID uint64, viewerUID string) error
}
