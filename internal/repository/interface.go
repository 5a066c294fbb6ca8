package repository

import (
	"context"
	"errors"
	"time"

	"github.com/talkbridge/chat-server/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
)

// MessageRow is one history entry with the joined sender identity and
// the viewer's own receipt status (nil when the viewer is the sender
// or has no receipt).
type MessageRow struct {
	MessageID       uint64
	ConversationID  uint64
	SenderUID       string
	Body            string
	SentAt          time.Time
	SenderEmail     string
	SenderFirstName string
	ViewerStatus    *string
}

// Store is the durable persistence gateway for conversations,
// participants, messages, receipts and cleared markers.
type Store interface {
	// UserByEmail resolves a user by email; ErrNotFound when absent.
	UserByEmail(ctx context.Context, email string) (*domain.User, error)

	// IsParticipant reports membership of uid in the conversation.
	IsParticipant(ctx context.Context, conversationID uint64, uid string) (bool, error)

	// Participants returns all member UIDs of a conversation.
	Participants(ctx context.Context, conversationID uint64) ([]string, error)

	// ParticipantUsers returns the joined user rows for a conversation's
	// participants.
	ParticipantUsers(ctx context.Context, conversationID uint64) ([]domain.User, error)

	// CreateMessage persists a message and one delivered receipt per
	// other participant in a single transaction, returning the stored
	// message and the recipient UIDs. Nothing is written on error.
	CreateMessage(ctx context.Context, conversationID uint64, senderUID, body string, sentAt time.Time) (*domain.Message, []string, error)

	// ReceiptsForMessages loads all receipt rows for the given messages,
	// grouped by message id.
	ReceiptsForMessages(ctx context.Context, messageIDs []uint64) (map[uint64][]domain.Receipt, error)

	// MarkReceiptsRead transitions every non-read receipt of uid in the
	// conversation to read, stamping updatedAt, and returns the message
	// ids that transitioned. Idempotent: nothing outstanding returns an
	// empty slice.
	MarkReceiptsRead(ctx context.Context, conversationID uint64, uid string, updatedAt time.Time) ([]uint64, error)

	// ClearedMarker returns the viewer's cutoff for the conversation, or
	// nil when none is set.
	ClearedMarker(ctx context.Context, uid string, conversationID uint64) (*time.Time, error)

	// UpsertClearedMarker sets the viewer's cutoff, replacing any
	// previous value.
	UpsertClearedMarker(ctx context.Context, uid string, conversationID uint64, clearedAt time.Time) error

	// MessagesBefore returns up to limit messages visible to the viewer,
	// newest first, older than beforeID when beforeID > 0, bounded by
	// the cleared cutoff when non-nil.
	MessagesBefore(ctx context.Context, conversationID uint64, viewerUID string, cleared *time.Time, beforeID uint64, limit int) ([]MessageRow, error)

	// LastMessage returns the newest visible message of a conversation,
	// or ErrNotFound when the conversation is empty past the cutoff.
	LastMessage(ctx context.Context, conversationID uint64, cleared *time.Time) (*domain.Message, error)

	// CountUnread counts the viewer's receipts that are not read, for
	// messages the viewer did not send, bounded by the cleared cutoff.
	CountUnread(ctx context.Context, conversationID uint64, uid string, cleared *time.Time) (int64, error)

	// ConversationsForUser lists the conversations uid belongs to.
	ConversationsForUser(ctx context.Context, uid string) ([]domain.Conversation, error)

	// DevicesForUsers returns every registered device for the given
	// users.
	DevicesForUsers(ctx context.Context, uids []string) ([]domain.Device, error)
}
