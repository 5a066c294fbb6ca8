package audit

import (
	"context"

	"github.com/talkbridge/chat-server/pkg/log"
)

// Audit actions emitted by the messaging core.
const (
	ActionConnect     = "chat.connect"
	ActionDisconnect  = "chat.disconnect"
	ActionSendMessage = "chat.send_message"
	ActionMarkRead    = "chat.mark_read"
	ActionClearChat   = "chat.clear_chat"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit entry via the context logger.
func Log(ctx context.Context, action, userID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Msg(msg)
}

// LogWithConversation emits an audit entry scoped to a conversation.
func LogWithConversation(ctx context.Context, action, userID string, conversationID uint64, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Uint64(log.FieldConversationID, conversationID).
		Msg(msg)
}
