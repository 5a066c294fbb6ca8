package domain

import "time"

// Error codes carried on in-band error frames.
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// InboundFrame is what a client sends on its channel.
type InboundFrame struct {
	Text string `json:"text"`
}

// MessageEvent is the outbound frame for new messages, sender acks and
// read-status transitions. Status is sent, delivered or read.
type MessageEvent struct {
	MessageID      uint64    `json:"message_id"`
	ConversationID uint64    `json:"conversation_id"`
	Text           string    `json:"text,omitempty"`
	Sender         string    `json:"sender,omitempty"`
	Status         string    `json:"status"`
	SentAt         time.Time `json:"sent_at,omitzero"`
}

// ErrorFrame is sent in-band for recoverable errors; the channel stays
// open.
type ErrorFrame struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorFrame builds an in-band error frame.
func NewErrorFrame(code, message string) *ErrorFrame {
	return &ErrorFrame{Error: ErrorBody{Code: code, Message: message}}
}

// MessageView is a history entry shaped for one viewer.
type MessageView struct {
	MessageID      uint64    `json:"message_id"`
	ConversationID uint64    `json:"conversation_id"`
	Text           string    `json:"text"`
	Sender         string    `json:"sender"`
	SenderName     string    `json:"sender_name"`
	Status         string    `json:"status"`
	SentAt         time.Time `json:"sent_at"`
	SentByMe       bool      `json:"sent_by_me"`
}

// ConversationView is a conversation-list entry for one viewer.
type ConversationView struct {
	ConversationID uint64           `json:"conversation_id"`
	Name           string           `json:"name"`
	Type           string           `json:"type"`
	LastMessage    *LastMessageView  `json:"last_message"`
	UnreadCount    int64             `json:"unread_count"`
	Participants   []ParticipantView `json:"participants"`
}

type LastMessageView struct {
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
	SentByMe bool      `json:"sent_by_me"`
}

type ParticipantView struct {
	UID       string `json:"uid"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}
