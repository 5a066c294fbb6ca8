package domain

import (
	"time"
)

// Conversation types.
const (
	ConversationDirect = "direct"
	ConversationGroup  = "group"
)

// Participant roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Receipt statuses as persisted. Receipts are created as delivered and
// move monotonically to read; they are never created as read and never
// move back.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// User is collaborator-owned identity data; this service only reads it.
type User struct {
	UID          string    `gorm:"type:varchar(36);primaryKey" json:"uid"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	FirstName    string    `gorm:"type:varchar(100)" json:"first_name"`
	LastName     string    `gorm:"type:varchar(100)" json:"last_name"`
	ProfileImage string    `gorm:"type:text" json:"profile_image,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string { return "users" }

type Conversation struct {
	ConversationID uint64    `gorm:"primaryKey;autoIncrement" json:"conversation_id"`
	Name           string    `gorm:"type:varchar(255)" json:"name"`
	Type           string    `gorm:"type:varchar(16);not null" json:"type"`
	CreatedBy      string    `gorm:"type:varchar(36);not null" json:"created_by"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Conversation) TableName() string { return "conversations" }

type Participant struct {
	ConversationID uint64    `gorm:"primaryKey;autoIncrement:false" json:"conversation_id"`
	UID            string    `gorm:"type:varchar(36);primaryKey" json:"uid"`
	Role           string    `gorm:"type:varchar(16);not null;default:member" json:"role"`
	IsFavorite     bool      `gorm:"not null;default:false" json:"is_favorite"`
	IsPinned       bool      `gorm:"not null;default:false" json:"is_pinned"`
	JoinedAt       time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

func (Participant) TableName() string { return "conversation_participants" }

// Message is immutable once created.
type Message struct {
	MessageID      uint64    `gorm:"primaryKey;autoIncrement" json:"message_id"`
	ConversationID uint64    `gorm:"index;not null" json:"conversation_id"`
	SenderUID      string    `gorm:"type:varchar(36);index;not null" json:"sender_uid"`
	Body           string    `gorm:"type:text;not null" json:"body"`
	SentAt         time.Time `gorm:"index;not null" json:"sent_at"`
}

func (Message) TableName() string { return "messages" }

// Receipt tracks the delivery/read lifecycle for one recipient of one
// message. One row per participant except the sender, created in the
// same transaction as the message.
type Receipt struct {
	MessageID uint64    `gorm:"primaryKey;autoIncrement:false" json:"message_id"`
	UID       string    `gorm:"type:varchar(36);primaryKey" json:"uid"`
	Status    string    `gorm:"type:varchar(16);not null" json:"status"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Receipt) TableName() string { return "receipts" }

// ClearedMarker is a per-viewer visibility cutoff: messages with
// sent_at <= cleared_at are hidden from that viewer only.
type ClearedMarker struct {
	UID            string    `gorm:"type:varchar(36);primaryKey" json:"uid"`
	ConversationID uint64    `gorm:"primaryKey;autoIncrement:false" json:"conversation_id"`
	ClearedAt      time.Time `gorm:"not null" json:"cleared_at"`
}

func (ClearedMarker) TableName() string { return "conversation_cleared" }

// Device is a registered push target; registration is owned by the
// device-bookkeeping collaborator, this service only reads tokens.
type Device struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UID          string    `gorm:"type:varchar(36);index;not null" json:"uid"`
	Token        string    `gorm:"type:varchar(512);not null" json:"token"`
	Platform     string    `gorm:"type:varchar(16)" json:"platform"`
	RegisteredAt time.Time `gorm:"autoCreateTime" json:"registered_at"`
}

func (Device) TableName() string { return "devices" }
