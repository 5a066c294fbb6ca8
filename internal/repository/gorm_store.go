package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/talkbridge/chat-server/internal/domain"
	"github.com/talkbridge/chat-server/pkg/database"
)

// GormStore implements Store on a relational database via GORM.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the schema for every model the store
// touches.
func (s *GormStore) Migrate() error {
	return database.AutoMigrate(s.db,
		&domain.User{},
		&domain.Conversation{},
		&domain.Participant{},
		&domain.Message{},
		&domain.Receipt{},
		&domain.ClearedMarker{},
		&domain.Device{},
	)
}

func (s *GormStore) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	err := s.db.WithContext(ctx).First(&user, "email = ?", email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *GormStore) IsParticipant(ctx context.Context, conversationID uint64, uid string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Participant{}).
		Where("conversation_id = ? AND uid = ?", conversationID, uid).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormStore) Participants(ctx context.Context, conversationID uint64) ([]string, error) {
	var uids []string
	err := s.db.WithContext(ctx).Model(&domain.Participant{}).
		Where("conversation_id = ?", conversationID).
		Pluck("uid", &uids).Error
	if err != nil {
		return nil, err
	}
	return uids, nil
}

func (s *GormStore) ParticipantUsers(ctx context.Context, conversationID uint64) ([]domain.User, error) {
	var users []domain.User
	err := s.db.WithContext(ctx).
		Joins("JOIN conversation_participants cp ON cp.uid = users.uid").
		Where("cp.conversation_id = ?", conversationID).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *GormStore) CreateMessage(ctx context.Context, conversationID uint64, senderUID, body string, sentAt time.Time) (*domain.Message, []string, error) {
	message := &domain.Message{
		ConversationID: conversationID,
		SenderUID:      senderUID,
		Body:           body,
		SentAt:         sentAt,
	}
	var recipients []string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}

		if err := tx.Model(&domain.Participant{}).
			Where("conversation_id = ? AND uid <> ?", conversationID, senderUID).
			Pluck("uid", &recipients).Error; err != nil {
			return err
		}

		if len(recipients) == 0 {
			return nil
		}

		receipts := make([]domain.Receipt, 0, len(recipients))
		for _, uid := range recipients {
			receipts = append(receipts, domain.Receipt{
				MessageID: message.MessageID,
				UID:       uid,
				Status:    domain.StatusDelivered,
				UpdatedAt: sentAt,
			})
		}
		return tx.Create(&receipts).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return message, recipients, nil
}

func (s *GormStore) ReceiptsForMessages(ctx context.Context, messageIDs []uint64) (map[uint64][]domain.Receipt, error) {
	grouped := make(map[uint64][]domain.Receipt, len(messageIDs))
	if len(messageIDs) == 0 {
		return grouped, nil
	}

	var receipts []domain.Receipt
	err := s.db.WithContext(ctx).
		Where("message_id IN ?", messageIDs).
		Find(&receipts).Error
	if err != nil {
		return nil, err
	}

	for _, r := range receipts {
		grouped[r.MessageID] = append(grouped[r.MessageID], r)
	}
	return grouped, nil
}

func (s *GormStore) MarkReceiptsRead(ctx context.Context, conversationID uint64, uid string, updatedAt time.Time) ([]uint64, error) {
	var messageIDs []uint64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Receipt{}).
			Joins("JOIN messages m ON m.message_id = receipts.message_id").
			Where("receipts.uid = ? AND receipts.status <> ? AND m.conversation_id = ?", uid, domain.StatusRead, conversationID).
			Pluck("receipts.message_id", &messageIDs).Error; err != nil {
			return err
		}

		if len(messageIDs) == 0 {
			return nil
		}

		return tx.Model(&domain.Receipt{}).
			Where("message_id IN ? AND uid = ?", messageIDs, uid).
			Updates(map[string]interface{}{
				"status":     domain.StatusRead,
				"updated_at": updatedAt,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return messageIDs, nil
}

func (s *GormStore) ClearedMarker(ctx context.Context, uid string, conversationID uint64) (*time.Time, error) {
	var marker domain.ClearedMarker
	err := s.db.WithContext(ctx).
		First(&marker, "uid = ? AND conversation_id = ?", uid, conversationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &marker.ClearedAt, nil
}

func (s *GormStore) UpsertClearedMarker(ctx context.Context, uid string, conversationID uint64, clearedAt time.Time) error {
	marker := domain.ClearedMarker{
		UID:            uid,
		ConversationID: conversationID,
		ClearedAt:      clearedAt,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "uid"}, {Name: "conversation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"cleared_at"}),
		}).
		Create(&marker).Error
}

func (s *GormStore) MessagesBefore(ctx context.Context, conversationID uint64, viewerUID string, cleared *time.Time, beforeID uint64, limit int) ([]MessageRow, error) {
	q := s.db.WithContext(ctx).Table("messages m").
		Select("m.message_id, m.conversation_id, m.sender_uid, m.body, m.sent_at, u.email AS sender_email, u.first_name AS sender_first_name, r.status AS viewer_status").
		Joins("JOIN users u ON u.uid = m.sender_uid").
		Joins("LEFT JOIN receipts r ON r.message_id = m.message_id AND r.uid = ?", viewerUID).
		Where("m.conversation_id = ?", conversationID)

	if cleared != nil {
		q = q.Where("m.sent_at > ?", *cleared)
	}
	if beforeID > 0 {
		q = q.Where("m.message_id < ?", beforeID)
	}

	var rows []MessageRow
	err := q.Order("m.message_id DESC").Limit(limit).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *GormStore) LastMessage(ctx context.Context, conversationID uint64, cleared *time.Time) (*domain.Message, error) {
	q := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if cleared != nil {
		q = q.Where("sent_at > ?", *cleared)
	}

	var message domain.Message
	err := q.Order("message_id DESC").First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &message, nil
}

func (s *GormStore) CountUnread(ctx context.Context, conversationID uint64, uid string, cleared *time.Time) (int64, error) {
	q := s.db.WithContext(ctx).Model(&domain.Receipt{}).
		Joins("JOIN messages m ON m.message_id = receipts.message_id").
		Where("m.conversation_id = ?", conversationID).
		Where("receipts.uid = ? AND receipts.status <> ?", uid, domain.StatusRead).
		Where("m.sender_uid <> ?", uid)

	if cleared != nil {
		q = q.Where("m.sent_at > ?", *cleared)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *GormStore) ConversationsForUser(ctx context.Context, uid string) ([]domain.Conversation, error) {
	var conversations []domain.Conversation
	err := s.db.WithContext(ctx).
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.conversation_id").
		Where("cp.uid = ?", uid).
		Find(&conversations).Error
	if err != nil {
		return nil, err
	}
	return conversations, nil
}

func (s *GormStore) DevicesForUsers(ctx context.Context, uids []string) ([]domain.Device, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	var devices []domain.Device
	err := s.db.WithContext(ctx).
		Where("uid IN ?", uids).
		Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}
