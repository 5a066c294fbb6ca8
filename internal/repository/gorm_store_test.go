package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/talkbridge/chat-server/internal/domain"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := NewGormStore(db)
	require.NoError(t, store.Migrate())
	return store
}

// seedConversation creates users alice, bob, carol and a group
// conversation containing all three. Returns the conversation id.
func seedConversation(t *testing.T, s *GormStore) uint64 {
	t.Helper()

	users := []domain.User{
		{UID: "alice", Email: "alice@example.com", FirstName: "Alice"},
		{UID: "bob", Email: "bob@example.com", FirstName: "Bob"},
		{UID: "carol", Email: "carol@example.com"},
	}
	require.NoError(t, s.db.Create(&users).Error)

	conv := domain.Conversation{Name: "trio", Type: domain.ConversationGroup, CreatedBy: "alice"}
	require.NoError(t, s.db.Create(&conv).Error)

	for _, uid := range []string{"alice", "bob", "carol"} {
		role := domain.RoleMember
		if uid == "alice" {
			role = domain.RoleAdmin
		}
		require.NoError(t, s.db.Create(&domain.Participant{
			ConversationID: conv.ConversationID,
			UID:            uid,
			Role:           role,
		}).Error)
	}
	return conv.ConversationID
}

func TestCreateMessageWithReceipts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	convID := seedConversation(t, s)

	sentAt := time.Now().UTC()
	msg, recipients, err := s.CreateMessage(ctx, convID, "alice", "hi", sentAt)
	require.NoError(t, err)
	require.NotZero(t, msg.MessageID)
	assert.ElementsMatch(t, []string{"bob", "carol"}, recipients)

	receipts, err := s.ReceiptsForMessages(ctx, []uint64{msg.MessageID})
	require.NoError(t, err)
	require.Len(t, receipts[msg.MessageID], 2)
	for _, r := range receipts[msg.MessageID] {
		assert.Equal(t, domain.StatusDelivered, r.Status)
		assert.NotEqual(t, "alice", r.UID, "sender must not get a receipt")
	}
}

func TestMarkReceiptsRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	convID := seedConversation(t, s)

	m1, _, err := s.CreateMessage(ctx, convID, "alice", "one", time.Now().UTC())
	require.NoError(t, err)
	m2, _, err := s.CreateMessage(ctx, convID, "alice", "two", time.Now().UTC())
	require.NoError(t, err)

	readAt := time.Now().UTC()
	ids, err := s.MarkReceiptsRead(ctx, convID, "bob", readAt)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{m1.MessageID, m2.MessageID}, ids)

	receipts, err := s.ReceiptsForMessages(ctx, []uint64{m1.MessageID, m2.MessageID})
	require.NoError(t, err)
	for _, rs := range receipts {
		for _, r := range rs {
			if r.UID == "bob" {
				assert.Equal(t, domain.StatusRead, r.Status)
			} else {
				assert.Equal(t, domain.StatusDelivered, r.Status, "other recipients must be untouched")
			}
		}
	}

	// Idempotent: nothing outstanding on the second call.
	ids, err = s.MarkReceiptsRead(ctx, convID, "bob", time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestClearedMarkerUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	convID := seedConversation(t, s)

	marker, err := s.ClearedMarker(ctx, "bob", convID)
	require.NoError(t, err)
	assert.Nil(t, marker)

	first := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertClearedMarker(ctx, "bob", convID, first))

	marker, err = s.ClearedMarker(ctx, "bob", convID)
	require.NoError(t, err)
	require.NotNil(t, marker)
	assert.True(t, marker.Equal(first))

	second := first.Add(time.Hour)
	require.NoError(t, s.UpsertClearedMarker(ctx, "bob", convID, second))

	marker, err = s.ClearedMarker(ctx, "bob", convID)
	require.NoError(t, err)
	require.NotNil(t, marker)
	assert.True(t, marker.Equal(second), "upsert must replace, not duplicate")
}

func TestMessagesBeforeVisibility(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	convID := seedConversation(t, s)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m1, _, err := s.CreateMessage(ctx, convID, "alice", "old", base)
	require.NoError(t, err)
	m2, _, err := s.CreateMessage(ctx, convID, "bob", "mid", base.Add(time.Minute))
	require.NoError(t, err)
	m3, _, err := s.CreateMessage(ctx, convID, "alice", "new", base.Add(2*time.Minute))
	require.NoError(t, err)

	// No cutoff: all three, newest first.
	rows, err := s.MessagesBefore(ctx, convID, "bob", nil, 0, 50)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, m3.MessageID, rows[0].MessageID)
	assert.Equal(t, m1.MessageID, rows[2].MessageID)

	// Viewer receipt joined for messages bob received, nil for his own.
	for _, row := range rows {
		if row.SenderUID == "bob" {
			assert.Nil(t, row.ViewerStatus)
		} else {
			require.NotNil(t, row.ViewerStatus)
			assert.Equal(t, domain.StatusDelivered, *row.ViewerStatus)
		}
		assert.NotEmpty(t, row.SenderEmail)
	}

	// Cutoff at m1's timestamp hides m1 (sent_at <= cleared_at).
	cleared := base
	rows, err = s.MessagesBefore(ctx, convID, "bob", &cleared, 0, 50)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, m3.MessageID, rows[0].MessageID)
	assert.Equal(t, m2.MessageID, rows[1].MessageID)

	// Pagination: older than m3.
	rows, err = s.MessagesBefore(ctx, convID, "bob", nil, m3.MessageID, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, m2.MessageID, rows[0].MessageID)
}

func TestCountUnread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	convID := seedConversation(t, s)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_, _, err := s.CreateMessage(ctx, convID, "alice", "one", base)
	require.NoError(t, err)
	_, _, err = s.CreateMessage(ctx, convID, "alice", "two", base.Add(time.Minute))
	require.NoError(t, err)
	_, _, err = s.CreateMessage(ctx, convID, "bob", "mine", base.Add(2*time.Minute))
	require.NoError(t, err)

	count, err := s.CountUnread(ctx, convID, "bob", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count, "own messages never count as unread")

	// Cutoff hides the first message.
	cleared := base
	count, err = s.CountUnread(ctx, convID, "bob", &cleared)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	_, err = s.MarkReceiptsRead(ctx, convID, "bob", time.Now().UTC())
	require.NoError(t, err)

	count, err = s.CountUnread(ctx, convID, "bob", nil)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Another viewer with no marker still sees everything unread.
	count, err = s.CountUnread(ctx, convID, "carol", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestUserByEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedConversation(t, s)

	user, err := s.UserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.UID)

	_, err = s.UserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConversationAndParticipantQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	convID := seedConversation(t, s)

	ok, err := s.IsParticipant(ctx, convID, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsParticipant(ctx, convID, "mallory")
	require.NoError(t, err)
	assert.False(t, ok)

	uids, err := s.Participants(ctx, convID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, uids)

	users, err := s.ParticipantUsers(ctx, convID)
	require.NoError(t, err)
	assert.Len(t, users, 3)

	convs, err := s.ConversationsForUser(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, convID, convs[0].ConversationID)
}

func TestDevicesForUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedConversation(t, s)

	require.NoError(t, s.db.Create(&[]domain.Device{
		{UID: "bob", Token: "tok-b1", Platform: "android"},
		{UID: "bob", Token: "tok-b2", Platform: "ios"},
		{UID: "carol", Token: "tok-c1", Platform: "android"},
	}).Error)

	devices, err := s.DevicesForUsers(ctx, []string{"bob", "carol"})
	require.NoError(t, err)
	assert.Len(t, devices, 3)

	devices, err = s.DevicesForUsers(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestLastMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	convID := seedConversation(t, s)

	_, err := s.LastMessage(ctx, convID, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_, _, err = s.CreateMessage(ctx, convID, "alice", "first", base)
	require.NoError(t, err)
	m2, _, err := s.CreateMessage(ctx, convID, "bob", "second", base.Add(time.Minute))
	require.NoError(t, err)

	last, err := s.LastMessage(ctx, convID, nil)
	require.NoError(t, err)
	assert.Equal(t, m2.MessageID, last.MessageID)

	// Everything cleared: nothing visible.
	cleared := base.Add(time.Hour)
	_, err = s.LastMessage(ctx, convID, &cleared)
	assert.ErrorIs(t, err, ErrNotFound)
}
