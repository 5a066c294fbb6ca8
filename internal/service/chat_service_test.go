package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/talkbridge/chat-server/internal/domain"
	"github.com/talkbridge/chat-server/internal/hub"
	"github.com/talkbridge/chat-server/internal/repository"
)

type fakeHandle struct {
	mu        sync.Mutex
	delivered []interface{}
	failSend  bool
}

func (f *fakeHandle) Deliver(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errors.New("send failed")
	}
	f.delivered = append(f.delivered, v)
	return nil
}

func (f *fakeHandle) Close() error { return nil }

func (f *fakeHandle) frames() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]interface{}, len(f.delivered))
	copy(out, f.delivered)
	return out
}

type pushRecord struct {
	Token string
	Title string
	Body  string
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []pushRecord
	err  error
}

func (d *recordingDispatcher) Send(ctx context.Context, deviceToken, title, body string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, pushRecord{Token: deviceToken, Title: title, Body: body})
	return nil
}

func (d *recordingDispatcher) pushes() []pushRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]pushRecord, len(d.sent))
	copy(out, d.sent)
	return out
}

// newTestDB seeds users alice, bob, carol, a group conversation with
// all three, and one device each for bob and carol. Returns the db
// handle for direct seeding and the conversation id.
func newTestDB(t *testing.T) (*gorm.DB, uint64) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.NewGormStore(db).Migrate())

	users := []domain.User{
		{UID: "alice", Email: "alice@example.com", FirstName: "Alice"},
		{UID: "bob", Email: "bob@example.com", FirstName: "Bob"},
		{UID: "carol", Email: "carol@example.com"},
	}
	require.NoError(t, db.Create(&users).Error)

	conv := domain.Conversation{Name: "trio", Type: domain.ConversationGroup, CreatedBy: "alice"}
	require.NoError(t, db.Create(&conv).Error)
	for _, uid := range []string{"alice", "bob", "carol"} {
		require.NoError(t, db.Create(&domain.Participant{
			ConversationID: conv.ConversationID,
			UID:            uid,
			Role:           domain.RoleMember,
		}).Error)
	}

	devices := []domain.Device{
		{UID: "bob", Token: "tok-bob", Platform: "android"},
		{UID: "carol", Token: "tok-carol", Platform: "ios"},
	}
	require.NoError(t, db.Create(&devices).Error)

	return db, conv.ConversationID
}

func newChatFixture(t *testing.T) (ChatService, repository.Store, *hub.Hub, *recordingDispatcher, uint64) {
	t.Helper()

	db, convID := newTestDB(t)
	store := repository.NewGormStore(db)
	h := hub.New()
	dispatcher := &recordingDispatcher{}
	return NewChatService(h, store, dispatcher), store, h, dispatcher, convID
}

func TestHandleIncomingEmptyBody(t *testing.T) {
	svc, store, _, dispatcher, convID := newChatFixture(t)
	ctx := context.Background()
	sender := &fakeHandle{}

	err := svc.HandleIncoming(ctx, convID, "alice@example.com", sender, "   \n")
	require.NoError(t, err)

	frames := sender.frames()
	require.Len(t, frames, 1)
	errFrame, ok := frames[0].(*domain.ErrorFrame)
	require.True(t, ok, "expected an in-band error frame, got %T", frames[0])
	assert.Equal(t, domain.ErrCodeBadRequest, errFrame.Error.Code)

	rows, err := store.MessagesBefore(ctx, convID, "alice", nil, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, rows, "nothing must be persisted for an empty body")
	assert.Empty(t, dispatcher.pushes())
}

func TestHandleIncomingAckUpgradeWithLiveRecipient(t *testing.T) {
	svc, store, h, dispatcher, convID := newChatFixture(t)
	ctx := context.Background()

	sender := &fakeHandle{}
	bobHandle := &fakeHandle{}
	h.Connect(convID, "alice", sender)
	h.Connect(convID, "bob", bobHandle)

	require.NoError(t, svc.HandleIncoming(ctx, convID, "alice@example.com", sender, "hello"))

	// Sender sees sent first, then the upgrade once bob received it.
	// Handles keep what they were given, so the first frame must still
	// read sent after the upgrade went out.
	frames := sender.frames()
	require.Len(t, frames, 2)
	first := frames[0].(*domain.MessageEvent)
	second := frames[1].(*domain.MessageEvent)
	assert.NotSame(t, first, second)
	assert.Equal(t, domain.StatusSent, first.Status)
	assert.Equal(t, domain.StatusDelivered, second.Status)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Equal(t, "hello", first.Text)
	assert.Equal(t, "alice@example.com", first.Sender)

	bobFrames := bobHandle.frames()
	require.Len(t, bobFrames, 1)
	event := bobFrames[0].(*domain.MessageEvent)
	assert.Equal(t, domain.StatusDelivered, event.Status)
	assert.Equal(t, "hello", event.Text)

	// Receipts start delivered for bob and carol alike; carol being
	// offline only affects the sender ack, not persistence.
	receipts, err := store.ReceiptsForMessages(ctx, []uint64{first.MessageID})
	require.NoError(t, err)
	require.Len(t, receipts[first.MessageID], 2)
	for _, r := range receipts[first.MessageID] {
		assert.Equal(t, domain.StatusDelivered, r.Status)
	}

	pushes := dispatcher.pushes()
	require.Len(t, pushes, 2)
	tokens := []string{pushes[0].Token, pushes[1].Token}
	assert.ElementsMatch(t, []string{"tok-bob", "tok-carol"}, tokens)
	assert.Contains(t, pushes[0].Title, "Alice")
	assert.Equal(t, "hello", pushes[0].Body)
}

func TestHandleIncomingNoLiveRecipients(t *testing.T) {
	svc, _, h, dispatcher, convID := newChatFixture(t)
	ctx := context.Background()

	sender := &fakeHandle{}
	h.Connect(convID, "alice", sender)

	require.NoError(t, svc.HandleIncoming(ctx, convID, "alice@example.com", sender, "anyone here"))

	frames := sender.frames()
	require.Len(t, frames, 1, "no upgrade without a live recipient")
	assert.Equal(t, domain.StatusSent, frames[0].(*domain.MessageEvent).Status)

	assert.Len(t, dispatcher.pushes(), 2, "pushes go out regardless of liveness")
}

func TestHandleIncomingUnknownSender(t *testing.T) {
	svc, store, _, _, convID := newChatFixture(t)
	ctx := context.Background()
	sender := &fakeHandle{}

	err := svc.HandleIncoming(ctx, convID, "mallory@example.com", sender, "hi")
	require.Error(t, err)
	assert.Empty(t, sender.frames())

	rows, err := store.MessagesBefore(ctx, convID, "alice", nil, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestHandleIncomingPushFailureSwallowed(t *testing.T) {
	svc, _, _, dispatcher, convID := newChatFixture(t)
	dispatcher.err = errors.New("fcm unavailable")
	ctx := context.Background()
	sender := &fakeHandle{}

	err := svc.HandleIncoming(ctx, convID, "alice@example.com", sender, "still works")
	require.NoError(t, err, "push failures must not fail the send")
	require.Len(t, sender.frames(), 1)
}

func TestMarkReadBroadcastsPerMessage(t *testing.T) {
	svc, store, h, _, convID := newChatFixture(t)
	ctx := context.Background()

	m1, _, err := store.CreateMessage(ctx, convID, "alice", "one", time.Now().UTC())
	require.NoError(t, err)
	m2, _, err := store.CreateMessage(ctx, convID, "alice", "two", time.Now().UTC())
	require.NoError(t, err)

	aliceHandle := &fakeHandle{}
	bobHandle := &fakeHandle{}
	h.Connect(convID, "alice", aliceHandle)
	h.Connect(convID, "bob", bobHandle)

	n, err := svc.MarkRead(ctx, convID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	frames := aliceHandle.frames()
	require.Len(t, frames, 2)
	var ids []uint64
	for _, f := range frames {
		event := f.(*domain.MessageEvent)
		assert.Equal(t, domain.StatusRead, event.Status)
		ids = append(ids, event.MessageID)
	}
	assert.ElementsMatch(t, []uint64{m1.MessageID, m2.MessageID}, ids)

	assert.Empty(t, bobHandle.frames(), "the reader is excluded from read events")

	// Second mark is a no-op.
	n, err = svc.MarkRead(ctx, convID, "bob")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, aliceHandle.frames(), 2)
}

func TestMessageLifecycleAggregate(t *testing.T) {
	svc, store, h, _, convID := newChatFixture(t)
	ctx := context.Background()

	sender := &fakeHandle{}
	h.Connect(convID, "alice", sender)
	require.NoError(t, svc.HandleIncoming(ctx, convID, "alice@example.com", sender, "status check"))

	messageID := sender.frames()[0].(*domain.MessageEvent).MessageID

	aggregate := func() string {
		receipts, err := store.ReceiptsForMessages(ctx, []uint64{messageID})
		require.NoError(t, err)
		return domain.AggregateStatus(receipts[messageID])
	}

	assert.Equal(t, domain.StatusDelivered, aggregate())

	_, err := svc.MarkRead(ctx, convID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, aggregate(), "one reader is not enough")

	_, err = svc.MarkRead(ctx, convID, "carol")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, aggregate(), "read once every recipient has read")
}
