package hub

import (
	"sync"

	"github.com/talkbridge/chat-server/pkg/log"
)

// Handle is an open channel to one connected participant. Opaque to
// the hub beyond delivery and close.
type Handle interface {
	Deliver(v interface{}) error
	Close() error
}

// Hub is the process-wide directory of live connections, keyed by
// (conversation, participant). At most one handle per key; last
// connected wins. Entries are never persisted and are rebuilt from
// zero on restart.
type Hub struct {
	mu    sync.RWMutex
	conns map[uint64]map[string]Handle
}

func New() *Hub {
	return &Hub{
		conns: make(map[uint64]map[string]Handle),
	}
}

// Connect installs a handle for (conversationID, uid). An existing
// handle for the key is closed best-effort first; it may already be
// dead, so the close error is ignored.
func (h *Hub) Connect(conversationID uint64, uid string, handle Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	participants, ok := h.conns[conversationID]
	if !ok {
		participants = make(map[string]Handle)
		h.conns[conversationID] = participants
	}

	if old, ok := participants[uid]; ok {
		_ = old.Close()
	}
	participants[uid] = handle

	log.L().Debug().
		Uint64(log.FieldConversationID, conversationID).
		Str(log.FieldParticipant, uid).
		Msg("participant connected")
}

// Disconnect removes the entry for (conversationID, uid) if it still
// holds the given handle. A replaced connection's deferred cleanup
// must not evict its successor, so the identity check matters.
func (h *Hub) Disconnect(conversationID uint64, uid string, handle Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	participants, ok := h.conns[conversationID]
	if !ok {
		return
	}
	if current, ok := participants[uid]; !ok || current != handle {
		return
	}

	delete(participants, uid)
	if len(participants) == 0 {
		delete(h.conns, conversationID)
	}

	log.L().Debug().
		Uint64(log.FieldConversationID, conversationID).
		Str(log.FieldParticipant, uid).
		Msg("participant disconnected")
}

// Broadcast sends payload to every live handle in the conversation
// except excludeUID. Per-handle failures are ignored. Returns true iff
// at least one send succeeded. Membership is snapshotted first so
// concurrent connects and disconnects cannot disturb the iteration.
func (h *Hub) Broadcast(conversationID uint64, payload interface{}, excludeUID string) bool {
	h.mu.RLock()
	snapshot := make([]Handle, 0, len(h.conns[conversationID]))
	for uid, handle := range h.conns[conversationID] {
		if uid == excludeUID {
			continue
		}
		snapshot = append(snapshot, handle)
	}
	h.mu.RUnlock()

	delivered := false
	for _, handle := range snapshot {
		if err := handle.Deliver(payload); err == nil {
			delivered = true
		}
	}
	return delivered
}

// IsConnected reports whether (conversationID, uid) has a live handle.
func (h *Hub) IsConnected(conversationID uint64, uid string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.conns[conversationID][uid]
	return ok
}
