package hub

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talkbridge/chat-server/internal/config"
	"github.com/talkbridge/chat-server/pkg/log"
)

var ErrClientClosed = errors.New("client closed")

// Client adapts one websocket connection to a hub Handle. Writes go
// through a buffered channel drained by WritePump so that a slow peer
// never blocks a broadcast.
type Client struct {
	ID             string
	ConversationID uint64
	UID            string
	Email          string

	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	closed atomic.Bool
	cfg    config.WebSocketConfig
}

func NewClient(id string, conversationID uint64, uid, email string, h *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		ID:             id,
		ConversationID: conversationID,
		UID:            uid,
		Email:          email,
		hub:            h,
		conn:           conn,
		send:           make(chan []byte, buffer),
		cfg:            cfg,
	}
}

// Deliver marshals v and enqueues it. It fails when the client is
// closed or its buffer is full; the caller treats either as a failed
// send to this recipient.
func (c *Client) Deliver(v interface{}) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Close marks the client dead and closes the underlying connection,
// which unblocks both pumps. Safe to call more than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// ReadPump reads inbound frames and hands them to handler. It owns
// connection cleanup: on any exit it deregisters the client from the
// hub and closes the connection, so a crashed handler cannot leak a
// registry entry.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		c.hub.Disconnect(c.ConversationID, c.UID, c)
		c.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.L().Warn().Err(err).
					Uint64(log.FieldConversationID, c.ConversationID).
					Str(log.FieldParticipant, c.UID).
					Msg("websocket read error")
			}
			return
		}

		handler(c, message)
	}
}

// WritePump drains the send buffer to the connection and keeps the
// peer alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
