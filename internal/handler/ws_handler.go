package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/talkbridge/chat-server/internal/audit"
	"github.com/talkbridge/chat-server/internal/config"
	"github.com/talkbridge/chat-server/internal/domain"
	"github.com/talkbridge/chat-server/internal/hub"
	"github.com/talkbridge/chat-server/internal/repository"
	"github.com/talkbridge/chat-server/internal/service"
	"github.com/talkbridge/chat-server/pkg/jwt"
	"github.com/talkbridge/chat-server/pkg/log"
	"github.com/talkbridge/chat-server/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler authenticates and upgrades per-conversation websocket
// channels, then feeds inbound frames to the chat service.
type WSHandler struct {
	hub     *hub.Hub
	service service.ChatService
	store   repository.Store
	tokens  *jwt.Manager
	wsCfg   config.WebSocketConfig
}

func NewWSHandler(h *hub.Hub, svc service.ChatService, store repository.Store, tokens *jwt.Manager, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
		store:   store,
		tokens:  tokens,
		wsCfg:   wsCfg,
	}
}

// HandleWebSocket serves GET /ws/conversations/:conversation_id/:email.
// Browsers cannot set headers on websocket dials, so the access token
// rides in the token query parameter. Failures before the upgrade are
// plain HTTP errors; afterwards everything is in-band.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	conversationID, err := strconv.ParseUint(c.Param("conversation_id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid conversation id")
		return
	}
	email := strings.ToLower(c.Param("email"))

	claims, err := h.tokens.Validate(c.Query("token"))
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}
	if strings.ToLower(claims.Email) != email {
		response.Forbidden(c, "token does not match the requested identity")
		return
	}

	user, err := h.store.UserByEmail(c.Request.Context(), claims.Email)
	if err != nil {
		response.Unauthorized(c, "unknown user")
		return
	}

	member, err := h.store.IsParticipant(c.Request.Context(), conversationID, user.UID)
	if err != nil {
		response.InternalError(c, "failed to check membership")
		return
	}
	if !member {
		response.Forbidden(c, "not a participant of this conversation")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Ctx(c.Request.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), conversationID, user.UID, claims.Email, h.hub, conn, h.wsCfg)
	h.hub.Connect(conversationID, user.UID, client)

	audit.LogWithConversation(c.Request.Context(), audit.ActionConnect, user.UID, conversationID, "channel opened")

	go client.WritePump()
	go func() {
		client.ReadPump(h.handleFrame)
		audit.LogWithConversation(context.Background(), audit.ActionDisconnect, user.UID, conversationID, "channel closed")
	}()
}

// handleFrame handles one inbound frame. Malformed frames and empty
// bodies are answered in-band and the channel stays open; only a
// persistence failure tears the channel down.
func (h *WSHandler) handleFrame(client *hub.Client, raw []byte) {
	logger := log.L().With().
		Uint64(log.FieldConversationID, client.ConversationID).
		Str(log.FieldParticipant, client.UID).
		Logger()
	ctx := log.WithLogger(context.Background(), logger)

	var frame domain.InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		client.Deliver(domain.NewErrorFrame(domain.ErrCodeBadRequest, "invalid frame"))
		return
	}

	if err := h.service.HandleIncoming(ctx, client.ConversationID, client.Email, client, frame.Text); err != nil {
		logger.Error().Err(err).Msg("failed to handle inbound message")
		client.Deliver(domain.NewErrorFrame(domain.ErrCodeInternalError, "failed to deliver message"))
		client.Close()
	}
}

// RegisterRoutes wires the websocket endpoint.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws/conversations/:conversation_id/:email", h.HandleWebSocket)
}
