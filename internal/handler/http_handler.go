package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/talkbridge/chat-server/internal/config"
	"github.com/talkbridge/chat-server/internal/middleware"
	"github.com/talkbridge/chat-server/internal/service"
	"github.com/talkbridge/chat-server/pkg/log"
	"github.com/talkbridge/chat-server/pkg/response"
)

// HTTPHandler serves the REST surface: conversation lists, history
// pages, unread counts, read marks and clears.
type HTTPHandler struct {
	chat    service.ChatService
	history service.HistoryService
	auth    *middleware.AuthMiddleware
	cfg     config.HistoryConfig
}

func NewHTTPHandler(chat service.ChatService, history service.HistoryService, auth *middleware.AuthMiddleware, cfg config.HistoryConfig) *HTTPHandler {
	return &HTTPHandler{
		chat:    chat,
		history: history,
		auth:    auth,
		cfg:     cfg,
	}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.auth.RequireAuth())
	{
		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/:conversation_id/messages", h.GetMessages)
		api.GET("/conversations/:conversation_id/unread_count", h.GetUnreadCount)
		api.POST("/conversations/:conversation_id/read", h.MarkRead)
		api.POST("/conversations/:conversation_id/clear", h.ClearChat)
	}

	r.GET("/health", h.HealthCheck)
}

func (h *HTTPHandler) ListConversations(c *gin.Context) {
	views, err := h.history.Conversations(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		log.Ctx(c.Request.Context()).Error().Err(err).Msg("failed to list conversations")
		response.InternalError(c, "failed to list conversations")
		return
	}
	response.Success(c, views)
}

func (h *HTTPHandler) GetMessages(c *gin.Context) {
	conversationID, ok := h.conversationID(c)
	if !ok {
		return
	}

	limit := h.cfg.DefaultLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = parsed
		if limit > h.cfg.MaxLimit {
			limit = h.cfg.MaxLimit
		}
	}

	var beforeID uint64
	if beforeStr := c.Query("before_id"); beforeStr != "" {
		parsed, err := strconv.ParseUint(beforeStr, 10, 64)
		if err != nil || parsed == 0 {
			response.BadRequest(c, "before_id must be a positive integer")
			return
		}
		beforeID = parsed
	}

	views, err := h.history.Messages(c.Request.Context(), conversationID, middleware.GetUserID(c), limit, beforeID)
	if err != nil {
		h.writeError(c, err, "failed to get messages")
		return
	}
	response.Success(c, views)
}

func (h *HTTPHandler) GetUnreadCount(c *gin.Context) {
	conversationID, ok := h.conversationID(c)
	if !ok {
		return
	}

	count, err := h.history.UnreadCount(c.Request.Context(), conversationID, middleware.GetUserID(c))
	if err != nil {
		h.writeError(c, err, "failed to count unread messages")
		return
	}
	response.Success(c, gin.H{"unread_count": count})
}

func (h *HTTPHandler) MarkRead(c *gin.Context) {
	conversationID, ok := h.conversationID(c)
	if !ok {
		return
	}

	marked, err := h.chat.MarkRead(c.Request.Context(), conversationID, middleware.GetUserID(c))
	if err != nil {
		h.writeError(c, err, "failed to mark messages read")
		return
	}
	response.Success(c, gin.H{"marked_read": marked})
}

func (h *HTTPHandler) ClearChat(c *gin.Context) {
	conversationID, ok := h.conversationID(c)
	if !ok {
		return
	}

	if err := h.history.ClearChat(c.Request.Context(), conversationID, middleware.GetUserID(c)); err != nil {
		h.writeError(c, err, "failed to clear conversation")
		return
	}
	response.Success(c, gin.H{"cleared": true})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}

func (h *HTTPHandler) conversationID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("conversation_id"), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid conversation id")
		return 0, false
	}
	return id, true
}

func (h *HTTPHandler) writeError(c *gin.Context, err error, msg string) {
	if errors.Is(err, service.ErrNotParticipant) {
		response.Forbidden(c, service.ErrNotParticipant.Error())
		return
	}
	log.Ctx(c.Request.Context()).Error().Err(err).Msg(msg)
	response.InternalError(c, msg)
}
