package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/slotter-org/alexus-backend/internal/requestdata"
	"github.com/slotter-org/alexus-backend/internal/services"
	"github.com/slotter-org/alexus-backend/internal/socket"
	"github.com/slotter-org/alexus-backend/internal/types"
)

type ConversationHandler struct {
	conversationService services.ConversationService
	chatService         services.ChatService
	hub                 *socket.Hub
}

func NewConversationHandler(conversationService services.ConversationService, chatService services.ChatService, hub *socket.Hub) *ConversationHandler {
	return &ConversationHandler{conversationService: conversationService, chatService: chatService, hub: hub}
}

func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		userID = requestdata.UserIDFrom(c.Request.Context())
	}
	convs, err := h.conversationService.ListConversations(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if convs == nil {
		convs = []*types.Conversation{}
	}
	c.JSON(http.StatusOK, convs)
}

func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req struct {
		UserID string `json:"userId"`
		Title  string `json:"title"`
	}
	// An empty body is allowed; userId may come from the request context.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadBody(c, err)
			return
		}
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = requestdata.UserIDFrom(c.Request.Context())
	}
	conv, err := h.conversationService.CreateConversation(c.Request.Context(), req.UserID, req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	h.hub.PublishConversation(c.Request.Context(), socket.ActionConversationCreated, conv)
	c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) GetConversation(c *gin.Context) {
	id, ok := conversationIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	conv, err := h.conversationService.GetConversation(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	msgs, err := h.conversationService.ListMessages(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if msgs == nil {
		msgs = []*types.Message{}
	}
	c.JSON(http.StatusOK, types.ConversationWithMessages{Conversation: *conv, Messages: msgs})
}

func (h *ConversationHandler) RenameConversation(c *gin.Context) {
	id, ok := conversationIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadBody(c, err)
		return
	}
	conv, err := h.conversationService.RenameConversation(c.Request.Context(), id, req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	h.hub.PublishConversation(c.Request.Context(), socket.ActionConversationUpdated, conv)
	c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	id, ok := conversationIDParam(c)
	if !ok {
		return
	}
	conv, err := h.conversationService.DeleteConversation(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	h.hub.PublishConversation(c.Request.Context(), socket.ActionConversationDeleted, conv)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *ConversationHandler) ListMessages(c *gin.Context) {
	id, ok := conversationIDParam(c)
	if !ok {
		return
	}
	msgs, err := h.conversationService.ListMessages(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if msgs == nil {
		msgs = []*types.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *ConversationHandler) AppendMessages(c *gin.Context) {
	id, ok := conversationIDParam(c)
	if !ok {
		return
	}
	var req struct {
		UserMessage      string `json:"userMessage"`
		AssistantMessage string `json:"assistantMessage"`
		UserImage        string `json:"userImage"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadBody(c, err)
		return
	}
	ctx := c.Request.Context()
	msgs, err := h.chatService.AppendTurn(ctx, id, services.ManualTurn{
		UserMessage:      req.UserMessage,
		AssistantMessage: req.AssistantMessage,
		UserImage:        req.UserImage,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if conv, err := h.conversationService.GetConversation(ctx, id); err == nil {
		h.hub.PublishConversation(ctx, socket.ActionConversationUpdated, conv)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": msgs})
}
