package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/slotter-org/alexus-backend/internal/errordata"
	"github.com/slotter-org/alexus-backend/internal/logger"
	"github.com/slotter-org/alexus-backend/internal/relay"
	"github.com/slotter-org/alexus-backend/internal/requestdata"
	"github.com/slotter-org/alexus-backend/internal/services"
	"github.com/slotter-org/alexus-backend/internal/socket"
)

const (
	HeaderConversationID = "X-Conversation-Id"
	// HeaderTurnPersisted is a trailer: "true" once the turn is saved,
	// "false" when the stream ended without saving it.
	HeaderTurnPersisted = "X-Turn-Persisted"
)

type ChatHandler struct {
	log         *logger.Logger
	chatService services.ChatService
	hub         *socket.Hub
}

func NewChatHandler(log *logger.Logger, chatService services.ChatService, hub *socket.Hub) *ChatHandler {
	return &ChatHandler{log: log.With("handler", "ChatHandler"), chatService: chatService, hub: hub}
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID *uint  `json:"conversationId"`
	Image          string `json:"image"`
	UserID         string `json:"userId"`
}

// Chat streams the answer as plain text. Errors found before the stream
// opens are JSON; after the first byte the outcome is reported in the
// X-Turn-Persisted trailer.
func (ch *ChatHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadBody(c, err)
		return
	}
	ctx := c.Request.Context()
	if req.ConversationID != nil && *req.ConversationID == 0 {
		req.ConversationID = nil
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = requestdata.UserIDFrom(ctx)
	}

	turn, err := ch.chatService.StartTurn(ctx, services.ChatRequest{
		UserID:         userID,
		ConversationID: req.ConversationID,
		Message:        req.Message,
		Image:          req.Image,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if turn.Created {
		ch.hub.PublishConversation(ctx, socket.ActionConversationCreated, turn.Conversation)
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Header(HeaderConversationID, strconv.FormatUint(uint64(turn.ConversationID), 10))
	c.Header("Trailer", HeaderTurnPersisted)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	result, err := ch.chatService.FinishTurn(ctx, turn, relay.NewResponseSink(c.Writer))
	c.Writer.Header().Set(HeaderTurnPersisted, strconv.FormatBool(err == nil))
	if err != nil {
		errordata.Record(ctx, err)
		if result != nil && result.Discarded {
			ch.hub.PublishConversation(context.WithoutCancel(ctx), socket.ActionConversationDeleted, turn.Conversation)
		}
		return
	}
	ch.hub.PublishConversation(context.WithoutCancel(ctx), socket.ActionConversationUpdated, result.Conversation)
}
