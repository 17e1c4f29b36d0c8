package services

import (
	"context"

	"github.com/slotter-org/alexus-backend/internal/logger"
	"github.com/slotter-org/alexus-backend/internal/metrics"
	"github.com/slotter-org/alexus-backend/internal/prompt"
	"github.com/slotter-org/alexus-backend/internal/types"
)

const DefaultHistoryLimit = 20

// HistoryReader is the slice of the conversation store the assembler needs.
type HistoryReader interface {
	RecentMessages(ctx context.Context, conversationID uint, limit int) ([]types.ChatMessage, error)
}

type ContextRequest struct {
	ConversationID *uint
	Text           string
	ImageURL       string
	Limit          int
}

// ContextWindow is the ordered message list for one generation call:
// system instruction, history oldest first, then the new user turn.
type ContextWindow struct {
	Messages     []types.ChatMessage
	HistoryCount int
	// Degraded is set when history could not be read and the window was
	// built without it. HistoryErr holds the cause.
	Degraded   bool
	HistoryErr error
}

// UserTurn is the last entry of the window.
func (w ContextWindow) UserTurn() types.ChatMessage {
	return w.Messages[len(w.Messages)-1]
}

type ContextAssembler interface {
	Assemble(ctx context.Context, req ContextRequest) ContextWindow
}

type contextAssembler struct {
	log     *logger.Logger
	history HistoryReader
	prompts prompt.Config
	metrics *metrics.ChatMetrics
	limit   int
}

func NewContextAssembler(log *logger.Logger, history HistoryReader, prompts prompt.Config, m *metrics.ChatMetrics, defaultLimit int) ContextAssembler {
	if defaultLimit <= 0 {
		defaultLimit = DefaultHistoryLimit
	}
	return &contextAssembler{
		log:     log.With("service", "ContextAssembler"),
		history: history,
		prompts: prompts,
		metrics: m,
		limit:   defaultLimit,
	}
}

// Assemble never fails. A history read error yields a degraded window with
// no history.
func (ca *contextAssembler) Assemble(ctx context.Context, req ContextRequest) ContextWindow {
	limit := req.Limit
	if limit <= 0 {
		limit = ca.limit
	}

	var (
		history []types.ChatMessage
		window  ContextWindow
	)
	if req.ConversationID != nil {
		h, err := ca.history.RecentMessages(ctx, *req.ConversationID, limit)
		if err != nil {
			ca.log.Warn("History unavailable, continuing with empty context",
				"conversationID", *req.ConversationID,
				"error", err,
			)
			ca.metrics.ContextDegraded()
			window.Degraded = true
			window.HistoryErr = err
		} else {
			history = h
		}
	}

	msgs := make([]types.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, types.ChatMessage{Role: types.RoleSystem, Content: ca.prompts.SystemInstruction})
	for _, h := range history {
		msgs = append(msgs, types.ChatMessage{Role: h.Role, Content: h.Content})
	}
	msgs = append(msgs, types.ChatMessage{
		Role:     types.RoleUser,
		Content:  ca.prompts.UserText(req.Text, req.ImageURL != ""),
		ImageURL: req.ImageURL,
	})

	window.Messages = msgs
	window.HistoryCount = len(history)
	return window
}
