package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/slotter-org/alexus-backend/internal/apperr"
	"github.com/slotter-org/alexus-backend/internal/logger"
	"github.com/slotter-org/alexus-backend/internal/repos"
	"github.com/slotter-org/alexus-backend/internal/types"
)

// ConversationService is the conversation store. Every append bumps the
// owning conversation's updated_at inside the same transaction.
type ConversationService interface {
	CreateConversation(ctx context.Context, userID, title string) (*types.Conversation, error)
	CreateConversationWithTransaction(ctx context.Context, tx *gorm.DB, userID, title string) (*types.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*types.Conversation, error)
	GetConversation(ctx context.Context, id uint) (*types.Conversation, error)
	RenameConversation(ctx context.Context, id uint, title string) (*types.Conversation, error)
	DeleteConversation(ctx context.Context, id uint) (*types.Conversation, error)
	AppendMessage(ctx context.Context, conversationID uint, msg types.NewMessage) (*types.Message, error)
	AppendMessages(ctx context.Context, conversationID uint, msgs ...types.NewMessage) ([]*types.Message, error)
	AppendMessagesWithTransaction(ctx context.Context, tx *gorm.DB, conversationID uint, msgs ...types.NewMessage) ([]*types.Message, error)
	ListMessages(ctx context.Context, conversationID uint) ([]*types.Message, error)
	RecentMessages(ctx context.Context, conversationID uint, limit int) ([]types.ChatMessage, error)
}

type conversationService struct {
	db               *gorm.DB
	log              *logger.Logger
	conversationRepo repos.ConversationRepo
	messageRepo      repos.MessageRepo
	now              func() time.Time
}

func NewConversationService(
	db *gorm.DB,
	log *logger.Logger,
	conversationRepo repos.ConversationRepo,
	messageRepo repos.MessageRepo,
) ConversationService {
	return &conversationService{
		db:               db,
		log:              log.With("service", "ConversationService"),
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		now:              time.Now,
	}
}

func (cs *conversationService) CreateConversation(ctx context.Context, userID, title string) (*types.Conversation, error) {
	var theConversation *types.Conversation
	err := cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, createErr := cs.CreateConversationWithTransaction(ctx, tx, userID, title)
		if createErr != nil {
			return createErr
		}
		theConversation = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return theConversation, nil
}

func (cs *conversationService) CreateConversationWithTransaction(ctx context.Context, tx *gorm.DB, userID, title string) (*types.Conversation, error) {
	if tx == nil {
		cs.log.Warn("CreateConversationWithTransaction called with nil transaction")
		return nil, fmt.Errorf("transaction cannot be nil")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperr.Validation("userId is required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = types.DefaultConversationTitle
	}
	ts := cs.timestamp()
	conv, err := cs.conversationRepo.Create(ctx, tx, &types.Conversation{
		UserID:    userID,
		Title:     title,
		CreatedAt: ts,
		UpdatedAt: ts,
	})
	if err != nil {
		return nil, apperr.Persistence("failed to create conversation", err)
	}
	cs.log.Debug("Conversation created", "conversationID", conv.ID, "userID", userID)
	return conv, nil
}

func (cs *conversationService) ListConversations(ctx context.Context, userID string) ([]*types.Conversation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperr.Validation("userId is required")
	}
	convs, err := cs.conversationRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		return nil, apperr.Persistence("failed to fetch conversations", err)
	}
	return convs, nil
}

func (cs *conversationService) GetConversation(ctx context.Context, id uint) (*types.Conversation, error) {
	conv, err := cs.conversationRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, translateLookupErr(err, "failed to fetch conversation")
	}
	return conv, nil
}

func (cs *conversationService) RenameConversation(ctx context.Context, id uint, title string) (*types.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperr.Validation("title is required")
	}
	var theConversation *types.Conversation
	err := cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, err := cs.conversationRepo.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return translateLookupErr(err, "failed to fetch conversation")
		}
		ts := nextTimestamp(conv.UpdatedAt, cs.now())
		if err := cs.conversationRepo.UpdateTitle(ctx, tx, id, title, ts); err != nil {
			return apperr.Persistence("failed to rename conversation", err)
		}
		conv.Title = title
		conv.UpdatedAt = ts
		theConversation = conv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return theConversation, nil
}

// DeleteConversation removes the conversation and its messages. A missing
// conversation is not an error; the returned conversation is nil then.
func (cs *conversationService) DeleteConversation(ctx context.Context, id uint) (*types.Conversation, error) {
	var deleted *types.Conversation
	err := cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, err := cs.conversationRepo.GetByIDForUpdate(ctx, tx, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return apperr.Persistence("failed to fetch conversation", err)
		}
		n, err := cs.messageRepo.DeleteByConversationID(ctx, tx, id)
		if err != nil {
			return apperr.Persistence("failed to delete messages", err)
		}
		if _, err := cs.conversationRepo.Delete(ctx, tx, id); err != nil {
			return apperr.Persistence("failed to delete conversation", err)
		}
		cs.log.Debug("Conversation deleted", "conversationID", id, "messages", n)
		deleted = conv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (cs *conversationService) AppendMessage(ctx context.Context, conversationID uint, msg types.NewMessage) (*types.Message, error) {
	msgs, err := cs.AppendMessages(ctx, conversationID, msg)
	if err != nil {
		return nil, err
	}
	return msgs[0], nil
}

// AppendMessages appends msgs in order as one unit. Either all of them are
// recorded together with the recency bump or none is.
func (cs *conversationService) AppendMessages(ctx context.Context, conversationID uint, msgs ...types.NewMessage) ([]*types.Message, error) {
	var out []*types.Message
	err := cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := cs.AppendMessagesWithTransaction(ctx, tx, conversationID, msgs...)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (cs *conversationService) AppendMessagesWithTransaction(ctx context.Context, tx *gorm.DB, conversationID uint, msgs ...types.NewMessage) ([]*types.Message, error) {
	if tx == nil {
		cs.log.Warn("AppendMessagesWithTransaction called with nil transaction")
		return nil, fmt.Errorf("transaction cannot be nil")
	}
	if len(msgs) == 0 {
		return nil, apperr.Validation("no messages to append")
	}
	for _, m := range msgs {
		if !types.ValidRole(m.Role) {
			return nil, apperr.Validation(fmt.Sprintf("invalid role %q", m.Role))
		}
	}

	conv, err := cs.conversationRepo.GetByIDForUpdate(ctx, tx, conversationID)
	if err != nil {
		return nil, translateLookupErr(err, "failed to fetch conversation")
	}

	last := conv.UpdatedAt
	created := make([]*types.Message, 0, len(msgs))
	for _, m := range msgs {
		ts := nextTimestamp(last, cs.now())
		row := &types.Message{
			ConversationID: conversationID,
			Role:           m.Role,
			Content:        m.Content,
			Metadata:       m.Metadata,
			CreatedAt:      ts,
		}
		if m.ImageURL != "" {
			ref := m.ImageURL
			row.ImageURL = &ref
		}
		saved, err := cs.messageRepo.Create(ctx, tx, row)
		if err != nil {
			return nil, apperr.Persistence("failed to save message", err)
		}
		created = append(created, saved)
		last = ts
	}

	if err := cs.conversationRepo.Touch(ctx, tx, conversationID, last); err != nil {
		return nil, apperr.Persistence("failed to update conversation", err)
	}
	return created, nil
}

func (cs *conversationService) ListMessages(ctx context.Context, conversationID uint) ([]*types.Message, error) {
	msgs, err := cs.messageRepo.GetByConversationID(ctx, nil, conversationID)
	if err != nil {
		return nil, apperr.Persistence("failed to fetch messages", err)
	}
	return msgs, nil
}

func (cs *conversationService) RecentMessages(ctx context.Context, conversationID uint, limit int) ([]types.ChatMessage, error) {
	rows, err := cs.messageRepo.GetRecentByConversationID(ctx, nil, conversationID, limit)
	if err != nil {
		return nil, apperr.Persistence("failed to fetch recent messages", err)
	}
	history := make([]types.ChatMessage, 0, len(rows))
	for _, r := range rows {
		history = append(history, types.ChatMessage{Role: r.Role, Content: r.Content})
	}
	return history, nil
}

func (cs *conversationService) timestamp() time.Time {
	return cs.now().UTC().Truncate(time.Microsecond)
}

// nextTimestamp returns now at microsecond precision, or one microsecond past
// last when the clock has not moved beyond it.
func nextTimestamp(last, now time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if !now.After(last) {
		return last.UTC().Add(time.Microsecond)
	}
	return now
}

func translateLookupErr(err error, reason string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("conversation not found")
	}
	return apperr.Persistence(reason, err)
}
