package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/slotter-org/alexus-backend/internal/logger"
	"github.com/slotter-org/alexus-backend/internal/types"
)

type MessageRepo interface {
	Create(ctx context.Context, tx *gorm.DB, msg *types.Message) (*types.Message, error)
	GetByConversationID(ctx context.Context, tx *gorm.DB, conversationID uint) ([]*types.Message, error)
	GetRecentByConversationID(ctx context.Context, tx *gorm.DB, conversationID uint, limit int) ([]*types.Message, error)
	DeleteByConversationID(ctx context.Context, tx *gorm.DB, conversationID uint) (int64, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{
		db:  db,
		log: baseLog.With("repo", "MessageRepo"),
	}
}

func (mr *messageRepo) Create(ctx context.Context, tx *gorm.DB, msg *types.Message) (*types.Message, error) {
	if tx == nil {
		tx = mr.db
	}
	if err := tx.WithContext(ctx).Omit("Conversation").Create(msg).Error; err != nil {
		mr.log.Error("failed to create message", "conversationID", msg.ConversationID, "error", err)
		return nil, err
	}
	return msg, nil
}

func (mr *messageRepo) GetByConversationID(ctx context.Context, tx *gorm.DB, conversationID uint) ([]*types.Message, error) {
	if tx == nil {
		tx = mr.db
	}
	msgs := make([]*types.Message, 0)
	if err := tx.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// GetRecentByConversationID returns at most limit of the newest messages,
// oldest first.
func (mr *messageRepo) GetRecentByConversationID(ctx context.Context, tx *gorm.DB, conversationID uint, limit int) ([]*types.Message, error) {
	if tx == nil {
		tx = mr.db
	}
	if limit <= 0 {
		return []*types.Message{}, nil
	}
	msgs := make([]*types.Message, 0, limit)
	if err := tx.WithContext(ctx).
		Select("id", "conversation_id", "role", "content", "created_at").
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (mr *messageRepo) DeleteByConversationID(ctx context.Context, tx *gorm.DB, conversationID uint) (int64, error) {
	if tx == nil {
		tx = mr.db
	}
	res := tx.WithContext(ctx).Where("conversation_id = ?", conversationID).Delete(&types.Message{})
	return res.RowsAffected, res.Error
}
