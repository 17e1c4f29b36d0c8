package repos

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/slotter-org/alexus-backend/internal/logger"
	"github.com/slotter-org/alexus-backend/internal/types"
)

type ConversationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, conv *types.Conversation) (*types.Conversation, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*types.Conversation, error)
	GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*types.Conversation, error)
	GetByUserID(ctx context.Context, tx *gorm.DB, userID string) ([]*types.Conversation, error)
	UpdateTitle(ctx context.Context, tx *gorm.DB, id uint, title string, updatedAt time.Time) error
	Touch(ctx context.Context, tx *gorm.DB, id uint, updatedAt time.Time) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) (int64, error)
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, baseLog *logger.Logger) ConversationRepo {
	return &conversationRepo{
		db:  db,
		log: baseLog.With("repo", "ConversationRepo"),
	}
}

func (cr *conversationRepo) Create(ctx context.Context, tx *gorm.DB, conv *types.Conversation) (*types.Conversation, error) {
	if tx == nil {
		tx = cr.db
	}
	if err := tx.WithContext(ctx).Create(conv).Error; err != nil {
		cr.log.Error("failed to create conversation", "error", err)
		return nil, err
	}
	return conv, nil
}

func (cr *conversationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*types.Conversation, error) {
	if tx == nil {
		tx = cr.db
	}
	var c types.Conversation
	if err := tx.WithContext(ctx).
		Where("id = ?", id).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByIDForUpdate row-locks the conversation for the rest of tx. Appends
// to one conversation serialize on this lock.
func (cr *conversationRepo) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*types.Conversation, error) {
	if tx == nil {
		tx = cr.db
	}
	var c types.Conversation
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (cr *conversationRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID string) ([]*types.Conversation, error) {
	if tx == nil {
		tx = cr.db
	}
	convs := make([]*types.Conversation, 0)
	if err := tx.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC, id DESC").
		Find(&convs).Error; err != nil {
		return nil, err
	}
	return convs, nil
}

func (cr *conversationRepo) UpdateTitle(ctx context.Context, tx *gorm.DB, id uint, title string, updatedAt time.Time) error {
	if tx == nil {
		tx = cr.db
	}
	return tx.WithContext(ctx).
		Model(&types.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"title":      title,
			"updated_at": updatedAt,
		}).Error
}

func (cr *conversationRepo) Touch(ctx context.Context, tx *gorm.DB, id uint, updatedAt time.Time) error {
	if tx == nil {
		tx = cr.db
	}
	res := tx.WithContext(ctx).
		Model(&types.Conversation{}).
		Where("id = ?", id).
		Update("updated_at", updatedAt)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (cr *conversationRepo) Delete(ctx context.Context, tx *gorm.DB, id uint) (int64, error) {
	if tx == nil {
		tx = cr.db
	}
	res := tx.WithContext(ctx).Where("id = ?", id).Delete(&types.Conversation{})
	return res.RowsAffected, res.Error
}
