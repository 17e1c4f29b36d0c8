package types

import (
	"time"
)

const DefaultConversationTitle = "New Conversation"

// Conversation is a titled thread owned by one client identity. UpdatedAt is
// the recency marker and only moves forward.
type Conversation struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"column:user_id;size:255;not null;index:idx_conversations_user_id" json:"user_id"`
	Title     string    `gorm:"column:title;size:255;not null;default:'New Conversation'" json:"title"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false" json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// ConversationWithMessages is the reopen view of a conversation.
type ConversationWithMessages struct {
	Conversation
	Messages []*Message `json:"messages"`
}
