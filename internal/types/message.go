package types

import (
	"time"

	"gorm.io/datatypes"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ConversationID uint           `gorm:"column:conversation_id;not null;index:idx_messages_conversation_id" json:"conversation_id"`
	Role           string         `gorm:"column:role;size:20;not null" json:"role"`
	Content        string         `gorm:"column:content;type:text;not null;default:''" json:"content"`
	ImageURL       *string        `gorm:"column:image_url;type:text" json:"image_url,omitempty"`
	Metadata       datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null;autoCreateTime:false" json:"created_at"`

	Conversation *Conversation `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Message) TableName() string {
	return "messages"
}

// NewMessage is the input to an append. ImageURL is empty when the turn has
// no image.
type NewMessage struct {
	Role     string
	Content  string
	ImageURL string
	Metadata datatypes.JSON
}

func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}
