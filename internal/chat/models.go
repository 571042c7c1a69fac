package chat

import (
	"time"

	"github.com/suPer8Hu/chatstream/internal/models"
)

const DefaultTitle = "New Conversation"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation ids are chosen by the client; the primary key is what keeps
// concurrent creates from producing duplicates.
type Conversation struct {
	ID        string       `gorm:"primaryKey;size:191" json:"id"`
	Title     string       `gorm:"type:varchar(255);not null" json:"title"`
	UserID    string       `gorm:"size:26;index;not null" json:"-"`
	User      *models.User `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Messages  []Message    `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time    `json:"created_at"`
}

func (Conversation) TableName() string { return "conversations" }

type Message struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"` // UUID
	ConversationID string    `gorm:"size:191;not null;index:idx_messages_conv_created,priority:1" json:"-"`
	Role           string    `gorm:"type:varchar(16);not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `gorm:"index:idx_messages_conv_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "messages" }

// Models lists every table this package owns, parents first.
func Models() []any {
	return []any{&models.User{}, &Conversation{}, &Message{}, &Job{}}
}

func validRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}
