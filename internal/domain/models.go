// Package domain defines the persistence models for chats and messages and
// the value types that travel with them (generation statistics, image and
// attachment references). Models are mapped with GORM.
package domain

import (
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Chat is a conversation owned by exactly one user. Its UpdatedAt is bumped
// on every message write so chat lists can be ordered by recency.
//
// Chats are deleted by an external collaborator; deleting a chat cascades to
// its messages at the database level.
type Chat struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_chats"`
	Title     string    `json:"title"      gorm:"type:varchar(255);not null;default:'New chat'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// GenerationStats describes how a model produced an assistant message.
type GenerationStats struct {
	CompletionTokens int     `json:"completion_tokens"`
	PromptTokens     int     `json:"prompt_tokens"`
	TokensPerSecond  float64 `json:"tokens_per_second"`
	// TimeToFirstToken is measured in milliseconds.
	TimeToFirstToken int64 `json:"time_to_first_token"`
}

// ImageRef points at an image produced during generation.
type ImageRef struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
}

// Attachment references a file the user attached to a message.
type Attachment struct {
	Name     string `json:"name,omitempty"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
}

// Message is a single utterance within a chat.
//
// Messages are created either as an empty assistant placeholder at the start
// of a turn or by direct submission, possibly with a client-chosen ID and
// CreatedAt for content authored offline. They are mutated in place and never
// deleted individually.
//
// Structured fields are stored as JSON text columns.
type Message struct {
	ID              string           `json:"id"                         gorm:"type:char(36);primaryKey"`
	ChatID          string           `json:"chat_id"                    gorm:"type:char(36);not null;index:idx_chat_msgs,priority:1"`
	Role            string           `json:"role"                       gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content         string           `json:"content"                    gorm:"type:text;not null;default:''"`
	Model           *string          `json:"model,omitempty"            gorm:"type:varchar(128)"`
	Stats           *GenerationStats `json:"stats,omitempty"            gorm:"type:text;serializer:json"`
	GeneratedImages []ImageRef       `json:"generated_images,omitempty" gorm:"type:text;serializer:json"`
	Attachments     []Attachment     `json:"attachments,omitempty"      gorm:"type:text;serializer:json"`
	CreatedAt       time.Time        `json:"created_at"                 gorm:"index:idx_chat_msgs,priority:2"`
	UpdatedAt       time.Time        `json:"updated_at"`

	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
