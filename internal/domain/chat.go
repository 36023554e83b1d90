package domain

import (
	"time"
)

// Chat is a conversation thread owned by a single user.
// SystemPrompt is copied from the personality registry at creation time and
// never re-resolved afterwards.
type Chat struct {
	ChatID          string    `json:"chat_id"`
	UserID          string    `json:"-"`
	Name            string    `json:"chat_name"`
	PersonalityType string    `json:"mode"`
	SystemPrompt    string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// OwnedBy reports whether the chat belongs to userID.
func (c *Chat) OwnedBy(userID string) bool {
	return c != nil && userID != "" && c.UserID == userID
}
