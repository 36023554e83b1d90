package domain

import (
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks messages written by the account holder.
	RoleUser Role = "user"
	// RoleAI marks messages produced by the agent.
	RoleAI Role = "ai"
)

// Valid reports whether r is a role that may be persisted.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAI
}

// Message is one immutable entry in a chat's history.
type Message struct {
	MessageID string    `json:"-"`
	ChatID    string    `json:"-"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"time"`
}

// ChatDetail bundles chat metadata with its full, chronological history.
type ChatDetail struct {
	Chat     *Chat
	Messages []Message
}
