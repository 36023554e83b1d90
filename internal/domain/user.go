// Package domain contains core domain types for the chat backend.
package domain

import (
	"time"
)

// User represents an account that owns chats.
type User struct {
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}
