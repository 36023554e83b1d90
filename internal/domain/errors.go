package domain

import "errors"

var (
	// ErrInvalidPersonality is returned for personality keys outside the registry.
	ErrInvalidPersonality = errors.New("invalid personality")
	// ErrConflict is returned when a chat name is already used by the same user.
	ErrConflict = errors.New("conflict")
	// ErrNotFound covers both missing chats and chats owned by someone else.
	ErrNotFound = errors.New("not found")
	// ErrEmptyMessage is returned when a message is empty after sanitization.
	ErrEmptyMessage = errors.New("message cannot be empty")
	// ErrInvalidInput is returned for malformed request fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPersistence wraps durable-store write failures.
	ErrPersistence = errors.New("persistence error")
	// ErrMemoryUnavailable wraps failures of the long-term memory index.
	ErrMemoryUnavailable = errors.New("memory unavailable")
	// ErrInference wraps language model failures.
	ErrInference = errors.New("inference error")
	// ErrUnauthorized is returned for missing or invalid credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInactiveUser is returned when a disabled account presents a valid token.
	ErrInactiveUser = errors.New("inactive user")
)
