package domain

import (
	"context"
	"time"
)

// SessionRecord is the persisted form of a session.
type SessionRecord struct {
	ID          string         `json:"id"`
	Messages    []Message      `json:"messages"`
	LastOptions map[int]string `json:"last_options,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// SessionSummary is the listing view of a stored session.
type SessionSummary struct {
	ID           string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionStore persists session records keyed by session id.
// Save replaces the whole record atomically; Load returns ErrSessionNotFound
// for unknown ids.
type SessionStore interface {
	Load(ctx context.Context, id string) (*SessionRecord, error)
	Save(ctx context.Context, rec *SessionRecord) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]SessionSummary, error)
	Close() error
}
