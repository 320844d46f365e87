// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/reborn/internal/domain"
)

// UserStore persists phone-authenticated users.
type UserStore interface {
	// GetUser retrieves a user by ID. Returns nil, nil when not found.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// GetOrCreateUserByPhone returns the user owning phone, creating the user
	// and an empty profile on first sight. created reports which happened.
	GetOrCreateUserByPhone(ctx context.Context, phone string) (user *domain.User, created bool, err error)
}

// ProfileStore persists coaching profiles.
type ProfileStore interface {
	// GetProfile retrieves a profile. Returns nil, nil when none exists.
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)

	// UpdateProfile applies a partial update, recomputing the stage.
	UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (*domain.Profile, error)

	// SaveInsights replaces the key insights, keeping only the last few.
	SaveInsights(ctx context.Context, userID string, insights []string) error
}

// ConversationStore persists conversation transcripts.
type ConversationStore interface {
	// LatestConversation loads the user's most recent conversation with its
	// messages, creating an empty one if the user has none.
	LatestConversation(ctx context.Context, userID string) (*domain.Conversation, error)

	// AppendMessage appends a message to conv in storage and in memory.
	AppendMessage(ctx context.Context, conv *domain.Conversation, role domain.Role, content string) error

	// ClearConversations deletes every conversation of the user.
	ClearConversations(ctx context.Context, userID string) (int64, error)

	// DeleteStaleConversations removes conversations not updated within ttl.
	DeleteStaleConversations(ctx context.Context, ttl time.Duration) (int64, error)
}

// Repository is the full persistence surface used by the server.
type Repository interface {
	UserStore
	ProfileStore
	ConversationStore

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
