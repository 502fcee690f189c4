// Package memory stores per-session conversation history.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/petrel-ai/petrel/pkg/config"
)

// Message is one conversation turn.
type Message struct {
	ID        string
	SessionID string
	// Role is "user" or "assistant".
	Role    string
	Content string
	// Metadata carries extra attributes of the turn, such as the
	// sources an assistant answer was grounded on. May be nil.
	Metadata  map[string]any
	CreatedAt time.Time
}

// Store persists conversation history per session.
type Store interface {
	// Add appends a message and returns its generated ID. metadata may
	// be nil.
	Add(ctx context.Context, sessionID, role, content string, metadata map[string]any) (string, error)
	// History returns the most recent limit messages in chronological
	// order (oldest first). limit <= 0 means all.
	History(ctx context.Context, sessionID string, limit int) ([]Message, error)
	// Clear removes a session's messages.
	Clear(ctx context.Context, sessionID string) error
	// ListSessions names every session with stored messages.
	ListSessions(ctx context.Context) ([]string, error)
	Close() error
}

// New builds a Store from config.
func New(cfg *config.MemoryConfig) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("memory config is required")
	}
	switch cfg.Backend {
	case "sqlite":
		return NewSQLiteStore(cfg.DBPath)
	case "memory":
		return NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown memory backend: %s", cfg.Backend)
	}
}
