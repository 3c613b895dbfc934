// Package storage persists conversations and their messages.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/polisai/polis-companion/pkg/domain"
)

// ErrNotFound is returned when a requested conversation does not exist.
var ErrNotFound = fmt.Errorf("storage: %w", domain.ErrConversationNotFound)

// ErrEmptyContent is returned when the user message is empty. An empty
// assistant reply is stored as is.
var ErrEmptyContent = errors.New("storage: user message content is required")

// ConversationStore exposes persistence operations for chat history.
type ConversationStore interface {
	// GetConversation returns the conversation or ErrNotFound.
	GetConversation(ctx context.Context, id int64) (*domain.Conversation, error)

	// AppendExchange stores the user message followed by the assistant reply
	// as one unit. A zero conversationID creates a new conversation. The
	// conversation id the exchange was written to is returned.
	AppendExchange(ctx context.Context, conversationID int64, userText, assistantText string) (int64, error)

	// ListMessages returns the messages of a conversation in insertion order.
	ListMessages(ctx context.Context, conversationID int64) ([]domain.Message, error)

	Close() error
}

// Supported store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Open returns the store for driver. path is ignored by the memory driver.
func Open(driver, path string, logger *slog.Logger) (ConversationStore, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLiteConversationStore(path, logger)
	case DriverMemory:
		return NewMemoryConversationStore(), nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}
