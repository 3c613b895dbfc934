package storage

import (
	"context"
	"sync"
	"time"

	"github.com/polisai/polis-companion/pkg/domain"
)

// MemoryConversationStore is an in-memory implementation of ConversationStore.
type MemoryConversationStore struct {
	mu            sync.RWMutex
	now           func() time.Time
	conversations map[int64]domain.Conversation
	messages      map[int64][]domain.Message
	lastConvID    int64
	lastMsgID     int64
}

// NewMemoryConversationStore creates a new MemoryConversationStore.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		now:           time.Now,
		conversations: make(map[int64]domain.Conversation),
		messages:      make(map[int64][]domain.Message),
	}
}

// GetConversation retrieves a conversation from memory.
func (s *MemoryConversationStore) GetConversation(ctx context.Context, id int64) (*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &conv, nil
}

// AppendExchange saves both messages under a single lock.
func (s *MemoryConversationStore) AppendExchange(ctx context.Context, conversationID int64, userText, assistantText string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if userText == "" {
		return 0, ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()

	if conversationID == 0 {
		s.lastConvID++
		conversationID = s.lastConvID
		s.conversations[conversationID] = domain.Conversation{ID: conversationID, CreatedAt: now}
	} else if _, ok := s.conversations[conversationID]; !ok {
		return 0, ErrNotFound
	}

	for _, m := range []struct {
		author  domain.Author
		content string
	}{
		{domain.AuthorUser, userText},
		{domain.AuthorAssistant, assistantText},
	} {
		s.lastMsgID++
		s.messages[conversationID] = append(s.messages[conversationID], domain.Message{
			ID:             s.lastMsgID,
			ConversationID: conversationID,
			Content:        m.content,
			Author:         m.author,
			CreatedAt:      now,
		})
	}

	return conversationID, nil
}

// ListMessages returns a copy of the conversation's messages.
func (s *MemoryConversationStore) ListMessages(ctx context.Context, conversationID int64) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}

	stored := s.messages[conversationID]
	out := make([]domain.Message, len(stored))
	copy(out, stored)
	return out, nil
}

// Close is a no-op for memory store.
func (s *MemoryConversationStore) Close() error {
	return nil
}
