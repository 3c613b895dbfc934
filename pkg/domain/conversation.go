package domain

import "time"

// Author identifies who wrote a message.
type Author string

const (
	// AuthorUser marks a message typed by the end user.
	AuthorUser Author = "user"
	// AuthorAssistant marks a filtered model reply.
	AuthorAssistant Author = "assistant"
)

// Conversation groups an ordered sequence of messages.
type Conversation struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one immutable turn of a conversation.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Content        string    `json:"content"`
	Author         Author    `json:"author"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsUser reports whether the message was authored by the end user.
func (m Message) IsUser() bool {
	return m.Author == AuthorUser
}
