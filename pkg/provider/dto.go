// Package provider talks to the hosted language-model completion API.
package provider

// Role identifies the author of a chat message sent upstream.
type Role string

const (
	// RoleSystem carries the assistant persona.
	RoleSystem Role = "system"
	// RoleUser carries the end user's message.
	RoleUser Role = "user"
)

// ChatMessage is a single entry of the upstream messages array.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest describes one chat completion call.
type CompletionRequest struct {
	Model     string
	System    string
	User      string
	MaxTokens int
}

type chatCompletionPayload struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}
