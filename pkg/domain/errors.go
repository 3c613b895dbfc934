package domain

import "errors"

// Common domain errors
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConfigInvalid        = errors.New("invalid configuration")
)

// User-facing error messages. They never carry internal causes.
const (
	MsgMessageRequired  = "Message is required"
	MsgMessageTooLong   = "Message exceeds maximum length of %d characters"
	MsgRateLimited      = "Rate limit exceeded. Please try again later."
	MsgNotFound         = "Conversation not found"
	MsgProcessingFailed = "An error occurred processing your request"
	MsgInvalidBody      = "Invalid request body"
	MsgInvalidID        = "Invalid conversation id"
)

// ErrorResponse is the JSON error body returned by the chat API. It
// intentionally avoids exposing sensitive details.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
