package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxErrorBody caps how much of a failed upstream response is kept for logs.
const maxErrorBody = 4 << 10

// OpenAIConfig configures an OpenAI-compatible chat completion client.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// OpenAIClient calls {BaseURL}/chat/completions.
type OpenAIClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a client. The HTTP client carries no timeout of its
// own; callers bound each call through the context.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAIClient{
		endpoint:   baseURL + "/chat/completions",
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Complete sends the system persona and user message and returns the content
// of the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if c.apiKey == "" {
		return "", &Error{Kind: KindAuth, Err: errors.New("api key is not configured")}
	}

	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	messages := make([]ChatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, ChatMessage{Role: RoleSystem, Content: req.System})
	}
	messages = append(messages, ChatMessage{Role: RoleUser, Content: req.User})

	bodyBytes, err := json.Marshal(chatCompletionPayload{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", &Error{Kind: KindOther, Err: fmt.Errorf("encode request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", &Error{Kind: KindOther, Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &Error{Kind: KindTransport, Err: fmt.Errorf("llm request failed: %w", err)}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close response body", "error", closeErr)
		}
	}()

	c.logger.Debug("provider response received",
		"status", resp.StatusCode,
		"model", model,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &Error{
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("llm returned status %d: %s", resp.StatusCode, upstreamMessage(body)),
		}
	}

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", &Error{Kind: KindOther, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if len(completion.Choices) == 0 {
		return "", &Error{Kind: KindOther, StatusCode: resp.StatusCode, Err: errors.New("no completion choices returned")}
	}

	return completion.Choices[0].Message.Content, nil
}

func kindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusPaymentRequired, http.StatusTooManyRequests:
		return KindQuota
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTransport
	default:
		return KindOther
	}
}

// upstreamMessage prefers the structured error message over the raw body.
func upstreamMessage(body []byte) string {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return apiErr.Error.Message
	}
	return strings.TrimSpace(string(body))
}
