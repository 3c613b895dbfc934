package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-companion/pkg/domain"
	"github.com/polisai/polis-companion/pkg/governor"
	"github.com/polisai/polis-companion/pkg/provider"
	"github.com/polisai/polis-companion/pkg/storage"
	"github.com/polisai/polis-companion/pkg/telemetry"
)

type harness struct {
	server  *Server
	store   *storage.MemoryConversationStore
	metrics *telemetry.Metrics
	calls   *atomic.Int32
	now     time.Time
}

func newHarness(t *testing.T, client provider.Client, policy governor.Policy) *harness {
	t.Helper()

	h := &harness{
		store:   storage.NewMemoryConversationStore(),
		metrics: telemetry.NewMetrics(),
		calls:   &atomic.Int32{},
		now:     time.Unix(1715601600, 0),
	}

	counting := provider.ClientFunc(func(ctx context.Context, req provider.CompletionRequest) (string, error) {
		h.calls.Add(1)
		return client.Complete(ctx, req)
	})

	g, err := governor.New(governor.Options{
		Client:   counting,
		Policy:   policy,
		Clock:    func() time.Time { return h.now },
		Recorder: h.metrics,
	})
	require.NoError(t, err)

	h.server, err = New(Config{Governor: g, Store: h.store, Metrics: h.metrics})
	require.NoError(t, err)
	return h
}

func replyWith(text string) provider.Client {
	return provider.ClientFunc(func(context.Context, provider.CompletionRequest) (string, error) {
		return text, nil
	})
}

func (h *harness) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body domain.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestChatSuccessPersistsExchange(t *testing.T) {
	h := newHarness(t, replyWith("Use a password manager."), governor.Policy{})

	rec := h.post(t, `{"message":"How do I store passwords?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
	assert.Equal(t, "20", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "19", rec.Header().Get("X-RateLimit-Remaining"))

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Use a password manager.", resp.Response)
	assert.NotZero(t, resp.ConversationID)

	msgs, err := h.store.ListMessages(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "How do I store passwords?", msgs[0].Content)
	assert.Equal(t, "Use a password manager.", msgs[1].Content)

	// continuing the conversation reuses the id
	rec = h.post(t, `{"message":"And MFA?","conversation_id":`+jsonInt(resp.ConversationID)+`}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var next ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &next))
	assert.Equal(t, resp.ConversationID, next.ConversationID)

	expected := `
# HELP companion_conversations_created_total Conversations created by successful chat requests
# TYPE companion_conversations_created_total counter
companion_conversations_created_total 1
`
	require.NoError(t, testutil.GatherAndCompare(h.metrics.Registry(), strings.NewReader(expected), "companion_conversations_created_total"))
	assert.Equal(t, int32(2), h.calls.Load())
}

func jsonInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func TestChatValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing", `{}`, domain.MsgMessageRequired},
		{"empty", `{"message":""}`, domain.MsgMessageRequired},
		{"null", `{"message":null}`, domain.MsgMessageRequired},
		{"number", `{"message":42}`, domain.MsgMessageRequired},
		{"object", `{"message":{"text":"hi"}}`, domain.MsgMessageRequired},
		{"too long", `{"message":"` + strings.Repeat("a", 2001) + `"}`, "Message exceeds maximum length of 2000 characters"},
		{"malformed", `{"message":`, domain.MsgInvalidBody},
		{"oversized body", `{"message":"` + strings.Repeat("a", maxBodyBytes) + `"}`, "Message exceeds maximum length of 2000 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, replyWith("ok"), governor.Policy{})

			rec := h.post(t, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decodeError(t, rec))
			assert.Equal(t, int32(0), h.calls.Load())
			assert.Equal(t, 0, h.server.governor.Window().Len())
		})
	}
}

func TestChatUnknownConversation(t *testing.T) {
	h := newHarness(t, replyWith("ok"), governor.Policy{})

	rec := h.post(t, `{"message":"hi","conversation_id":404}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.MsgNotFound, decodeError(t, rec))
	assert.Equal(t, int32(0), h.calls.Load())
}

func TestChatNullConversationStartsNew(t *testing.T) {
	h := newHarness(t, replyWith("ok"), governor.Policy{})

	rec := h.post(t, `{"message":"hi","conversation_id":null}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestChatRateLimited(t *testing.T) {
	h := newHarness(t, replyWith("ok"), governor.Policy{RateLimit: 2})

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, h.post(t, `{"message":"hi"}`).Code)
		h.now = h.now.Add(10 * time.Second)
	}

	rec := h.post(t, `{"message":"hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, domain.MsgRateLimited, decodeError(t, rec))
	assert.Equal(t, "40", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, int32(2), h.calls.Load())
}

func TestChatProviderFailureIsGeneric(t *testing.T) {
	failing := provider.ClientFunc(func(context.Context, provider.CompletionRequest) (string, error) {
		return "", &provider.Error{Kind: provider.KindAuth, StatusCode: 401, Err: errors.New("invalid api key sk-123")}
	})
	h := newHarness(t, failing, governor.Policy{})

	rec := h.post(t, `{"message":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, domain.MsgProcessingFailed, decodeError(t, rec))
	assert.NotContains(t, rec.Body.String(), "sk-123")
}

func TestChatFiltersReply(t *testing.T) {
	h := newHarness(t, replyWith("Step one: craft the payload."), governor.Policy{})

	rec := h.post(t, `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, governor.DefaultRefusal, resp.Response)

	msgs, err := h.store.ListMessages(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, governor.DefaultRefusal, msgs[1].Content)
}

func TestChatEmptyReplyIsStored(t *testing.T) {
	h := newHarness(t, replyWith(""), governor.Policy{})

	rec := h.post(t, `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"response":"","conversation_id":1}`, rec.Body.String())

	msgs, err := h.store.ListMessages(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Empty(t, msgs[1].Content)
}

func TestChatMethodNotAllowed(t *testing.T) {
	h := newHarness(t, replyWith("ok"), governor.Policy{})

	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHistory(t *testing.T) {
	h := newHarness(t, replyWith("ok"), governor.Policy{})
	id, err := h.store.AppendExchange(context.Background(), 0, "hello", "hi")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/"+jsonInt(id)+"/messages", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var msgs []domain.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.AuthorUser, msgs[0].Author)

	rec = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/77/messages", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/abc/messages", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.MsgInvalidID, decodeError(t, rec))
}

func TestHealthIndexAndMetrics(t *testing.T) {
	h := newHarness(t, replyWith("ok"), governor.Policy{})

	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chat-form")

	rec = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/js/chat.js", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/chat")

	require.Equal(t, http.StatusOK, h.post(t, `{"message":"hi"}`).Code)

	rec = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `companion_chat_outcomes_total{outcome="allowed"} 1`)
	assert.Contains(t, rec.Body.String(), `companion_http_requests_total{endpoint="chat",method="POST",status_code="200"} 1`)
	assert.Contains(t, rec.Body.String(), "companion_rate_window_in_use 1")
}

func TestRequestIDIsPropagated(t *testing.T) {
	h := newHarness(t, replyWith("ok"), governor.Policy{})

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{}`))
	req.Header.Set(HeaderRequestID, "req-123")
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get(HeaderRequestID))
	var body domain.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "req-123", body.RequestID)
}

func TestStartAndShutdown(t *testing.T) {
	h := newHarness(t, replyWith("ok"), governor.Policy{})
	assert.Empty(t, h.server.Addr())

	require.NoError(t, h.server.Start("127.0.0.1:0"))
	addr := h.server.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.server.Shutdown(ctx))
}
