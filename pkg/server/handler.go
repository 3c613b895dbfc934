package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/polisai/polis-companion/internal/governance"
	"github.com/polisai/polis-companion/pkg/domain"
	"github.com/polisai/polis-companion/pkg/governor"
	"github.com/polisai/polis-companion/pkg/logging"
	"github.com/polisai/polis-companion/pkg/storage"
)

// maxBodyBytes bounds a chat request body. The longest valid message is
// 2000 code points of at most four bytes each.
const maxBodyBytes = 64 << 10

// ChatRequest is the body of POST /chat. Message is left untyped so that
// non-string values can be told apart from decode failures.
type ChatRequest struct {
	Message        any    `json:"message"`
	ConversationID *int64 `json:"conversation_id"`
}

// ChatResponse is the success body of POST /chat.
type ChatResponse struct {
	Response       string `json:"response"`
	ConversationID int64  `json:"conversation_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx, s.logger)

	var req ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		logger.Info("Rejected chat request body", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf(domain.MsgMessageTooLong, s.governor.MaxLength()))
			return
		}
		s.writeError(w, r, http.StatusBadRequest, domain.MsgInvalidBody)
		return
	}

	message, err := s.governor.ValidateValue(req.Message)
	if err != nil {
		s.writeGovernorError(w, r, err)
		return
	}

	var conversationID int64
	if req.ConversationID != nil {
		conversationID = *req.ConversationID
	}
	if conversationID != 0 {
		if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				s.writeError(w, r, http.StatusNotFound, domain.MsgNotFound)
				return
			}
			logger.Error("Conversation lookup failed", "conversation_id", conversationID, "error", err)
			s.writeError(w, r, http.StatusInternalServerError, domain.MsgProcessingFailed)
			return
		}
	}

	reply, err := s.governor.Respond(ctx, message)
	if err != nil {
		s.writeGovernorError(w, r, err)
		return
	}

	storedID, err := s.store.AppendExchange(ctx, conversationID, message, reply)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound, domain.MsgNotFound)
			return
		}
		logger.Error("Failed to persist exchange", "conversation_id", conversationID, "error", err)
		s.writeError(w, r, http.StatusInternalServerError, domain.MsgProcessingFailed)
		return
	}
	if conversationID == 0 && s.metrics != nil {
		s.metrics.RecordConversationCreated()
	}

	s.writeRateHeaders(w)
	writeJSON(w, http.StatusOK, ChatResponse{Response: reply, ConversationID: storedID})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, http.StatusBadRequest, domain.MsgInvalidID)
		return
	}

	messages, err := s.store.ListMessages(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound, domain.MsgNotFound)
			return
		}
		logging.FromContext(ctx, s.logger).Error("Failed to list messages", "conversation_id", id, "error", err)
		s.writeError(w, r, http.StatusInternalServerError, domain.MsgProcessingFailed)
		return
	}

	writeJSON(w, http.StatusOK, messages)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// writeGovernorError maps a governor failure to its status and public message.
// Provider causes are logged by the governor and never echoed.
func (s *Server) writeGovernorError(w http.ResponseWriter, r *http.Request, err error) {
	switch governor.KindOf(err) {
	case governor.KindEmptyInput:
		s.writeError(w, r, http.StatusBadRequest, domain.MsgMessageRequired)
	case governor.KindTooLong:
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf(domain.MsgMessageTooLong, s.governor.MaxLength()))
	case governor.KindRateLimited:
		if retry, ok := governor.RetryAfter(err); ok {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(retry)))
		}
		s.writeRateHeaders(w)
		s.writeError(w, r, http.StatusTooManyRequests, domain.MsgRateLimited)
	default:
		s.writeError(w, r, http.StatusInternalServerError, domain.MsgProcessingFailed)
	}
}

func (s *Server) writeRateHeaders(w http.ResponseWriter) {
	stats := s.governor.RateStats()
	governance.WriteRateLimitHeaders(w, stats.Limit, stats.Remaining, stats.ResetAt)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, domain.ErrorResponse{
		Error:     message,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
