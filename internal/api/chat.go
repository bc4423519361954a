package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/SleepyXm/SynapseR/internal/chat"
	"github.com/SleepyXm/SynapseR/internal/conversation"
	"github.com/SleepyXm/SynapseR/internal/log"
)

// Streamer runs one generation request, emitting completion fragments.
// *chat.Orchestrator satisfies it.
type Streamer interface {
	Stream(ctx context.Context, req chat.StreamRequest, emit func(chunk string) error) error
}

// chatHandler serves the streaming generation endpoint.
type chatHandler struct {
	orchestrator Streamer
	logger       log.Logger
}

type streamTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamChatRequest struct {
	ModelID      string       `json:"modelId"`
	HFToken      string       `json:"hfToken"`
	Conversation []streamTurn `json:"conversation"`
}

// stream handles POST /api/v1/chat/stream?conversation={id}. The response
// is a plain-text stream of completion fragments. Errors before the first
// byte map to their status codes; a mid-flight upstream failure leaves the
// stream truncated because the 200 is already on the wire.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r, h.logger)
	if !ok {
		return
	}

	conversationID, err := uuid.Parse(r.URL.Query().Get("conversation"))
	if err != nil {
		writeDomainError(w, &ValidationError{Field: "conversation", Reason: "not a valid conversation id"}, h.logger)
		return
	}

	var req streamChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	if req.ModelID == "" {
		writeDomainError(w, &ValidationError{Field: "modelId", Reason: "required"}, h.logger)
		return
	}
	if req.HFToken == "" {
		writeDomainError(w, &ValidationError{Field: "hfToken", Reason: "required"}, h.logger)
		return
	}
	if len(req.Conversation) == 0 {
		writeDomainError(w, &ValidationError{Field: "conversation", Reason: "at least one turn required"}, h.logger)
		return
	}

	turns := make([]conversation.Payload, 0, len(req.Conversation))
	for _, turn := range req.Conversation {
		turns = append(turns, conversation.Payload{
			Role:    conversation.Role(turn.Role),
			Content: turn.Content,
		})
	}

	flusher, _ := w.(http.Flusher)

	var wroteBytes bool
	emit := func(chunk string) error {
		if !wroteBytes {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			wroteBytes = true
		}
		if _, err := w.Write([]byte(chunk)); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	streamReq := chat.StreamRequest{
		ConversationID: conversationID,
		OwnerID:        ownerID,
		ModelID:        req.ModelID,
		Token:          req.HFToken,
		Turns:          turns,
	}

	if err := h.orchestrator.Stream(r.Context(), streamReq, emit); err != nil {
		if !wroteBytes {
			writeDomainError(w, err, h.logger)
			return
		}
		// Headers are gone; the client sees a truncated stream.
		if !errors.Is(err, r.Context().Err()) {
			h.logger.Warn("stream aborted mid-flight",
				"conversation_id", conversationID,
				"error", err,
			)
		}
	}
}
