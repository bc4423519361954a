package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/SleepyXm/SynapseR/internal/conversation"
	"github.com/SleepyXm/SynapseR/internal/log"
)

// maxBodySize caps JSON request bodies at 1 MiB.
const maxBodySize = 1 << 20

// conversationHandler serves the conversation CRUD endpoints.
type conversationHandler struct {
	store  conversation.Storage
	logger log.Logger
}

type createConversationRequest struct {
	LLMModel string `json:"llm_model"`
}

type conversationResponse struct {
	ID       string  `json:"id"`
	Title    *string `json:"title"`
	LLMModel string  `json:"llm_model"`
}

type appendChunkRequest struct {
	Messages []conversation.Payload `json:"messages"`
}

type appendChunkResponse struct {
	Appended int `json:"appended"`
}

// decodeBody reads and unmarshals a bounded JSON request body.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return &ValidationError{Field: "body", Reason: "unreadable or too large"}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &ValidationError{Field: "body", Reason: "invalid JSON"}
	}
	return nil
}

// requireOwner pulls the caller identity out of the request context.
func requireOwner(w http.ResponseWriter, r *http.Request, logger log.Logger) (string, bool) {
	ownerID, ok := ownerFromContext(r.Context())
	if !ok || ownerID == "" {
		writeError(w, http.StatusForbidden, "identity_required", "caller identity required", logger)
		return "", false
	}
	return ownerID, true
}

// pathConversationID parses the {id} path segment.
func pathConversationID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, &ValidationError{Field: "id", Reason: "not a valid conversation id"}
	}
	return id, nil
}

// create handles POST /api/v1/conversations.
func (h *conversationHandler) create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r, h.logger)
	if !ok {
		return
	}

	var req createConversationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	if req.LLMModel == "" {
		writeDomainError(w, &ValidationError{Field: "llm_model", Reason: "required"}, h.logger)
		return
	}

	manager := conversation.NewManager(h.store, uuid.Nil, ownerID, h.logger)
	id, err := manager.Create(r.Context(), req.LLMModel)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	h.logger.Info("conversation created", "conversation_id", id, "model", req.LLMModel)
	writeJSON(w, http.StatusCreated, conversationResponse{
		ID:       id.String(),
		Title:    nil,
		LLMModel: req.LLMModel,
	}, h.logger)
}

// list handles GET /api/v1/conversations.
func (h *conversationHandler) list(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r, h.logger)
	if !ok {
		return
	}

	summaries, err := h.store.ListByOwner(r.Context(), ownerID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	out := make([]conversationResponse, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, conversationResponse{
			ID:       s.ID.String(),
			Title:    s.Title,
			LLMModel: s.LLMModel,
		})
	}
	writeJSON(w, http.StatusOK, out, h.logger)
}

// appendChunk handles POST /api/v1/conversations/{id}/chunk. It loads the
// stored history, appends the new payloads, and persists the full blob.
func (h *conversationHandler) appendChunk(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r, h.logger)
	if !ok {
		return
	}

	conversationID, err := pathConversationID(r)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	var req appendChunkRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	if len(req.Messages) == 0 {
		writeDomainError(w, &ValidationError{Field: "messages", Reason: "required"}, h.logger)
		return
	}

	record, err := h.store.Fetch(r.Context(), conversationID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	if record.OwnerID != ownerID {
		writeDomainError(w, conversation.ErrForbidden, h.logger)
		return
	}

	manager := conversation.NewManager(h.store, conversationID, ownerID, h.logger)
	if err := manager.Load(r.Context()); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	appended := manager.Append(req.Messages)
	if err := manager.Persist(r.Context()); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, appendChunkResponse{Appended: appended}, h.logger)
}

// readChunk handles GET /api/v1/conversations/{id}/chunk, returning the
// full ordered message history.
func (h *conversationHandler) readChunk(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r, h.logger)
	if !ok {
		return
	}

	conversationID, err := pathConversationID(r)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	// Distinguish a missing conversation from an empty one before the
	// lenient load path turns not-found into an empty history.
	record, err := h.store.Fetch(r.Context(), conversationID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	if record.OwnerID != ownerID {
		writeDomainError(w, conversation.ErrForbidden, h.logger)
		return
	}

	manager := conversation.NewManager(h.store, conversationID, ownerID, h.logger)
	if err := manager.Load(r.Context()); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	messages := manager.Messages()
	if messages == nil {
		messages = []conversation.StoredMessage{}
	}
	writeJSON(w, http.StatusOK, messages, h.logger)
}
