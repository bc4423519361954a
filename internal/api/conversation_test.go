package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/SleepyXm/SynapseR/internal/chat"
	"github.com/SleepyXm/SynapseR/internal/conversation"
	"github.com/SleepyXm/SynapseR/internal/log"
)

// memStore is an in-memory conversation.Storage for handler tests.
type memStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]conversation.Record
	blobs   map[uuid.UUID][]byte
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[uuid.UUID]conversation.Record),
		blobs:   make(map[uuid.UUID][]byte),
	}
}

func (m *memStore) Messages(_ context.Context, id uuid.UUID) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	blob := m.blobs[id]
	if !ok || len(blob) == 0 {
		return nil, "", conversation.ErrNotFound
	}
	return blob, record.OwnerID, nil
}

func (m *memStore) Fetch(_ context.Context, id uuid.UUID) (conversation.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return conversation.Record{}, conversation.ErrNotFound
	}
	return record, nil
}

func (m *memStore) Create(_ context.Context, ownerID, llmModel string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.records[id] = conversation.Record{OwnerID: ownerID, LLMModel: llmModel}
	return id, nil
}

func (m *memStore) UpdateMessages(_ context.Context, id uuid.UUID, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return conversation.ErrNotFound
	}
	m.blobs[id] = blob
	return nil
}

func (m *memStore) UpdateTitle(_ context.Context, id uuid.UUID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return conversation.ErrNotFound
	}
	record.Title = &title
	m.records[id] = record
	return nil
}

func (m *memStore) ListByOwner(_ context.Context, ownerID string) ([]conversation.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []conversation.Summary
	for id, record := range m.records {
		if record.OwnerID == ownerID {
			out = append(out, conversation.Summary{ID: id, Title: record.Title, LLMModel: record.LLMModel})
		}
	}
	return out, nil
}

// seed inserts a conversation with optional encoded history.
func (m *memStore) seed(t *testing.T, ownerID, model string, history []conversation.StoredMessage) uuid.UUID {
	t.Helper()
	id, err := m.Create(context.Background(), ownerID, model)
	if err != nil {
		t.Fatalf("seeding conversation: %v", err)
	}
	if len(history) > 0 {
		blob, err := conversation.Encode(history)
		if err != nil {
			t.Fatalf("encoding history: %v", err)
		}
		if err := m.UpdateMessages(context.Background(), id, blob); err != nil {
			t.Fatalf("storing history: %v", err)
		}
	}
	return id
}

// stubStreamer fakes the orchestrator for handler tests.
type stubStreamer struct {
	chunks  []string
	err     error
	midErr  error
	lastReq chat.StreamRequest
}

func (s *stubStreamer) Stream(_ context.Context, req chat.StreamRequest, emit func(string) error) error {
	s.lastReq = req
	if s.err != nil {
		return s.err
	}
	for _, chunk := range s.chunks {
		if err := emit(chunk); err != nil {
			return err
		}
	}
	return s.midErr
}

func newTestServer(t *testing.T, store conversation.Storage, streamer Streamer) http.Handler {
	t.Helper()
	if streamer == nil {
		streamer = &stubStreamer{}
	}
	srv, err := NewServer(ServerConfig{
		Logger:       log.NewNop(),
		Store:        store,
		Orchestrator: streamer,
		HMACSecret:   testSecret,
		CORSOrigins:  []string{"http://localhost:5173"},
		IsDev:        true,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv.Handler()
}

// authedRequest builds a request carrying a valid signed uid cookie.
func authedRequest(method, target, ownerID string, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	r.AddCookie(&http.Cookie{Name: ownerCookieName, Value: signUID(ownerID, testSecret)})
	return r
}

func TestCreateConversation(t *testing.T) {
	store := newMemStore()
	handler := newTestServer(t, store, nil)
	owner := uuid.New().String()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodPost, "/api/v1/conversations", owner, `{"llm_model":"meta-llama/Llama-3.3-70B-Instruct"}`))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}

	var resp conversationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if _, err := uuid.Parse(resp.ID); err != nil {
		t.Errorf("response id %q is not a UUID", resp.ID)
	}
	if resp.Title != nil {
		t.Errorf("title = %v, want null", *resp.Title)
	}
	if resp.LLMModel != "meta-llama/Llama-3.3-70B-Instruct" {
		t.Errorf("llm_model = %q", resp.LLMModel)
	}
}

func TestCreateConversationMissingModel(t *testing.T) {
	handler := newTestServer(t, newMemStore(), nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodPost, "/api/v1/conversations", uuid.New().String(), `{}`))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCreateConversationInvalidJSON(t *testing.T) {
	handler := newTestServer(t, newMemStore(), nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodPost, "/api/v1/conversations", uuid.New().String(), `{not json`))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestListConversations(t *testing.T) {
	store := newMemStore()
	owner := uuid.New().String()
	store.seed(t, owner, "model-a", nil)
	store.seed(t, owner, "model-b", nil)
	store.seed(t, uuid.New().String(), "model-c", nil)

	handler := newTestServer(t, store, nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodGet, "/api/v1/conversations", owner, ""))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp []conversationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp) != 2 {
		t.Errorf("listed %d conversations, want 2 (owner scoped)", len(resp))
	}
}

func TestAppendChunk(t *testing.T) {
	store := newMemStore()
	owner := uuid.New().String()
	history := []conversation.StoredMessage{
		{ID: uuid.New().String(), Role: conversation.RoleUser, Content: "earlier", CreatedAt: time.Now().UTC()},
	}
	id := store.seed(t, owner, "model-a", history)

	handler := newTestServer(t, store, nil)

	body := `{"messages":[{"role":"user","content":"question"},{"role":"assistant","content":"answer"}]}`
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodPost, fmt.Sprintf("/api/v1/conversations/%s/chunk", id), owner, body))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp appendChunkResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Appended != 2 {
		t.Errorf("appended = %d, want 2", resp.Appended)
	}

	stored, err := conversation.Decode(store.blobs[id])
	if err != nil {
		t.Fatalf("decoding stored blob: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("stored %d messages, want 3", len(stored))
	}
	if stored[2].Content != "answer" || stored[2].Role != conversation.RoleAssistant {
		t.Errorf("last stored message = %+v", stored[2])
	}
}

func TestAppendChunkDefaultsRole(t *testing.T) {
	store := newMemStore()
	owner := uuid.New().String()
	id := store.seed(t, owner, "model-a", nil)

	handler := newTestServer(t, store, nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodPost, fmt.Sprintf("/api/v1/conversations/%s/chunk", id), owner, `{"messages":[{"content":"no role"}]}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	stored, err := conversation.Decode(store.blobs[id])
	if err != nil {
		t.Fatalf("decoding stored blob: %v", err)
	}
	if stored[0].Role != conversation.RoleUser {
		t.Errorf("defaulted role = %q, want user", stored[0].Role)
	}
}

func TestAppendChunkMissingConversation(t *testing.T) {
	handler := newTestServer(t, newMemStore(), nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodPost, fmt.Sprintf("/api/v1/conversations/%s/chunk", uuid.New()), uuid.New().String(), `{"messages":[{"content":"x"}]}`))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestAppendChunkForeignConversation(t *testing.T) {
	store := newMemStore()
	owner := uuid.New().String()
	history := []conversation.StoredMessage{
		{ID: uuid.New().String(), Role: conversation.RoleUser, Content: "private", CreatedAt: time.Now().UTC()},
	}
	id := store.seed(t, owner, "model-a", history)

	handler := newTestServer(t, store, nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodPost, fmt.Sprintf("/api/v1/conversations/%s/chunk", id), uuid.New().String(), `{"messages":[{"content":"x"}]}`))

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestAppendChunkInvalidID(t *testing.T) {
	handler := newTestServer(t, newMemStore(), nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodPost, "/api/v1/conversations/not-a-uuid/chunk", uuid.New().String(), `{"messages":[{"content":"x"}]}`))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestReadChunk(t *testing.T) {
	store := newMemStore()
	owner := uuid.New().String()
	history := []conversation.StoredMessage{
		{ID: uuid.New().String(), Role: conversation.RoleUser, Content: "hello", CreatedAt: time.Now().UTC()},
		{ID: uuid.New().String(), Role: conversation.RoleAssistant, Content: "hi", CreatedAt: time.Now().UTC()},
	}
	id := store.seed(t, owner, "model-a", history)

	handler := newTestServer(t, store, nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodGet, fmt.Sprintf("/api/v1/conversations/%s/chunk", id), owner, ""))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp []conversation.StoredMessage
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("returned %d messages, want 2", len(resp))
	}
	if resp[0].Content != "hello" || resp[1].Content != "hi" {
		t.Errorf("messages out of order: %+v", resp)
	}
}

func TestReadChunkEmptyConversation(t *testing.T) {
	store := newMemStore()
	owner := uuid.New().String()
	id := store.seed(t, owner, "model-a", nil)

	handler := newTestServer(t, store, nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodGet, fmt.Sprintf("/api/v1/conversations/%s/chunk", id), owner, ""))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestReadChunkMissingConversation(t *testing.T) {
	handler := newTestServer(t, newMemStore(), nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodGet, fmt.Sprintf("/api/v1/conversations/%s/chunk", uuid.New()), uuid.New().String(), ""))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestReadChunkForeignConversation(t *testing.T) {
	store := newMemStore()
	id := store.seed(t, uuid.New().String(), "model-a", nil)

	handler := newTestServer(t, store, nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodGet, fmt.Sprintf("/api/v1/conversations/%s/chunk", id), uuid.New().String(), ""))

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestServer(t, newMemStore(), nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestReadyEndpointWithoutPool(t *testing.T) {
	handler := newTestServer(t, newMemStore(), nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestNewServerRequiresSecret(t *testing.T) {
	_, err := NewServer(ServerConfig{
		Store:        newMemStore(),
		Orchestrator: &stubStreamer{},
		HMACSecret:   []byte("short"),
	})
	if err == nil {
		t.Fatal("NewServer accepted a short hmac secret")
	}
}
