package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SleepyXm/SynapseR/internal/log"
)

// SnapshotPreamble is the fixed system message prepended to every memory
// snapshot.
const SnapshotPreamble = "You are an assistant aware of the recent conversation context with the user."

// Storage defines the persistence operations the Manager needs.
// Following Go best practices: interfaces are defined by the consumer, not
// the provider. *Store satisfies it.
type Storage interface {
	Messages(ctx context.Context, conversationID uuid.UUID) (blob []byte, ownerID string, err error)
	Fetch(ctx context.Context, conversationID uuid.UUID) (Record, error)
	Create(ctx context.Context, ownerID, llmModel string) (uuid.UUID, error)
	UpdateMessages(ctx context.Context, conversationID uuid.UUID, blob []byte) error
	UpdateTitle(ctx context.Context, conversationID uuid.UUID, title string) error
	ListByOwner(ctx context.Context, ownerID string) ([]Summary, error)
}

// Manager owns the in-memory view of one conversation's messages for the
// duration of a request. Every request constructs its own Manager; the
// internal mutex serializes operations on this instance only. There is no
// cross-instance mutual exclusion: two managers for the same conversation
// each load their own snapshot and the later Persist wins, silently
// discarding the other writer's unseen appends. Accepted policy, not a bug.
type Manager struct {
	mu             sync.Mutex
	store          Storage
	logger         log.Logger
	conversationID uuid.UUID
	ownerID        string
	messages       []StoredMessage
	loaded         bool

	// now and newID are swappable for tests.
	now   func() time.Time
	newID func() string
}

// NewManager creates a Manager bound to one conversation and owner.
func NewManager(store Storage, conversationID uuid.UUID, ownerID string, logger log.Logger) *Manager {
	return &Manager{
		store:          store,
		logger:         logger,
		conversationID: conversationID,
		ownerID:        ownerID,
		messages:       []StoredMessage{},
		now:            time.Now,
		newID:          func() string { return uuid.NewString() },
	}
}

// ConversationID returns the bound conversation id. Create rebinds it.
func (m *Manager) ConversationID() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationID
}

// Load fetches and decodes the stored history. Idempotent: a second call is
// a no-op. A missing row or empty history is a valid empty conversation,
// not an error, so "new conversation, first message" flows work. A loaded
// history owned by someone else fails with ErrForbidden.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(ctx)
}

func (m *Manager) loadLocked(ctx context.Context) error {
	if m.loaded {
		return nil
	}

	blob, ownerID, err := m.store.Messages(ctx, m.conversationID)
	if errors.Is(err, ErrNotFound) {
		m.messages = []StoredMessage{}
		m.loaded = true
		return nil
	}
	if err != nil {
		return err
	}

	if ownerID != m.ownerID {
		return fmt.Errorf("conversation %s: %w", m.conversationID, ErrForbidden)
	}

	messages, err := Decode(blob)
	if err != nil {
		m.logger.Error("failed to decode conversation history",
			"conversation_id", m.conversationID, "error", err)
		return err
	}

	m.messages = messages
	m.loaded = true
	return nil
}

// Append synthesizes a StoredMessage for each payload, with a fresh id,
// the current timestamp, and the payload's role (default "user"), and
// appends them in input order. Nothing is written to the store until
// Persist is called.
func (m *Manager) Append(payloads []Payload) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range payloads {
		role := p.Role
		if role == "" {
			role = RoleUser
		}
		m.messages = append(m.messages, StoredMessage{
			ID:        m.newID(),
			Role:      role,
			Content:   p.Content,
			CreatedAt: m.now().UTC(),
			Metadata:  p.Metadata,
		})
	}
	return len(payloads)
}

// Persist encodes the current messages and overwrites the stored blob,
// last-writer-wins.
func (m *Manager) Persist(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	blob, err := Encode(m.messages)
	if err != nil {
		return fmt.Errorf("persisting conversation %s: %w", m.conversationID, err)
	}
	if err := m.store.UpdateMessages(ctx, m.conversationID, blob); err != nil {
		return err
	}

	m.logger.Debug("persisted conversation",
		"conversation_id", m.conversationID, "messages", len(m.messages))
	return nil
}

// Create allocates a new conversation for this owner and rebinds the
// manager to it.
func (m *Manager) Create(ctx context.Context, llmModel string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.store.Create(ctx, m.ownerID, llmModel)
	if err != nil {
		return uuid.Nil, err
	}
	m.conversationID = id
	m.messages = []StoredMessage{}
	m.loaded = true
	return id, nil
}

// ListForOwner returns the owner's conversations, most recent first.
func (m *Manager) ListForOwner(ctx context.Context) ([]Summary, error) {
	return m.store.ListByOwner(ctx, m.ownerID)
}

// Snapshot returns the last recentN messages mapped to prompt shape,
// preceded by the fixed system preamble. Loads on demand. recentN = 0
// yields only the preamble; a short history yields fewer entries. The
// stored history is never mutated.
func (m *Manager) Snapshot(ctx context.Context, recentN int) ([]PromptMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(ctx); err != nil {
		return nil, err
	}

	if recentN < 0 {
		recentN = 0
	}
	start := len(m.messages) - recentN
	if start < 0 {
		start = 0
	}

	snapshot := make([]PromptMessage, 0, len(m.messages)-start+1)
	snapshot = append(snapshot, PromptMessage{Role: RoleSystem, Content: SnapshotPreamble})
	for _, msg := range m.messages[start:] {
		snapshot = append(snapshot, PromptMessage{Role: msg.Role, Content: msg.Content})
	}
	return snapshot, nil
}

// Messages returns a copy of the in-memory history.
func (m *Manager) Messages() []StoredMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]StoredMessage, len(m.messages))
	copy(out, m.messages)
	return out
}
