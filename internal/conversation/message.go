// Package conversation implements conversation state management: compact
// message persistence, lock-guarded per-request managers, and bounded
// memory snapshots for model context injection.
package conversation

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// StoredMessage is one immutable turn in a conversation. Ordering is by
// append sequence, never by timestamp, so clock skew cannot reorder history.
type StoredMessage struct {
	ID        string
	Role      Role
	Content   string
	CreatedAt time.Time
	// RawCreatedAt holds the original timestamp text when it failed to
	// parse during decode. CreatedAt is zero in that case.
	RawCreatedAt string
	Metadata     map[string]any
}

// Payload is a raw message payload supplied by a client for appending.
// Role defaults to "user" when absent.
type Payload struct {
	Role     Role           `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// PromptMessage is one entry of a memory snapshot, the shape fed to the
// generation provider.
type PromptMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// wireMessage is the serialized form of StoredMessage inside the
// compressed blob. Timestamps travel as ISO-8601 text.
type wireMessage struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	CreatedAt string         `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m StoredMessage) MarshalJSON() ([]byte, error) {
	ts := m.RawCreatedAt
	if !m.CreatedAt.IsZero() {
		ts = m.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(wireMessage{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: ts,
		Metadata:  m.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal message %s: %w", m.ID, err)
	}
	return data, nil
}

// UnmarshalJSON implements json.Unmarshaler. A timestamp that fails to
// parse is kept as raw text instead of failing the whole decode.
func (m *StoredMessage) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	m.ID = w.ID
	m.Role = w.Role
	m.Content = w.Content
	m.Metadata = w.Metadata
	m.CreatedAt = time.Time{}
	m.RawCreatedAt = ""

	if w.CreatedAt == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, w.CreatedAt)
	if err != nil {
		m.RawCreatedAt = w.CreatedAt
		return nil
	}
	m.CreatedAt = ts
	return nil
}
