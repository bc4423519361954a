package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SleepyXm/SynapseR/internal/log"
)

// Record is the conversation row without its message blob.
type Record struct {
	OwnerID  string
	Title    *string
	LLMModel string
}

// Summary is one entry of an owner's conversation listing. Message bodies
// are deliberately excluded; listing is a lightweight view.
type Summary struct {
	ID       uuid.UUID
	Title    *string
	LLMModel string
}

// Store persists conversation records and their compressed message blobs
// in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines. It provides no
// cross-request mutual exclusion: concurrent UpdateMessages calls against
// the same conversation follow last-writer-wins.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// Messages returns the compressed message blob and owner of a conversation.
// Returns ErrNotFound when the row is absent or the blob is empty; an empty
// blob is indistinguishable from a brand-new conversation.
func (s *Store) Messages(ctx context.Context, conversationID uuid.UUID) ([]byte, string, error) {
	var (
		blob    []byte
		ownerID string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT compressed_messages, owner_id FROM conversations WHERE id = $1`,
		conversationID,
	).Scan(&blob, &ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("fetching messages for %s: %w", conversationID, err)
	}
	if len(blob) == 0 {
		return nil, "", fmt.Errorf("conversation %s has no history: %w", conversationID, ErrNotFound)
	}
	return blob, ownerID, nil
}

// Fetch returns a conversation's record without its message blob.
func (s *Store) Fetch(ctx context.Context, conversationID uuid.UUID) (Record, error) {
	var rec Record
	err := s.pool.QueryRow(ctx,
		`SELECT owner_id, title, llm_model FROM conversations WHERE id = $1`,
		conversationID,
	).Scan(&rec.OwnerID, &rec.Title, &rec.LLMModel)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("fetching conversation %s: %w", conversationID, err)
	}
	return rec, nil
}

// Create inserts a new conversation with a null title and empty history.
func (s *Store) Create(ctx context.Context, ownerID, llmModel string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, owner_id, llm_model, created_at, updated_at)
		 VALUES ($1, $2, $3, now(), now())`,
		id, ownerID, llmModel,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", id, "owner", ownerID, "model", llmModel)
	return id, nil
}

// UpdateMessages overwrites the message blob and bumps updated_at.
func (s *Store) UpdateMessages(ctx context.Context, conversationID uuid.UUID, blob []byte) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET compressed_messages = $2, updated_at = now() WHERE id = $1`,
		conversationID, blob,
	)
	if err != nil {
		return fmt.Errorf("updating messages for %s: %w", conversationID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return nil
}

// UpdateTitle sets the title and bumps updated_at. The caller must ensure
// the title is currently null; there is no compare-and-swap here, so two
// racing writers can both succeed and the later one wins.
func (s *Store) UpdateTitle(ctx context.Context, conversationID uuid.UUID, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET title = $2, updated_at = now() WHERE id = $1`,
		conversationID, title,
	)
	if err != nil {
		return fmt.Errorf("updating title for %s: %w", conversationID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return nil
}

// ListByOwner returns the owner's conversations, most recently updated first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]Summary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, llm_model FROM conversations
		 WHERE owner_id = $1 ORDER BY updated_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations for owner: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.LLMModel); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	s.logger.Debug("listed conversations", "count", len(summaries))
	return summaries, nil
}
