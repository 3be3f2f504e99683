package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Conversation struct {
	ID        uuid.UUID
	OwnerID   string
	State     json.RawMessage
	ProjectID *uuid.UUID
	Epoch     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	ProjectID      *uuid.UUID
	Epoch          int
	Role           string
	Content        string
	CreatedAt      time.Time
}

func (s *Store) CreateConversation(ctx context.Context, c Conversation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, owner_id, state, project_id, epoch, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())`,
		c.ID, c.OwnerID, c.State, c.ProjectID, c.Epoch,
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// GetConversation fetches a conversation regardless of owner. Callers
// enforce ownership.
func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, state, project_id, epoch, created_at, updated_at
		FROM conversations WHERE id = $1`, id)

	var c Conversation
	err := row.Scan(&c.ID, &c.OwnerID, &c.State, &c.ProjectID, &c.Epoch, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", notFound(err))
	}
	return &c, nil
}

// UpdateConversation stores the latest state snapshot.
func (s *Store) UpdateConversation(ctx context.Context, c Conversation) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET state = $1, project_id = $2, epoch = $3, updated_at = now()
		WHERE id = $4`,
		c.State, c.ProjectID, c.Epoch, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update conversation: %w", ErrNotFound)
	}
	return nil
}

// AppendMessages inserts messages in order within one batch.
func (s *Store) AppendMessages(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range msgs {
		created := m.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		batch.Queue(`
			INSERT INTO messages (id, conversation_id, project_id, epoch, role, content, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			m.ID, m.ConversationID, m.ProjectID, m.Epoch, m.Role, m.Content, created,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert messages: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's messages from the given epoch
// onwards, oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID uuid.UUID, fromEpoch int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, project_id, epoch, role, content, created_at
		FROM messages
		WHERE conversation_id = $1 AND epoch >= $2
		ORDER BY seq`, conversationID, fromEpoch)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.ProjectID, &m.Epoch, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
