package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Mockup struct {
	ID            uuid.UUID
	ProjectID     uuid.UUID
	Variant       int
	Model         string
	Prompt        string
	RevisedPrompt string
	ImageURL      string
	ImageB64      string
	CreatedAt     time.Time
}

func (s *Store) InsertMockup(ctx context.Context, m Mockup) (uuid.UUID, error) {
	id := m.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mockups (id, project_id, variant, model, prompt, revised_prompt, image_url, image_b64, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		id, m.ProjectID, m.Variant, m.Model, m.Prompt, m.RevisedPrompt, m.ImageURL, m.ImageB64,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert mockup: %w", err)
	}
	return id, nil
}

// ListMockups returns a project's mockups, oldest first.
func (s *Store) ListMockups(ctx context.Context, projectID uuid.UUID) ([]Mockup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, variant, model, prompt, revised_prompt, image_url, image_b64, created_at
		FROM mockups WHERE project_id = $1
		ORDER BY created_at, variant`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list mockups: %w", err)
	}
	defer rows.Close()

	var out []Mockup
	for rows.Next() {
		var m Mockup
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Variant, &m.Model, &m.Prompt, &m.RevisedPrompt, &m.ImageURL, &m.ImageB64, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mockup: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
