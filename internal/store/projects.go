package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Project is a persisted brief. Edits never overwrite: each new brief is a
// new row whose ParentID points at the version it was derived from.
type Project struct {
	ID             uuid.UUID
	OwnerID        string
	ConversationID *uuid.UUID
	ProductName    string
	Brief          json.RawMessage
	RawOutput      string
	RequestMeta    json.RawMessage
	Version        int
	ParentID       *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type NewProject struct {
	OwnerID        string
	ConversationID *uuid.UUID
	ProductName    string
	Brief          json.RawMessage
	RawOutput      string
	RequestMeta    json.RawMessage
	ParentID       *uuid.UUID
}

const projectColumns = `id, owner_id, conversation_id, product_name, brief, raw_output, request_meta, version, parent_id, created_at, updated_at`

func scanProject(row pgx.Row) (*Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.OwnerID, &p.ConversationID, &p.ProductName, &p.Brief, &p.RawOutput,
		&p.RequestMeta, &p.Version, &p.ParentID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// InsertProject writes version 1, or appends to the chain ParentID belongs
// to. If ParentID already has a successor the new row goes after the
// newest version instead, so concurrent edits extend one linear history.
// The parent must belong to the same owner.
func (s *Store) InsertProject(ctx context.Context, np NewProject) (*Project, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	version := 1
	parentID := np.ParentID
	if parentID != nil {
		tip := *parentID
		err := tx.QueryRow(ctx, `
			SELECT version FROM projects WHERE id = $1 AND owner_id = $2 FOR UPDATE`,
			tip, np.OwnerID,
		).Scan(&version)
		if err != nil {
			return nil, fmt.Errorf("lock parent project: %w", notFound(err))
		}
		for {
			var next uuid.UUID
			var nextVersion int
			err := tx.QueryRow(ctx, `
				SELECT id, version FROM projects WHERE parent_id = $1 FOR UPDATE`, tip,
			).Scan(&next, &nextVersion)
			if errors.Is(err, pgx.ErrNoRows) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("find newest version: %w", err)
			}
			tip, version = next, nextVersion
		}
		parentID = &tip
		version++
	}

	meta := np.RequestMeta
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}

	p, err := scanProject(tx.QueryRow(ctx, `
		INSERT INTO projects (id, owner_id, conversation_id, product_name, brief, raw_output, request_meta, version, parent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+projectColumns,
		uuid.New(), np.OwnerID, np.ConversationID, np.ProductName, np.Brief, np.RawOutput, meta, version, parentID,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert project: %w", ErrVersionConflict)
		}
		return nil, fmt.Errorf("insert project: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

func (s *Store) GetProject(ctx context.Context, ownerID string, id uuid.UUID) (*Project, error) {
	p, err := scanProject(s.pool.QueryRow(ctx, `
		SELECT `+projectColumns+` FROM projects WHERE id = $1 AND owner_id = $2`, id, ownerID))
	if err != nil {
		return nil, fmt.Errorf("get project: %w", notFound(err))
	}
	return p, nil
}

// ListProjects returns the owner's projects, newest first.
func (s *Store) ListProjects(ctx context.Context, ownerID string, limit int) ([]Project, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+projectColumns+` FROM projects
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return collectProjects(rows)
}

// ProjectLineage walks the parent chain from id back to version 1,
// newest first.
func (s *Store) ProjectLineage(ctx context.Context, ownerID string, id uuid.UUID) ([]Project, error) {
	rows, err := s.pool.Query(ctx, `
		WITH RECURSIVE chain AS (
			SELECT `+projectColumns+`, 0 AS depth FROM projects WHERE id = $1 AND owner_id = $2
			UNION ALL
			SELECT p.id, p.owner_id, p.conversation_id, p.product_name, p.brief, p.raw_output, p.request_meta,
			       p.version, p.parent_id, p.created_at, p.updated_at, c.depth + 1
			FROM projects p JOIN chain c ON p.id = c.parent_id
			WHERE p.owner_id = $2
		)
		SELECT `+projectColumns+` FROM chain ORDER BY depth`, id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("project lineage: %w", err)
	}
	out, err := collectProjects(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("project lineage: %w", ErrNotFound)
	}
	return out, nil
}

func collectProjects(rows pgx.Rows) ([]Project, error) {
	defer rows.Close()
	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
