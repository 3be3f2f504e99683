package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/briefsmith/internal/brief"
	"github.com/MikeSquared-Agency/briefsmith/internal/mockup"
	"github.com/MikeSquared-Agency/briefsmith/internal/processor"
	"github.com/MikeSquared-Agency/briefsmith/internal/store"
)

const maxMockupWait = 60 * time.Second

type projectJSON struct {
	ID             uuid.UUID       `json:"id"`
	ConversationID *uuid.UUID      `json:"conversation_id,omitempty"`
	ProductName    string          `json:"product_name"`
	Version        int             `json:"version"`
	ParentID       *uuid.UUID      `json:"parent_id,omitempty"`
	Brief          json.RawMessage `json:"brief,omitempty"`
	RequestMeta    json.RawMessage `json:"request_meta,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func toProjectJSON(p store.Project, full bool) projectJSON {
	out := projectJSON{
		ID:             p.ID,
		ConversationID: p.ConversationID,
		ProductName:    p.ProductName,
		Version:        p.Version,
		ParentID:       p.ParentID,
		CreatedAt:      p.CreatedAt,
	}
	if full {
		out.Brief = p.Brief
		out.RequestMeta = p.RequestMeta
	}
	return out
}

type mockupJSON struct {
	ID            uuid.UUID `json:"id"`
	Variant       int       `json:"variant"`
	Model         string    `json:"model"`
	Prompt        string    `json:"prompt"`
	RevisedPrompt string    `json:"revised_prompt,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	ImageB64      string    `json:"image_b64,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fail(w, r, fmt.Errorf("%w: bad limit %q", processor.ErrInvalidInput, v))
			return
		}
		limit = n
	}
	projects, err := s.projects.ListProjects(r.Context(), UserID(r.Context()), limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]projectJSON, 0, len(projects))
	for _, p := range projects {
		out = append(out, toProjectJSON(p, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": out, "count": len(out)})
}

func (s *Server) project(r *http.Request) (*store.Project, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	return s.projects.GetProject(r.Context(), UserID(r.Context()), id)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.project(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectJSON(*p, true))
}

func (s *Server) projectVersions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	lineage, err := s.projects.ProjectLineage(r.Context(), UserID(r.Context()), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]projectJSON, 0, len(lineage))
	for _, p := range lineage {
		out = append(out, toProjectJSON(p, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": out, "count": len(out)})
}

func decodeProjectBrief(p *store.Project) (brief.Brief, error) {
	ext, err := brief.Decode(p.Brief)
	if err != nil {
		return brief.Brief{}, fmt.Errorf("decode project brief: %w", err)
	}
	return ext.Brief, nil
}

func (s *Server) downloadBrief(w http.ResponseWriter, r *http.Request) {
	p, err := s.project(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	b, err := decodeProjectBrief(p)
	if err != nil {
		fail(w, r, err)
		return
	}
	data, err := brief.MarshalDownload(b)
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, brief.DownloadName(b)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) startMockups(w http.ResponseWriter, r *http.Request) {
	if s.mockups == nil {
		writeError(w, http.StatusServiceUnavailable, "mockups are not configured")
		return
	}
	p, err := s.project(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var opts mockup.Options
	if err := decode(r, &opts); err != nil {
		fail(w, r, err)
		return
	}
	b, err := decodeProjectBrief(p)
	if err != nil {
		fail(w, r, err)
		return
	}
	n, err := s.mockups.Start(p.ID, b, opts)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"project_id": p.ID, "variants": n})
}

func (s *Server) listMockups(w http.ResponseWriter, r *http.Request) {
	if s.mockups == nil {
		writeError(w, http.StatusServiceUnavailable, "mockups are not configured")
		return
	}
	p, err := s.project(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var wait time.Duration
	if v := r.URL.Query().Get("wait"); v != "" {
		wait, err = time.ParseDuration(v)
		if err != nil || wait < 0 {
			fail(w, r, fmt.Errorf("%w: bad wait %q", processor.ErrInvalidInput, v))
			return
		}
		wait = min(wait, maxMockupWait)
	}
	mockups, err := s.mockups.Await(r.Context(), p.ID, wait)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; nobody is listening.
			return
		}
		fail(w, r, err)
		return
	}
	out := make([]mockupJSON, 0, len(mockups))
	for _, m := range mockups {
		out = append(out, mockupJSON{
			ID:            m.ID,
			Variant:       m.Variant,
			Model:         m.Model,
			Prompt:        m.Prompt,
			RevisedPrompt: m.RevisedPrompt,
			ImageURL:      m.ImageURL,
			ImageB64:      m.ImageB64,
			CreatedAt:     m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"mockups": out, "count": len(out)})
}
