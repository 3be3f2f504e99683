package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/briefsmith/internal/processor"
)

const maxBody = 64 << 10

type startRequest struct {
	ProjectID *uuid.UUID `json:"project_id,omitempty"`
}

type messageRequest struct {
	Content string `json:"content"`
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON: %w", processor.ErrInvalidInput, err)
	}
	return nil
}

func (s *Server) startConversation(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	view, err := s.conversations.Start(r.Context(), UserID(r.Context()), req.ProjectID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	view, err := s.conversations.View(r.Context(), UserID(r.Context()), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req messageRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	res, err := s.conversations.HandleMessage(r.Context(), UserID(r.Context()), id, req.Content)
	writeTurn(w, r, res, err)
}

func (s *Server) retry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	res, err := s.conversations.Retry(r.Context(), UserID(r.Context()), id)
	writeTurn(w, r, res, err)
}

func (s *Server) restart(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	view, err := s.conversations.Restart(r.Context(), UserID(r.Context()), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// writeTurn sends a TurnResult. A failed turn that still produced a result
// (oracle down, garbled brief) sends it with the error status so the client
// can show the reply and current phase.
func writeTurn(w http.ResponseWriter, r *http.Request, res *processor.TurnResult, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case res != nil:
		writeJSON(w, statusFor(err), res)
	default:
		fail(w, r, err)
	}
}
