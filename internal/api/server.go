package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/briefsmith/internal/brief"
	"github.com/MikeSquared-Agency/briefsmith/internal/metrics"
	"github.com/MikeSquared-Agency/briefsmith/internal/mockup"
	"github.com/MikeSquared-Agency/briefsmith/internal/processor"
	"github.com/MikeSquared-Agency/briefsmith/internal/store"
)

// Conversations runs conversation turns. *processor.Processor implements it.
type Conversations interface {
	Start(ctx context.Context, owner string, projectID *uuid.UUID) (*processor.View, error)
	View(ctx context.Context, owner string, id uuid.UUID) (*processor.View, error)
	HandleMessage(ctx context.Context, owner string, id uuid.UUID, text string) (*processor.TurnResult, error)
	Retry(ctx context.Context, owner string, id uuid.UUID) (*processor.TurnResult, error)
	Restart(ctx context.Context, owner string, id uuid.UUID) (*processor.View, error)
}

// Projects reads persisted brief versions. *store.Store implements it.
type Projects interface {
	ListProjects(ctx context.Context, ownerID string, limit int) ([]store.Project, error)
	GetProject(ctx context.Context, ownerID string, id uuid.UUID) (*store.Project, error)
	ProjectLineage(ctx context.Context, ownerID string, id uuid.UUID) ([]store.Project, error)
}

// Mockups renders and lists product images. *mockup.Service implements it.
type Mockups interface {
	Start(projectID uuid.UUID, b brief.Brief, opts mockup.Options) (int, error)
	Await(ctx context.Context, projectID uuid.UUID, wait time.Duration) ([]store.Mockup, error)
}

// Deps wires a Server. Mockups is optional; without it the mockup routes
// answer 503.
type Deps struct {
	Conversations Conversations
	Projects      Projects
	Mockups       Mockups
	Auth          *Authenticator
}

type Server struct {
	router        *chi.Mux
	port          int
	http          *http.Server
	conversations Conversations
	projects      Projects
	mockups       Mockups
}

func NewServer(port int, d Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:        router,
		port:          port,
		conversations: d.Conversations,
		projects:      d.Projects,
		mockups:       d.Mockups,
	}

	router.Get("/health", s.health)
	router.Handle("/metrics", metrics.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(d.Auth.Middleware)

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", s.startConversation)
			r.Get("/{id}", s.getConversation)
			r.Post("/{id}/messages", s.postMessage)
			r.Post("/{id}/retry", s.retry)
			r.Post("/{id}/restart", s.restart)
		})

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.listProjects)
			r.Get("/{id}", s.getProject)
			r.Get("/{id}/versions", s.projectVersions)
			r.Get("/{id}/brief.json", s.downloadBrief)
			r.Post("/{id}/mockups", s.startMockups)
			r.Get("/{id}/mockups", s.listMockups)
		})
	})

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("API server starting", "addr", addr)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad id %q", processor.ErrInvalidInput, chi.URLParam(r, "id"))
	}
	return id, nil
}
