package mockup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/briefsmith/internal/brief"
	"github.com/MikeSquared-Agency/briefsmith/internal/metrics"
	"github.com/MikeSquared-Agency/briefsmith/internal/store"
)

// ErrInvalidOptions is returned for out-of-range variant counts and for
// sizes or qualities the image API does not accept.
var ErrInvalidOptions = errors.New("invalid mockup options")

// Oracle generates one image per call.
type Oracle interface {
	Generate(ctx context.Context, req Request) (*Image, error)
	Model() string
}

// Sink is where finished mockups are kept.
type Sink interface {
	InsertMockup(ctx context.Context, m store.Mockup) (uuid.UUID, error)
	ListMockups(ctx context.Context, projectID uuid.UUID) ([]store.Mockup, error)
}

type Options struct {
	Variants int    `json:"variants"`
	Size     string `json:"size"`
	Quality  string `json:"quality"`
}

type Service struct {
	oracle   Oracle
	sink     Sink
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration

	wg sync.WaitGroup
}

// NewService wires the image oracle to the store. interval is the poll
// period used by Await.
func NewService(oracle Oracle, sink Sink, interval time.Duration, logger *slog.Logger) *Service {
	return &Service{
		oracle:   oracle,
		sink:     sink,
		logger:   logger,
		interval: interval,
		timeout:  5 * time.Minute,
	}
}

func (o *Options) normalise() error {
	if o.Variants == 0 {
		o.Variants = 1
	}
	if o.Variants < 0 || o.Variants > MaxVariants {
		return fmt.Errorf("%w: variants must be between 1 and %d", ErrInvalidOptions, MaxVariants)
	}
	o.Size = strings.TrimSpace(o.Size)
	if o.Size == "" {
		o.Size = DefaultSize
	}
	if !slices.Contains(validSizes, openai.ImageGenerateParamsSize(o.Size)) {
		return fmt.Errorf("%w: unsupported size %q", ErrInvalidOptions, o.Size)
	}
	o.Quality = strings.ToLower(strings.TrimSpace(o.Quality))
	if o.Quality == "" {
		o.Quality = DefaultQuality
	}
	if !slices.Contains(validQualities, openai.ImageGenerateParamsQuality(o.Quality)) {
		return fmt.Errorf("%w: unsupported quality %q", ErrInvalidOptions, o.Quality)
	}
	return nil
}

// Start generates mockups in the background, detached from the caller's
// request. It returns the number of variants scheduled.
func (s *Service) Start(projectID uuid.UUID, b brief.Brief, opts Options) (int, error) {
	if err := opts.normalise(); err != nil {
		return 0, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.Run(ctx, projectID, b, opts); err != nil {
			s.logger.Error("mockup generation failed", "project_id", projectID, "error", err)
		}
	}()
	return opts.Variants, nil
}

// Run generates every variant concurrently and stores each success as it
// arrives. It returns what was stored and the first error, if any.
func (s *Service) Run(ctx context.Context, projectID uuid.UUID, b brief.Brief, opts Options) ([]store.Mockup, error) {
	if err := opts.normalise(); err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		stored []store.Mockup
		g      errgroup.Group
	)
	g.SetLimit(2)

	for v := 0; v < opts.Variants; v++ {
		g.Go(func() error {
			prompt := PromptFor(b, v)
			img, err := s.oracle.Generate(ctx, Request{Prompt: prompt, Size: opts.Size, Quality: opts.Quality})
			if err != nil {
				metrics.MockupsTotal.WithLabelValues("error").Inc()
				return fmt.Errorf("variant %d: %w", v, err)
			}

			m := store.Mockup{
				ID:            uuid.New(),
				ProjectID:     projectID,
				Variant:       v,
				Model:         s.oracle.Model(),
				Prompt:        prompt,
				RevisedPrompt: img.RevisedPrompt,
				ImageURL:      img.URL,
				ImageB64:      img.B64JSON,
			}
			if _, err := s.sink.InsertMockup(ctx, m); err != nil {
				metrics.PersistenceFailuresTotal.WithLabelValues("insert_mockup").Inc()
				return fmt.Errorf("variant %d: %w", v, err)
			}
			metrics.MockupsTotal.WithLabelValues("ok").Inc()

			mu.Lock()
			stored = append(stored, m)
			mu.Unlock()
			s.logger.Info("mockup stored", "project_id", projectID, "variant", v)
			return nil
		})
	}
	err := g.Wait()
	return stored, err
}

// Await polls the store until at least one mockup exists for the project,
// wait elapses, or ctx is cancelled. Running out of wait is not an error.
func (s *Service) Await(ctx context.Context, projectID uuid.UUID, wait time.Duration) ([]store.Mockup, error) {
	if wait <= 0 {
		return s.sink.ListMockups(ctx, projectID)
	}
	pctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	items, err := Poll(pctx, s.interval, func(ctx context.Context) ([]store.Mockup, error) {
		return s.sink.ListMockups(ctx, projectID)
	})
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return []store.Mockup{}, nil
	}
	return items, err
}

// Wait blocks until background generations finish.
func (s *Service) Wait() {
	s.wg.Wait()
}
