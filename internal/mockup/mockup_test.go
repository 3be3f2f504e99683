package mockup

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/briefsmith/internal/brief"
	"github.com/MikeSquared-Agency/briefsmith/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGenerator_Generate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"created":1700000000,"data":[{"url":"https://img.example/1.png","revised_prompt":"a jar"}]}`))
	}))
	defer srv.Close()

	g := NewGenerator("test-key", "dall-e-3", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	img, err := g.Generate(context.Background(), Request{Prompt: "a jar of gummies"})
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/1.png", img.URL)
	assert.Equal(t, "a jar", img.RevisedPrompt)

	assert.Equal(t, "dall-e-3", got["model"])
	assert.Equal(t, "a jar of gummies", got["prompt"])
	assert.Equal(t, DefaultSize, got["size"])
	assert.Equal(t, DefaultQuality, got["quality"])
}

func TestGenerator_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad prompt","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	g := NewGenerator("k", "dall-e-3", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	_, err := g.Generate(context.Background(), Request{Prompt: "x"})
	assert.Error(t, err)

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"created":1,"data":[]}`))
	}))
	defer empty.Close()
	g = NewGenerator("k", "dall-e-3", option.WithBaseURL(empty.URL+"/"), option.WithMaxRetries(0))
	_, err = g.Generate(context.Background(), Request{Prompt: "x"})
	assert.ErrorContains(t, err, "empty response")
}

func TestPromptFor(t *testing.T) {
	b := brief.Brief{
		ProductName: "Sleep Gummies",
		Category:    "supplement",
		Positioning: "mid-range",
		FormFactor:  "wide-mouth jar",
		Materials:   map[string]string{"label": "matte BOPP", "jar": "PET"},
		ColorScheme: brief.ColorScheme{Base: "#E8E4F3", Accents: []string{"#5B4B8A"}},
		Variants:    []string{"Original", "Extra Strength"},
	}
	p := PromptFor(b, 1)
	assert.Contains(t, p, `"Sleep Gummies"`)
	assert.Contains(t, p, "jar PET; label matte BOPP")
	assert.Contains(t, p, "Variant: Extra Strength")
	assert.Contains(t, p, angles[1])
	assert.Equal(t, p, PromptFor(b, 1))
	assert.NotPanics(t, func() { PromptFor(brief.Brief{}, -3) })
	assert.Contains(t, PromptFor(b, 5), angles[1])
}

func TestPoll_StopsAtFirstResult(t *testing.T) {
	var calls atomic.Int32
	items, err := Poll(context.Background(), time.Millisecond, func(ctx context.Context) ([]int, error) {
		if calls.Add(1) < 3 {
			return nil, nil
		}
		return []int{7}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{7}, items)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPoll_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Poll(ctx, time.Millisecond, func(ctx context.Context) ([]int, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoll_FetchError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Poll(context.Background(), time.Millisecond, func(ctx context.Context) ([]int, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

type fakeOracle struct {
	fail map[string]bool
	n    atomic.Int32
}

func (f *fakeOracle) calls() int { return int(f.n.Load()) }

func (f *fakeOracle) Generate(ctx context.Context, req Request) (*Image, error) {
	f.n.Add(1)
	for frag := range f.fail {
		if strings.Contains(req.Prompt, frag) {
			return nil, errors.New("image oracle down")
		}
	}
	return &Image{URL: "https://img.example/" + uuid.NewString() + ".png"}, nil
}

func (f *fakeOracle) Model() string { return "fake" }

type memSink struct {
	mu      sync.Mutex
	mockups []store.Mockup
}

func (m *memSink) InsertMockup(ctx context.Context, mk store.Mockup) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mockups = append(m.mockups, mk)
	return mk.ID, nil
}

func (m *memSink) ListMockups(ctx context.Context, projectID uuid.UUID) ([]store.Mockup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Mockup
	for _, mk := range m.mockups {
		if mk.ProjectID == projectID {
			out = append(out, mk)
		}
	}
	return out, nil
}

func TestService_RunPartialFailure(t *testing.T) {
	sink := &memSink{}
	svc := NewService(&fakeOracle{fail: map[string]bool{angles[1]: true}}, sink, time.Millisecond, discardLogger())
	pid := uuid.New()

	stored, err := svc.Run(context.Background(), pid, brief.Brief{ProductName: "Sleep Gummies"}, Options{Variants: 3})
	assert.ErrorContains(t, err, "variant 1")
	assert.Len(t, stored, 2)

	got, err := sink.ListMockups(context.Background(), pid)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestService_InvalidOptions(t *testing.T) {
	oracle := &fakeOracle{}
	svc := NewService(oracle, &memSink{}, time.Millisecond, discardLogger())
	for _, opts := range []Options{
		{Variants: MaxVariants + 1},
		{Variants: -1},
		{Size: "4096x4096"},
		{Size: "big"},
		{Quality: "ultra"},
	} {
		_, err := svc.Start(uuid.New(), brief.Brief{}, opts)
		assert.ErrorIs(t, err, ErrInvalidOptions, "%+v", opts)
	}
	_, err := svc.Run(context.Background(), uuid.New(), brief.Brief{}, Options{Quality: "best"})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.Zero(t, oracle.calls(), "invalid options never reach the image API")
}

func TestOptions_NormaliseDefaults(t *testing.T) {
	opts := Options{Quality: " HD "}
	require.NoError(t, opts.normalise())
	assert.Equal(t, 1, opts.Variants)
	assert.Equal(t, DefaultSize, opts.Size)
	assert.Equal(t, "hd", opts.Quality)

	opts = Options{Size: "1536x1024", Quality: "high"}
	assert.NoError(t, opts.normalise())
}

func TestService_StartThenAwait(t *testing.T) {
	sink := &memSink{}
	svc := NewService(&fakeOracle{}, sink, time.Millisecond, discardLogger())
	pid := uuid.New()

	n, err := svc.Start(pid, brief.Brief{ProductName: "Sleep Gummies"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := svc.Await(context.Background(), pid, 2*time.Second)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	svc.Wait()
}

func TestService_AwaitTimesOutEmpty(t *testing.T) {
	svc := NewService(&fakeOracle{}, &memSink{}, time.Millisecond, discardLogger())
	got, err := svc.Await(context.Background(), uuid.New(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestService_AwaitClientGone(t *testing.T) {
	svc := NewService(&fakeOracle{}, &memSink{}, time.Millisecond, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Await(ctx, uuid.New(), time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
