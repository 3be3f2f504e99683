package processor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/briefsmith/internal/anthropic"
	"github.com/MikeSquared-Agency/briefsmith/internal/brief"
	"github.com/MikeSquared-Agency/briefsmith/internal/conversation"
	"github.com/MikeSquared-Agency/briefsmith/internal/hermes"
	"github.com/MikeSquared-Agency/briefsmith/internal/slack"
	"github.com/MikeSquared-Agency/briefsmith/internal/store"
	"github.com/MikeSquared-Agency/briefsmith/internal/template"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type oracleCall struct {
	system   string
	messages []anthropic.Message
}

type fakeOracle struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, call oracleCall) (string, error)
	calls []oracleCall
}

func (f *fakeOracle) Complete(ctx context.Context, system string, messages []anthropic.Message, maxTokens int) (string, error) {
	call := oracleCall{system: system, messages: messages}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	fn := f.fn
	f.mu.Unlock()
	return fn(ctx, call)
}

func (f *fakeOracle) reply(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = func(context.Context, oracleCall) (string, error) { return text, nil }
}

func (f *fakeOracle) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = func(context.Context, oracleCall) (string, error) { return "", err }
}

func (f *fakeOracle) lastCall() oracleCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeOracle) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var errWrite = errors.New("database unavailable")

// memStore is an in-memory Gateway.
type memStore struct {
	mu            sync.Mutex
	failWrites    bool
	conversations map[uuid.UUID]store.Conversation
	messages      []store.Message
	projects      map[uuid.UUID]store.Project
	// beforeInsert runs at the start of InsertProject, outside the lock.
	beforeInsert func()
}

func newMemStore() *memStore {
	return &memStore{
		conversations: make(map[uuid.UUID]store.Conversation),
		projects:      make(map[uuid.UUID]store.Project),
	}
}

func (m *memStore) setFailWrites(v bool) {
	m.mu.Lock()
	m.failWrites = v
	m.mu.Unlock()
}

func (m *memStore) CreateConversation(ctx context.Context, c store.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errWrite
	}
	m.conversations[c.ID] = c
	return nil
}

func (m *memStore) GetConversation(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (m *memStore) UpdateConversation(ctx context.Context, c store.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errWrite
	}
	if _, ok := m.conversations[c.ID]; !ok {
		return store.ErrNotFound
	}
	m.conversations[c.ID] = c
	return nil
}

func (m *memStore) AppendMessages(ctx context.Context, msgs ...store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errWrite
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *memStore) ListMessages(ctx context.Context, id uuid.UUID, fromEpoch int) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Message
	for _, msg := range m.messages {
		if msg.ConversationID == id && msg.Epoch >= fromEpoch {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memStore) InsertProject(ctx context.Context, np store.NewProject) (*store.Project, error) {
	m.mu.Lock()
	hook := m.beforeInsert
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return nil, errWrite
	}
	version := 1
	parentID := np.ParentID
	if parentID != nil {
		parent, ok := m.projects[*parentID]
		if !ok || parent.OwnerID != np.OwnerID {
			return nil, store.ErrNotFound
		}
		for {
			child, ok := m.childOf(parent.ID)
			if !ok {
				break
			}
			parent = child
		}
		version = parent.Version + 1
		parentID = &parent.ID
	}
	p := store.Project{
		ID:             uuid.New(),
		OwnerID:        np.OwnerID,
		ConversationID: np.ConversationID,
		ProductName:    np.ProductName,
		Brief:          np.Brief,
		RawOutput:      np.RawOutput,
		RequestMeta:    np.RequestMeta,
		Version:        version,
		ParentID:       parentID,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	m.projects[p.ID] = p
	return &p, nil
}

func (m *memStore) childOf(id uuid.UUID) (store.Project, bool) {
	for _, p := range m.projects {
		if p.ParentID != nil && *p.ParentID == id {
			return p, true
		}
	}
	return store.Project{}, false
}

func (m *memStore) GetProject(ctx context.Context, owner string, id uuid.UUID) (*store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok || p.OwnerID != owner {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) projectList() []store.Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Project
	for _, p := range m.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

type fakeEvents struct {
	mu     sync.Mutex
	events []hermes.BriefGenerated
}

func (f *fakeEvents) PublishBriefGenerated(ctx context.Context, evt hermes.BriefGenerated) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []slack.BriefNotice
}

func (f *fakeNotifier) NotifyBrief(ctx context.Context, n slack.BriefNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, n)
	return nil
}

var twoQuestions = []conversation.Question{
	{ID: conversation.QuestionProductName, Text: "What's the product called?"},
	{ID: conversation.QuestionUseCase, Text: "What does it do?"},
}

type harness struct {
	proc     *Processor
	oracle   *fakeOracle
	store    *memStore
	events   *fakeEvents
	notifier *fakeNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, newMemStore())
}

func newHarnessWithStore(t *testing.T, ms *memStore) *harness {
	t.Helper()
	cat, err := template.LoadEmbedded()
	require.NoError(t, err)

	h := &harness{
		oracle:   &fakeOracle{},
		store:    ms,
		events:   &fakeEvents{},
		notifier: &fakeNotifier{},
	}
	h.oracle.reply("Got it.")

	h.proc, err = New(Deps{
		Questions:   twoQuestions,
		Engine:      template.NewEngine(cat, discardLogger()),
		Catalog:     cat,
		Oracle:      h.oracle,
		Model:       "test-model",
		Store:       ms,
		Events:      h.events,
		Notifier:    h.notifier,
		TurnTimeout: 5 * time.Second,
		Logger:      discardLogger(),
	})
	require.NoError(t, err)
	return h
}

func sleepGummies() brief.Brief {
	h, d := 110.0, 70.0
	return brief.Brief{
		ProductName:    "Sleep Gummies",
		ProductID:      "sleep-gummies",
		Category:       "supplement",
		Positioning:    "mid-range",
		IntendedUse:    "help people relax before bed",
		FormFactor:     "wide-mouth jar",
		Dimensions:     brief.Dimensions{HeightMM: &h, DiameterMM: &d},
		Materials:      map[string]string{"jar": "PET", "cap": "PP", "label": "BOPP"},
		Finishes:       map[string]string{"jar": "frosted", "cap": "matte", "label": "soft-touch"},
		ColorScheme:    brief.ColorScheme{Base: "#E8E4F3", Accents: []string{"#5B4B8A"}},
		TargetPriceUSD: 24.99,
		Certifications: []string{"GMP"},
		Variants:       []string{"Original"},
		Notes:          "Calm and clean.",
	}
}

func briefReply(t *testing.T, b brief.Brief) string {
	t.Helper()
	wrapped, err := brief.Wrap(b)
	require.NoError(t, err)
	return "Here is your brief.\n\n" + wrapped + "\n\nLet me know what to change."
}
