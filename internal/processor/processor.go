package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/briefsmith/internal/anthropic"
	"github.com/MikeSquared-Agency/briefsmith/internal/brief"
	"github.com/MikeSquared-Agency/briefsmith/internal/conversation"
	"github.com/MikeSquared-Agency/briefsmith/internal/hermes"
	"github.com/MikeSquared-Agency/briefsmith/internal/inflight"
	"github.com/MikeSquared-Agency/briefsmith/internal/metrics"
	"github.com/MikeSquared-Agency/briefsmith/internal/slack"
	"github.com/MikeSquared-Agency/briefsmith/internal/store"
	"github.com/MikeSquared-Agency/briefsmith/internal/template"
)

var (
	// ErrInvalidInput is returned before any oracle call for blank or
	// out-of-phase requests.
	ErrInvalidInput = errors.New("invalid input")
	// ErrOracleUnavailable wraps transport, auth and quota failures.
	ErrOracleUnavailable = errors.New("generation oracle unavailable")
	// ErrBriefUnparseable wraps a *brief.ParseError.
	ErrBriefUnparseable = errors.New("brief could not be parsed")
)

// Error kinds reported in TurnResult.ErrorKind.
const (
	KindOracleUnavailable = "oracle_unavailable"
	KindBriefUnparseable  = "brief_unparseable"
)

const (
	replyTryAgain    = "Sorry, I couldn't reach the assistant just now. Please try again."
	replyUnavailable = "Sorry, the assistant isn't available right now. Please contact support if this keeps happening."
	replyUnparseable = "I drafted your brief but it came out garbled. Please try again."
	replyBriefReady  = "Here's your product brief."
	retryNudge       = "Please generate the brief now."
	warnNotSaved     = "Your progress may not have been saved."
)

// Oracle is the text generation service.
type Oracle interface {
	Complete(ctx context.Context, system string, messages []anthropic.Message, maxTokens int) (string, error)
}

// Gateway is the persistence the processor needs. *store.Store implements it.
type Gateway interface {
	CreateConversation(ctx context.Context, c store.Conversation) error
	GetConversation(ctx context.Context, id uuid.UUID) (*store.Conversation, error)
	UpdateConversation(ctx context.Context, c store.Conversation) error
	AppendMessages(ctx context.Context, msgs ...store.Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID, fromEpoch int) ([]store.Message, error)
	InsertProject(ctx context.Context, np store.NewProject) (*store.Project, error)
	GetProject(ctx context.Context, ownerID string, id uuid.UUID) (*store.Project, error)
}

// Events receives new brief versions.
type Events interface {
	PublishBriefGenerated(ctx context.Context, evt hermes.BriefGenerated) error
}

// Notifier posts new brief versions to humans.
type Notifier interface {
	NotifyBrief(ctx context.Context, n slack.BriefNotice) error
}

// Deps wires a Processor. Events and Notifier are optional.
type Deps struct {
	Questions   []conversation.Question
	Engine      *template.Engine
	Catalog     *template.Catalog
	Oracle      Oracle
	Model       string
	Store       Gateway
	Guard       inflight.Guard
	Events      Events
	Notifier    Notifier
	MaxTokens   int
	TurnTimeout time.Duration
	Logger      *slog.Logger
}

// Processor runs conversation turns: state machine, oracle, extractor,
// store and events.
type Processor struct {
	machine    *conversation.Machine
	instructor *conversation.Instructor
	catalog    *template.Catalog
	sessions   *conversation.Manager
	oracle     Oracle
	model      string
	store      Gateway
	guard      inflight.Guard
	events     Events
	notifier   Notifier
	maxTokens  int
	timeout    time.Duration
	logger     *slog.Logger
}

func New(d Deps) (*Processor, error) {
	questions := d.Questions
	if len(questions) == 0 {
		questions = conversation.DefaultQuestions
	}
	machine, err := conversation.NewMachine(questions)
	if err != nil {
		return nil, fmt.Errorf("new processor: %w", err)
	}
	if d.Engine == nil || d.Catalog == nil || d.Oracle == nil || d.Store == nil {
		return nil, fmt.Errorf("new processor: engine, catalog, oracle and store are required")
	}
	guard := d.Guard
	if guard == nil {
		guard = inflight.NewLocal()
	}
	maxTokens := d.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	timeout := d.TurnTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Processor{
		machine:    machine,
		instructor: conversation.NewInstructor(machine, d.Engine),
		catalog:    d.Catalog,
		oracle:     d.Oracle,
		model:      d.Model,
		store:      d.Store,
		guard:      guard,
		events:     d.Events,
		notifier:   d.Notifier,
		maxTokens:  maxTokens,
		timeout:    timeout,
		logger:     logger,
	}
	p.sessions = conversation.NewManager(p.loadSession)
	return p, nil
}

// TurnResult is what a caller shows after one turn.
type TurnResult struct {
	ConversationID  uuid.UUID          `json:"conversation_id"`
	Reply           string             `json:"reply"`
	Phase           conversation.Phase `json:"phase"`
	CurrentQuestion int                `json:"current_question"`
	TotalQuestions  int                `json:"total_questions"`
	Brief           *brief.Brief       `json:"brief,omitempty"`
	BriefMismatches []string           `json:"brief_mismatches,omitempty"`
	ProjectID       *uuid.UUID         `json:"project_id,omitempty"`
	ProjectVersion  int                `json:"project_version,omitempty"`
	NewVersion      bool               `json:"new_version"`
	PriceOutOfBand  bool               `json:"price_out_of_band,omitempty"`
	Warnings        []string           `json:"warnings,omitempty"`
	ErrorKind       string             `json:"error_kind,omitempty"`
	// Retryable is set on failed turns the caller may simply resend.
	Retryable bool `json:"retryable,omitempty"`
}

// HandleMessage runs one user turn.
func (p *Processor) HandleMessage(ctx context.Context, owner string, conversationID uuid.UUID, text string) (*TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, conversation.ErrEmptyAnswer)
	}
	sess, err := p.sessions.Get(ctx, owner, conversationID)
	if err != nil {
		return nil, err
	}
	msg := conversation.NewMessage(conversation.RoleUser, strings.TrimSpace(text))
	return p.run(ctx, sess, &msg)
}

// Retry re-runs generation for a conversation stuck in GENERATING.
func (p *Processor) Retry(ctx context.Context, owner string, conversationID uuid.UUID) (*TurnResult, error) {
	sess, err := p.sessions.Get(ctx, owner, conversationID)
	if err != nil {
		return nil, err
	}
	return p.run(ctx, sess, nil)
}

// run executes a turn. userMsg is nil for a retry.
func (p *Processor) run(ctx context.Context, sess *conversation.Session, userMsg *conversation.Message) (*TurnResult, error) {
	turn, err := sess.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer turn.Done()

	release, err := p.guard.Acquire(turn.Context(), sess.ID.String(), p.timeout+30*time.Second)
	switch {
	case errors.Is(err, inflight.ErrBusy):
		return nil, err
	case err != nil:
		// The guard backend is down; local serialisation still holds.
		p.logger.Warn("inflight guard unavailable", "conversation_id", sess.ID, "error", err)
		release = func() {}
	}
	defer release()

	snap := turn.Snapshot()
	logger := p.logger.With("conversation_id", sess.ID, "phase", snap.State.Phase)

	next := snap.State
	transcript := snap.Transcript
	if userMsg != nil {
		next, err = p.machine.Transition(snap.State, conversation.Event{Kind: conversation.EventUserMessage, Text: userMsg.Content})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		transcript = append(transcript, *userMsg)
	} else if snap.State.Phase != conversation.PhaseGenerating {
		return nil, fmt.Errorf("%w: retry is only possible while generating", ErrInvalidInput)
	}

	system, gen, err := p.instruction(next, transcript, snap)
	if err != nil {
		return nil, err
	}

	messages := oracleMessages(transcript)
	if len(messages) == 0 || messages[len(messages)-1].Role != conversation.RoleUser {
		messages = append(messages, anthropic.Message{Role: conversation.RoleUser, Content: retryNudge})
	}

	octx, cancel := context.WithTimeout(turn.Context(), p.timeout)
	start := time.Now()
	reply, err := p.oracle.Complete(octx, system, messages, p.maxTokens)
	cancel()
	metrics.ObserveOracle(string(next.Phase), start)

	if err != nil {
		if turn.Context().Err() != nil && ctx.Err() == nil {
			metrics.TurnsTotal.WithLabelValues(string(next.Phase), "stale").Inc()
			return nil, conversation.ErrStale
		}
		retryable := true
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) {
			retryable = apiErr.Retryable()
		}
		res := p.result(sess.ID, snap)
		res.ErrorKind = KindOracleUnavailable
		res.Retryable = retryable
		if retryable {
			metrics.TurnsTotal.WithLabelValues(string(next.Phase), KindOracleUnavailable).Inc()
			logger.Error("oracle call failed", "error", err)
			res.Reply = replyTryAgain
		} else {
			// Bad key, exhausted quota, malformed request: retrying will not help.
			metrics.TurnsTotal.WithLabelValues(string(next.Phase), "oracle_rejected").Inc()
			logger.Error("oracle rejected request", "status", apiErr.StatusCode, "type", apiErr.Type, "error", err)
			res.Reply = replyUnavailable
		}
		return res, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}

	out := snap
	out.State = next
	out.Transcript = transcript

	switch next.Phase {
	case conversation.PhaseQuestioning:
		return p.finishConversational(turn, sess, out, userMsg, brief.Strip(reply), logger)
	default:
		return p.finishBriefTurn(turn, sess, out, userMsg, reply, gen, logger)
	}
}

// instruction builds the system prompt for the phase after the transition.
func (p *Processor) instruction(next conversation.State, transcript []conversation.Message, snap conversation.Snapshot) (string, *template.Prompt, error) {
	switch next.Phase {
	case conversation.PhaseQuestioning:
		s, err := p.instructor.Questioning(next)
		return s, nil, err
	case conversation.PhaseGenerating:
		return p.instructor.Generating(next, transcript)
	case conversation.PhaseEditing:
		return p.instructor.Editing(snap.BriefRaw), nil, nil
	default:
		return "", nil, fmt.Errorf("build instruction: %w: %q", conversation.ErrUnknownPhase, next.Phase)
	}
}

// finishConversational commits a turn whose reply carries no brief.
func (p *Processor) finishConversational(turn *conversation.Turn, sess *conversation.Session, out conversation.Snapshot, userMsg *conversation.Message, reply string, logger *slog.Logger) (*TurnResult, error) {
	if reply == "" {
		if q, ok := p.machine.Question(out.State.CurrentQuestion); ok && out.State.Phase == conversation.PhaseQuestioning {
			reply = q.Text
		}
	}
	assistant := conversation.NewMessage(conversation.RoleAssistant, reply)
	out.Transcript = append(out.Transcript, assistant)
	if err := turn.Commit(out); err != nil {
		return nil, err
	}
	metrics.TurnsTotal.WithLabelValues(string(out.State.Phase), "ok").Inc()

	res := p.result(sess.ID, out)
	res.Reply = reply
	res.Warnings = p.persistTurn(turn.Context(), sess, out, logger, messagesOf(userMsg, &assistant)...)
	return res, nil
}

// finishBriefTurn handles GENERATING and EDITING replies.
func (p *Processor) finishBriefTurn(turn *conversation.Turn, sess *conversation.Session, out conversation.Snapshot, userMsg *conversation.Message, reply string, gen *template.Prompt, logger *slog.Logger) (*TurnResult, error) {
	ext, err := brief.Extract(reply)

	var parseErr *brief.ParseError
	switch {
	case errors.Is(err, brief.ErrNoBrief):
		metrics.BriefsExtractedTotal.WithLabelValues("none").Inc()
		if out.State.Phase == conversation.PhaseGenerating {
			out.State, _ = p.machine.Transition(out.State, conversation.Event{Kind: conversation.EventGenerationFailed})
		}
		return p.finishConversational(turn, sess, out, userMsg, reply, logger)

	case errors.As(err, &parseErr):
		metrics.BriefsExtractedTotal.WithLabelValues("invalid").Inc()
		logger.Error("brief unparseable", "error", err, "raw", reply)
		if out.State.Phase == conversation.PhaseGenerating {
			out.State, _ = p.machine.Transition(out.State, conversation.Event{Kind: conversation.EventGenerationFailed})
		}
		// Keep the user's message so a retry sees it; the garbled reply is dropped.
		if err := turn.Commit(out); err != nil {
			return nil, err
		}
		metrics.TurnsTotal.WithLabelValues(string(out.State.Phase), KindBriefUnparseable).Inc()
		res := p.result(sess.ID, out)
		res.Reply = replyUnparseable
		res.ErrorKind = KindBriefUnparseable
		res.Warnings = p.persistTurn(turn.Context(), sess, out, logger, messagesOf(userMsg, nil)...)
		return res, fmt.Errorf("%w: %w", ErrBriefUnparseable, err)

	case err != nil:
		return nil, err
	}

	metrics.BriefsExtractedTotal.WithLabelValues("ok").Inc()
	check := p.normalise(&ext.Brief, out.State.Answers, gen)
	// The oracle's JSON stays authoritative; only normalised fields are
	// written back into it.
	raw, err := brief.Merge(ext.Raw, ext.Brief)
	if err != nil {
		logger.Warn("brief is not an object, storing typed form", "error", err)
		if raw, err = marshalBrief(ext.Brief); err != nil {
			return nil, err
		}
	}

	if out.State.Phase == conversation.PhaseGenerating {
		out.State, _ = p.machine.Transition(out.State, conversation.Event{Kind: conversation.EventBriefExtracted})
	}
	out.Brief = &ext.Brief
	out.BriefRaw = raw

	display := brief.Strip(reply)
	if display == "" {
		display = replyBriefReady
	}
	// The transcript keeps the full reply so the oracle sees its own brief.
	assistant := conversation.NewMessage(conversation.RoleAssistant, reply)
	out.Transcript = append(out.Transcript, assistant)

	var warnings []string
	if check.warning != "" {
		warnings = append(warnings, check.warning)
	}

	// From here on this turn will commit; a newer request waits for it
	// instead of superseding it, so a saved version is never orphaned.
	if err := turn.Seal(); err != nil {
		return nil, err
	}
	parentID := out.ProjectID
	project, perr := p.store.InsertProject(turn.Context(), store.NewProject{
		OwnerID:        sess.Owner,
		ConversationID: &sess.ID,
		ProductName:    ext.Brief.ProductName,
		Brief:          raw,
		RawOutput:      reply,
		RequestMeta:    p.requestMeta(out.State.Phase, check, ext.Mismatches),
		ParentID:       uuidPtr(parentID),
	})
	if perr != nil {
		op := "insert_project"
		if errors.Is(perr, store.ErrVersionConflict) {
			op = "version_conflict"
		}
		metrics.PersistenceFailuresTotal.WithLabelValues(op).Inc()
		logger.Error("failed to save project", "error", perr)
		warnings = append(warnings, warnNotSaved)
	} else {
		out.ProjectID = project.ID
		out.ProjectVersion = project.Version
	}

	if err := turn.Commit(out); err != nil {
		return nil, err
	}
	metrics.TurnsTotal.WithLabelValues(string(out.State.Phase), "brief").Inc()

	res := p.result(sess.ID, out)
	res.Reply = display
	res.BriefMismatches = ext.Mismatches
	res.PriceOutOfBand = check.outOfBand
	res.NewVersion = perr == nil
	res.Warnings = append(warnings, p.persistTurn(turn.Context(), sess, out, logger, messagesOf(userMsg, &assistant)...)...)

	if project != nil {
		p.announce(turn.Context(), sess, project, ext.Brief, logger)
	}
	logger.Info("brief saved", "project_id", out.ProjectID, "version", out.ProjectVersion, "mismatches", len(ext.Mismatches))
	return res, nil
}

func (p *Processor) result(id uuid.UUID, snap conversation.Snapshot) *TurnResult {
	res := &TurnResult{
		ConversationID:  id,
		Phase:           snap.State.Phase,
		CurrentQuestion: snap.State.CurrentQuestion,
		TotalQuestions:  len(p.machine.Questions()),
		Brief:           snap.Brief,
		ProjectVersion:  snap.ProjectVersion,
	}
	res.ProjectID = uuidPtr(snap.ProjectID)
	return res
}

func messagesOf(msgs ...*conversation.Message) []conversation.Message {
	var out []conversation.Message
	for _, m := range msgs {
		if m != nil {
			out = append(out, *m)
		}
	}
	return out
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
