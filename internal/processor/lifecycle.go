package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/briefsmith/internal/brief"
	"github.com/MikeSquared-Agency/briefsmith/internal/conversation"
	"github.com/MikeSquared-Agency/briefsmith/internal/metrics"
)

// View is a read-only picture of a conversation.
type View struct {
	ConversationID     uuid.UUID              `json:"conversation_id"`
	Phase              conversation.Phase     `json:"phase"`
	CurrentQuestion    int                    `json:"current_question"`
	TotalQuestions     int                    `json:"total_questions"`
	QuestionsCompleted bool                   `json:"questions_completed"`
	Transcript         []conversation.Message `json:"transcript"`
	Brief              *brief.Brief           `json:"brief,omitempty"`
	ProjectID          *uuid.UUID             `json:"project_id,omitempty"`
	ProjectVersion     int                    `json:"project_version,omitempty"`
	Warnings           []string               `json:"warnings,omitempty"`
}

func (p *Processor) view(id uuid.UUID, snap conversation.Snapshot) *View {
	transcript := snap.Transcript
	if transcript == nil {
		transcript = []conversation.Message{}
	}
	return &View{
		ConversationID:     id,
		Phase:              snap.State.Phase,
		CurrentQuestion:    snap.State.CurrentQuestion,
		TotalQuestions:     len(p.machine.Questions()),
		QuestionsCompleted: snap.State.QuestionsCompleted,
		Transcript:         transcript,
		Brief:              snap.Brief,
		ProjectID:          uuidPtr(snap.ProjectID),
		ProjectVersion:     snap.ProjectVersion,
	}
}

// Start opens a conversation. With a project id it starts in EDITING on
// that project's brief; otherwise it greets with the first question. No
// oracle call is made.
func (p *Processor) Start(ctx context.Context, owner string, projectID *uuid.UUID) (*View, error) {
	var snap conversation.Snapshot
	var greeting string

	if projectID != nil {
		proj, err := p.store.GetProject(ctx, owner, *projectID)
		if err != nil {
			return nil, err
		}
		ext, err := brief.Decode(proj.Brief)
		if err != nil {
			return nil, fmt.Errorf("decode project brief: %w", err)
		}
		snap.State = conversation.Initial(true)
		snap.Brief = &ext.Brief
		snap.BriefRaw = ext.Raw
		snap.ProjectID = proj.ID
		snap.ProjectVersion = proj.Version
		greeting = fmt.Sprintf("Here's the current brief for %s (version %d). What would you like to change?", proj.ProductName, proj.Version)
	} else {
		snap.State = conversation.Initial(false)
		greeting = p.instructor.Greeting()
	}

	msg := conversation.NewMessage(conversation.RoleAssistant, greeting)
	snap.Transcript = []conversation.Message{msg}

	sess := conversation.NewSession(uuid.New(), owner, snap)
	p.sessions.Add(sess)
	logger := p.logger.With("conversation_id", sess.ID, "phase", snap.State.Phase)
	logger.Info("conversation started", "owner", owner)
	metrics.TurnsTotal.WithLabelValues(string(snap.State.Phase), "start").Inc()

	v := p.view(sess.ID, snap)
	v.Warnings = p.persistTurn(ctx, sess, snap, logger, msg)
	return v, nil
}

// Restart discards in-memory progress and returns to the first question.
// Persisted messages and projects are kept; the epoch is bumped so older
// messages are no longer replayed.
func (p *Processor) Restart(ctx context.Context, owner string, conversationID uuid.UUID) (*View, error) {
	sess, err := p.sessions.Get(ctx, owner, conversationID)
	if err != nil {
		return nil, err
	}
	turn, err := sess.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer turn.Done()

	snap := turn.Snapshot()
	state, err := p.machine.Transition(snap.State, conversation.Event{Kind: conversation.EventRestart})
	if err != nil {
		return nil, err
	}
	msg := conversation.NewMessage(conversation.RoleAssistant, p.instructor.Greeting())
	out := conversation.Snapshot{
		State:      state,
		Transcript: []conversation.Message{msg},
		Epoch:      snap.Epoch + 1,
	}
	if err := turn.Commit(out); err != nil {
		return nil, err
	}

	logger := p.logger.With("conversation_id", sess.ID, "phase", out.State.Phase)
	logger.Info("conversation restarted", "epoch", out.Epoch)
	metrics.TurnsTotal.WithLabelValues(string(out.State.Phase), "restart").Inc()

	v := p.view(sess.ID, out)
	v.Warnings = p.persistTurn(turn.Context(), sess, out, logger, msg)
	return v, nil
}

// View returns the caller's conversation.
func (p *Processor) View(ctx context.Context, owner string, conversationID uuid.UUID) (*View, error) {
	sess, err := p.sessions.Get(ctx, owner, conversationID)
	if err != nil {
		return nil, err
	}
	return p.view(sess.ID, sess.Snapshot()), nil
}

// EvictIdle drops sessions unused for longer than idle. Their state is in
// the store and is rehydrated on the next request.
func (p *Processor) EvictIdle(idle time.Duration) int {
	n := p.sessions.Evict(idle)
	metrics.SessionsLive.Set(float64(p.sessions.Len()))
	if n > 0 {
		p.logger.Debug("evicted idle sessions", "count", n)
	}
	return n
}

// Janitor runs EvictIdle every interval until ctx is done.
func (p *Processor) Janitor(ctx context.Context, every, idle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.EvictIdle(idle)
		}
	}
}
