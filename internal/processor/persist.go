package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/briefsmith/internal/brief"
	"github.com/MikeSquared-Agency/briefsmith/internal/conversation"
	"github.com/MikeSquared-Agency/briefsmith/internal/hermes"
	"github.com/MikeSquared-Agency/briefsmith/internal/metrics"
	"github.com/MikeSquared-Agency/briefsmith/internal/slack"
	"github.com/MikeSquared-Agency/briefsmith/internal/store"
)

const persistTimeout = 10 * time.Second

// persistedState is the conversations.state column.
type persistedState struct {
	State          conversation.State `json:"state"`
	Brief          json.RawMessage    `json:"brief,omitempty"`
	ProjectVersion int                `json:"project_version,omitempty"`
}

func encodeState(snap conversation.Snapshot) (json.RawMessage, error) {
	data, err := json.Marshal(persistedState{
		State:          snap.State,
		Brief:          snap.BriefRaw,
		ProjectVersion: snap.ProjectVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("encode conversation state: %w", err)
	}
	return data, nil
}

// persistTurn writes the committed snapshot and the turn's new messages.
// Writes outlive the turn's context so a superseding request cannot abort
// them. Failures are returned as user-facing warnings.
func (p *Processor) persistTurn(ctx context.Context, sess *conversation.Session, snap conversation.Snapshot, logger *slog.Logger, msgs ...conversation.Message) []string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	failed := false
	if err := p.saveConversation(ctx, sess, snap); err != nil {
		metrics.PersistenceFailuresTotal.WithLabelValues("save_conversation").Inc()
		logger.Error("failed to save conversation", "error", err)
		failed = true
	}

	if len(msgs) > 0 && !failed {
		rows := make([]store.Message, 0, len(msgs))
		for _, m := range msgs {
			rows = append(rows, store.Message{
				ID:             m.ID,
				ConversationID: sess.ID,
				ProjectID:      uuidPtr(snap.ProjectID),
				Epoch:          snap.Epoch,
				Role:           m.Role,
				Content:        m.Content,
				CreatedAt:      m.CreatedAt,
			})
		}
		if err := p.store.AppendMessages(ctx, rows...); err != nil {
			metrics.PersistenceFailuresTotal.WithLabelValues("append_messages").Inc()
			logger.Error("failed to save messages", "error", err)
			failed = true
		}
	}

	if failed {
		return []string{warnNotSaved}
	}
	return nil
}

// saveConversation updates the conversation row, creating it if an earlier
// create failed.
func (p *Processor) saveConversation(ctx context.Context, sess *conversation.Session, snap conversation.Snapshot) error {
	state, err := encodeState(snap)
	if err != nil {
		return err
	}
	row := store.Conversation{
		ID:        sess.ID,
		OwnerID:   sess.Owner,
		State:     state,
		ProjectID: uuidPtr(snap.ProjectID),
		Epoch:     snap.Epoch,
	}
	err = p.store.UpdateConversation(ctx, row)
	if errors.Is(err, store.ErrNotFound) {
		return p.store.CreateConversation(ctx, row)
	}
	return err
}

// loadSession rebuilds a session from the store after a restart.
func (p *Processor) loadSession(ctx context.Context, id uuid.UUID) (*conversation.Session, error) {
	c, err := p.store.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load conversation: %w", conversation.ErrNotFound)
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	var ps persistedState
	if err := json.Unmarshal(c.State, &ps); err != nil {
		return nil, fmt.Errorf("decode conversation state: %w", err)
	}
	snap := conversation.Snapshot{
		State:          ps.State,
		ProjectVersion: ps.ProjectVersion,
		Epoch:          c.Epoch,
	}
	if c.ProjectID != nil {
		snap.ProjectID = *c.ProjectID
	}
	if len(ps.Brief) > 0 {
		ext, err := brief.Decode(ps.Brief)
		if err != nil {
			return nil, fmt.Errorf("decode conversation brief: %w", err)
		}
		snap.Brief = &ext.Brief
		snap.BriefRaw = ext.Raw
	}

	rows, err := p.store.ListMessages(ctx, id, c.Epoch)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	for _, r := range rows {
		snap.Transcript = append(snap.Transcript, conversation.Message{
			ID:        r.ID,
			Role:      r.Role,
			Content:   r.Content,
			CreatedAt: r.CreatedAt,
		})
	}

	p.logger.Info("conversation rehydrated", "conversation_id", id, "phase", snap.State.Phase, "messages", len(rows))
	return conversation.NewSession(id, c.OwnerID, snap), nil
}

func (p *Processor) requestMeta(phase conversation.Phase, check priceCheck, mismatches []string) json.RawMessage {
	meta := map[string]any{
		"model":                 p.model,
		"phase":                 phase,
		"category":              check.category,
		"positioning":           check.positioning,
		"price_range":           check.priceRange,
		"price_out_of_band":     check.outOfBand,
		"used_default_template": check.usedDefault,
	}
	if len(mismatches) > 0 {
		meta["field_mismatches"] = mismatches
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// announce publishes the new version and notifies Slack. Both are best effort.
func (p *Processor) announce(ctx context.Context, sess *conversation.Session, project *store.Project, b brief.Brief, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if p.events != nil {
		evt := hermes.BriefGenerated{
			ProjectID:   project.ID.String(),
			Version:     project.Version,
			OwnerID:     project.OwnerID,
			ProductID:   b.ProductID,
			ProductName: b.ProductName,
			Category:    b.Category,
			Positioning: b.Positioning,
			CreatedAt:   project.CreatedAt,
		}
		if project.ParentID != nil {
			evt.ParentID = project.ParentID.String()
		}
		if err := p.events.PublishBriefGenerated(ctx, evt); err != nil {
			logger.Warn("failed to publish brief event", "project_id", project.ID, "error", err)
		}
	}

	if p.notifier != nil {
		err := p.notifier.NotifyBrief(ctx, slack.BriefNotice{
			ConversationID: sess.ID.String(),
			ProjectID:      project.ID.String(),
			Version:        project.Version,
			ProductName:    b.ProductName,
			ProductID:      b.ProductID,
			Category:       b.Category,
			Positioning:    b.Positioning,
			TargetPriceUSD: b.TargetPriceUSD,
			OwnerID:        project.OwnerID,
		})
		if err != nil {
			logger.Warn("failed to notify slack", "project_id", project.ID, "error", err)
		}
	}
}
