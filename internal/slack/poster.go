// Package slack posts new brief versions to a Slack channel. Later
// versions of a conversation's brief are threaded under the first.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// BriefNotice summarises one brief version.
type BriefNotice struct {
	ConversationID string
	ProjectID      string
	Version        int
	ProductName    string
	ProductID      string
	Category       string
	Positioning    string
	TargetPriceUSD float64
	OwnerID        string
}

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string

	mu      sync.Mutex
	threads map[string]string // conversation id -> ts of the first post
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
		threads: make(map[string]string),
	}
}

// NotifyBrief posts n. The first brief of a conversation starts a thread;
// later versions reply in it.
func (p *Poster) NotifyBrief(ctx context.Context, n BriefNotice) error {
	text := formatBriefMessage(n)

	p.mu.Lock()
	threadTS, ok := p.threads[n.ConversationID]
	p.mu.Unlock()

	if ok {
		return p.PostThread(ctx, threadTS, text)
	}

	ts, err := p.PostBriefSummary(ctx, text)
	if err != nil {
		return err
	}
	if n.ConversationID != "" {
		p.mu.Lock()
		p.threads[n.ConversationID] = ts
		p.mu.Unlock()
	}
	p.logger.Info("posted brief to slack", "ts", ts, "project_id", n.ProjectID)
	return nil
}

// PostBriefSummary posts a top-level message and returns its ts.
func (p *Poster) PostBriefSummary(ctx context.Context, text string) (string, error) {
	return p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
		},
	})
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	_, err := p.post(ctx, map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	return err
}

func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatBriefMessage(n BriefNotice) string {
	var sb strings.Builder

	if n.Version <= 1 {
		fmt.Fprintf(&sb, "*New brief:* %s (`%s`)\n", n.ProductName, n.ProductID)
	} else {
		fmt.Fprintf(&sb, "*Brief updated to v%d:* %s (`%s`)\n", n.Version, n.ProductName, n.ProductID)
	}
	fmt.Fprintf(&sb, "*Category:* %s | *Positioning:* %s", orDash(n.Category), orDash(n.Positioning))
	if n.TargetPriceUSD > 0 {
		fmt.Fprintf(&sb, " | *Target price:* $%.2f", n.TargetPriceUSD)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "*Owner:* %s | *Project:* %s", n.OwnerID, n.ProjectID)
	return sb.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
