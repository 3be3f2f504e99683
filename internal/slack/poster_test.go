package slack

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFormatBriefMessage(t *testing.T) {
	msg := formatBriefMessage(BriefNotice{
		ProjectID:      "p-1",
		Version:        1,
		ProductName:    "Sleep Gummies",
		ProductID:      "sleep-gummies",
		Category:       "supplement",
		Positioning:    "mid-range",
		TargetPriceUSD: 24.99,
		OwnerID:        "user-1",
	})

	checks := []string{
		"New brief:* Sleep Gummies",
		"`sleep-gummies`",
		"supplement",
		"mid-range",
		"$24.99",
		"user-1",
	}
	for _, check := range checks {
		if !strings.Contains(msg, check) {
			t.Errorf("expected message to contain %q, got %q", check, msg)
		}
	}

	updated := formatBriefMessage(BriefNotice{Version: 3, ProductName: "X"})
	if !strings.Contains(updated, "v3") {
		t.Errorf("expected version in update message, got %q", updated)
	}
	if !strings.Contains(updated, "*Category:* -") {
		t.Errorf("expected dash for missing category, got %q", updated)
	}
}

func TestNotifyBrief_ThreadsLaterVersions(t *testing.T) {
	var mu sync.Mutex
	var payloads []map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			t.Errorf("expected Bearer xoxb-test, got %q", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		json.Unmarshal(body, &payload)

		mu.Lock()
		payloads = append(payloads, payload)
		mu.Unlock()

		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"ts": "1234567890.123456",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	ctx := context.Background()
	if err := p.NotifyBrief(ctx, BriefNotice{ConversationID: "c-1", Version: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.NotifyBrief(ctx, BriefNotice{ConversationID: "c-1", Version: 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(payloads) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(payloads))
	}
	if payloads[0]["channel"] != "C123" {
		t.Errorf("expected channel C123, got %v", payloads[0]["channel"])
	}
	if _, ok := payloads[0]["thread_ts"]; ok {
		t.Error("first post must not be threaded")
	}
	if payloads[1]["thread_ts"] != "1234567890.123456" {
		t.Errorf("expected reply in thread, got %v", payloads[1]["thread_ts"])
	}
}

func TestNotifyBrief_SlackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ok":    false,
			"error": "channel_not_found",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	err := p.NotifyBrief(context.Background(), BriefNotice{ConversationID: "c-1", Version: 1})
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("expected slack error, got %v", err)
	}
	if len(p.threads) != 0 {
		t.Error("failed post must not start a thread")
	}
}
