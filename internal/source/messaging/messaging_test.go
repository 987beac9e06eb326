package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/gotd/td/tg"

	"github.com/sydlexius/contentguard/internal/content"
	"github.com/sydlexius/contentguard/internal/scoring"
	"github.com/sydlexius/contentguard/internal/source"
)

type fakeSearcher struct {
	msgs  []Message
	err   error
	query string
	limit int
	calls int
}

func (f *fakeSearcher) SearchGlobal(_ context.Context, query string, limit int) ([]Message, error) {
	f.calls++
	f.query, f.limit = query, limit
	return f.msgs, f.err
}

func testContent() *content.ProtectedContent {
	return &content.ProtectedContent{
		ID:       "content-1",
		Title:    "Advanced Go Patterns",
		Type:     content.TypeVideo,
		Keywords: []string{"golang"},
	}
}

func TestSearch_PublicChannelsOnly(t *testing.T) {
	posted := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	f := &fakeSearcher{msgs: []Message{
		{ID: 42, Text: "Advanced Go Patterns full course mega link", Date: posted, ChannelTitle: "Course Leaks", ChannelHandle: "courseleaks"},
		{ID: 7, Text: "private group share", Date: posted, ChannelTitle: "Friends"},
		{ID: 9, Text: strings.Repeat("é", 250), Date: posted, ChannelTitle: "Dumps", ChannelHandle: "dumps"},
	}}
	a := New(f, source.Unlimited(), slog.Default())

	results, err := a.Search(context.Background(), testContent())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if f.query != "Advanced Go Patterns" || f.limit != 20 {
		t.Errorf("SearchGlobal(%q, %d), want (%q, 20)", f.query, f.limit, "Advanced Go Patterns")
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	r := results[0]
	if r.SourceURL != "https://t.me/courseleaks/42" {
		t.Errorf("SourceURL = %q", r.SourceURL)
	}
	if r.Domain != "t.me" {
		t.Errorf("Domain = %q, want t.me", r.Domain)
	}
	if r.Title != "Post in Course Leaks (@courseleaks)" {
		t.Errorf("Title = %q", r.Title)
	}
	if r.Confidence != scoring.MessagingConfidence {
		t.Errorf("Confidence = %d, want %d", r.Confidence, scoring.MessagingConfidence)
	}
	if !r.DetectedAt.Equal(posted) {
		t.Errorf("DetectedAt = %v, want %v", r.DetectedAt, posted)
	}
	meta, ok := r.Metadata.(source.MessagingMeta)
	if !ok || meta.MessageID != 42 || meta.ChannelHandle != "courseleaks" {
		t.Errorf("Metadata = %#v", r.Metadata)
	}

	if n := len([]rune(results[1].Snippet)); n != 200 {
		t.Errorf("snippet length = %d runes, want 200", n)
	}
}

func TestSearch_Disabled(t *testing.T) {
	a := New(nil, source.Unlimited(), slog.Default())
	results, err := a.Search(context.Background(), testContent())
	if err != nil || len(results) != 0 {
		t.Errorf("Search = %v, %v; want empty, nil", results, err)
	}
}

func TestSearch_SearcherErrorIsAbsorbed(t *testing.T) {
	f := &fakeSearcher{err: errors.New("FLOOD_WAIT_30")}
	a := New(f, source.Unlimited(), slog.Default())

	results, err := a.Search(context.Background(), testContent())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestConvertMessages(t *testing.T) {
	chats := []tg.ChatClass{
		&tg.Channel{ID: 100, Title: "Course Leaks", Username: "courseleaks"},
		&tg.Channel{ID: 200, Title: "Hidden"},
		&tg.Chat{ID: 300, Title: "Group"},
	}
	msgs := []tg.MessageClass{
		&tg.Message{ID: 1, Message: "hello", Date: 1700000000, PeerID: &tg.PeerChannel{ChannelID: 100}},
		&tg.Message{ID: 2, Message: "no handle", Date: 1700000000, PeerID: &tg.PeerChannel{ChannelID: 200}},
		&tg.Message{ID: 3, Message: "group", Date: 1700000000, PeerID: &tg.PeerChat{ChatID: 300}},
		&tg.MessageService{ID: 4},
		&tg.MessageEmpty{ID: 5},
	}

	got := convertMessages(msgs, chats)
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	if got[0].ChannelHandle != "courseleaks" || got[0].ChannelTitle != "Course Leaks" {
		t.Errorf("first message channel = %q/%q", got[0].ChannelTitle, got[0].ChannelHandle)
	}
	if !got[0].Date.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Date = %v", got[0].Date)
	}
	if got[1].ChannelHandle != "" || got[2].ChannelHandle != "" {
		t.Error("expected no handle for non-public peers")
	}
}

func TestTelegramClient_BadSession(t *testing.T) {
	c := NewTelegramClient(TelegramConfig{AppID: 1, AppHash: "hash", Session: "not-a-session"}, slog.Default())
	if _, err := c.SearchGlobal(context.Background(), "q", 1); err == nil {
		t.Error("expected error for malformed session")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close on unconnected client: %v", err)
	}
}
