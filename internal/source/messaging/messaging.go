// Package messaging finds infringing posts in public messaging channels.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/sydlexius/contentguard/internal/content"
	"github.com/sydlexius/contentguard/internal/scoring"
	"github.com/sydlexius/contentguard/internal/source"
)

const (
	searchLimit   = 20
	snippetLength = 200
	linkDomain    = "t.me"
)

// Message is one search hit. ChannelHandle is empty for private chats and
// groups without a public username.
type Message struct {
	ID            int
	Text          string
	Date          time.Time
	ChannelTitle  string
	ChannelHandle string
}

// Searcher runs a global message search across the platform.
type Searcher interface {
	SearchGlobal(ctx context.Context, query string, limit int) ([]Message, error)
}

// Adapter implements source.Adapter for the messaging platform.
type Adapter struct {
	searcher Searcher
	limiter  *source.RateLimiterMap
	logger   *slog.Logger
}

// New creates a messaging adapter. A nil searcher disables the adapter.
func New(searcher Searcher, limiter *source.RateLimiterMap, logger *slog.Logger) *Adapter {
	return &Adapter{
		searcher: searcher,
		limiter:  limiter,
		logger:   logger.With(slog.String("source", string(source.TypeMessaging))),
	}
}

// Type returns source.TypeMessaging.
func (a *Adapter) Type() source.Type { return source.TypeMessaging }

// Search looks for the content title in public channel posts. Every hit in a
// channel with a public handle becomes a candidate with fixed confidence.
func (a *Adapter) Search(ctx context.Context, c *content.ProtectedContent) ([]source.CandidateResult, error) {
	if a.searcher == nil {
		a.logger.Debug("messaging not configured, skipping")
		return nil, nil
	}
	if err := a.limiter.Wait(ctx, source.TypeMessaging); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	msgs, err := a.searcher.SearchGlobal(ctx, c.Title, searchLimit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("global search failed", slog.String("error", err.Error()))
		return nil, nil
	}

	var results []source.CandidateResult
	for _, m := range msgs {
		if m.ChannelHandle == "" {
			continue
		}
		results = append(results, source.CandidateResult{
			SourceType: source.TypeMessaging,
			SourceURL:  fmt.Sprintf("https://%s/%s/%d", linkDomain, m.ChannelHandle, m.ID),
			Domain:     linkDomain,
			Title:      fmt.Sprintf("Post in %s (@%s)", m.ChannelTitle, m.ChannelHandle),
			Snippet:    truncate(m.Text, snippetLength),
			Confidence: scoring.MessagingConfidence,
			DetectedAt: m.Date.UTC(),
			Metadata: source.MessagingMeta{
				ChannelTitle:  m.ChannelTitle,
				ChannelHandle: m.ChannelHandle,
				MessageID:     m.ID,
			},
		})
	}

	a.logger.Debug("messaging search completed",
		slog.String("content_id", c.ID),
		slog.Int("messages", len(msgs)),
		slog.Int("results", len(results)))
	return results, nil
}

// truncate returns the first n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
