package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sydlexius/contentguard/internal/event"
)

const (
	maxRetries     = 3
	requestTimeout = 10 * time.Second
)

// Webhook endpoint formats.
const (
	FormatGeneric = "generic"
	FormatSlack   = "slack"
	FormatDiscord = "discord"
)

// Endpoint is one outbound webhook target.
type Endpoint struct {
	URL    string `yaml:"url"`
	Format string `yaml:"format"`
}

// WebhookSink posts events to a fixed set of endpoints.
type WebhookSink struct {
	endpoints  []Endpoint
	httpClient *http.Client
	backoff    time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(endpoints []Endpoint, logger *slog.Logger) *WebhookSink {
	return NewWebhookSinkWithHTTPClient(endpoints, &http.Client{Timeout: requestTimeout}, time.Second, logger)
}

// NewWebhookSinkWithHTTPClient creates a webhook sink with a custom HTTP
// client and retry backoff base (for testing).
func NewWebhookSinkWithHTTPClient(endpoints []Endpoint, httpClient *http.Client, backoff time.Duration, logger *slog.Logger) *WebhookSink {
	return &WebhookSink{
		endpoints:  endpoints,
		httpClient: httpClient,
		backoff:    backoff,
		logger:     logger.With(slog.String("component", "webhook-sink")),
	}
}

// HandleEvent delivers e to every endpoint in the background. Events
// arriving after Close are dropped.
func (s *WebhookSink) HandleEvent(e event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Warn("webhook sink closed, dropping event", slog.String("event", string(e.Type)))
		return
	}
	for _, ep := range s.endpoints {
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.deliver(ep, e)
		}()
	}
}

// Close stops accepting events and waits for in-flight deliveries,
// including their retries, to finish.
func (s *WebhookSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()
	return nil
}

func (s *WebhookSink) deliver(ep Endpoint, e event.Event) {
	body, err := formatPayload(ep.Format, e)
	if err != nil {
		s.logger.Error("formatting webhook payload", slog.String("type", string(e.Type)), slog.String("error", err.Error()))
		return
	}

	var lastErr error
	for attempt := range maxRetries {
		if attempt > 0 {
			time.Sleep(s.backoff * time.Duration(1<<uint(attempt-1)))
		}

		lastErr = s.send(ep.URL, body)
		if lastErr == nil {
			s.logger.Debug("webhook delivered",
				slog.String("url", ep.URL),
				slog.String("event", string(e.Type)),
				slog.Int("attempt", attempt+1))
			return
		}

		s.logger.Warn("webhook delivery failed",
			slog.String("url", ep.URL),
			slog.String("event", string(e.Type)),
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()))
	}

	s.logger.Error("webhook delivery exhausted retries",
		slog.String("url", ep.URL),
		slog.String("event", string(e.Type)),
		slog.String("error", lastErr.Error()))
}

func (s *WebhookSink) send(url string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ContentGuard-Webhook/1.0")

	resp, err := s.httpClient.Do(req) //nolint:gosec // URL comes from operator config
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()        //nolint:errcheck
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func formatPayload(format string, e event.Event) ([]byte, error) {
	switch format {
	case FormatSlack:
		return json.Marshal(map[string]any{
			"text": fmt.Sprintf("*ContentGuard: %s*\n%s", e.Type, describe(e)),
		})
	case FormatDiscord:
		return json.Marshal(map[string]any{
			"embeds": []map[string]any{{
				"title":       fmt.Sprintf("ContentGuard: %s", e.Type),
				"description": describe(e),
				"color":       15158332,
				"timestamp":   e.Timestamp.UTC().Format(time.RFC3339),
			}},
		})
	default:
		return json.Marshal(e)
	}
}

// describe renders a one-line human summary of e.
func describe(e event.Event) string {
	switch p := e.Payload.(type) {
	case event.Detection:
		return fmt.Sprintf("New %s finding for content %s (confidence %d): %s",
			p.SourceType, e.ContentID, p.Confidence, p.SourceURL)
	case event.ScanSummary:
		return fmt.Sprintf("Scan of content %s finished: %d results, %d new",
			e.ContentID, p.ResultsCount, p.NewInfringements)
	case event.ScanFailure:
		return fmt.Sprintf("Scan of content %s failed: %s", e.ContentID, p.Error)
	default:
		return string(e.Type)
	}
}
