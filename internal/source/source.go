package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sydlexius/contentguard/internal/content"
)

// Type identifies the kind of external source a candidate came from.
type Type string

// Known source types.
const (
	TypeWebSearch Type = "web_search"
	TypeMessaging Type = "messaging"
	TypeTorrent   Type = "torrent"
)

// AllTypes returns every source type in registry order.
func AllTypes() []Type {
	return []Type{TypeWebSearch, TypeMessaging, TypeTorrent}
}

// Valid reports whether t is a known source type.
func (t Type) Valid() bool {
	switch t {
	case TypeWebSearch, TypeMessaging, TypeTorrent:
		return true
	}
	return false
}

// CandidateResult is a normalized potential infringement produced by an
// adapter. It lives only for the duration of a scan (or as a cache snapshot).
type CandidateResult struct {
	SourceType Type      `json:"source_type"`
	SourceURL  string    `json:"source_url"`
	Domain     string    `json:"domain"`
	Title      string    `json:"title"`
	Snippet    string    `json:"snippet"`
	Confidence int       `json:"confidence"`
	DetectedAt time.Time `json:"detected_at"`
	Metadata   Metadata  `json:"-"`
}

// Metadata is the per-source extra data attached to a candidate. The set of
// implementations is closed: TorrentMeta and MessagingMeta.
type Metadata interface {
	Kind() string
	sealed()
}

// TorrentMeta carries swarm details reported by a torrent index.
type TorrentMeta struct {
	Site     string `json:"site"`
	Seeders  int    `json:"seeders"`
	Leechers int    `json:"leechers"`
	Size     string `json:"size,omitempty"`
}

// Kind returns "torrent".
func (TorrentMeta) Kind() string { return "torrent" }
func (TorrentMeta) sealed()      {}

// MessagingMeta identifies the public channel post a candidate points at.
type MessagingMeta struct {
	ChannelTitle  string `json:"channel_title"`
	ChannelHandle string `json:"channel_handle"`
	MessageID     int    `json:"message_id"`
}

// Kind returns "messaging".
func (MessagingMeta) Kind() string { return "messaging" }
func (MessagingMeta) sealed()      {}

// Adapter searches one external source for copies of a content item.
//
// Transport failures, timeouts, non-2xx responses and malformed payloads are
// absorbed by the adapter: it logs them and returns whatever it collected.
// A non-nil error means a context or programming failure.
type Adapter interface {
	Type() Type
	Search(ctx context.Context, c *content.ProtectedContent) ([]CandidateResult, error)
}

// ErrNotConfigured indicates a source has no credentials and runs disabled.
var ErrNotConfigured = errors.New("source not configured")

// ErrSourceUnavailable indicates a transient transport failure (timeout,
// non-2xx status, unreadable payload) from one endpoint of a source.
type ErrSourceUnavailable struct {
	Source   Type
	Endpoint string
	Cause    error
}

func (e *ErrSourceUnavailable) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("source %s (%s) unavailable: %v", e.Source, e.Endpoint, e.Cause)
	}
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Cause)
}

func (e *ErrSourceUnavailable) Unwrap() error { return e.Cause }
