package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sydlexius/contentguard/internal/source"
)

// entry is the stored form of a CandidateResult. Metadata is wrapped in a
// kind-tagged envelope so the variant survives the round trip.
type entry struct {
	SourceType source.Type `json:"source_type"`
	SourceURL  string      `json:"source_url"`
	Domain     string      `json:"domain"`
	Title      string      `json:"title"`
	Snippet    string      `json:"snippet"`
	Confidence int         `json:"confidence"`
	DetectedAt time.Time   `json:"detected_at"`
	Metadata   *envelope   `json:"metadata,omitempty"`
}

type envelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func encodeResults(results []source.CandidateResult) ([]byte, error) {
	entries := make([]entry, 0, len(results))
	for _, r := range results {
		e := entry{
			SourceType: r.SourceType,
			SourceURL:  r.SourceURL,
			Domain:     r.Domain,
			Title:      r.Title,
			Snippet:    r.Snippet,
			Confidence: r.Confidence,
			DetectedAt: r.DetectedAt,
		}
		if r.Metadata != nil {
			data, err := json.Marshal(r.Metadata)
			if err != nil {
				return nil, fmt.Errorf("encoding %s metadata: %w", r.Metadata.Kind(), err)
			}
			e.Metadata = &envelope{Kind: r.Metadata.Kind(), Data: data}
		}
		entries = append(entries, e)
	}
	return json.Marshal(entries)
}

func decodeResults(payload []byte) ([]source.CandidateResult, error) {
	var entries []entry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	results := make([]source.CandidateResult, 0, len(entries))
	for _, e := range entries {
		r := source.CandidateResult{
			SourceType: e.SourceType,
			SourceURL:  e.SourceURL,
			Domain:     e.Domain,
			Title:      e.Title,
			Snippet:    e.Snippet,
			Confidence: e.Confidence,
			DetectedAt: e.DetectedAt,
		}
		if e.Metadata != nil {
			md, err := decodeMetadata(e.Metadata)
			if err != nil {
				return nil, err
			}
			r.Metadata = md
		}
		results = append(results, r)
	}
	return results, nil
}

func decodeMetadata(env *envelope) (source.Metadata, error) {
	switch env.Kind {
	case source.TorrentMeta{}.Kind():
		var m source.TorrentMeta
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("decoding torrent metadata: %w", err)
		}
		return m, nil
	case source.MessagingMeta{}.Kind():
		var m source.MessagingMeta
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("decoding messaging metadata: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown metadata kind %q", env.Kind)
	}
}
