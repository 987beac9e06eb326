package content

import (
	"fmt"
	"time"
)

// Type classifies what kind of work a ProtectedContent is. Scoring and
// query construction branch on it, so every switch over Type must handle
// each constant below.
type Type string

// Known content types.
const (
	TypeVideo Type = "video"
	TypePDF   Type = "pdf"
)

// Valid reports whether t is one of the known content types.
func (t Type) Valid() bool {
	switch t {
	case TypeVideo, TypePDF:
		return true
	}
	return false
}

// ParseType converts a stored or user-supplied string to a Type. The empty
// string maps to TypeVideo, matching the column default.
func ParseType(s string) (Type, error) {
	if s == "" {
		return TypeVideo, nil
	}
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown content type %q", s)
	}
	return t, nil
}

// Frequency controls how often the scheduler rescans a content item.
type Frequency string

// Scan frequencies.
const (
	FrequencyManual Frequency = "manual"
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// Interval returns the delay until the next scheduled scan, or zero for
// manual-only content.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

func (f Frequency) valid() bool {
	switch f {
	case FrequencyManual, FrequencyDaily, FrequencyWeekly:
		return true
	}
	return false
}

// ProtectedContent is a work whose unauthorized copies are searched for.
// It is read-only for the duration of a scan.
type ProtectedContent struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"owner_id"`
	Title         string     `json:"title"`
	OriginalURL   string     `json:"original_url"`
	Type          Type       `json:"content_type"`
	Keywords      []string   `json:"keywords"`
	ScanFrequency Frequency  `json:"scan_frequency"`
	IsActive      bool       `json:"is_active"`
	LastScannedAt *time.Time `json:"last_scanned_at,omitempty"`
	NextScanAt    *time.Time `json:"next_scan_at,omitempty"`
	ScanCount     int        `json:"scan_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// searchAttributesChanged reports whether any field that feeds source
// queries or scoring differs between a and b.
func searchAttributesChanged(a, b *ProtectedContent) bool {
	if a.Title != b.Title || a.OriginalURL != b.OriginalURL || a.Type != b.Type {
		return true
	}
	if len(a.Keywords) != len(b.Keywords) {
		return true
	}
	for i := range a.Keywords {
		if a.Keywords[i] != b.Keywords[i] {
			return true
		}
	}
	return false
}
