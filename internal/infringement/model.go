package infringement

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no infringement matches the given ID.
var ErrNotFound = errors.New("infringement not found")

// ErrInvalidTransition is returned by UpdateStatus for a move the status
// machine does not allow.
var ErrInvalidTransition = errors.New("invalid status transition")

// Status is the takedown workflow state of an infringement.
type Status string

// Workflow states. Scans only ever create StatusDetected.
const (
	StatusDetected     Status = "detected"
	StatusReviewing    Status = "reviewing"
	StatusTakedownSent Status = "takedown_sent"
	StatusRemoved      Status = "removed"
	StatusDisputed     Status = "disputed"
	StatusDismissed    Status = "dismissed"
	StatusFailed       Status = "failed"
)

// AllStatuses returns every status in workflow order.
func AllStatuses() []Status {
	return []Status{
		StatusDetected, StatusReviewing, StatusTakedownSent,
		StatusRemoved, StatusDisputed, StatusDismissed, StatusFailed,
	}
}

var transitions = map[Status][]Status{
	StatusDetected:     {StatusReviewing, StatusDismissed},
	StatusReviewing:    {StatusTakedownSent, StatusDismissed},
	StatusTakedownSent: {StatusRemoved, StatusDisputed, StatusDismissed},
}

// Terminal reports whether no further transitions leave s.
func (s Status) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range AllStatuses() {
		if s == v {
			return true
		}
	}
	return false
}

// CanTransition reports whether the workflow allows moving from s to next.
// Any non-terminal state may move to StatusFailed.
func (s Status) CanTransition(next Status) bool {
	allowed, ok := transitions[s]
	if !ok {
		return false
	}
	if next == StatusFailed {
		return true
	}
	for _, a := range allowed {
		if a == next {
			return true
		}
	}
	return false
}

// Infringement is a persisted finding. (ContentID, SourceURL) is unique;
// re-finding the same URL never changes an existing record.
type Infringement struct {
	ID           string    `json:"id"`
	ContentID    string    `json:"content_id"`
	SourceURL    string    `json:"source_url"`
	SourceType   string    `json:"source_type"`
	SourceDomain string    `json:"source_domain"`
	Title        string    `json:"title"`
	Snippet      string    `json:"snippet"`
	Confidence   int       `json:"confidence"`
	Status       Status    `json:"status"`
	DetectedAt   time.Time `json:"detected_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
