package infringement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const infringementColumns = `id, content_id, source_url, source_type, source_domain, title, snippet,
	confidence, status, detected_at, updated_at`

// Service provides infringement data operations.
type Service struct {
	db *sql.DB
}

// NewService creates an infringement service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Exists reports whether an infringement is already recorded for the
// content and URL.
func (s *Service) Exists(ctx context.Context, contentID, sourceURL string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM infringements WHERE content_id = ? AND source_url = ?`,
		contentID, sourceURL).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking infringement: %w", err)
	}
	return n > 0, nil
}

// Create inserts inf with status detected. It returns false without error
// when a record for the same (content, URL) already exists, including when a
// concurrent scan inserted it first.
func (s *Service) Create(ctx context.Context, inf *Infringement) (bool, error) {
	if inf.ContentID == "" || inf.SourceURL == "" {
		return false, fmt.Errorf("content id and source url are required")
	}
	if inf.Confidence < 0 || inf.Confidence > 100 {
		return false, fmt.Errorf("confidence %d out of range", inf.Confidence)
	}
	if inf.ID == "" {
		inf.ID = uuid.New().String()
	}
	inf.Status = StatusDetected
	now := time.Now().UTC()
	if inf.DetectedAt.IsZero() {
		inf.DetectedAt = now
	}
	inf.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO infringements (id, content_id, source_url, source_type, source_domain, title, snippet,
			confidence, status, detected_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_id, source_url) DO NOTHING
	`,
		inf.ID, inf.ContentID, inf.SourceURL, inf.SourceType, inf.SourceDomain, inf.Title, inf.Snippet,
		inf.Confidence, string(inf.Status),
		inf.DetectedAt.UTC().Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("creating infringement: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// GetByID retrieves an infringement by primary key.
func (s *Service) GetByID(ctx context.Context, id string) (*Infringement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+infringementColumns+` FROM infringements WHERE id = ?`, id)
	inf, err := scanInfringement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting infringement by id: %w", err)
	}
	return inf, nil
}

// ListByContent returns a content item's infringements, most confident first.
func (s *Service) ListByContent(ctx context.Context, contentID string) ([]Infringement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+infringementColumns+` FROM infringements WHERE content_id = ?
		 ORDER BY confidence DESC, detected_at DESC`, contentID)
	if err != nil {
		return nil, fmt.Errorf("listing infringements: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Infringement
	for rows.Next() {
		inf, err := scanInfringement(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning infringement: %w", err)
		}
		out = append(out, *inf)
	}
	return out, rows.Err()
}

// CountByStatus groups a content item's infringements by status.
func (s *Service) CountByStatus(ctx context.Context, contentID string) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM infringements WHERE content_id = ? GROUP BY status`, contentID)
	if err != nil {
		return nil, fmt.Errorf("counting infringements: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// UpdateStatus moves an infringement to next, enforcing the workflow.
func (s *Service) UpdateStatus(ctx context.Context, id string, next Status) error {
	if !next.Valid() {
		return fmt.Errorf("unknown status %q", next)
	}
	inf, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !inf.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inf.Status, next)
	}

	// Guarded on the previous status so a concurrent update is not overwritten.
	result, err := s.db.ExecContext(ctx,
		`UPDATE infringements SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(next), time.Now().UTC().Format(time.RFC3339), id, string(inf.Status))
	if err != nil {
		return fmt.Errorf("updating infringement status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, id)
	}
	return nil
}

func scanInfringement(row interface{ Scan(...any) error }) (*Infringement, error) {
	var inf Infringement
	var status, detectedAt, updatedAt string
	err := row.Scan(
		&inf.ID, &inf.ContentID, &inf.SourceURL, &inf.SourceType, &inf.SourceDomain,
		&inf.Title, &inf.Snippet, &inf.Confidence, &status, &detectedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	inf.Status = Status(status)
	inf.DetectedAt = parseTime(detectedAt)
	inf.UpdatedAt = parseTime(updatedAt)
	return &inf, nil
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
