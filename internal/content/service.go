package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no protected content matches the given ID.
var ErrNotFound = errors.New("content not found")

// ErrInvalid wraps validation failures from Create and Update.
var ErrInvalid = errors.New("invalid content")

const contentColumns = `id, owner_id, title, original_url, content_type, keywords, scan_frequency,
	is_active, last_scanned_at, next_scan_at, scan_count, created_at, updated_at`

// Invalidator drops cached source results for a content item. The result
// cache satisfies it.
type Invalidator interface {
	Invalidate(ctx context.Context, contentID string) (int64, error)
}

// Service provides protected content data operations.
type Service struct {
	db    *sql.DB
	cache Invalidator
}

// NewService creates a content service. cache may be nil, in which case
// updates never touch cached results.
func NewService(db *sql.DB, cache Invalidator) *Service {
	return &Service{db: db, cache: cache}
}

// Create inserts a new protected content item.
func (s *Service) Create(ctx context.Context, c *ProtectedContent) error {
	if err := normalize(c); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.IsActive = true

	keywords, err := json.Marshal(c.Keywords)
	if err != nil {
		return fmt.Errorf("encoding keywords: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO protected_content (id, owner_id, title, original_url, content_type, keywords,
			scan_frequency, is_active, scan_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, 0, ?, ?)
	`,
		c.ID, c.OwnerID, c.Title, c.OriginalURL, string(c.Type), string(keywords),
		string(c.ScanFrequency),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating content: %w", err)
	}
	return nil
}

// GetByID retrieves a content item by primary key. Returns ErrNotFound when
// no row matches.
func (s *Service) GetByID(ctx context.Context, id string) (*ProtectedContent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contentColumns+` FROM protected_content WHERE id = ?`, id)
	c, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting content by id: %w", err)
	}
	return c, nil
}

// ListByOwner returns all content items owned by ownerID ordered by title.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]ProtectedContent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contentColumns+` FROM protected_content WHERE owner_id = ? ORDER BY title`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing content: %w", err)
	}
	return collect(rows)
}

// Update modifies an existing content item. When any attribute that feeds
// source queries changes, cached results for the item are invalidated.
func (s *Service) Update(ctx context.Context, c *ProtectedContent) error {
	if err := normalize(c); err != nil {
		return err
	}
	prev, err := s.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}

	keywords, err := json.Marshal(c.Keywords)
	if err != nil {
		return fmt.Errorf("encoding keywords: %w", err)
	}
	c.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		UPDATE protected_content SET title = ?, original_url = ?, content_type = ?, keywords = ?,
			scan_frequency = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`,
		c.Title, c.OriginalURL, string(c.Type), string(keywords),
		string(c.ScanFrequency), boolToInt(c.IsActive),
		c.UpdatedAt.Format(time.RFC3339),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating content: %w", err)
	}

	if s.cache != nil && searchAttributesChanged(prev, c) {
		if _, err := s.cache.Invalidate(ctx, c.ID); err != nil {
			return fmt.Errorf("invalidating cached results: %w", err)
		}
	}
	return nil
}

// Delete removes a content item. Infringements are removed by ON DELETE
// CASCADE; cached results are invalidated.
func (s *Service) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM protected_content WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting content: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.cache != nil {
		if _, err := s.cache.Invalidate(ctx, id); err != nil {
			return fmt.Errorf("invalidating cached results: %w", err)
		}
	}
	return nil
}

// MarkScanned records a finished scan: last_scanned_at is set to at and the
// scan counter is incremented.
func (s *Service) MarkScanned(ctx context.Context, id string, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		UPDATE protected_content SET last_scanned_at = ?, scan_count = scan_count + 1, updated_at = ?
		WHERE id = ?
	`, ts, ts, id)
	if err != nil {
		return fmt.Errorf("marking content scanned: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// ListDue returns active, periodically scanned content whose next scan is
// unset or at or before now, oldest first, at most limit rows.
func (s *Service) ListDue(ctx context.Context, now time.Time, limit int) ([]ProtectedContent, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contentColumns+` FROM protected_content
		WHERE is_active = 1
		  AND scan_frequency IN (?, ?)
		  AND (next_scan_at IS NULL OR next_scan_at <= ?)
		ORDER BY next_scan_at IS NOT NULL, next_scan_at, created_at
		LIMIT ?
	`, string(FrequencyDaily), string(FrequencyWeekly), now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, fmt.Errorf("listing due content: %w", err)
	}
	return collect(rows)
}

// ScheduleNext sets next_scan_at to from plus the item's scan interval.
// Manual content gets a NULL next scan.
func (s *Service) ScheduleNext(ctx context.Context, id string, from time.Time) error {
	c, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	var next any
	if iv := c.ScanFrequency.Interval(); iv > 0 {
		next = from.Add(iv).UTC().Format(time.RFC3339)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE protected_content SET next_scan_at = ?, updated_at = ? WHERE id = ?`,
		next, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("scheduling next scan: %w", err)
	}
	return nil
}

func normalize(c *ProtectedContent) error {
	c.Title = strings.TrimSpace(c.Title)
	if c.Title == "" {
		return fmt.Errorf("%w: content title is required", ErrInvalid)
	}
	if c.OwnerID == "" {
		return fmt.Errorf("%w: content owner is required", ErrInvalid)
	}
	if c.Type == "" {
		c.Type = TypeVideo
	}
	if !c.Type.Valid() {
		return fmt.Errorf("%w: content type must be %q or %q", ErrInvalid, TypeVideo, TypePDF)
	}
	if c.ScanFrequency == "" {
		c.ScanFrequency = FrequencyManual
	}
	if !c.ScanFrequency.valid() {
		return fmt.Errorf("%w: scan frequency must be one of %q, %q, %q", ErrInvalid, FrequencyManual, FrequencyDaily, FrequencyWeekly)
	}
	kept := c.Keywords[:0]
	for _, k := range c.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			kept = append(kept, k)
		}
	}
	c.Keywords = kept
	if len(c.Keywords) == 0 {
		return fmt.Errorf("%w: at least one keyword is required", ErrInvalid)
	}
	return nil
}

func collect(rows *sql.Rows) ([]ProtectedContent, error) {
	defer rows.Close() //nolint:errcheck

	var out []ProtectedContent
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning content: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// scanContent scans a database row into a ProtectedContent.
func scanContent(row interface{ Scan(...any) error }) (*ProtectedContent, error) {
	var c ProtectedContent
	var contentType, frequency, keywords, createdAt, updatedAt string
	var lastScanned, nextScan sql.NullString
	var active int

	err := row.Scan(
		&c.ID, &c.OwnerID, &c.Title, &c.OriginalURL, &contentType, &keywords, &frequency,
		&active, &lastScanned, &nextScan, &c.ScanCount, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Type = Type(contentType)
	c.ScanFrequency = Frequency(frequency)
	c.IsActive = active == 1
	if err := json.Unmarshal([]byte(keywords), &c.Keywords); err != nil {
		return nil, fmt.Errorf("decoding keywords: %w", err)
	}
	if lastScanned.Valid {
		t := parseTime(lastScanned.String)
		c.LastScannedAt = &t
	}
	if nextScan.Valid {
		t := parseTime(nextScan.String)
		c.NextScanAt = &t
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}
