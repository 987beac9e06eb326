// Package cache stores per-(content, source) snapshots of candidate results
// in the scan_cache table so repeated scans can skip paid API calls.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sydlexius/contentguard/internal/metrics"
	"github.com/sydlexius/contentguard/internal/source"
)

// DefaultTTL is how long a snapshot stays valid after it is written.
const DefaultTTL = 48 * time.Hour

// timeLayout keeps nanoseconds at a fixed width so stored UTC timestamps
// compare correctly as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Key returns the cache key for a content item and source: the hex SHA-256
// of "contentID:sourceType".
func Key(contentID string, t source.Type) string {
	sum := sha256.Sum256([]byte(contentID + ":" + string(t)))
	return hex.EncodeToString(sum[:])
}

// SweepResult reports the outcome of SweepExpired.
type SweepResult struct {
	Deleted   int64 `json:"deleted"`
	Remaining int64 `json:"remaining"`
}

// Stats summarizes the cache for monitoring.
type Stats struct {
	TotalEntries    int            `json:"total_entries"`
	TotalHits       int            `json:"total_hits"`
	BySourceType    map[string]int `json:"by_source_type"`
	AverageAgeHours float64        `json:"average_age_hours"`
}

// Cache is the SQLite-backed result cache.
type Cache struct {
	db      *sql.DB
	logger  *slog.Logger
	metrics *metrics.Metrics
	ttl     time.Duration
	now     func() time.Time
}

// New creates a cache with the default TTL and the wall clock. m may be nil.
func New(db *sql.DB, m *metrics.Metrics, logger *slog.Logger) *Cache {
	return NewWithClock(db, m, logger, time.Now)
}

// NewWithClock creates a cache that reads time from now (for tests).
func NewWithClock(db *sql.DB, m *metrics.Metrics, logger *slog.Logger, now func() time.Time) *Cache {
	return &Cache{
		db:      db,
		logger:  logger.With(slog.String("component", "cache")),
		metrics: m,
		ttl:     DefaultTTL,
		now:     now,
	}
}

// Get returns the snapshot for (contentID, t). An absent entry is a miss. An
// expired entry is deleted and reported as a miss. A hit increments the
// entry's hit counter. Store errors are logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, contentID string, t source.Type) ([]source.CandidateResult, bool) {
	key := Key(contentID, t)

	var payload, expiresAt string
	err := c.db.QueryRowContext(ctx,
		`SELECT results, expires_at FROM scan_cache WHERE cache_key = ?`, key).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		c.metrics.CacheLookup(string(t), "miss")
		c.logger.Debug("cache miss", slog.String("content_id", contentID), slog.String("source", string(t)))
		return nil, false
	}
	if err != nil {
		c.logger.Error("reading cache entry", slog.String("content_id", contentID), slog.String("error", err.Error()))
		return nil, false
	}

	if c.now().After(parseTime(expiresAt)) {
		c.metrics.CacheLookup(string(t), "expired")
		if _, err := c.db.ExecContext(ctx, `DELETE FROM scan_cache WHERE cache_key = ?`, key); err != nil {
			c.logger.Warn("deleting expired cache entry", slog.String("error", err.Error()))
		}
		c.logger.Debug("cache expired", slog.String("content_id", contentID), slog.String("source", string(t)))
		return nil, false
	}

	results, err := decodeResults([]byte(payload))
	if err != nil {
		c.logger.Error("decoding cache entry", slog.String("content_id", contentID), slog.String("error", err.Error()))
		return nil, false
	}

	if _, err := c.db.ExecContext(ctx,
		`UPDATE scan_cache SET hit_count = hit_count + 1 WHERE cache_key = ?`, key); err != nil {
		c.logger.Warn("incrementing cache hit count", slog.String("error", err.Error()))
	}
	c.metrics.CacheLookup(string(t), "hit")
	c.logger.Debug("cache hit",
		slog.String("content_id", contentID),
		slog.String("source", string(t)),
		slog.Int("results", len(results)))
	return results, true
}

// Put stores results as the snapshot for (contentID, t), replacing any
// previous snapshot. The hit counter is reset and the entry expires one TTL
// from now. Store errors are logged and otherwise ignored.
func (c *Cache) Put(ctx context.Context, contentID string, t source.Type, results []source.CandidateResult) {
	payload, err := encodeResults(results)
	if err != nil {
		c.logger.Error("encoding cache entry", slog.String("content_id", contentID), slog.String("error", err.Error()))
		return
	}

	now := c.now().UTC()
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO scan_cache (cache_key, content_id, source_type, results, hit_count, created_at, expires_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			results = excluded.results,
			hit_count = 0,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`,
		Key(contentID, t), contentID, string(t), string(payload),
		now.Format(timeLayout), now.Add(c.ttl).Format(timeLayout),
	)
	if err != nil {
		c.logger.Error("storing cache entry", slog.String("content_id", contentID), slog.String("error", err.Error()))
		return
	}
	c.logger.Debug("cache stored",
		slog.String("content_id", contentID),
		slog.String("source", string(t)),
		slog.Int("results", len(results)))
}

// Invalidate removes every snapshot for contentID and returns how many were
// deleted.
func (c *Cache) Invalidate(ctx context.Context, contentID string) (int64, error) {
	result, err := c.db.ExecContext(ctx, `DELETE FROM scan_cache WHERE content_id = ?`, contentID)
	if err != nil {
		return 0, fmt.Errorf("invalidating cache for %s: %w", contentID, err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		c.logger.Info("cache invalidated", slog.String("content_id", contentID), slog.Int64("entries", n))
	}
	return n, nil
}

// SweepExpired deletes every entry whose expiry is in the past.
func (c *Cache) SweepExpired(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	result, err := c.db.ExecContext(ctx,
		`DELETE FROM scan_cache WHERE expires_at < ?`, c.now().UTC().Format(timeLayout))
	if err != nil {
		return res, fmt.Errorf("sweeping expired cache entries: %w", err)
	}
	res.Deleted, _ = result.RowsAffected()

	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scan_cache`).Scan(&res.Remaining); err != nil {
		return res, fmt.Errorf("counting cache entries: %w", err)
	}
	c.logger.Info("cache sweep complete",
		slog.Int64("deleted", res.Deleted),
		slog.Int64("remaining", res.Remaining))
	return res, nil
}

// Stats aggregates entry counts, hits and average entry age.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{BySourceType: make(map[string]int)}

	rows, err := c.db.QueryContext(ctx, `SELECT source_type, hit_count, created_at FROM scan_cache`)
	if err != nil {
		return stats, fmt.Errorf("reading cache stats: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	now := c.now()
	var totalAge time.Duration
	for rows.Next() {
		var sourceType, createdAt string
		var hits int
		if err := rows.Scan(&sourceType, &hits, &createdAt); err != nil {
			return stats, fmt.Errorf("scanning cache stats: %w", err)
		}
		stats.TotalEntries++
		stats.TotalHits += hits
		stats.BySourceType[sourceType]++
		totalAge += now.Sub(parseTime(createdAt))
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterating cache stats: %w", err)
	}
	if stats.TotalEntries > 0 {
		stats.AverageAgeHours = totalAge.Hours() / float64(stats.TotalEntries)
	}
	return stats, nil
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Time{}
}
