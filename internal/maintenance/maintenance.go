// Package maintenance keeps the SQLite store compact: statistics, query
// planner optimization and pruning of old scan jobs.
package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"
)

const lastOptimizeKey = "maintenance.last_optimize_at"

// DefaultJobRetention is how long finished scan jobs are kept.
const DefaultJobRetention = 90 * 24 * time.Hour

// Status describes the store.
type Status struct {
	DBFileSize     int64            `json:"db_file_size"`
	WALFileSize    int64            `json:"wal_file_size"`
	PageCount      int64            `json:"page_count"`
	PageSize       int64            `json:"page_size"`
	LastOptimizeAt string           `json:"last_optimize_at,omitempty"`
	Rows           map[string]int64 `json:"rows"`
}

// Service runs maintenance against one database.
type Service struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
}

// NewService creates a maintenance service. dbPath is used only for file
// size reporting and may be empty for in-memory databases.
func NewService(db *sql.DB, dbPath string, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		dbPath: dbPath,
		logger: logger.With(slog.String("component", "maintenance")),
	}
}

// Status reports file sizes, page statistics and row counts.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{Rows: make(map[string]int64)}

	if s.dbPath != "" {
		if info, err := os.Stat(s.dbPath); err == nil {
			st.DBFileSize = info.Size()
		}
		if info, err := os.Stat(s.dbPath + "-wal"); err == nil {
			st.WALFileSize = info.Size()
		}
	}

	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&st.PageCount); err != nil {
		return nil, fmt.Errorf("reading page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&st.PageSize); err != nil {
		return nil, fmt.Errorf("reading page_size: %w", err)
	}

	var lastOpt string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, lastOptimizeKey).Scan(&lastOpt)
	if err == nil {
		st.LastOptimizeAt = lastOpt
	}

	for _, table := range []string{"protected_content", "infringements", "scan_jobs", "scan_cache"} {
		var n int64
		// table names come from the fixed list above
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil { //nolint:gosec
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
		st.Rows[table] = n
	}

	return st, nil
}

// Optimize runs PRAGMA optimize followed by a WAL checkpoint and records
// when it ran.
func (s *Service) Optimize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("PRAGMA optimize: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		lastOptimizeKey, now, now)
	if err != nil {
		s.logger.Warn("recording optimize timestamp", slog.String("error", err.Error()))
	}

	s.logger.Info("optimize complete")
	return nil
}

// PruneJobs deletes finished scan jobs that started before now minus
// retention. Running jobs are never removed.
func (s *Service) PruneJobs(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultJobRetention
	}
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM scan_jobs WHERE status != 'running' AND started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning scan jobs: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned scan jobs", slog.Int64("deleted", n))
	}
	return n, nil
}
