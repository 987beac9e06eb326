// Package backup takes consistent snapshots of the SQLite store and prunes
// old ones.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	filePrefix   = "contentguard-"
	stampLayout  = "20060102-150405"
	fileSuffix   = ".db"
	defaultKeep  = 7
	snapshotMode = 0o600
)

var snapshotPattern = regexp.MustCompile(`^contentguard-\d{8}-\d{6}\.db$`)

// Info describes one snapshot file.
type Info struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Options controls where snapshots go and how many are kept.
type Options struct {
	Dir string
	// Keep is the number of newest snapshots Prune retains. Zero means 7.
	Keep int
	// MaxAge additionally removes snapshots older than this. Zero disables
	// age-based pruning.
	MaxAge time.Duration
}

// Service manages snapshots of one database.
type Service struct {
	db     *sql.DB
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a backup service.
func NewService(db *sql.DB, opts Options, logger *slog.Logger) *Service {
	return NewServiceWithClock(db, opts, logger, time.Now)
}

// NewServiceWithClock is NewService with an injectable clock for tests.
func NewServiceWithClock(db *sql.DB, opts Options, logger *slog.Logger, now func() time.Time) *Service {
	if opts.Keep <= 0 {
		opts.Keep = defaultKeep
	}
	return &Service{
		db:     db,
		opts:   opts,
		logger: logger.With(slog.String("component", "backup")),
		now:    now,
	}
}

// Dir returns the snapshot directory.
func (s *Service) Dir() string { return s.opts.Dir }

// Backup writes a snapshot with VACUUM INTO. The file name carries the UTC
// creation time, so two snapshots in the same second collide and the second
// fails.
func (s *Service) Backup(ctx context.Context) (*Info, error) {
	if err := os.MkdirAll(s.opts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	created := s.now().UTC().Truncate(time.Second)
	filename := filePrefix + created.Format(stampLayout) + fileSuffix
	dest := filepath.Join(s.opts.Dir, filename)

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return nil, fmt.Errorf("VACUUM INTO: %w", err)
	}
	if err := os.Chmod(dest, snapshotMode); err != nil {
		s.logger.Warn("restricting snapshot permissions", slog.String("file", dest), slog.String("error", err.Error()))
	}

	fi, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat backup file: %w", err)
	}
	s.logger.Info("backup complete", slog.String("filename", filename), slog.Int64("size", fi.Size()))
	return &Info{Filename: filename, Size: fi.Size(), CreatedAt: created}, nil
}

// List returns the snapshots in the directory, newest first. A missing
// directory yields no snapshots.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.opts.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var out []Info
	for _, e := range entries {
		if e.IsDir() || !snapshotPattern.MatchString(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(e.Name(), filePrefix), fileSuffix)
		created, err := time.Parse(stampLayout, stamp)
		if err != nil {
			created = fi.ModTime().UTC()
		}
		out = append(out, Info{Filename: e.Name(), Size: fi.Size(), CreatedAt: created})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Prune removes snapshots beyond the newest Keep and, when MaxAge is set,
// any older than MaxAge. It returns how many files were removed.
func (s *Service) Prune() (int, error) {
	snapshots, err := s.List()
	if err != nil {
		return 0, err
	}

	cutoff := time.Time{}
	if s.opts.MaxAge > 0 {
		cutoff = s.now().UTC().Add(-s.opts.MaxAge)
	}

	removed := 0
	for i, b := range snapshots {
		if i < s.opts.Keep && !b.CreatedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.opts.Dir, b.Filename)); err != nil {
			s.logger.Warn("removing old backup", slog.String("filename", b.Filename), slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("pruned backups", slog.Int("removed", removed))
	}
	return removed, nil
}

// Run takes a snapshot and then prunes. Prune failures are logged.
func (s *Service) Run(ctx context.Context) (*Info, error) {
	info, err := s.Backup(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.Prune(); err != nil {
		s.logger.Error("backup prune failed", slog.String("error", err.Error()))
	}
	return info, nil
}

// ValidFilename reports whether name looks like a snapshot and contains no
// path separators.
func ValidFilename(name string) bool {
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return snapshotPattern.MatchString(name)
}
