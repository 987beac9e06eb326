package maintenance

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/sydlexius/contentguard/internal/database"
)

func setupTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, dbPath
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStatusAndOptimize(t *testing.T) {
	db, dbPath := setupTestDB(t)
	svc := NewService(db, dbPath, testLogger())
	ctx := context.Background()

	st, err := svc.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.DBFileSize <= 0 || st.PageSize <= 0 {
		t.Errorf("status = %+v, want positive sizes", st)
	}
	if st.LastOptimizeAt != "" {
		t.Errorf("LastOptimizeAt = %q before any optimize", st.LastOptimizeAt)
	}
	if n, ok := st.Rows["infringements"]; !ok || n != 0 {
		t.Errorf("rows = %v", st.Rows)
	}

	if err := svc.Optimize(ctx); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	st, err = svc.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.LastOptimizeAt == "" {
		t.Error("expected LastOptimizeAt after optimize")
	}
}

func TestPruneJobs(t *testing.T) {
	db, _ := setupTestDB(t)
	svc := NewService(db, "", testLogger())
	ctx := context.Background()

	old := time.Now().UTC().Add(-100 * 24 * time.Hour).Format(time.RFC3339)
	recent := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	for _, row := range []struct {
		id, status, started string
	}{
		{"old-done", "completed", old},
		{"old-failed", "failed", old},
		{"old-running", "running", old},
		{"recent-done", "completed", recent},
	} {
		_, err := db.ExecContext(ctx,
			`INSERT INTO scan_jobs (id, content_id, scan_type, status, started_at) VALUES (?, 'c1', 'full', ?, ?)`,
			row.id, row.status, row.started)
		if err != nil {
			t.Fatalf("inserting job: %v", err)
		}
	}

	n, err := svc.PruneJobs(ctx, 0)
	if err != nil {
		t.Fatalf("PruneJobs: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}

	var remaining int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scan_jobs`).Scan(&remaining); err != nil {
		t.Fatalf("counting: %v", err)
	}
	if remaining != 2 {
		t.Errorf("remaining = %d, want 2", remaining)
	}
}
