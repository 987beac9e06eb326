package subscription

import (
	"context"
	"database/sql"
	"testing"

	"github.com/sydlexius/contentguard/internal/database"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLookup(t *testing.T) {
	svc := NewService(setupTestDB(t))
	ctx := context.Background()

	plan, err := svc.Lookup(ctx, "nobody")
	if err != nil || plan != PlanFree {
		t.Fatalf("Lookup(missing) = %q, %v; want free", plan, err)
	}

	if err := svc.Set(ctx, "user-1", PlanPro); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if plan, _ := svc.Lookup(ctx, "user-1"); plan != PlanPro {
		t.Errorf("Lookup = %q, want pro", plan)
	}

	if err := svc.SetWithStatus(ctx, "user-1", PlanPro, StatusCanceled); err != nil {
		t.Fatalf("SetWithStatus: %v", err)
	}
	if plan, _ := svc.Lookup(ctx, "user-1"); plan != PlanFree {
		t.Errorf("Lookup(canceled) = %q, want free", plan)
	}

	if err := svc.Set(ctx, "user-1", Plan("platinum")); err == nil {
		t.Error("expected error for unknown plan")
	}
}

func TestAllowsWebSearch(t *testing.T) {
	tests := map[Plan]bool{
		PlanFree:       false,
		PlanStarter:    true,
		PlanPro:        true,
		PlanEnterprise: true,
		Plan("bogus"):  false,
	}
	for p, want := range tests {
		if got := p.AllowsWebSearch(); got != want {
			t.Errorf("%q.AllowsWebSearch() = %v, want %v", p, got, want)
		}
	}
}
