package scan

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sydlexius/contentguard/internal/content"
	"github.com/sydlexius/contentguard/internal/database"
	"github.com/sydlexius/contentguard/internal/event"
	"github.com/sydlexius/contentguard/internal/infringement"
	"github.com/sydlexius/contentguard/internal/metrics"
	"github.com/sydlexius/contentguard/internal/source"
	"github.com/sydlexius/contentguard/internal/subscription"
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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAdapter struct {
	typ     source.Type
	results []source.CandidateResult
	err     error
	panics  bool
	calls   int
}

func (f *fakeAdapter) Type() source.Type { return f.typ }

func (f *fakeAdapter) Search(_ context.Context, _ *content.ProtectedContent) ([]source.CandidateResult, error) {
	f.calls++
	if f.panics {
		panic("boom")
	}
	return f.results, f.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *recordingPublisher) Publish(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) count(t event.Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	db            *sql.DB
	contents      *content.Service
	plans         *subscription.Service
	infringements *infringement.Service
	jobs          *JobService
	registry      *source.Registry
	events        *recordingPublisher
	web           *fakeAdapter
	messaging     *fakeAdapter
	torrent       *fakeAdapter
	orch          *Orchestrator
}

func candidate(st source.Type, url string, confidence int) source.CandidateResult {
	return source.CandidateResult{
		SourceType: st,
		SourceURL:  url,
		Domain:     "example.org",
		Title:      "Advanced Go Patterns",
		Confidence: confidence,
		DetectedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)
	f := &fixture{
		db:            db,
		contents:      content.NewService(db, nil),
		plans:         subscription.NewService(db),
		infringements: infringement.NewService(db),
		jobs:          NewJobService(db),
		registry:      source.NewRegistry(),
		events:        &recordingPublisher{},
		web: &fakeAdapter{typ: source.TypeWebSearch, results: []source.CandidateResult{
			candidate(source.TypeWebSearch, "https://pirate.example/go", 75),
		}},
		messaging: &fakeAdapter{typ: source.TypeMessaging, results: []source.CandidateResult{
			candidate(source.TypeMessaging, "https://t.me/leaks/42", 90),
		}},
		torrent: &fakeAdapter{typ: source.TypeTorrent, results: []source.CandidateResult{
			candidate(source.TypeTorrent, "https://1337x.to/torrent/1/go", 65),
			candidate(source.TypeTorrent, "https://1337x.to/torrent/2/go", 55),
		}},
	}
	f.registry.Register(f.torrent)
	f.registry.Register(f.web)
	f.registry.Register(f.messaging)
	f.orch = NewOrchestrator(OrchestratorDeps{
		Registry:      f.registry,
		Contents:      f.contents,
		Plans:         f.plans,
		Infringements: f.infringements,
		Jobs:          f.jobs,
		Events:        f.events,
		Metrics:       metrics.New(),
		Logger:        testLogger(),
	})
	return f
}

func (f *fixture) createContent(t *testing.T) *content.ProtectedContent {
	t.Helper()
	c := &content.ProtectedContent{
		OwnerID:     "user-1",
		Title:       "Advanced Go Patterns",
		OriginalURL: "https://courses.example.com/go",
		Type:        content.TypeVideo,
		Keywords:    []string{"golang", "patterns"},
	}
	if err := f.contents.Create(context.Background(), c); err != nil {
		t.Fatalf("creating content: %v", err)
	}
	return c
}

func TestRunScan_FreePlanSkipsWebSearch(t *testing.T) {
	f := newFixture(t)
	c := f.createContent(t)

	n, err := f.orch.RunScan(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("RunScan: %v", err)
	}
	if n != 3 {
		t.Errorf("new infringements = %d, want 3", n)
	}
	if f.web.calls != 0 {
		t.Errorf("web search called %d times on free plan", f.web.calls)
	}
	if f.messaging.calls != 1 || f.torrent.calls != 1 {
		t.Errorf("messaging calls = %d, torrent calls = %d, want 1 each", f.messaging.calls, f.torrent.calls)
	}

	jobs, err := f.jobs.ListByContent(context.Background(), c.ID, 10)
	if err != nil {
		t.Fatalf("ListByContent: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	job := jobs[0]
	if job.Status != JobCompleted || job.ResultsCount != 3 || job.InfringementsFound != 3 {
		t.Errorf("job = %+v, want completed with 3 results and 3 found", job)
	}
	if job.ScanType != TypeFull || job.CompletedAt == nil {
		t.Errorf("job scan type = %q, completed_at = %v", job.ScanType, job.CompletedAt)
	}

	got, err := f.contents.GetByID(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ScanCount != 1 || got.LastScannedAt == nil {
		t.Errorf("scan_count = %d, last_scanned_at = %v", got.ScanCount, got.LastScannedAt)
	}

	if f.events.count(event.InfringementDetected) != 3 {
		t.Errorf("detected events = %d, want 3", f.events.count(event.InfringementDetected))
	}
	if f.events.count(event.ScanCompleted) != 1 {
		t.Errorf("completed events = %d, want 1", f.events.count(event.ScanCompleted))
	}
}

func TestRunScan_PaidPlanIncludesWebSearch(t *testing.T) {
	f := newFixture(t)
	c := f.createContent(t)
	if err := f.plans.Set(context.Background(), c.OwnerID, subscription.PlanPro); err != nil {
		t.Fatalf("Set plan: %v", err)
	}

	n, err := f.orch.RunScan(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("RunScan: %v", err)
	}
	if n != 4 {
		t.Errorf("new infringements = %d, want 4", n)
	}
	if f.web.calls != 1 {
		t.Errorf("web search calls = %d, want 1", f.web.calls)
	}

	list, err := f.infringements.ListByContent(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("ListByContent: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("got %d infringements, want 4", len(list))
	}
	for _, inf := range list {
		if inf.Status != infringement.StatusDetected {
			t.Errorf("%s status = %q, want detected", inf.SourceURL, inf.Status)
		}
	}
}

func TestRunScan_RescanIsIdempotent(t *testing.T) {
	f := newFixture(t)
	c := f.createContent(t)
	ctx := context.Background()

	if _, err := f.orch.RunScan(ctx, c.ID); err != nil {
		t.Fatalf("first RunScan: %v", err)
	}

	list, _ := f.infringements.ListByContent(ctx, c.ID)
	if err := f.infringements.UpdateStatus(ctx, list[0].ID, infringement.StatusReviewing); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	n, err := f.orch.RunScan(ctx, c.ID)
	if err != nil {
		t.Fatalf("second RunScan: %v", err)
	}
	if n != 0 {
		t.Errorf("second scan new infringements = %d, want 0", n)
	}

	after, _ := f.infringements.ListByContent(ctx, c.ID)
	if len(after) != 3 {
		t.Errorf("got %d infringements after re-scan, want 3", len(after))
	}
	reviewed, _ := f.infringements.GetByID(ctx, list[0].ID)
	if reviewed.Status != infringement.StatusReviewing {
		t.Errorf("status reset to %q by re-scan", reviewed.Status)
	}

	jobs, _ := f.jobs.ListByContent(ctx, c.ID, 10)
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	if jobs[0].InfringementsFound != 0 || jobs[0].ResultsCount != 3 {
		t.Errorf("latest job = %+v, want 3 results and 0 found", jobs[0])
	}
}

func TestRunScan_DuplicateURLsWithinOneScan(t *testing.T) {
	f := newFixture(t)
	c := f.createContent(t)
	f.messaging.results = []source.CandidateResult{
		candidate(source.TypeMessaging, "https://1337x.to/torrent/1/go", 90),
	}

	n, err := f.orch.RunScan(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("RunScan: %v", err)
	}
	if n != 2 {
		t.Errorf("new infringements = %d, want 2", n)
	}
}

func TestRunScan_AdapterFailuresDoNotFailScan(t *testing.T) {
	f := newFixture(t)
	c := f.createContent(t)
	f.messaging.err = errors.New("connection reset")
	f.messaging.results = nil
	f.torrent.panics = true

	n, err := f.orch.RunScan(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("RunScan: %v", err)
	}
	if n != 0 {
		t.Errorf("new infringements = %d, want 0", n)
	}
	jobs, _ := f.jobs.ListByContent(context.Background(), c.ID, 1)
	if len(jobs) != 1 || jobs[0].Status != JobCompleted {
		t.Errorf("jobs = %+v, want one completed job", jobs)
	}
}

func TestRunScan_ContentNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.RunScan(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrContentNotFound) {
		t.Errorf("error = %v, want ErrContentNotFound", err)
	}
	var failed *FailedError
	if !errors.As(err, &failed) {
		t.Fatalf("error type = %T, want *FailedError", err)
	}

	job, err := f.jobs.GetByID(context.Background(), failed.JobID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job.Status != JobFailed || job.ErrorMessage == "" || job.CompletedAt == nil {
		t.Errorf("job = %+v, want failed with message", job)
	}
	if f.events.count(event.ScanFailed) != 1 {
		t.Errorf("failed events = %d, want 1", f.events.count(event.ScanFailed))
	}
	if f.messaging.calls != 0 || f.torrent.calls != 0 {
		t.Error("adapters should not run when content is missing")
	}
}

func TestRunScan_CanceledContextStillFinalizesJob(t *testing.T) {
	f := newFixture(t)
	c := f.createContent(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.torrent.results = nil
	f.messaging.results = nil
	f.registry.Register(&cancelingAdapter{typ: source.TypeMessaging, cancel: cancel, url: "https://t.me/x/1"})

	_, err := f.orch.RunScan(ctx, c.ID)
	var failed *FailedError
	if !errors.As(err, &failed) {
		t.Fatalf("error = %v, want *FailedError", err)
	}
	job, err := f.jobs.GetByID(context.Background(), failed.JobID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job.Status != JobFailed {
		t.Errorf("job status = %q, want failed", job.Status)
	}
}

type cancelingAdapter struct {
	typ    source.Type
	cancel context.CancelFunc
	url    string
}

func (a *cancelingAdapter) Type() source.Type { return a.typ }

func (a *cancelingAdapter) Search(_ context.Context, _ *content.ProtectedContent) ([]source.CandidateResult, error) {
	a.cancel()
	return []source.CandidateResult{candidate(a.typ, a.url, 90)}, nil
}

func TestJobFinalizedOnce(t *testing.T) {
	db := setupTestDB(t)
	jobs := NewJobService(db)
	ctx := context.Background()

	job, err := jobs.Create(ctx, "c1", TypeFull)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := jobs.Complete(ctx, job.ID, 5, 2); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := jobs.Fail(ctx, job.ID, "late failure"); !errors.Is(err, ErrJobFinalized) {
		t.Errorf("Fail after Complete = %v, want ErrJobFinalized", err)
	}
	if err := jobs.Complete(ctx, "nope", 0, 0); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Complete(missing) = %v, want ErrJobNotFound", err)
	}

	got, _ := jobs.GetByID(ctx, job.ID)
	if got.Status != JobCompleted || got.ResultsCount != 5 || got.InfringementsFound != 2 {
		t.Errorf("job = %+v", got)
	}
}
