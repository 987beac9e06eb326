package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sydlexius/contentguard/internal/api/middleware"
	"github.com/sydlexius/contentguard/internal/cache"
	"github.com/sydlexius/contentguard/internal/content"
	"github.com/sydlexius/contentguard/internal/database"
	"github.com/sydlexius/contentguard/internal/infringement"
	"github.com/sydlexius/contentguard/internal/maintenance"
	"github.com/sydlexius/contentguard/internal/metrics"
	"github.com/sydlexius/contentguard/internal/ratelimit"
	"github.com/sydlexius/contentguard/internal/scan"
	"github.com/sydlexius/contentguard/internal/source"
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

type fakeScanner struct {
	created int
	err     error
	calls   []string
}

func (f *fakeScanner) RunScan(_ context.Context, contentID string) (int, error) {
	f.calls = append(f.calls, contentID)
	return f.created, f.err
}

type testEnv struct {
	db            *sql.DB
	contents      *content.Service
	infringements *infringement.Service
	cache         *cache.Cache
	scanner       *fakeScanner
	handler       http.Handler
}

func newTestEnv(t *testing.T, limiter ratelimit.Limiter) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	resultCache := cache.New(db, m, logger)
	env := &testEnv{
		db:            db,
		contents:      content.NewService(db, resultCache),
		infringements: infringement.NewService(db),
		cache:         resultCache,
		scanner:       &fakeScanner{},
	}
	router := NewRouter(RouterDeps{
		Scanner:       env.scanner,
		Contents:      env.contents,
		Infringements: env.infringements,
		Jobs:          scan.NewJobService(db),
		Cache:         env.cache,
		Maintenance:   maintenance.NewService(db, ":memory:", logger),
		Limiter:       limiter,
		Metrics:       m,
		Logger:        logger,
		CronSecret:    "cron-secret",
	})
	env.handler = router.Handler()
	return env
}

func (e *testEnv) addContent(t *testing.T, owner string) *content.ProtectedContent {
	t.Helper()
	c := &content.ProtectedContent{
		OwnerID:  owner,
		Title:    "Advanced Go Patterns",
		Keywords: []string{"golang", "patterns"},
	}
	if err := e.contents.Create(context.Background(), c); err != nil {
		t.Fatalf("creating content: %v", err)
	}
	return c
}

func (e *testEnv) addInfringement(t *testing.T, contentID, url string) *infringement.Infringement {
	t.Helper()
	inf := &infringement.Infringement{
		ContentID:    contentID,
		SourceURL:    url,
		SourceType:   string(source.TypeTorrent),
		SourceDomain: "thepiratebay.org",
		Title:        "Advanced Go Patterns",
		Confidence:   65,
	}
	if _, err := e.infringements.Create(context.Background(), inf); err != nil {
		t.Fatalf("creating infringement: %v", err)
	}
	return inf
}

func (e *testEnv) do(method, path, user, body string, headers ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "203.0.113.10:5555"
	if user != "" {
		req.Header.Set(middleware.UserIDHeader, user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(http.MethodGet, "/api/v1/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := decode(t, w)["status"]; got != "ok" {
		t.Errorf("status field = %v, want ok", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}

func TestScan(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.addContent(t, "owner-1")
	env.scanner.created = 3
	path := "/api/v1/content/" + c.ID + "/scan"

	tests := []struct {
		name string
		path string
		user string
		want int
	}{
		{"anonymous", path, "", http.StatusUnauthorized},
		{"other owner", path, "owner-2", http.StatusNotFound},
		{"unknown content", "/api/v1/content/nope/scan", "owner-1", http.StatusNotFound},
		{"owner", path, "owner-1", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, tt.path, tt.user, "")
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	if len(env.scanner.calls) != 1 || env.scanner.calls[0] != c.ID {
		t.Errorf("scanner calls = %v, want only %s", env.scanner.calls, c.ID)
	}
	w := env.do(http.MethodPost, path, "owner-1", "")
	if got := decode(t, w)["new_infringements"]; got != float64(3) {
		t.Errorf("new_infringements = %v, want 3", got)
	}
}

func TestScan_Failures(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.addContent(t, "owner-1")
	path := "/api/v1/content/" + c.ID + "/scan"

	env.scanner.err = &scan.FailedError{JobID: "job-7", Err: errors.New("database is locked")}
	w := env.do(http.MethodPost, path, "owner-1", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if got := decode(t, w)["job_id"]; got != "job-7" {
		t.Errorf("job_id = %v, want job-7", got)
	}

	// Content deleted between the ownership check and the scan.
	env.scanner.err = &scan.FailedError{JobID: "job-8", Err: scan.ErrContentNotFound}
	w = env.do(http.MethodPost, path, "owner-1", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestScan_RateLimited(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewMemoryLimiterWithClock(map[ratelimit.Category]ratelimit.Limit{
		ratelimit.CategoryScan: {Max: 1, Window: time.Hour},
	}, func() time.Time { return now })
	env := newTestEnv(t, limiter)
	c := env.addContent(t, "owner-1")
	path := "/api/v1/content/" + c.ID + "/scan"

	if w := env.do(http.MethodPost, path, "owner-1", ""); w.Code != http.StatusOK {
		t.Fatalf("first scan status = %d", w.Code)
	}
	w := env.do(http.MethodPost, path, "owner-1", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second scan status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "3600" {
		t.Errorf("Retry-After = %q, want 3600", got)
	}
	if len(env.scanner.calls) != 1 {
		t.Errorf("scanner calls = %d, want 1", len(env.scanner.calls))
	}

	// Another user has its own window.
	other := env.addContent(t, "owner-2")
	if w := env.do(http.MethodPost, "/api/v1/content/"+other.ID+"/scan", "owner-2", ""); w.Code != http.StatusOK {
		t.Errorf("other user status = %d, want 200", w.Code)
	}
}

func TestListInfringements(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.addContent(t, "owner-1")
	a := env.addInfringement(t, c.ID, "https://thepiratebay.org/a")
	env.addInfringement(t, c.ID, "https://thepiratebay.org/b")
	if err := env.infringements.UpdateStatus(context.Background(), a.ID, infringement.StatusReviewing); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	w := env.do(http.MethodGet, "/api/v1/content/"+c.ID+"/infringements", "owner-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Infringements []infringement.Infringement `json:"infringements"`
		Counts        map[string]int              `json:"counts"`
		Total         int                         `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body.Total != 2 || len(body.Infringements) != 2 {
		t.Errorf("total = %d, items = %d, want 2", body.Total, len(body.Infringements))
	}
	if body.Counts["detected"] != 1 || body.Counts["reviewing"] != 1 {
		t.Errorf("counts = %v", body.Counts)
	}

	empty := env.addContent(t, "owner-1")
	w = env.do(http.MethodGet, "/api/v1/content/"+empty.ID+"/infringements", "owner-1", "")
	if !strings.Contains(w.Body.String(), `"infringements":[]`) {
		t.Errorf("empty list body = %s", w.Body.String())
	}
}

func TestUpdateInfringement(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.addContent(t, "owner-1")
	inf := env.addInfringement(t, c.ID, "https://thepiratebay.org/a")
	path := "/api/v1/infringements/" + inf.ID

	tests := []struct {
		name string
		user string
		body string
		want int
	}{
		{"bad body", "owner-1", `{`, http.StatusBadRequest},
		{"unknown status", "owner-1", `{"status":"archived"}`, http.StatusBadRequest},
		{"other owner", "owner-2", `{"status":"reviewing"}`, http.StatusNotFound},
		{"skips a step", "owner-1", `{"status":"removed"}`, http.StatusConflict},
		{"valid", "owner-1", `{"status":"reviewing"}`, http.StatusOK},
		{"repeated", "owner-1", `{"status":"reviewing"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPatch, path, tt.user, tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	got, err := env.infringements.GetByID(context.Background(), inf.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != infringement.StatusReviewing {
		t.Errorf("status = %s, want reviewing", got.Status)
	}

	if w := env.do(http.MethodPatch, "/api/v1/infringements/missing", "owner-1", `{"status":"reviewing"}`); w.Code != http.StatusNotFound {
		t.Errorf("missing infringement status = %d, want 404", w.Code)
	}
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.addContent(t, "owner-1")
	jobs := scan.NewJobService(env.db)
	job, err := jobs.Create(context.Background(), c.ID, scan.TypeFull)
	if err != nil {
		t.Fatalf("creating job: %v", err)
	}
	if err := jobs.Complete(context.Background(), job.ID, 4, 2); err != nil {
		t.Fatalf("completing job: %v", err)
	}

	w := env.do(http.MethodGet, "/api/v1/content/"+c.ID+"/jobs", "owner-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var got []scan.Job
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(got) != 1 || got[0].InfringementsFound != 2 || got[0].Status != scan.JobCompleted {
		t.Errorf("jobs = %+v", got)
	}

	if w := env.do(http.MethodGet, "/api/v1/content/"+c.ID+"/jobs?limit=0", "owner-1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", w.Code)
	}
}

func TestCacheRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.cache.Put(ctx, "content-1", source.TypeTorrent, []source.CandidateResult{{
		SourceType: source.TypeTorrent,
		SourceURL:  "https://thepiratebay.org/a",
		Domain:     "thepiratebay.org",
		Title:      "Advanced Go Patterns",
		Confidence: 65,
		DetectedAt: time.Now().UTC(),
	}})

	auth := []string{"Authorization", "Bearer cron-secret"}

	if w := env.do(http.MethodGet, "/api/v1/cache/stats", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("stats without secret = %d, want 401", w.Code)
	}

	w := env.do(http.MethodGet, "/api/v1/cache/stats", "", "", auth...)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	var stats cache.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.TotalEntries != 1 {
		t.Errorf("TotalEntries = %d, want 1", stats.TotalEntries)
	}

	w = env.do(http.MethodPost, "/api/v1/cache/sweep", "", "", auth...)
	if w.Code != http.StatusOK {
		t.Fatalf("sweep status = %d", w.Code)
	}

	w = env.do(http.MethodDelete, "/api/v1/cache/content-1", "", "", auth...)
	if w.Code != http.StatusOK {
		t.Fatalf("invalidate status = %d", w.Code)
	}
	if got := decode(t, w)["deleted"]; got != float64(1) {
		t.Errorf("deleted = %v, want 1", got)
	}
}

func TestMaintenanceStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(http.MethodGet, "/api/v1/maintenance/status", "", "", "Authorization", "Bearer cron-secret")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if _, ok := decode(t, w)["rows"]; !ok {
		t.Error("missing rows in maintenance status")
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("runtime collectors missing from /metrics output")
	}
}

func TestContentCRUD(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPost, "/api/v1/content", "owner-1",
		`{"title":"Rust for Go Developers","content_type":"pdf","keywords":["rust","ebook"],"scan_frequency":"weekly"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	var created content.ProtectedContent
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding created content: %v", err)
	}
	if created.ID == "" || created.OwnerID != "owner-1" || created.Type != content.TypePDF {
		t.Errorf("created = %+v", created)
	}

	if w := env.do(http.MethodPost, "/api/v1/content", "owner-1", `{"title":"No keywords"}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid create status = %d, want 400", w.Code)
	}
	if w := env.do(http.MethodPost, "/api/v1/content", "", `{"title":"x","keywords":["y"]}`); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous create status = %d, want 401", w.Code)
	}

	w = env.do(http.MethodGet, "/api/v1/content", "owner-1", "")
	var list []content.ProtectedContent
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(list) != 1 || list[0].ID != created.ID {
		t.Errorf("list = %+v", list)
	}
	w = env.do(http.MethodGet, "/api/v1/content", "owner-2", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("other owner list = %s, want []", w.Body.String())
	}

	path := "/api/v1/content/" + created.ID
	if w := env.do(http.MethodGet, path, "owner-2", ""); w.Code != http.StatusNotFound {
		t.Errorf("other owner get status = %d, want 404", w.Code)
	}
	if w := env.do(http.MethodPut, path, "owner-1", `{"content_type":"audio"}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid update status = %d, want 400", w.Code)
	}
	if w := env.do(http.MethodDelete, path, "owner-2", ""); w.Code != http.StatusNotFound {
		t.Errorf("other owner delete status = %d, want 404", w.Code)
	}

	if w := env.do(http.MethodDelete, path, "owner-1", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d: %s", w.Code, w.Body.String())
	}
	if w := env.do(http.MethodGet, path, "owner-1", ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestUpdateContent_InvalidatesCache(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	c := env.addContent(t, "owner-1")
	path := "/api/v1/content/" + c.ID
	snapshot := []source.CandidateResult{{
		SourceType: source.TypeWebSearch,
		SourceURL:  "https://freecoursesite.net/advanced-go-patterns",
		Confidence: 75,
	}}

	env.cache.Put(ctx, c.ID, source.TypeWebSearch, snapshot)
	w := env.do(http.MethodPut, path, "owner-1", `{"scan_frequency":"daily"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", w.Code, w.Body.String())
	}
	if _, ok := env.cache.Get(ctx, c.ID, source.TypeWebSearch); !ok {
		t.Error("frequency change dropped cached results")
	}

	w = env.do(http.MethodPut, path, "owner-1", `{"title":"Advanced Go Patterns, Second Edition"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["title"]; got != "Advanced Go Patterns, Second Edition" {
		t.Errorf("title = %v", got)
	}
	if _, ok := env.cache.Get(ctx, c.ID, source.TypeWebSearch); ok {
		t.Error("title change left cached results in place")
	}

	env.cache.Put(ctx, c.ID, source.TypeTorrent, snapshot)
	if w := env.do(http.MethodDelete, path, "owner-1", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if _, ok := env.cache.Get(ctx, c.ID, source.TypeTorrent); ok {
		t.Error("delete left cached results in place")
	}
}
