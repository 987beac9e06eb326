// Package scheduler runs periodic work on cron schedules: scans of content
// that is due, result cache sweeps, store maintenance and snapshots.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sydlexius/contentguard/internal/backup"
	"github.com/sydlexius/contentguard/internal/cache"
	"github.com/sydlexius/contentguard/internal/content"
	"github.com/sydlexius/contentguard/internal/event"
)

// DefaultBatchSize caps how many due items one scan run picks up.
const DefaultBatchSize = 10

// Scanner runs one scan.
type Scanner interface {
	RunScan(ctx context.Context, contentID string) (int, error)
}

// DueContent lists content due for a periodic scan and records the next run.
type DueContent interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]content.ProtectedContent, error)
	ScheduleNext(ctx context.Context, id string, from time.Time) error
}

// CacheSweeper removes expired cache entries.
type CacheSweeper interface {
	SweepExpired(ctx context.Context) (cache.SweepResult, error)
}

// Maintainer performs periodic store upkeep.
type Maintainer interface {
	Optimize(ctx context.Context) error
	PruneJobs(ctx context.Context, retention time.Duration) (int64, error)
}

// Snapshotter takes a store snapshot and prunes old ones.
type Snapshotter interface {
	Run(ctx context.Context) (*backup.Info, error)
}

// Deps bundles the work the scheduler drives. Cache, Maintenance, Backups,
// Events and LimiterSweep are optional.
type Deps struct {
	Scanner      Scanner
	Content      DueContent
	Cache        CacheSweeper
	Maintenance  Maintainer
	Backups      Snapshotter
	LimiterSweep func() int
	Events       event.Publisher
	Logger       *slog.Logger
	BatchSize    int
	Now          func() time.Time
}

// Specs are the cron expressions of each job. An empty spec disables the job.
type Specs struct {
	Scans       string
	CacheSweep  string
	Maintenance string
	Limiter     string
	Backup      string
}

// DefaultSpecs returns hourly scans, nightly snapshots, cache sweeps and
// maintenance, and a limiter sweep every five minutes.
func DefaultSpecs() Specs {
	return Specs{
		Scans:       "0 * * * *",
		CacheSweep:  "30 3 * * *",
		Maintenance: "0 4 * * *",
		Limiter:     "*/5 * * * *",
		Backup:      "0 2 * * *",
	}
}

// ScanRunSummary reports one pass over due content.
type ScanRunSummary struct {
	Due              int
	Succeeded        int
	Failed           int
	NewInfringements int
}

// Scheduler owns the cron runner.
type Scheduler struct {
	deps   Deps
	cron   *cron.Cron
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New creates a scheduler. Call Start to register jobs.
func New(deps Deps) *Scheduler {
	if deps.BatchSize <= 0 {
		deps.BatchSize = DefaultBatchSize
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger.With(slog.String("component", "scheduler"))
	cl := cronLogger{logger: logger}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Scheduler{
		deps:   deps,
		logger: logger,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// Start registers the jobs named in specs and starts the runner. Jobs run
// with a context derived from ctx that Stop cancels.
func (s *Scheduler) Start(ctx context.Context, specs Specs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.cancel = context.WithCancel(ctx)

	jobs := []struct {
		name string
		spec string
		run  func(context.Context)
	}{
		{"scans", specs.Scans, func(ctx context.Context) { _, _ = s.RunDueScans(ctx) }},
		{"cache-sweep", specs.CacheSweep, func(ctx context.Context) { _, _ = s.SweepCache(ctx) }},
		{"maintenance", specs.Maintenance, s.runMaintenance},
		{"limiter-sweep", specs.Limiter, s.sweepLimiter},
		{"backup", specs.Backup, s.runBackup},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		run := j.run
		if _, err := s.cron.AddFunc(j.spec, func() { run(s.ctx) }); err != nil {
			s.cancel()
			return fmt.Errorf("scheduling %s (%q): %w", j.name, j.spec, err)
		}
		s.logger.Info("job scheduled", slog.String("job", j.name), slog.String("spec", j.spec))
	}

	s.cron.Start()
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunDueScans scans up to one batch of due content. A successful scan
// schedules the item's next run; a failed one is retried on the next pass.
func (s *Scheduler) RunDueScans(ctx context.Context) (ScanRunSummary, error) {
	var sum ScanRunSummary
	now := s.deps.Now().UTC()

	due, err := s.deps.Content.ListDue(ctx, now, s.deps.BatchSize)
	if err != nil {
		s.logger.Error("listing due content", slog.String("error", err.Error()))
		return sum, err
	}
	sum.Due = len(due)

	for _, c := range due {
		if ctx.Err() != nil {
			break
		}
		n, err := s.deps.Scanner.RunScan(ctx, c.ID)
		if err != nil {
			sum.Failed++
			s.logger.Warn("scheduled scan failed",
				slog.String("content_id", c.ID),
				slog.String("error", err.Error()))
			continue
		}
		sum.Succeeded++
		sum.NewInfringements += n
		if err := s.deps.Content.ScheduleNext(ctx, c.ID, s.deps.Now().UTC()); err != nil {
			s.logger.Error("scheduling next scan",
				slog.String("content_id", c.ID),
				slog.String("error", err.Error()))
		}
	}

	if sum.Due > 0 {
		s.logger.Info("scheduled scans complete",
			slog.Int("due", sum.Due),
			slog.Int("succeeded", sum.Succeeded),
			slog.Int("failed", sum.Failed),
			slog.Int("new_infringements", sum.NewInfringements))
	}
	return sum, nil
}

// SweepCache removes expired cache entries.
func (s *Scheduler) SweepCache(ctx context.Context) (cache.SweepResult, error) {
	if s.deps.Cache == nil {
		return cache.SweepResult{}, nil
	}
	res, err := s.deps.Cache.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("cache sweep failed", slog.String("error", err.Error()))
		return res, err
	}
	s.logger.Info("cache sweep complete",
		slog.Int64("deleted", res.Deleted),
		slog.Int64("remaining", res.Remaining))
	if s.deps.Events != nil {
		s.deps.Events.Publish(event.Event{
			Type:    event.CacheSwept,
			Payload: event.SweepSummary{Deleted: res.Deleted, Remaining: res.Remaining},
		})
	}
	return res, nil
}

func (s *Scheduler) runMaintenance(ctx context.Context) {
	if s.deps.Maintenance == nil {
		return
	}
	if _, err := s.deps.Maintenance.PruneJobs(ctx, 0); err != nil {
		s.logger.Error("pruning scan jobs", slog.String("error", err.Error()))
	}
	if err := s.deps.Maintenance.Optimize(ctx); err != nil {
		s.logger.Error("scheduled optimize failed", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) runBackup(ctx context.Context) {
	if s.deps.Backups == nil {
		return
	}
	if _, err := s.deps.Backups.Run(ctx); err != nil {
		s.logger.Error("scheduled backup failed", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) sweepLimiter(context.Context) {
	if s.deps.LimiterSweep == nil {
		return
	}
	if n := s.deps.LimiterSweep(); n > 0 {
		s.logger.Debug("swept rate limit windows", slog.Int("removed", n))
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
