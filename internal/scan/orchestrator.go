// Package scan runs a protected content item against every enabled source,
// persists new findings and records the run as a scan job.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sydlexius/contentguard/internal/content"
	"github.com/sydlexius/contentguard/internal/event"
	"github.com/sydlexius/contentguard/internal/infringement"
	"github.com/sydlexius/contentguard/internal/metrics"
	"github.com/sydlexius/contentguard/internal/source"
	"github.com/sydlexius/contentguard/internal/subscription"
)

// ErrContentNotFound is returned (wrapped in a FailedError) when the content
// being scanned does not exist.
var ErrContentNotFound = errors.New("content not found")

// FailedError reports a scan that was recorded as a failed job.
type FailedError struct {
	JobID string
	Err   error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("scan job %s failed: %v", e.JobID, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// ContentStore loads content and records that it was scanned.
type ContentStore interface {
	GetByID(ctx context.Context, id string) (*content.ProtectedContent, error)
	MarkScanned(ctx context.Context, id string, at time.Time) error
}

// PlanResolver returns the subscription plan of a content owner.
type PlanResolver interface {
	Lookup(ctx context.Context, userID string) (subscription.Plan, error)
}

// InfringementStore records findings, keyed by (content, URL).
type InfringementStore interface {
	Exists(ctx context.Context, contentID, sourceURL string) (bool, error)
	Create(ctx context.Context, inf *infringement.Infringement) (bool, error)
}

// OrchestratorDeps bundles the collaborators of an Orchestrator. Events and
// Metrics are optional.
type OrchestratorDeps struct {
	Registry      *source.Registry
	Contents      ContentStore
	Plans         PlanResolver
	Infringements InfringementStore
	Jobs          *JobService
	Events        event.Publisher
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Orchestrator runs scans.
type Orchestrator struct {
	registry      *source.Registry
	contents      ContentStore
	plans         PlanResolver
	infringements InfringementStore
	jobs          *JobService
	events        event.Publisher
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// NewOrchestrator creates a scan orchestrator.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	return &Orchestrator{
		registry:      deps.Registry,
		contents:      deps.Contents,
		plans:         deps.Plans,
		infringements: deps.Infringements,
		jobs:          deps.Jobs,
		events:        deps.Events,
		metrics:       deps.Metrics,
		logger:        deps.Logger.With(slog.String("component", "scan")),
	}
}

// RunScan scans one content item and returns the number of new
// infringements recorded. Adapter failures never fail the scan; anything
// else marks the job failed and returns a *FailedError.
func (o *Orchestrator) RunScan(ctx context.Context, contentID string) (int, error) {
	start := time.Now()

	job, err := o.jobs.Create(ctx, contentID, TypeFull)
	if err != nil {
		o.metrics.ObserveScan(string(JobFailed), time.Since(start))
		return 0, fmt.Errorf("starting scan: %w", err)
	}
	logger := o.logger.With(slog.String("job_id", job.ID), slog.String("content_id", contentID))

	c, err := o.contents.GetByID(ctx, contentID)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			err = fmt.Errorf("%w: %s", ErrContentNotFound, contentID)
		}
		return 0, o.fail(ctx, logger, job, start, err)
	}

	plan, err := o.plans.Lookup(ctx, c.OwnerID)
	if err != nil {
		return 0, o.fail(ctx, logger, job, start, fmt.Errorf("resolving plan: %w", err))
	}

	candidates := o.collect(ctx, logger, c, plan)

	created := 0
	for i := range candidates {
		ok, err := o.persist(ctx, job, c.ID, &candidates[i])
		if err != nil {
			return 0, o.fail(ctx, logger, job, start, err)
		}
		if ok {
			created++
		}
	}

	if err := o.jobs.Complete(ctx, job.ID, len(candidates), created); err != nil {
		return 0, o.fail(ctx, logger, job, start, fmt.Errorf("completing scan job: %w", err))
	}

	if err := o.contents.MarkScanned(ctx, c.ID, time.Now().UTC()); err != nil {
		logger.Warn("marking content scanned", slog.String("error", err.Error()))
	}

	elapsed := time.Since(start)
	o.metrics.ObserveScan(string(JobCompleted), elapsed)
	o.publish(event.Event{
		Type:      event.ScanCompleted,
		ContentID: c.ID,
		JobID:     job.ID,
		Payload: event.ScanSummary{
			ResultsCount:     len(candidates),
			NewInfringements: created,
			DurationMS:       elapsed.Milliseconds(),
		},
	})
	logger.Info("scan completed",
		slog.String("plan", string(plan)),
		slog.Int("results", len(candidates)),
		slog.Int("new_infringements", created),
		slog.Duration("elapsed", elapsed))

	return created, nil
}

// collect runs every adapter the plan allows, in registry order.
func (o *Orchestrator) collect(ctx context.Context, logger *slog.Logger, c *content.ProtectedContent, plan subscription.Plan) []source.CandidateResult {
	var all []source.CandidateResult
	for _, a := range o.registry.All() {
		st := a.Type()
		if st == source.TypeWebSearch && !plan.AllowsWebSearch() {
			o.metrics.SourceSkippedByPolicy(string(st))
			logger.Debug("web search not included in plan", slog.String("plan", string(plan)))
			continue
		}

		results, err := o.search(ctx, a, c)
		if err != nil {
			o.metrics.SourceFailed(string(st))
			logger.Warn("source search failed",
				slog.String("source", string(st)),
				slog.String("error", err.Error()))
			continue
		}
		o.metrics.SourceReturned(string(st), len(results))
		logger.Debug("source search finished",
			slog.String("source", string(st)),
			slog.Int("results", len(results)))
		all = append(all, results...)
	}
	return all
}

// search invokes one adapter, converting a panic into an error.
func (o *Orchestrator) search(ctx context.Context, a source.Adapter, c *content.ProtectedContent) (results []source.CandidateResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = fmt.Errorf("adapter panicked: %v", r)
		}
	}()
	return a.Search(ctx, c)
}

// persist records cand unless an infringement for its URL already exists.
func (o *Orchestrator) persist(ctx context.Context, job *Job, contentID string, cand *source.CandidateResult) (bool, error) {
	exists, err := o.infringements.Exists(ctx, contentID, cand.SourceURL)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	inf := &infringement.Infringement{
		ContentID:    contentID,
		SourceURL:    cand.SourceURL,
		SourceType:   string(cand.SourceType),
		SourceDomain: cand.Domain,
		Title:        cand.Title,
		Snippet:      cand.Snippet,
		Confidence:   cand.Confidence,
		DetectedAt:   cand.DetectedAt,
	}
	created, err := o.infringements.Create(ctx, inf)
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}

	o.metrics.InfringementCreated(inf.SourceType)
	o.publish(event.Event{
		Type:      event.InfringementDetected,
		ContentID: contentID,
		JobID:     job.ID,
		Payload: event.Detection{
			InfringementID: inf.ID,
			SourceType:     inf.SourceType,
			SourceURL:      inf.SourceURL,
			SourceDomain:   inf.SourceDomain,
			Confidence:     inf.Confidence,
		},
	})
	return true, nil
}

// fail records cause on the job. The write uses a context that survives
// cancellation of ctx so the job is never left running.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, job *Job, start time.Time, cause error) error {
	if err := o.jobs.Fail(context.WithoutCancel(ctx), job.ID, cause.Error()); err != nil {
		logger.Error("recording scan failure", slog.String("error", err.Error()))
	}
	o.metrics.ObserveScan(string(JobFailed), time.Since(start))
	o.publish(event.Event{
		Type:      event.ScanFailed,
		ContentID: job.ContentID,
		JobID:     job.ID,
		Payload:   event.ScanFailure{Error: cause.Error()},
	})
	logger.Error("scan failed", slog.String("error", cause.Error()))
	return &FailedError{JobID: job.ID, Err: cause}
}

func (o *Orchestrator) publish(e event.Event) {
	if o.events != nil {
		o.events.Publish(e)
	}
}
