package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrJobNotFound is returned when no scan job matches the given ID.
var ErrJobNotFound = errors.New("scan job not found")

// ErrJobFinalized is returned when completing or failing a job that has
// already left the running state.
var ErrJobFinalized = errors.New("scan job already finalized")

// JobStatus is the lifecycle state of a scan job.
type JobStatus string

// Job states. A job starts running and is finalized exactly once.
const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// TypeFull is the scan type recorded for a scan across every enabled source.
const TypeFull = "full"

// Job records one execution of a scan.
type Job struct {
	ID                 string     `json:"id"`
	ContentID          string     `json:"content_id"`
	ScanType           string     `json:"scan_type"`
	Status             JobStatus  `json:"status"`
	ResultsCount       int        `json:"results_count"`
	InfringementsFound int        `json:"infringements_found"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

const jobColumns = `id, content_id, scan_type, status, results_count, infringements_found,
	error_message, started_at, completed_at`

// JobService persists scan jobs.
type JobService struct {
	db *sql.DB
}

// NewJobService creates a scan job service.
func NewJobService(db *sql.DB) *JobService {
	return &JobService{db: db}
}

// Create inserts a new running job for contentID.
func (s *JobService) Create(ctx context.Context, contentID, scanType string) (*Job, error) {
	job := &Job{
		ID:        uuid.New().String(),
		ContentID: contentID,
		ScanType:  scanType,
		Status:    JobRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_jobs (id, content_id, scan_type, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, job.ID, job.ContentID, job.ScanType, string(job.Status), job.StartedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("creating scan job: %w", err)
	}
	return job, nil
}

// Complete finalizes a running job with its result counts.
func (s *JobService) Complete(ctx context.Context, id string, resultsCount, found int) error {
	return s.finalize(ctx, id, `
		UPDATE scan_jobs SET status = ?, results_count = ?, infringements_found = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(JobCompleted), resultsCount, found, time.Now().UTC().Format(time.RFC3339), id, string(JobRunning))
}

// Fail finalizes a running job with an error message.
func (s *JobService) Fail(ctx context.Context, id, message string) error {
	return s.finalize(ctx, id, `
		UPDATE scan_jobs SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(JobFailed), message, time.Now().UTC().Format(time.RFC3339), id, string(JobRunning))
}

func (s *JobService) finalize(ctx context.Context, id, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("finalizing scan job: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		return nil
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrJobFinalized
}

// GetByID retrieves a scan job by primary key.
func (s *JobService) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scan_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting scan job: %w", err)
	}
	return job, nil
}

// ListByContent returns the most recent jobs for contentID, newest first.
func (s *JobService) ListByContent(ctx context.Context, contentID string, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM scan_jobs WHERE content_id = ?
		ORDER BY started_at DESC, rowid DESC LIMIT ?
	`, contentID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scan jobs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var job Job
	var status, startedAt string
	var completedAt sql.NullString
	err := row.Scan(&job.ID, &job.ContentID, &job.ScanType, &status, &job.ResultsCount,
		&job.InfringementsFound, &job.ErrorMessage, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	job.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err == nil {
			job.CompletedAt = &t
		}
	}
	return &job, nil
}
