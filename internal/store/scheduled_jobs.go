package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
)

const scheduledJobColumns = `job_id, job_type, entity_type, entity_id, interval_seconds,
	status, execution_count, success_count, failure_count, skip_count,
	next_run_time, last_run_time, last_success_time, last_failure_time,
	created_at, updated_at`

func scanScheduledJob(row pgx.Row) (models.ScheduledJob, error) {
	var j models.ScheduledJob
	err := row.Scan(&j.JobID, &j.JobType, &j.EntityType, &j.EntityID, &j.IntervalSeconds,
		&j.Status, &j.ExecutionCount, &j.SuccessCount, &j.FailureCount, &j.SkipCount,
		&j.NextRunTime, &j.LastRunTime, &j.LastSuccessTime, &j.LastFailureTime,
		&j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ScheduledJob{}, ErrNotFound
	}
	if err != nil {
		return models.ScheduledJob{}, fmt.Errorf("scan scheduled job: %w", err)
	}
	return j, nil
}

// UpsertScheduledJob creates or refreshes a mirror row for an engine job.
// Counters are preserved on conflict; only configuration and status change.
func (s *Store) UpsertScheduledJob(ctx context.Context, j models.ScheduledJob) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scheduled_jobs (job_id, job_type, entity_type, entity_id,
			interval_seconds, status, next_run_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (job_id) DO UPDATE SET
			interval_seconds = EXCLUDED.interval_seconds,
			status = EXCLUDED.status,
			next_run_time = EXCLUDED.next_run_time,
			updated_at = NOW()
	`, j.JobID, j.JobType, j.EntityType, j.EntityID, j.IntervalSeconds, j.Status, j.NextRunTime)
	if err != nil {
		return fmt.Errorf("upsert scheduled job: %w", err)
	}
	return nil
}

// GetScheduledJob fetches one mirror row.
func (s *Store) GetScheduledJob(ctx context.Context, jobID string) (models.ScheduledJob, error) {
	return scanScheduledJob(s.pool.QueryRow(ctx,
		`SELECT `+scheduledJobColumns+` FROM scheduled_jobs WHERE job_id = $1`, jobID))
}

// ScheduledJobFilter narrows ListScheduledJobs.
type ScheduledJobFilter struct {
	Status  string
	JobType string
	Limit   int
	Offset  int
}

// ListScheduledJobs returns mirror rows matching the filter plus the total
// match count for pagination.
func (s *Store) ListScheduledJobs(ctx context.Context, f ScheduledJobFilter) ([]models.ScheduledJob, int64, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	var total int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM scheduled_jobs
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR job_type = $2)
	`, f.Status, f.JobType).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count scheduled jobs: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+scheduledJobColumns+` FROM scheduled_jobs
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR job_type = $2)
		ORDER BY job_id
		LIMIT $3 OFFSET $4
	`, f.Status, f.JobType, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list scheduled jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.ScheduledJob
	for rows.Next() {
		j, err := scanScheduledJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

// ListActiveScheduledJobs returns every row with status=active, for restart
// replay.
func (s *Store) ListActiveScheduledJobs(ctx context.Context) ([]models.ScheduledJob, error) {
	jobs, _, err := s.ListScheduledJobs(ctx, ScheduledJobFilter{Status: models.ScheduledJobActive, Limit: 500})
	return jobs, err
}

// SetScheduledJobStatus updates the mirror status.
func (s *Store) SetScheduledJobStatus(ctx context.Context, jobID, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scheduled_jobs SET status = $2, updated_at = NOW() WHERE job_id = $1
	`, jobID, status)
	return err
}

// SetScheduledJobInterval updates the configured interval on the mirror.
func (s *Store) SetScheduledJobInterval(ctx context.Context, jobID string, seconds int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scheduled_jobs SET interval_seconds = $2, updated_at = NOW() WHERE job_id = $1
	`, jobID, seconds)
	return err
}

// RecordScheduledJobRun updates execution statistics after an attempted
// capture. Validation skips never reach this method.
func (s *Store) RecordScheduledJobRun(ctx context.Context, jobID string, success bool, at, nextRun time.Time) error {
	var err error
	if success {
		_, err = s.pool.Exec(ctx, `
			UPDATE scheduled_jobs
			SET execution_count = execution_count + 1, success_count = success_count + 1,
				last_run_time = $2, last_success_time = $2, next_run_time = $3, updated_at = NOW()
			WHERE job_id = $1
		`, jobID, at, nextRun)
	} else {
		_, err = s.pool.Exec(ctx, `
			UPDATE scheduled_jobs
			SET execution_count = execution_count + 1, failure_count = failure_count + 1,
				last_run_time = $2, last_failure_time = $2, next_run_time = $3, updated_at = NOW()
			WHERE job_id = $1
		`, jobID, at, nextRun)
	}
	return err
}

// RecordScheduledJobSkip counts a validation skip. Skips are not failures;
// failure_count is reserved for execution errors.
func (s *Store) RecordScheduledJobSkip(ctx context.Context, jobID string, nextRun time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scheduled_jobs
		SET skip_count = skip_count + 1, next_run_time = $2, updated_at = NOW()
		WHERE job_id = $1
	`, jobID, nextRun)
	return err
}

// RemoveScheduledJob deletes a mirror row.
func (s *Store) RemoveScheduledJob(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM scheduled_jobs WHERE job_id = $1`, jobID)
	return err
}
