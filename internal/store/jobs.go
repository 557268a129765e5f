package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
)

const jobColumns = `id, queue, subject_id, priority, status, payload, retry_count,
	max_retries, error_message, next_attempt_at, created_at, started_at, completed_at`

func scanJob(row pgx.Row) (models.Job, error) {
	var j models.Job
	var payload []byte
	err := row.Scan(&j.ID, &j.Queue, &j.SubjectID, &j.Priority, &j.Status, &payload,
		&j.RetryCount, &j.MaxRetries, &j.ErrorMessage, &j.NextAttemptAt,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, ErrNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &j.Payload); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return j, nil
}

// EnqueueJob inserts a new pending job row.
func (s *Store) EnqueueJob(ctx context.Context, job models.Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, queue, subject_id, priority, status, payload,
			retry_count, max_retries, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9)
	`, job.ID, job.Queue, job.SubjectID, job.Priority, models.JobPending,
		payload, job.MaxRetries, job.NextAttemptAt, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	return scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

// ClaimJobs atomically moves up to batch eligible pending jobs to processing
// and returns them, ordered by priority tier then FIFO within a tier. The
// claim is a conditional transition guarded by the current status, so it is
// correct across concurrent worker processes.
func (s *Store) ClaimJobs(ctx context.Context, queue string, batch int, now time.Time) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE jobs SET status = $4, started_at = $3
		WHERE id IN (
			SELECT id FROM jobs
			WHERE queue = $1 AND status = $5 AND next_attempt_at <= $3
			ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END,
				created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) AND status = $5
		RETURNING `+jobColumns+`
	`, queue, batch, now, models.JobProcessing, models.JobPending)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// MarkJobCompleted transitions a processing job to completed.
func (s *Store) MarkJobCompleted(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, completed_at = $3, error_message = NULL
		WHERE id = $1 AND status = $4
	`, id, models.JobCompleted, at, models.JobProcessing)
	return err
}

// MarkJobFailed transitions a processing job to failed with an error message.
func (s *Store) MarkJobFailed(ctx context.Context, id, errMsg string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, completed_at = $3, error_message = $4
		WHERE id = $1 AND status = $5
	`, id, models.JobFailed, at, errMsg, models.JobProcessing)
	return err
}

// ScheduleJobRetry moves a failed job back to pending, incrementing its retry
// count. The transition is refused once the retry budget is spent; the
// returned bool reports whether a retry was actually scheduled.
func (s *Store) ScheduleJobRetry(ctx context.Context, id string, nextAttempt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, retry_count = retry_count + 1, next_attempt_at = $3,
			started_at = NULL, completed_at = NULL
		WHERE id = $1 AND status = $4 AND retry_count < max_retries
	`, id, models.JobPending, nextAttempt, models.JobFailed)
	if err != nil {
		return false, fmt.Errorf("schedule retry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecoverStuckJobs resets jobs stranded in processing since before the cutoff
// back to pending. The retry count is untouched: a crashed worker is an
// infrastructure failure, not evidence against the job.
func (s *Store) RecoverStuckJobs(ctx context.Context, queue string, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $3, started_at = NULL
		WHERE queue = $1 AND status = $4 AND started_at < $2
	`, queue, olderThan, models.JobPending, models.JobProcessing)
	if err != nil {
		return 0, fmt.Errorf("recover stuck jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CancelPendingJobs bulk-cancels every pending job tied to a subject. Jobs
// already processing are left to finish.
func (s *Store) CancelPendingJobs(ctx context.Context, queue, subjectID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $3, completed_at = NOW()
		WHERE queue = $1 AND subject_id = $2 AND status = $4
	`, queue, subjectID, models.JobCancelled, models.JobPending)
	if err != nil {
		return 0, fmt.Errorf("cancel pending jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeTerminalJobs deletes completed/failed/cancelled jobs created before
// the cutoff, in batches.
func (s *Store) PurgeTerminalJobs(ctx context.Context, queue string, before time.Time, batch int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM jobs WHERE id IN (
			SELECT id FROM jobs
			WHERE queue = $1 AND status = ANY($2) AND created_at < $3
			LIMIT $4
		)
	`, queue, []string{models.JobCompleted, models.JobFailed, models.JobCancelled}, before, batch)
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// QueueStatistics summarizes the queue over a rolling window.
func (s *Store) QueueStatistics(ctx context.Context, queue string, window time.Duration) (models.QueueStatistics, error) {
	stats := models.QueueStatistics{Queue: queue, Window: window.String()}
	since := time.Now().Add(-window)
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed' AND completed_at >= $2),
			COUNT(*) FILTER (WHERE status = 'failed' AND completed_at >= $2),
			COUNT(*) FILTER (WHERE status = 'cancelled' AND completed_at >= $2),
			COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at)) * 1000)
				FILTER (WHERE status = 'completed' AND completed_at >= $2), 0),
			MIN(created_at) FILTER (WHERE status = 'pending')
		FROM jobs WHERE queue = $1
	`, queue, since).Scan(&stats.Pending, &stats.Processing, &stats.Completed,
		&stats.Failed, &stats.Cancelled, &stats.AvgProcessingMS, &stats.OldestPendingAt)
	if err != nil {
		return models.QueueStatistics{}, fmt.Errorf("queue statistics: %w", err)
	}
	return stats, nil
}
