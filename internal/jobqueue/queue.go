// Package jobqueue is the generic background job engine: pending jobs are
// claimed into processing with an atomic status-guarded transition, finish as
// completed or failed, and failed jobs return to pending only through an
// explicit retry with a bounded budget. The thumbnail and video-generation
// pipelines are instantiations of this engine over different queue names.
package jobqueue

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/telemetry"
)

// Store is the persistence contract the engine drives. *store.Store
// implements it; tests implement it in memory.
//
// Implementations must make ClaimJobs a conditional transition guarded by
// the current status (so concurrent worker processes never claim the same
// job), must have ScheduleJobRetry refuse the transition once
// retry_count >= max_retries, and must leave retry_count untouched in
// RecoverStuckJobs.
type Store interface {
	EnqueueJob(ctx context.Context, job models.Job) error
	GetJob(ctx context.Context, id string) (models.Job, error)
	ClaimJobs(ctx context.Context, queue string, batch int, now time.Time) ([]models.Job, error)
	MarkJobCompleted(ctx context.Context, id string, at time.Time) error
	MarkJobFailed(ctx context.Context, id, errMsg string, at time.Time) error
	ScheduleJobRetry(ctx context.Context, id string, nextAttempt time.Time) (bool, error)
	RecoverStuckJobs(ctx context.Context, queue string, olderThan time.Time) (int64, error)
	CancelPendingJobs(ctx context.Context, queue, subjectID string) (int64, error)
	PurgeTerminalJobs(ctx context.Context, queue string, before time.Time, batch int) (int64, error)
	QueueStatistics(ctx context.Context, queue string, window time.Duration) (models.QueueStatistics, error)
}

// Options tune one queue instantiation.
type Options struct {
	MaxRetries       int
	RetryBackoffMin  time.Duration
	RetryBackoffMax  time.Duration
	ProcessingMaxAge time.Duration
	Retention        time.Duration
	BatchSize        int
	StatsWindow      time.Duration
}

func (o *Options) fill() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBackoffMin <= 0 {
		o.RetryBackoffMin = 30 * time.Second
	}
	if o.RetryBackoffMax <= 0 {
		o.RetryBackoffMax = 15 * time.Minute
	}
	if o.ProcessingMaxAge <= 0 {
		o.ProcessingMaxAge = 10 * time.Minute
	}
	if o.Retention <= 0 {
		o.Retention = 72 * time.Hour
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.StatsWindow <= 0 {
		o.StatsWindow = 24 * time.Hour
	}
}

// Queue is one job family bound to the engine.
type Queue struct {
	name  string
	store Store
	opts  Options
	now   func() time.Time
}

// New builds a queue instance. nowFn may be nil.
func New(name string, st Store, opts Options, nowFn func() time.Time) *Queue {
	opts.fill()
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Queue{name: name, store: st, opts: opts, now: nowFn}
}

// Name returns the queue's family name.
func (q *Queue) Name() string { return q.name }

// Enqueue inserts a new pending job for a subject.
func (q *Queue) Enqueue(ctx context.Context, subjectID, priority string, payload map[string]any) (models.Job, error) {
	if priority == "" {
		priority = models.PriorityMedium
	}
	if payload == nil {
		payload = map[string]any{}
	}
	now := q.now()
	job := models.Job{
		ID:            uuid.New().String(),
		Queue:         q.name,
		SubjectID:     subjectID,
		Priority:      priority,
		Status:        models.JobPending,
		Payload:       payload,
		MaxRetries:    q.opts.MaxRetries,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	if err := q.store.EnqueueJob(ctx, job); err != nil {
		return models.Job{}, fmt.Errorf("enqueue %s job: %w", q.name, err)
	}
	telemetry.JobsEnqueued.WithLabelValues(q.name).Inc()
	return job, nil
}

// Claim atomically moves up to the configured batch of eligible jobs to
// processing and returns them.
func (q *Queue) Claim(ctx context.Context) ([]models.Job, error) {
	return q.store.ClaimJobs(ctx, q.name, q.opts.BatchSize, q.now())
}

// Complete marks a claimed job done.
func (q *Queue) Complete(ctx context.Context, job models.Job) error {
	if err := q.store.MarkJobCompleted(ctx, job.ID, q.now()); err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	telemetry.JobsCompleted.WithLabelValues(q.name).Inc()
	return nil
}

// Fail marks a claimed job failed with the given cause.
func (q *Queue) Fail(ctx context.Context, job models.Job, cause error) error {
	if err := q.store.MarkJobFailed(ctx, job.ID, cause.Error(), q.now()); err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	telemetry.JobsFailed.WithLabelValues(q.name).Inc()
	return nil
}

// ScheduleRetry moves a failed job back to pending after a backoff delay
// derived from its retry count. It reports false once the retry budget is
// spent, leaving the job permanently failed.
func (q *Queue) ScheduleRetry(ctx context.Context, job models.Job) (bool, error) {
	delay := q.retryDelay(job.RetryCount + 1)
	scheduled, err := q.store.ScheduleJobRetry(ctx, job.ID, q.now().Add(delay))
	if err != nil {
		return false, err
	}
	if scheduled {
		telemetry.JobsRetried.WithLabelValues(q.name).Inc()
	}
	return scheduled, nil
}

// retryDelay doubles from the minimum per attempt, capped at the maximum.
// The minimum also acts as the re-eligibility floor for the first retry.
func (q *Queue) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(q.opts.RetryBackoffMin) * math.Pow(2, float64(attempt-1)))
	if d > q.opts.RetryBackoffMax || d < 0 {
		d = q.opts.RetryBackoffMax
	}
	return d
}

// RecoverStuck resets jobs stranded in processing past the configured age
// back to pending. Recovery is not retry: the retry count is preserved,
// since the loss was infrastructural, not job-specific.
func (q *Queue) RecoverStuck(ctx context.Context) (int64, error) {
	cutoff := q.now().Add(-q.opts.ProcessingMaxAge)
	n, err := q.store.RecoverStuckJobs(ctx, q.name, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		telemetry.JobsRecovered.WithLabelValues(q.name).Add(float64(n))
	}
	return n, nil
}

// CancelForSubject bulk-cancels pending jobs tied to a subject. Processing
// jobs are left to finish; cancellation is cooperative.
func (q *Queue) CancelForSubject(ctx context.Context, subjectID string) (int64, error) {
	return q.store.CancelPendingJobs(ctx, q.name, subjectID)
}

// Cleanup purges terminal jobs older than the retention window, in batches.
func (q *Queue) Cleanup(ctx context.Context) (int64, error) {
	cutoff := q.now().Add(-q.opts.Retention)
	var total int64
	for {
		n, err := q.store.PurgeTerminalJobs(ctx, q.name, cutoff, q.opts.BatchSize*10)
		if err != nil {
			return total, err
		}
		total += n
		if n == 0 {
			return total, nil
		}
	}
}

// Statistics returns the rolling-window summary for this queue.
func (q *Queue) Statistics(ctx context.Context) (models.QueueStatistics, error) {
	stats, err := q.store.QueueStatistics(ctx, q.name, q.opts.StatsWindow)
	if err != nil {
		return models.QueueStatistics{}, err
	}
	telemetry.QueueDepth.WithLabelValues(q.name).Set(float64(stats.Pending))
	return stats, nil
}
