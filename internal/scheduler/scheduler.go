// Package scheduler owns capture timing. One timer per active timelapse
// fires readiness validation and, when valid, hands execution to the capture
// function. The scheduler alone decides "when"; executors never re-derive
// that decision. The scheduled_jobs table is a queryable mirror of this
// engine for observability and restart replay, not the execution authority.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/readiness"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/telemetry"
)

var (
	ErrJobExists   = errors.New("job already registered")
	ErrJobNotFound = errors.New("job not registered")
	ErrNotStarted  = errors.New("scheduler not started")
)

// CaptureFunc executes one capture workflow. The scheduler has already
// validated readiness; the function must not re-validate it.
type CaptureFunc func(ctx context.Context, cameraID, timelapseID int64) error

// Validator is the readiness decision surface.
type Validator interface {
	Validate(ctx context.Context, cameraID, timelapseID int64) (readiness.Result, error)
}

// Mirror persists the observability mirror of engine jobs.
type Mirror interface {
	UpsertScheduledJob(ctx context.Context, j models.ScheduledJob) error
	SetScheduledJobStatus(ctx context.Context, jobID, status string) error
	SetScheduledJobInterval(ctx context.Context, jobID string, seconds int) error
	RecordScheduledJobRun(ctx context.Context, jobID string, success bool, at, nextRun time.Time) error
	RecordScheduledJobSkip(ctx context.Context, jobID string, nextRun time.Time) error
	RemoveScheduledJob(ctx context.Context, jobID string) error
	ListActiveScheduledJobs(ctx context.Context) ([]models.ScheduledJob, error)
}

// TimelapseReader resolves timelapse rows during restart replay.
type TimelapseReader interface {
	GetTimelapse(ctx context.Context, id int64) (models.Timelapse, error)
}

// JobIDForTimelapse builds the unique engine job id for a timelapse.
func JobIDForTimelapse(timelapseID int64) string {
	return fmt.Sprintf("%s_%d", models.JobTypeTimelapseCapture, timelapseID)
}

// job is one registered timer. The running mutex gives engine-level mutual
// exclusion per job_id: a tick or manual trigger that arrives while the
// previous execution is still in flight is dropped, never queued.
// interval and cancel are guarded by Scheduler.mu; timer goroutines work
// from a snapshot taken under the lock.
type job struct {
	id          string
	cameraID    int64
	timelapseID int64
	interval    time.Duration
	cancel      context.CancelFunc // nil while not ticking
	running     sync.Mutex
}

// Scheduler is the live timer engine.
type Scheduler struct {
	mu        sync.Mutex
	jobs      map[string]*job
	mirror    Mirror
	validator Validator
	repo      TimelapseReader
	capture   CaptureFunc
	now       func() time.Time
	ctx       context.Context
	wg        sync.WaitGroup
}

// New builds an engine. nowFn may be nil.
func New(mirror Mirror, validator Validator, repo TimelapseReader, capture CaptureFunc, nowFn func() time.Time) *Scheduler {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Scheduler{
		jobs:      make(map[string]*job),
		mirror:    mirror,
		validator: validator,
		repo:      repo,
		capture:   capture,
		now:       nowFn,
	}
}

// Start binds the engine to its run context and starts timers for jobs
// registered before startup. It must be called before jobs can tick.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	for _, j := range s.jobs {
		if j.cancel == nil {
			s.startLocked(j)
		}
	}
}

// Wait blocks until every timer goroutine has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// AddJob registers a capture job for a timelapse. Job ids are unique; a
// second registration for the same timelapse is refused.
func (s *Scheduler) AddJob(ctx context.Context, cameraID, timelapseID int64, intervalSeconds int) error {
	if intervalSeconds <= 0 {
		return fmt.Errorf("interval must be positive, got %d", intervalSeconds)
	}
	jobID := JobIDForTimelapse(timelapseID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, jobID)
	}

	next := s.now().Add(time.Duration(intervalSeconds) * time.Second)
	if err := s.mirror.UpsertScheduledJob(ctx, models.ScheduledJob{
		JobID:           jobID,
		JobType:         models.JobTypeTimelapseCapture,
		EntityType:      "timelapse",
		EntityID:        timelapseID,
		IntervalSeconds: intervalSeconds,
		Status:          models.ScheduledJobActive,
		NextRunTime:     &next,
	}); err != nil {
		return fmt.Errorf("mirror scheduled job: %w", err)
	}

	j := &job{
		id:          jobID,
		cameraID:    cameraID,
		timelapseID: timelapseID,
		interval:    time.Duration(intervalSeconds) * time.Second,
	}
	s.jobs[jobID] = j
	if s.ctx != nil {
		s.startLocked(j)
	}
	return nil
}

// RestoreActive re-registers every mirror row with status=active. Called once
// at process startup; rows already registered are skipped so the engine ends
// up with exactly one job per active row.
func (s *Scheduler) RestoreActive(ctx context.Context) (int, error) {
	rows, err := s.mirror.ListActiveScheduledJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active jobs: %w", err)
	}
	restored := 0
	for _, row := range rows {
		tl, err := s.repo.GetTimelapse(ctx, row.EntityID)
		if err != nil {
			log.Printf("scheduler: skipping %s, timelapse %d unavailable: %v", row.JobID, row.EntityID, err)
			continue
		}
		err = s.AddJob(ctx, tl.CameraID, tl.ID, row.IntervalSeconds)
		if errors.Is(err, ErrJobExists) {
			continue
		}
		if err != nil {
			return restored, err
		}
		restored++
	}
	return restored, nil
}

// startLocked launches the timer goroutine for a job. Caller holds s.mu.
// The goroutine ticks on the interval as of launch; an interval change
// restarts the timer with a fresh snapshot rather than mutating a live one.
func (s *Scheduler) startLocked(j *job) {
	jctx, cancel := context.WithCancel(s.ctx)
	j.cancel = cancel
	interval := j.interval
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-jctx.Done():
				return
			case <-ticker.C:
				s.runOnce(jctx, j, interval)
			}
		}
	}()
}

// runOnce performs one scheduler tick: validate, then execute or skip. A
// validation skip is not an attempted-and-failed execution; it is counted
// separately and failure_count stays reserved for execution errors.
func (s *Scheduler) runOnce(ctx context.Context, j *job, interval time.Duration) {
	if !j.running.TryLock() {
		// Previous execution still in flight; captures for one camera are
		// strictly serialized.
		return
	}
	defer j.running.Unlock()

	now := s.now()
	nextRun := now.Add(interval)

	res, err := s.validator.Validate(ctx, j.cameraID, j.timelapseID)
	if err != nil {
		// Infrastructure error. The tick is aborted, not failed; the next
		// tick retries naturally.
		log.Printf("scheduler: %s validation unavailable, skipping tick: %v", j.id, err)
		return
	}
	if !res.Valid {
		telemetry.CaptureSkips.WithLabelValues(res.ErrorType).Inc()
		if err := s.mirror.RecordScheduledJobSkip(ctx, j.id, nextRun); err != nil {
			log.Printf("scheduler: %s record skip: %v", j.id, err)
		}
		return
	}

	telemetry.CapturesAttempted.Inc()
	captureErr := s.capture(ctx, j.cameraID, j.timelapseID)
	if captureErr != nil {
		telemetry.CapturesFailed.Inc()
		log.Printf("scheduler: %s capture failed: %v", j.id, captureErr)
	} else {
		telemetry.CapturesSucceeded.Inc()
	}
	if err := s.mirror.RecordScheduledJobRun(ctx, j.id, captureErr == nil, now, nextRun); err != nil {
		log.Printf("scheduler: %s record run: %v", j.id, err)
	}
}
