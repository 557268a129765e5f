package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
)

// Job-control actions exposed to the admin surface.
const (
	ActionPause   = "pause"
	ActionResume  = "resume"
	ActionDisable = "disable"
	ActionEnable  = "enable"
	ActionTrigger = "trigger"
)

// ValidAction reports whether the action name is recognized.
func ValidAction(action string) bool {
	switch action {
	case ActionPause, ActionResume, ActionDisable, ActionEnable, ActionTrigger:
		return true
	}
	return false
}

// Apply executes one control action against a registered job.
func (s *Scheduler) Apply(ctx context.Context, jobID, action string) error {
	switch action {
	case ActionPause:
		return s.setJobState(ctx, jobID, false, models.ScheduledJobPaused)
	case ActionResume, ActionEnable:
		return s.setJobState(ctx, jobID, true, models.ScheduledJobActive)
	case ActionDisable:
		return s.setJobState(ctx, jobID, false, models.ScheduledJobDisabled)
	case ActionTrigger:
		return s.Trigger(jobID)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

// BulkApply runs an action over several jobs, returning per-job errors keyed
// by job id. Jobs without an entry succeeded.
func (s *Scheduler) BulkApply(ctx context.Context, jobIDs []string, action string) map[string]error {
	failures := make(map[string]error)
	for _, id := range jobIDs {
		if err := s.Apply(ctx, id, action); err != nil {
			failures[id] = err
		}
	}
	return failures
}

// setJobState starts or stops a job's timer and records the mirror status.
func (s *Scheduler) setJobState(ctx context.Context, jobID string, run bool, status string) error {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if run {
		if s.ctx == nil {
			s.mu.Unlock()
			return ErrNotStarted
		}
		if j.cancel == nil {
			s.startLocked(j)
		}
	} else if j.cancel != nil {
		j.cancel()
		j.cancel = nil
	}
	s.mu.Unlock()

	if err := s.mirror.SetScheduledJobStatus(ctx, jobID, status); err != nil {
		return fmt.Errorf("mirror status: %w", err)
	}
	return nil
}

// Trigger fires a job immediately, off the timer cadence. The per-job
// execution mutex still applies, so a trigger during a running capture is
// dropped.
func (s *Scheduler) Trigger(jobID string) error {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	ctx := s.ctx
	var interval time.Duration
	if ok {
		interval = j.interval
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if ctx == nil {
		return ErrNotStarted
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runOnce(ctx, j, interval)
	}()
	return nil
}

// RemoveJob stops a job's timer and deletes it from the engine and mirror.
func (s *Scheduler) RemoveJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	if ok {
		if j.cancel != nil {
			j.cancel()
			j.cancel = nil
		}
		delete(s.jobs, jobID)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err := s.mirror.RemoveScheduledJob(ctx, jobID); err != nil {
		return fmt.Errorf("remove mirror row: %w", err)
	}
	return nil
}

// UpdateInterval changes a job's tick interval, restarting its timer when it
// is live. Interval bound validation happens at the admin surface.
func (s *Scheduler) UpdateInterval(ctx context.Context, jobID string, intervalSeconds int) error {
	if intervalSeconds <= 0 {
		return fmt.Errorf("interval must be positive, got %d", intervalSeconds)
	}
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	j.interval = time.Duration(intervalSeconds) * time.Second
	if j.cancel != nil {
		j.cancel()
		j.cancel = nil
		s.startLocked(j)
	}
	s.mu.Unlock()

	if err := s.mirror.SetScheduledJobInterval(ctx, jobID, intervalSeconds); err != nil {
		return fmt.Errorf("mirror interval: %w", err)
	}
	return nil
}

// Registered reports whether a job id is known to the engine.
func (s *Scheduler) Registered(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[jobID]
	return ok
}
