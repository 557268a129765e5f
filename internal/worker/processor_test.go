package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/jobqueue"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
)

type jobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newJobStore(jobs ...models.Job) *jobStore {
	st := &jobStore{jobs: map[string]*models.Job{}}
	for i := range jobs {
		j := jobs[i]
		st.jobs[j.ID] = &j
	}
	return st
}

func (s *jobStore) get(id string) models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *jobStore) EnqueueJob(ctx context.Context, job models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = &job
	return nil
}

func (s *jobStore) GetJob(ctx context.Context, id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return models.Job{}, errors.New("not found")
	}
	return *j, nil
}

func (s *jobStore) ClaimJobs(ctx context.Context, queue string, batch int, now time.Time) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []models.Job
	for _, j := range s.jobs {
		if len(claimed) >= batch {
			break
		}
		if j.Queue == queue && j.Status == models.JobPending && !j.NextAttemptAt.After(now) {
			j.Status = models.JobProcessing
			j.StartedAt = &now
			claimed = append(claimed, *j)
		}
	}
	return claimed, nil
}

func (s *jobStore) MarkJobCompleted(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Status = models.JobCompleted
	s.jobs[id].CompletedAt = &at
	return nil
}

func (s *jobStore) MarkJobFailed(ctx context.Context, id, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Status = models.JobFailed
	s.jobs[id].ErrorMessage = &errMsg
	return nil
}

func (s *jobStore) ScheduleJobRetry(ctx context.Context, id string, nextAttempt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	if j.RetryCount >= j.MaxRetries {
		return false, nil
	}
	j.RetryCount++
	j.Status = models.JobPending
	j.NextAttemptAt = nextAttempt
	return true, nil
}

func (s *jobStore) RecoverStuckJobs(ctx context.Context, queue string, olderThan time.Time) (int64, error) {
	return 0, nil
}

func (s *jobStore) CancelPendingJobs(ctx context.Context, queue, subjectID string) (int64, error) {
	return 0, nil
}

func (s *jobStore) PurgeTerminalJobs(ctx context.Context, queue string, before time.Time, batch int) (int64, error) {
	return 0, nil
}

func (s *jobStore) QueueStatistics(ctx context.Context, queue string, window time.Duration) (models.QueueStatistics, error) {
	return models.QueueStatistics{}, nil
}

type capturedEvent struct {
	eventType string
	payload   map[string]any
}

type fakeJobPublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (f *fakeJobPublisher) Publish(ctx context.Context, eventType string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, capturedEvent{eventType: eventType, payload: payload})
}

func (f *fakeJobPublisher) all() []capturedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capturedEvent(nil), f.events...)
}

func processingJob(retryCount, maxRetries int) models.Job {
	return models.Job{
		ID:         "job-1",
		Queue:      models.QueueThumbnail,
		SubjectID:  "42",
		Priority:   models.PriorityMedium,
		Status:     models.JobProcessing,
		RetryCount: retryCount,
		MaxRetries: maxRetries,
	}
}

func TestProcessPublishesCompletion(t *testing.T) {
	job := processingJob(0, 2)
	st := newJobStore(job)
	q := jobqueue.New(models.QueueThumbnail, st, jobqueue.Options{}, nil)
	pub := &fakeJobPublisher{}
	p := NewProcessorWithEvents(q, func(ctx context.Context, j models.Job) error {
		return nil
	}, time.Millisecond, time.Minute, pub)

	p.process(context.Background(), job)

	if got := st.get(job.ID).Status; got != models.JobCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	events := pub.all()
	if len(events) != 1 || events[0].eventType != EventJobCompleted {
		t.Fatalf("expected one %s event, got %v", EventJobCompleted, events)
	}
	if events[0].payload["job_id"] != job.ID || events[0].payload["subject_id"] != "42" {
		t.Fatalf("unexpected payload: %v", events[0].payload)
	}
}

func TestProcessRetryIsSilent(t *testing.T) {
	job := processingJob(0, 2)
	st := newJobStore(job)
	q := jobqueue.New(models.QueueThumbnail, st, jobqueue.Options{}, nil)
	pub := &fakeJobPublisher{}
	p := NewProcessorWithEvents(q, func(ctx context.Context, j models.Job) error {
		return errors.New("renderer offline")
	}, time.Millisecond, time.Minute, pub)

	p.process(context.Background(), job)

	after := st.get(job.ID)
	if after.Status != models.JobPending || after.RetryCount != 1 {
		t.Fatalf("expected pending with retry_count 1, got %s/%d", after.Status, after.RetryCount)
	}
	if events := pub.all(); len(events) != 0 {
		t.Fatalf("retry must not publish events, got %v", events)
	}
}

func TestProcessExhaustedRetriesPublishesFailure(t *testing.T) {
	job := processingJob(2, 2)
	st := newJobStore(job)
	q := jobqueue.New(models.QueueThumbnail, st, jobqueue.Options{}, nil)
	pub := &fakeJobPublisher{}
	p := NewProcessorWithEvents(q, func(ctx context.Context, j models.Job) error {
		return errors.New("renderer offline")
	}, time.Millisecond, time.Minute, pub)

	p.process(context.Background(), job)

	if got := st.get(job.ID).Status; got != models.JobFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	events := pub.all()
	if len(events) != 1 || events[0].eventType != EventJobFailed {
		t.Fatalf("expected one %s event, got %v", EventJobFailed, events)
	}
	if events[0].payload["error"] != "renderer offline" {
		t.Fatalf("failure cause missing from payload: %v", events[0].payload)
	}
}
