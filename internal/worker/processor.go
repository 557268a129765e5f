// Package worker drains the background job queues. One processor per job
// family polls for claimable work, dispatches it to the family's handler,
// and settles each job as completed, retried, or permanently failed.
package worker

import (
	"context"
	"log"
	"time"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/jobqueue"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/telemetry"
)

// Handler executes one job.
type Handler func(ctx context.Context, job models.Job) error

// Publisher is the optional event surface for job settlement.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload map[string]any)
}

// Event types emitted on job settlement. job_failed fires only when the
// retry budget is spent.
const (
	EventJobCompleted = "job_completed"
	EventJobFailed    = "job_failed"
)

// Processor is the poll loop for one queue.
type Processor struct {
	queue         *jobqueue.Queue
	handler       Handler
	publisher     Publisher
	pollInterval  time.Duration
	sweepInterval time.Duration
}

// NewProcessor binds a queue to its handler.
func NewProcessor(q *jobqueue.Queue, handler Handler, pollInterval, sweepInterval time.Duration) *Processor {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &Processor{queue: q, handler: handler, pollInterval: pollInterval, sweepInterval: sweepInterval}
}

// NewProcessorWithEvents is NewProcessor plus settlement events. pub may be
// nil.
func NewProcessorWithEvents(q *jobqueue.Queue, handler Handler, pollInterval, sweepInterval time.Duration, pub Publisher) *Processor {
	p := NewProcessor(q, handler, pollInterval, sweepInterval)
	p.publisher = pub
	return p
}

// Run drives the loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	sweep := time.NewTicker(p.sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweep.C:
			if n, err := p.queue.RecoverStuck(ctx); err != nil {
				log.Printf("worker[%s]: stuck sweep: %v", p.queue.Name(), err)
			} else if n > 0 {
				log.Printf("worker[%s]: recovered %d stuck jobs", p.queue.Name(), n)
			}
			continue
		default:
		}

		jobs, err := p.queue.Claim(ctx)
		if err != nil {
			log.Printf("worker[%s]: claim: %v", p.queue.Name(), err)
			p.idle(ctx)
			continue
		}
		if len(jobs) == 0 {
			p.idle(ctx)
			continue
		}
		for _, job := range jobs {
			p.process(ctx, job)
		}
	}
}

func (p *Processor) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.pollInterval):
	}
}

// process settles one claimed job.
func (p *Processor) process(ctx context.Context, job models.Job) {
	start := time.Now()
	err := p.handler(ctx, job)
	telemetry.JobDuration.WithLabelValues(p.queue.Name()).Observe(time.Since(start).Seconds())

	if err == nil {
		if cerr := p.queue.Complete(ctx, job); cerr != nil {
			log.Printf("worker[%s]: complete %s: %v", p.queue.Name(), job.ID, cerr)
			return
		}
		if p.publisher != nil {
			p.publisher.Publish(ctx, EventJobCompleted, map[string]any{
				"job_id":     job.ID,
				"queue":      p.queue.Name(),
				"subject_id": job.SubjectID,
			})
		}
		return
	}

	log.Printf("worker[%s]: job %s failed: %v", p.queue.Name(), job.ID, err)
	if ferr := p.queue.Fail(ctx, job, err); ferr != nil {
		log.Printf("worker[%s]: fail %s: %v", p.queue.Name(), job.ID, ferr)
		return
	}
	scheduled, rerr := p.queue.ScheduleRetry(ctx, job)
	if rerr != nil {
		log.Printf("worker[%s]: retry %s: %v", p.queue.Name(), job.ID, rerr)
		return
	}
	if !scheduled {
		log.Printf("worker[%s]: job %s exhausted retries, leaving failed", p.queue.Name(), job.ID)
		if p.publisher != nil {
			p.publisher.Publish(ctx, EventJobFailed, map[string]any{
				"job_id":     job.ID,
				"queue":      p.queue.Name(),
				"subject_id": job.SubjectID,
				"error":      err.Error(),
			})
		}
	}
}

// RunCleanup purges terminal jobs past retention on an interval, until
// context cancellation.
func RunCleanup(ctx context.Context, queues []*jobqueue.Queue, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, q := range queues {
				if n, err := q.Cleanup(ctx); err != nil {
					log.Printf("worker[%s]: cleanup: %v", q.Name(), err)
				} else if n > 0 {
					log.Printf("worker[%s]: purged %d terminal jobs", q.Name(), n)
				}
			}
		}
	}
}
