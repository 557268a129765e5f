package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	CapturesAttempted = prometheus.NewCounter(prometheus.CounterOpts{Name: "timelapse_captures_attempted_total", Help: "Capture executions started"})
	CapturesSucceeded = prometheus.NewCounter(prometheus.CounterOpts{Name: "timelapse_captures_succeeded_total", Help: "Captures that persisted an image"})
	CapturesFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "timelapse_captures_failed_total", Help: "Captures that errored or were discarded"})
	CaptureSkips      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "timelapse_capture_skips_total", Help: "Scheduler ticks skipped by readiness validation"}, []string{"reason"})

	CorruptionScore      = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "timelapse_corruption_score", Help: "Composite corruption score distribution", Buckets: prometheus.LinearBuckets(0, 10, 11)})
	FramesBelowThreshold = prometheus.NewCounter(prometheus.CounterOpts{Name: "timelapse_frames_below_threshold_total", Help: "Frames scored below the corruption threshold"})
	FramesFlagged        = prometheus.NewCounter(prometheus.CounterOpts{Name: "timelapse_frames_flagged_total", Help: "Frames kept but flagged"})
	FramesDiscarded      = prometheus.NewCounter(prometheus.CounterOpts{Name: "timelapse_frames_discarded_total", Help: "Frames discarded after the retry capture"})
	HeavyDetections      = prometheus.NewCounter(prometheus.CounterOpts{Name: "timelapse_heavy_detections_total", Help: "Heavy detector runs"})
	HeavyBudgetOverruns  = prometheus.NewCounter(prometheus.CounterOpts{Name: "timelapse_heavy_budget_overruns_total", Help: "Heavy detector runs abandoned over budget"})
	DegradedModeTriggers = prometheus.NewCounter(prometheus.CounterOpts{Name: "timelapse_degraded_mode_triggers_total", Help: "Cameras escalated into degraded mode"})

	JobsEnqueued   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "timelapse_jobs_enqueued_total", Help: "Background jobs enqueued"}, []string{"queue"})
	JobsCompleted  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "timelapse_jobs_completed_total", Help: "Background jobs completed"}, []string{"queue"})
	JobsFailed     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "timelapse_jobs_failed_total", Help: "Background jobs failed"}, []string{"queue"})
	JobsRetried    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "timelapse_jobs_retried_total", Help: "Background jobs rescheduled for retry"}, []string{"queue"})
	JobsRecovered  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "timelapse_jobs_recovered_total", Help: "Stuck jobs reset to pending"}, []string{"queue"})
	QueueDepth     = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "timelapse_queue_depth", Help: "Pending jobs per queue"}, []string{"queue"})
	JobDuration    = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "timelapse_job_duration_seconds", Help: "Job processing time", Buckets: prometheus.DefBuckets}, []string{"queue"})
	RateLimitDrops = prometheus.NewCounter(prometheus.CounterOpts{Name: "timelapse_rate_limit_drops_total", Help: "Admin API requests rejected by the rate limiter"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			CapturesAttempted,
			CapturesSucceeded,
			CapturesFailed,
			CaptureSkips,
			CorruptionScore,
			FramesBelowThreshold,
			FramesFlagged,
			FramesDiscarded,
			HeavyDetections,
			HeavyBudgetOverruns,
			DegradedModeTriggers,
			JobsEnqueued,
			JobsCompleted,
			JobsFailed,
			JobsRetried,
			JobsRecovered,
			QueueDepth,
			JobDuration,
			RateLimitDrops,
		)
	})
	return promhttp.Handler()
}
