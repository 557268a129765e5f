package models

import (
	"time"
)

// Background job lifecycle states persisted in Postgres. Terminal states are
// final except failed, which may return to pending via an explicit retry.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
	JobCancelled  = "cancelled"
)

// Job priorities, dequeued high before medium before low.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Job families. Each family is one instantiation of the queue engine.
const (
	QueueThumbnail = "thumbnail"
	QueueVideo     = "video"
)

// Job is a generic background job row shared by all job families.
type Job struct {
	ID            string         `json:"id"`
	Queue         string         `json:"queue"`
	SubjectID     string         `json:"subject_id"`
	Priority      string         `json:"priority"`
	Status        string         `json:"status"`
	Payload       map[string]any `json:"payload"`
	RetryCount    int            `json:"retry_count"`
	MaxRetries    int            `json:"max_retries"`
	ErrorMessage  *string        `json:"error_message,omitempty"`
	NextAttemptAt time.Time      `json:"next_attempt_at"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// QueueStatistics is a rolling-window summary for one job family.
type QueueStatistics struct {
	Queue           string     `json:"queue"`
	Window          string     `json:"window"`
	Pending         int64      `json:"pending"`
	Processing      int64      `json:"processing"`
	Completed       int64      `json:"completed"`
	Failed          int64      `json:"failed"`
	Cancelled       int64      `json:"cancelled"`
	AvgProcessingMS float64    `json:"avg_processing_ms"`
	OldestPendingAt *time.Time `json:"oldest_pending_at,omitempty"`
}
