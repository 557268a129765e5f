package models

import (
	"time"
)

// ScheduledJob mirror states.
const (
	ScheduledJobActive   = "active"
	ScheduledJobPaused   = "paused"
	ScheduledJobDisabled = "disabled"
	ScheduledJobError    = "error"
)

// Scheduled job types.
const (
	JobTypeTimelapseCapture = "timelapse_capture"
)

// ScheduledJob is the persisted, queryable mirror of a job the live timer
// engine runs. It exists for observability and restart replay; the engine,
// not this row, is the execution authority.
//
// SkipCount tracks validation skips separately from FailureCount, which is
// reserved for attempted-and-failed executions.
type ScheduledJob struct {
	JobID           string     `json:"job_id"`
	JobType         string     `json:"job_type"`
	EntityType      string     `json:"entity_type"`
	EntityID        int64      `json:"entity_id"`
	IntervalSeconds int        `json:"interval_seconds"`
	Status          string     `json:"status"`
	ExecutionCount  int64      `json:"execution_count"`
	SuccessCount    int64      `json:"success_count"`
	FailureCount    int64      `json:"failure_count"`
	SkipCount       int64      `json:"skip_count"`
	NextRunTime     *time.Time `json:"next_run_time,omitempty"`
	LastRunTime     *time.Time `json:"last_run_time,omitempty"`
	LastSuccessTime *time.Time `json:"last_success_time,omitempty"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
