package models

import (
	"time"
)

// Timelapse lifecycle states.
const (
	TimelapseRunning   = "running"
	TimelapsePaused    = "paused"
	TimelapseCompleted = "completed"
)

// Capture window types.
const (
	WindowNone          = "none"
	WindowTime          = "time"
	WindowSunriseSunset = "sunrise_sunset"
)

// Timelapse is one capture campaign on a camera. At most one timelapse per
// camera is in the running state at a time.
type Timelapse struct {
	ID                     int64      `json:"id"`
	CameraID               int64      `json:"camera_id"`
	Name                   string     `json:"name"`
	Status                 string     `json:"status"`
	CaptureIntervalSeconds int        `json:"capture_interval_seconds"`
	TimeWindowType         string     `json:"time_window_type"`
	WindowStart            string     `json:"window_start,omitempty"` // "HH:MM", time windows only
	WindowEnd              string     `json:"window_end,omitempty"`
	SunriseOffsetMinutes   int        `json:"sunrise_offset_minutes"`
	SunsetOffsetMinutes    int        `json:"sunset_offset_minutes"`
	VideoPerCapture        bool       `json:"video_per_capture"`
	LastCaptureAt          *time.Time `json:"last_capture_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}
