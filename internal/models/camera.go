package models

import (
	"time"
)

// Camera health states persisted in Postgres.
const (
	CameraOnline  = "online"
	CameraOffline = "offline"
)

// Camera is a networked camera that timelapses capture from.
//
// The corruption counters are safe to mutate without locking because exactly
// one scheduler job drives captures for a given camera, so writes are
// serialized by construction.
type Camera struct {
	ID                            int64      `json:"id"`
	Name                          string     `json:"name"`
	RTSPUrl                       string     `json:"rtsp_url"`
	Enabled                       bool       `json:"enabled"`
	HealthStatus                  string     `json:"health_status"`
	CorruptionDetectionHeavy      bool       `json:"corruption_detection_heavy"`
	ConsecutiveCorruptionFailures int        `json:"consecutive_corruption_failures"`
	LifetimeGlitchCount           int64      `json:"lifetime_glitch_count"`
	DegradedModeActive            bool       `json:"degraded_mode_active"`
	LastDegradedAt                *time.Time `json:"last_degraded_at,omitempty"`
	CreatedAt                     time.Time  `json:"created_at"`
	UpdatedAt                     time.Time  `json:"updated_at"`
}
