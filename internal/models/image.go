package models

import (
	"time"
)

// Actions recorded on a corruption log entry.
const (
	ActionSaved     = "saved"
	ActionDiscarded = "discarded"
	ActionRetried   = "retried"
)

// Image is a successfully captured frame's metadata. Discarded frames never
// produce an Image row; they only leave a corruption log entry behind.
type Image struct {
	ID                string         `json:"id"`
	CameraID          int64          `json:"camera_id"`
	TimelapseID       int64          `json:"timelapse_id"`
	FilePath          string         `json:"file_path"`
	ThumbnailPath     *string        `json:"thumbnail_path,omitempty"`
	SmallPath         *string        `json:"small_path,omitempty"`
	FileSize          int64          `json:"file_size"`
	CapturedAt        time.Time      `json:"captured_at"`
	CorruptionScore   float64        `json:"corruption_score"`
	IsFlagged         bool           `json:"is_flagged"`
	CorruptionDetails map[string]any `json:"corruption_details,omitempty"`
}

// CorruptionLogEntry is the append-only audit trail for frame evaluations.
// One entry is written per evaluated frame regardless of outcome.
type CorruptionLogEntry struct {
	ID               string         `json:"id"`
	CameraID         int64          `json:"camera_id"`
	ImageID          *string        `json:"image_id,omitempty"`
	CorruptionScore  float64        `json:"corruption_score"`
	FastScore        float64        `json:"fast_score"`
	HeavyScore       *float64       `json:"heavy_score,omitempty"`
	DetectionDetails map[string]any `json:"detection_details,omitempty"`
	ActionTaken      string         `json:"action_taken"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
	CreatedAt        time.Time      `json:"created_at"`
}
