// Package readiness answers "may this (camera, timelapse) pair capture right
// now". It is read-only and safe to call at high frequency. Business
// conditions are result values; only infrastructure errors (DB unreachable)
// are returned as errors, and the caller must treat that tick as skipped.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/settings"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/store"
)

// Error kinds attached to invalid results.
const (
	ErrTypeCameraNotFound     = "camera_not_found"
	ErrTypeCameraDisabled     = "camera_disabled"
	ErrTypeCameraOffline      = "camera_offline"
	ErrTypeTimelapseInactive  = "timelapse_inactive"
	ErrTypeIntervalNotElapsed = "capture_interval_not_elapsed"
	ErrTypeInvalidInterval    = "invalid_interval_configuration"
	ErrTypeTimeWindow         = "time_window_restriction"
)

// Result is the ephemeral outcome of one readiness check. Never persisted.
type Result struct {
	Valid       bool
	ErrorType   string
	Error       string
	CameraID    int64
	TimelapseID int64
}

// Repository is the read side the validator needs.
type Repository interface {
	GetCamera(ctx context.Context, id int64) (models.Camera, error)
	GetTimelapse(ctx context.Context, id int64) (models.Timelapse, error)
}

// Validator evaluates capture readiness.
type Validator struct {
	repo     Repository
	settings *settings.Settings
	now      func() time.Time
}

// New builds a validator. nowFn may be nil, defaulting to time.Now.
func New(repo Repository, s *settings.Settings, nowFn func() time.Time) *Validator {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Validator{repo: repo, settings: s, now: nowFn}
}

func invalid(cameraID, timelapseID int64, errType, msg string) Result {
	return Result{Valid: false, ErrorType: errType, Error: msg, CameraID: cameraID, TimelapseID: timelapseID}
}

// Validate runs the readiness decision chain. The checks run in a fixed
// order and the first failure wins.
func (v *Validator) Validate(ctx context.Context, cameraID, timelapseID int64) (Result, error) {
	now := v.now()

	camera, err := v.repo.GetCamera(ctx, cameraID)
	if errors.Is(err, store.ErrNotFound) {
		return invalid(cameraID, timelapseID, ErrTypeCameraNotFound, fmt.Sprintf("camera %d not found", cameraID)), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load camera: %w", err)
	}
	if !camera.Enabled {
		return invalid(cameraID, timelapseID, ErrTypeCameraDisabled, fmt.Sprintf("camera %d is disabled", cameraID)), nil
	}
	if camera.HealthStatus != models.CameraOnline {
		return invalid(cameraID, timelapseID, ErrTypeCameraOffline, fmt.Sprintf("camera %d is %s", cameraID, camera.HealthStatus)), nil
	}

	tl, err := v.repo.GetTimelapse(ctx, timelapseID)
	if errors.Is(err, store.ErrNotFound) {
		return invalid(cameraID, timelapseID, ErrTypeTimelapseInactive, fmt.Sprintf("timelapse %d not found", timelapseID)), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load timelapse: %w", err)
	}
	if tl.Status != models.TimelapseRunning {
		return invalid(cameraID, timelapseID, ErrTypeTimelapseInactive, fmt.Sprintf("timelapse %d is %s", timelapseID, tl.Status)), nil
	}

	grace, err := v.settings.Duration(ctx, settings.KeyCaptureGracePeriodSeconds, time.Second, settings.DefaultCaptureGracePeriodSeconds*time.Second)
	if err != nil {
		return Result{}, err
	}
	since := tl.CreatedAt
	if tl.LastCaptureAt != nil {
		since = *tl.LastCaptureAt
	}
	interval := time.Duration(tl.CaptureIntervalSeconds) * time.Second
	if elapsed := now.Sub(since); elapsed < interval-grace {
		return invalid(cameraID, timelapseID, ErrTypeIntervalNotElapsed,
			fmt.Sprintf("only %s of %s interval elapsed", elapsed.Round(time.Second), interval)), nil
	}

	minInterval, err := v.settings.Int(ctx, settings.KeyMinCaptureIntervalSeconds, settings.DefaultMinCaptureIntervalSeconds)
	if err != nil {
		return Result{}, err
	}
	maxInterval, err := v.settings.Int(ctx, settings.KeyMaxCaptureIntervalSeconds, settings.DefaultMaxCaptureIntervalSeconds)
	if err != nil {
		return Result{}, err
	}
	if tl.CaptureIntervalSeconds < minInterval || tl.CaptureIntervalSeconds > maxInterval {
		return invalid(cameraID, timelapseID, ErrTypeInvalidInterval,
			fmt.Sprintf("interval %ds outside [%d, %d]", tl.CaptureIntervalSeconds, minInterval, maxInterval)), nil
	}

	if tl.TimeWindowType != models.WindowNone {
		lat, err := v.settings.Float(ctx, settings.KeyLocationLatitude, 0)
		if err != nil {
			return Result{}, err
		}
		lon, err := v.settings.Float(ctx, settings.KeyLocationLongitude, 0)
		if err != nil {
			return Result{}, err
		}
		in, err := inCaptureWindow(now, tl, lat, lon)
		if err != nil {
			return invalid(cameraID, timelapseID, ErrTypeTimeWindow, err.Error()), nil
		}
		if !in {
			return invalid(cameraID, timelapseID, ErrTypeTimeWindow,
				fmt.Sprintf("outside %s capture window", tl.TimeWindowType)), nil
		}
	}

	return Result{Valid: true, CameraID: cameraID, TimelapseID: timelapseID}, nil
}
