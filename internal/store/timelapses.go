package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
)

const timelapseColumns = `id, camera_id, name, status, capture_interval_seconds,
	time_window_type, window_start, window_end, sunrise_offset_minutes,
	sunset_offset_minutes, video_per_capture, last_capture_at, created_at, updated_at`

func scanTimelapse(row pgx.Row) (models.Timelapse, error) {
	var t models.Timelapse
	err := row.Scan(&t.ID, &t.CameraID, &t.Name, &t.Status, &t.CaptureIntervalSeconds,
		&t.TimeWindowType, &t.WindowStart, &t.WindowEnd, &t.SunriseOffsetMinutes,
		&t.SunsetOffsetMinutes, &t.VideoPerCapture, &t.LastCaptureAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Timelapse{}, ErrNotFound
	}
	if err != nil {
		return models.Timelapse{}, fmt.Errorf("scan timelapse: %w", err)
	}
	return t, nil
}

// GetTimelapse fetches a timelapse by id. Returns ErrNotFound if absent.
func (s *Store) GetTimelapse(ctx context.Context, id int64) (models.Timelapse, error) {
	return scanTimelapse(s.pool.QueryRow(ctx,
		`SELECT `+timelapseColumns+` FROM timelapses WHERE id = $1`, id))
}

// GetActiveTimelapseForCamera returns the single running timelapse for a
// camera, or ErrNotFound.
func (s *Store) GetActiveTimelapseForCamera(ctx context.Context, cameraID int64) (models.Timelapse, error) {
	return scanTimelapse(s.pool.QueryRow(ctx,
		`SELECT `+timelapseColumns+` FROM timelapses WHERE camera_id = $1 AND status = $2`,
		cameraID, models.TimelapseRunning))
}

// SetTimelapseLastCapture records the instant of the latest successful capture.
func (s *Store) SetTimelapseLastCapture(ctx context.Context, id int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE timelapses SET last_capture_at = $2, updated_at = NOW() WHERE id = $1
	`, id, at)
	return err
}
