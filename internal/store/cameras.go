package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
)

// GetCamera fetches a camera by id. Returns ErrNotFound if no row exists.
func (s *Store) GetCamera(ctx context.Context, id int64) (models.Camera, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, rtsp_url, enabled, health_status, corruption_detection_heavy,
		       consecutive_corruption_failures, lifetime_glitch_count,
		       degraded_mode_active, last_degraded_at, created_at, updated_at
		FROM cameras WHERE id = $1
	`, id)

	var c models.Camera
	err := row.Scan(&c.ID, &c.Name, &c.RTSPUrl, &c.Enabled, &c.HealthStatus,
		&c.CorruptionDetectionHeavy, &c.ConsecutiveCorruptionFailures,
		&c.LifetimeGlitchCount, &c.DegradedModeActive, &c.LastDegradedAt,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Camera{}, ErrNotFound
	}
	if err != nil {
		return models.Camera{}, fmt.Errorf("scan camera: %w", err)
	}
	return c, nil
}

// UpdateCameraCorruptionCounters persists the per-camera counters maintained
// by the corruption controller.
func (s *Store) UpdateCameraCorruptionCounters(ctx context.Context, id int64, consecutive int, lifetimeGlitch int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE cameras
		SET consecutive_corruption_failures = $2, lifetime_glitch_count = $3, updated_at = NOW()
		WHERE id = $1
	`, id, consecutive, lifetimeGlitch)
	return err
}

// SetCameraDegraded records a degraded-mode transition.
func (s *Store) SetCameraDegraded(ctx context.Context, id int64, active bool, at *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE cameras
		SET degraded_mode_active = $2, last_degraded_at = COALESCE($3, last_degraded_at), updated_at = NOW()
		WHERE id = $1
	`, id, active, at)
	return err
}

// SetCameraEnabled toggles the camera. Used by degraded-mode auto-disable.
func (s *Store) SetCameraEnabled(ctx context.Context, id int64, enabled bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE cameras SET enabled = $2, updated_at = NOW() WHERE id = $1
	`, id, enabled)
	return err
}

// CorruptionWindowCounts returns below-threshold failures and total evaluation
// attempts for a camera since the given time, for windowed degraded-mode
// escalation.
func (s *Store) CorruptionWindowCounts(ctx context.Context, cameraID int64, since time.Time, threshold float64) (failures, attempts int64, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE corruption_score < $3), COUNT(*)
		FROM corruption_logs
		WHERE camera_id = $1 AND created_at >= $2
	`, cameraID, since, threshold).Scan(&failures, &attempts)
	if err != nil {
		return 0, 0, fmt.Errorf("count corruption window: %w", err)
	}
	return failures, attempts, nil
}
