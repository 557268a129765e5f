package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
)

// InsertCorruptionLog appends one entry to the audit trail.
func (s *Store) InsertCorruptionLog(ctx context.Context, entry models.CorruptionLogEntry) error {
	details, err := json.Marshal(entry.DetectionDetails)
	if err != nil {
		return fmt.Errorf("marshal detection details: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO corruption_logs (id, camera_id, image_id, corruption_score,
			fast_score, heavy_score, detection_details, action_taken, processing_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, entry.CameraID, entry.ImageID, entry.CorruptionScore,
		entry.FastScore, entry.HeavyScore, details, entry.ActionTaken,
		entry.ProcessingTimeMS, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert corruption log: %w", err)
	}
	return nil
}
