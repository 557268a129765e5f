package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
)

// InsertImage persists the metadata of a kept frame.
func (s *Store) InsertImage(ctx context.Context, img models.Image) error {
	details, err := json.Marshal(img.CorruptionDetails)
	if err != nil {
		return fmt.Errorf("marshal corruption details: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO images (id, camera_id, timelapse_id, file_path, file_size,
			captured_at, corruption_score, is_flagged, corruption_details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, img.ID, img.CameraID, img.TimelapseID, img.FilePath, img.FileSize,
		img.CapturedAt, img.CorruptionScore, img.IsFlagged, details)
	if err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	return nil
}

// GetImage fetches image metadata by id.
func (s *Store) GetImage(ctx context.Context, id string) (models.Image, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, camera_id, timelapse_id, file_path, thumbnail_path, small_path,
		       file_size, captured_at, corruption_score, is_flagged, corruption_details
		FROM images WHERE id = $1
	`, id)

	var img models.Image
	var details []byte
	err := row.Scan(&img.ID, &img.CameraID, &img.TimelapseID, &img.FilePath,
		&img.ThumbnailPath, &img.SmallPath, &img.FileSize, &img.CapturedAt,
		&img.CorruptionScore, &img.IsFlagged, &details)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Image{}, ErrNotFound
	}
	if err != nil {
		return models.Image{}, fmt.Errorf("scan image: %w", err)
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &img.CorruptionDetails); err != nil {
			return models.Image{}, fmt.Errorf("unmarshal corruption details: %w", err)
		}
	}
	return img, nil
}

// SetImageDerivedPaths records where the thumbnail pipeline put its outputs.
func (s *Store) SetImageDerivedPaths(ctx context.Context, id, thumbnailPath, smallPath string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE images SET thumbnail_path = $2, small_path = $3 WHERE id = $1
	`, id, thumbnailPath, smallPath)
	return err
}
