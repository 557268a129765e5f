package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
)

// ImageStore is the persistence surface the thumbnail pipeline reads from and
// writes back to.
type ImageStore interface {
	GetImage(ctx context.Context, id string) (models.Image, error)
	SetImageDerivedPaths(ctx context.Context, id, thumbnailPath, smallPath string) error
}

type thumbnailPayload struct {
	ImageID  string `json:"image_id"`
	FilePath string `json:"file_path"`
}

// ThumbnailHandler renders the thumbnail and small variants for a captured
// image and records where they landed.
type ThumbnailHandler struct {
	store      ImageStore
	uploader   Uploader
	thumbWidth int
	smallWidth int
}

// NewThumbnailHandler builds the handler with the two target widths.
func NewThumbnailHandler(st ImageStore, up Uploader, thumbWidth, smallWidth int) *ThumbnailHandler {
	if thumbWidth <= 0 {
		thumbWidth = 200
	}
	if smallWidth <= 0 {
		smallWidth = 800
	}
	return &ThumbnailHandler{store: st, uploader: up, thumbWidth: thumbWidth, smallWidth: smallWidth}
}

// Handle processes one thumbnail job.
func (h *ThumbnailHandler) Handle(ctx context.Context, job models.Job) error {
	payload, err := decodeThumbnailPayload(job)
	if err != nil {
		return err
	}

	// The image row is authoritative for the source path; the payload copy
	// may be stale if the file was moved after enqueue.
	img, err := h.store.GetImage(ctx, payload.ImageID)
	if err != nil {
		return fmt.Errorf("load image %s: %w", payload.ImageID, err)
	}

	src, err := imaging.Open(img.FilePath)
	if err != nil {
		return fmt.Errorf("open source image: %w", err)
	}

	thumbPath, err := h.render(ctx, src, h.thumbWidth, fmt.Sprintf("thumbnails/%s_thumb.jpg", payload.ImageID))
	if err != nil {
		return err
	}
	smallPath, err := h.render(ctx, src, h.smallWidth, fmt.Sprintf("thumbnails/%s_small.jpg", payload.ImageID))
	if err != nil {
		return err
	}

	if err := h.store.SetImageDerivedPaths(ctx, payload.ImageID, thumbPath, smallPath); err != nil {
		return fmt.Errorf("record derived paths: %w", err)
	}
	return nil
}

func (h *ThumbnailHandler) render(ctx context.Context, src image.Image, width int, key string) (string, error) {
	resized := imaging.Resize(src, width, 0, imaging.Lanczos)
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, resized, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("encode %s: %w", key, err)
	}
	path, err := h.uploader.Upload(ctx, key, buf.Bytes(), "image/jpeg")
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return path, nil
}

func decodeThumbnailPayload(job models.Job) (thumbnailPayload, error) {
	var payload thumbnailPayload
	raw, err := json.Marshal(job.Payload)
	if err != nil {
		return payload, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	if payload.ImageID == "" {
		return payload, errors.New("image_id is required")
	}
	if payload.FilePath == "" {
		return payload, errors.New("file_path is required")
	}
	return payload, nil
}
