// Package capture executes one capture workflow when the scheduler says so.
// The worker trusts the scheduler's readiness decision completely: it never
// re-derives health, interval, or time-window rules. That split is
// deliberate; re-validating here would duplicate business logic and open a
// validate/execute race. Only structural sanity (the rows still exist) is
// checked.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/corruption"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/telemetry"
)

// ErrFrameDiscarded reports that both the original capture and its retry
// scored below the corruption threshold and the frame was dropped.
var ErrFrameDiscarded = errors.New("frame discarded as corrupted")

// EventImageCaptured is published after an image row is persisted.
const EventImageCaptured = "image_captured"

// Store is the persistence surface the worker needs.
type Store interface {
	GetCamera(ctx context.Context, id int64) (models.Camera, error)
	GetTimelapse(ctx context.Context, id int64) (models.Timelapse, error)
	InsertImage(ctx context.Context, img models.Image) error
	SetTimelapseLastCapture(ctx context.Context, id int64, at time.Time) error
}

// Enqueuer feeds derived-asset jobs into a background queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, subjectID, priority string, payload map[string]any) (models.Job, error)
}

// Evaluator is the corruption controller surface the worker drives.
type Evaluator interface {
	ScoreFrame(ctx context.Context, camera *models.Camera, frame []byte) (corruption.Verdict, error)
	RecordOutcome(ctx context.Context, camera *models.Camera, v corruption.Verdict, imageID *string, action string) error
}

// Options tune frame acquisition and storage.
type Options struct {
	DataDir      string
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
}

// Worker runs the capture workflow.
type Worker struct {
	frames     FrameSource
	store      Store
	corruption Evaluator
	thumbnails Enqueuer
	videos     Enqueuer
	publisher  corruption.Publisher
	opts       Options
	now        func() time.Time
}

// New builds a worker. publisher and nowFn may be nil.
func New(frames FrameSource, st Store, eval Evaluator, thumbnails, videos Enqueuer, pub corruption.Publisher, opts Options, nowFn func() time.Time) *Worker {
	if nowFn == nil {
		nowFn = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	return &Worker{
		frames:     frames,
		store:      st,
		corruption: eval,
		thumbnails: thumbnails,
		videos:     videos,
		publisher:  pub,
		opts:       opts,
		now:        nowFn,
	}
}

// Execute performs one capture for an already-validated (camera, timelapse)
// pair: acquire, score, persist, enqueue derived assets. It reports only
// success or failure upward; all durable state lands in the database.
func (w *Worker) Execute(ctx context.Context, cameraID, timelapseID int64) error {
	camera, err := w.store.GetCamera(ctx, cameraID)
	if err != nil {
		return fmt.Errorf("load camera %d: %w", cameraID, err)
	}
	tl, err := w.store.GetTimelapse(ctx, timelapseID)
	if err != nil {
		return fmt.Errorf("load timelapse %d: %w", timelapseID, err)
	}

	frame, err := w.acquire(ctx, camera.RTSPUrl)
	if err != nil {
		return fmt.Errorf("acquire frame: %w", err)
	}

	verdict, err := w.corruption.ScoreFrame(ctx, &camera, frame)
	if err != nil {
		return fmt.Errorf("score frame: %w", err)
	}

	if verdict.RetrySuggested {
		// Auto-discard: drop the bad frame and recapture once.
		if err := w.corruption.RecordOutcome(ctx, &camera, verdict, nil, models.ActionRetried); err != nil {
			return err
		}
		frame, err = w.acquire(ctx, camera.RTSPUrl)
		if err != nil {
			return fmt.Errorf("acquire retry frame: %w", err)
		}
		verdict, err = w.corruption.ScoreFrame(ctx, &camera, frame)
		if err != nil {
			return fmt.Errorf("score retry frame: %w", err)
		}
		if verdict.BelowThreshold {
			if err := w.corruption.RecordOutcome(ctx, &camera, verdict, nil, models.ActionDiscarded); err != nil {
				return err
			}
			telemetry.FramesDiscarded.Inc()
			return ErrFrameDiscarded
		}
	}

	now := w.now()
	path, err := w.writeFrame(camera.ID, now, frame)
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	img := models.Image{
		ID:                uuid.New().String(),
		CameraID:          camera.ID,
		TimelapseID:       tl.ID,
		FilePath:          path,
		FileSize:          int64(len(frame)),
		CapturedAt:        now,
		CorruptionScore:   verdict.CompositeScore,
		IsFlagged:         verdict.Flag,
		CorruptionDetails: verdict.Details,
	}
	if err := w.store.InsertImage(ctx, img); err != nil {
		return fmt.Errorf("persist image: %w", err)
	}
	if err := w.corruption.RecordOutcome(ctx, &camera, verdict, &img.ID, models.ActionSaved); err != nil {
		return err
	}
	if verdict.Flag {
		telemetry.FramesFlagged.Inc()
	}
	if err := w.store.SetTimelapseLastCapture(ctx, tl.ID, now); err != nil {
		return fmt.Errorf("record last capture: %w", err)
	}

	if _, err := w.thumbnails.Enqueue(ctx, img.ID, models.PriorityMedium, map[string]any{
		"image_id":  img.ID,
		"file_path": img.FilePath,
	}); err != nil {
		// The image is safe; a lost thumbnail job is recoverable.
		log.Printf("capture: enqueue thumbnail for image %s: %v", img.ID, err)
	}
	if tl.VideoPerCapture && w.videos != nil {
		if _, err := w.videos.Enqueue(ctx, fmt.Sprintf("%d", tl.ID), models.PriorityLow, map[string]any{
			"timelapse_id": tl.ID,
			"trigger":      "per_capture",
		}); err != nil {
			log.Printf("capture: enqueue video trigger for timelapse %d: %v", tl.ID, err)
		}
	}

	if w.publisher != nil {
		w.publisher.Publish(ctx, EventImageCaptured, map[string]any{
			"image_id":     img.ID,
			"camera_id":    camera.ID,
			"timelapse_id": tl.ID,
			"flagged":      img.IsFlagged,
		})
	}
	return nil
}

// acquire fetches a frame with a small fixed retry count and linear backoff.
func (w *Worker) acquire(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= w.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * w.opts.RetryBackoff):
			}
		}
		frame, err := w.frames.CaptureFrame(ctx, url, w.opts.Timeout)
		if err == nil {
			return frame, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// writeFrame stores the encoded frame under DataDir/camera-<id>/.
func (w *Worker) writeFrame(cameraID int64, at time.Time, frame []byte) (string, error) {
	dir := filepath.Join(w.opts.DataDir, fmt.Sprintf("camera-%d", cameraID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create capture dir: %w", err)
	}
	path := filepath.Join(dir, at.UTC().Format("20060102_150405.000")+".jpg")
	if err := os.WriteFile(path, frame, 0o644); err != nil {
		return "", fmt.Errorf("write capture file: %w", err)
	}
	return path, nil
}
