package corruption

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/settings"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/telemetry"
)

// Event types emitted by the controller.
const (
	EventCorruptionDetected = "image_corruption_detected"
	EventDegradedTriggered  = "camera_degraded_mode_triggered"
	EventDegradedReset      = "camera_degraded_mode_reset"
)

// Sink is the persistence surface the controller writes through.
type Sink interface {
	InsertCorruptionLog(ctx context.Context, entry models.CorruptionLogEntry) error
	UpdateCameraCorruptionCounters(ctx context.Context, id int64, consecutive int, lifetimeGlitch int64) error
	SetCameraDegraded(ctx context.Context, id int64, active bool, at *time.Time) error
	SetCameraEnabled(ctx context.Context, id int64, enabled bool) error
	CorruptionWindowCounts(ctx context.Context, cameraID int64, since time.Time, threshold float64) (failures, attempts int64, err error)
}

// Publisher is the fire-and-forget event surface.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload map[string]any)
}

// Verdict is the controller's decision for one evaluated frame.
type Verdict struct {
	CompositeScore float64
	FastScore      float64
	HeavyScore     *float64
	FailedChecks   []string
	Details        map[string]any
	Threshold      float64
	BelowThreshold bool
	// Flag: keep the frame but mark it (auto-discard disabled).
	Flag bool
	// RetrySuggested: discard the frame and recapture once (auto-discard
	// enabled, decided per evaluation; the caller owns the retry loop).
	RetrySuggested bool
	Elapsed        time.Duration
}

// Controller scores frames and owns camera-level corruption state. Per-camera
// counter mutation is lock-free because exactly one scheduler job drives
// captures for a given camera.
type Controller struct {
	fast      *FastDetector
	heavy     *HeavyDetector
	sink      Sink
	settings  *settings.Settings
	publisher Publisher
	now       func() time.Time
}

// NewController wires the two detectors to their persistence and event
// surfaces. nowFn may be nil.
func NewController(fast *FastDetector, heavy *HeavyDetector, sink Sink, s *settings.Settings, pub Publisher, nowFn func() time.Time) *Controller {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Controller{fast: fast, heavy: heavy, sink: sink, settings: s, publisher: pub, now: nowFn}
}

// ScoreFrame runs the detectors on one encoded frame and renders the
// keep/flag/discard decision. A detector panic must not abort the capture
// workflow: the panicking detector's result is treated as inconclusive and
// the other detector's score stands.
func (c *Controller) ScoreFrame(ctx context.Context, camera *models.Camera, frame []byte) (Verdict, error) {
	start := c.now()

	fast, fastErr := c.runFast(frame)
	if fastErr != nil {
		log.Printf("corruption: fast detector error on camera %d: %v", camera.ID, fastErr)
		fast = CheckResult{Score: 100, Details: map[string]any{"fast_detector_error": fastErr.Error()}}
	}

	var heavy *HeavyResult
	if camera.CorruptionDetectionHeavy && !hasCheck(fast.FailedChecks, CheckDecodeFailed) {
		if h, err := c.runHeavy(frame); err != nil {
			log.Printf("corruption: heavy detector error on camera %d: %v", camera.ID, err)
		} else {
			heavy = &h
			telemetry.HeavyDetections.Inc()
			if h.Inconclusive {
				telemetry.HeavyBudgetOverruns.Inc()
			}
		}
	}

	threshold, err := c.settings.Float(ctx, settings.KeyCorruptionScoreThreshold, settings.DefaultCorruptionScoreThreshold)
	if err != nil {
		return Verdict{}, err
	}
	autoDiscard, err := c.settings.Bool(ctx, settings.KeyCorruptionAutoDiscardEnabled, false)
	if err != nil {
		return Verdict{}, err
	}

	v := Verdict{
		CompositeScore: Composite(fast, heavy),
		FastScore:      fast.Score,
		FailedChecks:   fast.FailedChecks,
		Details:        map[string]any{"fast": fast.Details},
		Threshold:      threshold,
		Elapsed:        c.now().Sub(start),
	}
	if heavy != nil {
		score := heavy.Score
		v.HeavyScore = &score
		v.FailedChecks = append(v.FailedChecks, heavy.FailedChecks...)
		v.Details["heavy"] = heavy.Details
		v.Details["heavy_inconclusive"] = heavy.Inconclusive
	}
	v.BelowThreshold = v.CompositeScore < threshold
	v.RetrySuggested = v.BelowThreshold && autoDiscard
	v.Flag = v.BelowThreshold && !autoDiscard

	telemetry.CorruptionScore.Observe(v.CompositeScore)
	return v, nil
}

func (c *Controller) runFast(frame []byte) (res CheckResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fast detector panic: %v", r)
		}
	}()
	return c.fast.Evaluate(frame), nil
}

func (c *Controller) runHeavy(frame []byte) (res HeavyResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("heavy detector panic: %v", r)
		}
	}()
	return c.heavy.Evaluate(frame), nil
}

// RecordOutcome writes the audit entry and updates camera counters for one
// evaluated frame. It runs for every evaluation regardless of the action
// taken, then checks degraded-mode escalation. The camera struct is mutated
// in place so back-to-back evaluations in a retry loop see current counters.
func (c *Controller) RecordOutcome(ctx context.Context, camera *models.Camera, v Verdict, imageID *string, action string) error {
	now := c.now()
	entry := models.CorruptionLogEntry{
		ID:               uuid.New().String(),
		CameraID:         camera.ID,
		ImageID:          imageID,
		CorruptionScore:  v.CompositeScore,
		FastScore:        v.FastScore,
		HeavyScore:       v.HeavyScore,
		DetectionDetails: v.Details,
		ActionTaken:      action,
		ProcessingTimeMS: v.Elapsed.Milliseconds(),
		CreatedAt:        now,
	}
	if err := c.sink.InsertCorruptionLog(ctx, entry); err != nil {
		return fmt.Errorf("record corruption log: %w", err)
	}

	if v.BelowThreshold {
		camera.ConsecutiveCorruptionFailures++
		camera.LifetimeGlitchCount++
		telemetry.FramesBelowThreshold.Inc()
	} else {
		camera.ConsecutiveCorruptionFailures = 0
	}
	if err := c.sink.UpdateCameraCorruptionCounters(ctx, camera.ID, camera.ConsecutiveCorruptionFailures, camera.LifetimeGlitchCount); err != nil {
		return fmt.Errorf("update camera counters: %w", err)
	}

	if v.BelowThreshold {
		if c.publisher != nil {
			c.publisher.Publish(ctx, EventCorruptionDetected, map[string]any{
				"camera_id": camera.ID,
				"score":     v.CompositeScore,
				"action":    action,
			})
		}
		if err := c.maybeEscalate(ctx, camera, v.Threshold); err != nil {
			return err
		}
	}
	return nil
}

// maybeEscalate flips the camera into degraded mode when sustained corruption
// crosses either the consecutive-failures threshold or the windowed failure
// percentage. The transition fires exactly once per episode: a camera already
// degraded never re-emits the event.
func (c *Controller) maybeEscalate(ctx context.Context, camera *models.Camera, scoreThreshold float64) error {
	if camera.DegradedModeActive {
		return nil
	}

	consecThreshold, err := c.settings.Int(ctx, settings.KeyDegradedConsecutiveThreshold, settings.DefaultDegradedConsecutiveThreshold)
	if err != nil {
		return err
	}
	triggered := camera.ConsecutiveCorruptionFailures >= consecThreshold

	if !triggered {
		windowMin, err := c.settings.Int(ctx, settings.KeyDegradedTimeWindowMinutes, settings.DefaultDegradedTimeWindowMinutes)
		if err != nil {
			return err
		}
		failPct, err := c.settings.Float(ctx, settings.KeyDegradedFailurePercentage, settings.DefaultDegradedFailurePercentage)
		if err != nil {
			return err
		}
		since := c.now().Add(-time.Duration(windowMin) * time.Minute)
		failures, attempts, err := c.sink.CorruptionWindowCounts(ctx, camera.ID, since, scoreThreshold)
		if err != nil {
			return fmt.Errorf("window counts: %w", err)
		}
		triggered = attempts > 0 && float64(failures)/float64(attempts)*100 >= failPct
	}
	if !triggered {
		return nil
	}

	now := c.now()
	camera.DegradedModeActive = true
	camera.LastDegradedAt = &now
	if err := c.sink.SetCameraDegraded(ctx, camera.ID, true, &now); err != nil {
		return fmt.Errorf("set degraded: %w", err)
	}
	telemetry.DegradedModeTriggers.Inc()
	log.Printf("corruption: camera %d entered degraded mode (consecutive=%d)", camera.ID, camera.ConsecutiveCorruptionFailures)
	if c.publisher != nil {
		c.publisher.Publish(ctx, EventDegradedTriggered, map[string]any{
			"camera_id":   camera.ID,
			"consecutive": camera.ConsecutiveCorruptionFailures,
		})
	}

	autoDisable, err := c.settings.Bool(ctx, settings.KeyCorruptionAutoDisable, false)
	if err != nil {
		return err
	}
	if autoDisable {
		if err := c.sink.SetCameraEnabled(ctx, camera.ID, false); err != nil {
			return fmt.Errorf("auto-disable camera: %w", err)
		}
		camera.Enabled = false
		log.Printf("corruption: camera %d auto-disabled after degraded-mode escalation", camera.ID)
	}
	return nil
}

// ResetDegraded clears degraded mode and zeroes the consecutive counter.
func (c *Controller) ResetDegraded(ctx context.Context, camera *models.Camera) error {
	camera.DegradedModeActive = false
	camera.ConsecutiveCorruptionFailures = 0
	if err := c.sink.SetCameraDegraded(ctx, camera.ID, false, nil); err != nil {
		return fmt.Errorf("clear degraded: %w", err)
	}
	if err := c.sink.UpdateCameraCorruptionCounters(ctx, camera.ID, 0, camera.LifetimeGlitchCount); err != nil {
		return fmt.Errorf("reset counters: %w", err)
	}
	if c.publisher != nil {
		c.publisher.Publish(ctx, EventDegradedReset, map[string]any{"camera_id": camera.ID})
	}
	return nil
}

func hasCheck(checks []string, name string) bool {
	for _, c := range checks {
		if c == name {
			return true
		}
	}
	return false
}
