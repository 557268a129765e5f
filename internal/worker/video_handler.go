package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
)

// VideoRenderer hands a generation request to the rendering service. The
// FFmpeg side is an external collaborator; this package only moves jobs to
// it.
type VideoRenderer interface {
	Render(ctx context.Context, timelapseID int64, trigger string) error
}

type videoPayload struct {
	TimelapseID int64  `json:"timelapse_id"`
	Trigger     string `json:"trigger"`
}

// VideoHandler forwards video-generation jobs to the renderer.
type VideoHandler struct {
	renderer VideoRenderer
}

// NewVideoHandler builds the handler.
func NewVideoHandler(r VideoRenderer) *VideoHandler {
	return &VideoHandler{renderer: r}
}

// Handle processes one video-generation job.
func (h *VideoHandler) Handle(ctx context.Context, job models.Job) error {
	var payload videoPayload
	raw, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if payload.TimelapseID == 0 {
		return errors.New("timelapse_id is required")
	}
	return h.renderer.Render(ctx, payload.TimelapseID, payload.Trigger)
}

// HTTPRenderer posts render requests to a rendering service endpoint.
type HTTPRenderer struct {
	client *http.Client
	url    string
}

// NewHTTPRenderer builds a renderer client for the given endpoint.
func NewHTTPRenderer(url string, timeout time.Duration) *HTTPRenderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRenderer{client: &http.Client{Timeout: timeout}, url: url}
}

func (r *HTTPRenderer) Render(ctx context.Context, timelapseID int64, trigger string) error {
	body, err := json.Marshal(map[string]any{
		"timelapse_id": timelapseID,
		"trigger":      trigger,
	})
	if err != nil {
		return fmt.Errorf("marshal render request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("call renderer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("renderer returned status %d", resp.StatusCode)
	}
	return nil
}
