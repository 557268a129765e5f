package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FrameSource acquires one encoded frame from a camera endpoint. The RTSP
// transport itself is an external collaborator; implementations adapt
// whatever acquisition path the deployment uses.
type FrameSource interface {
	CaptureFrame(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
}

// HTTPSnapshotSource pulls frames from cameras exposing an HTTP snapshot
// endpoint. Downloads are size-bounded.
type HTTPSnapshotSource struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPSnapshotSource builds a source. maxBytes <= 0 selects a 25 MiB cap.
func NewHTTPSnapshotSource(maxBytes int64) *HTTPSnapshotSource {
	if maxBytes <= 0 {
		maxBytes = 25 * 1024 * 1024
	}
	return &HTTPSnapshotSource{
		client:   &http.Client{},
		maxBytes: maxBytes,
	}
}

// CaptureFrame fetches one frame within the timeout.
func (s *HTTPSnapshotSource) CaptureFrame(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("fetch snapshot: status %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, s.maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if int64(len(body)) > s.maxBytes {
		return nil, fmt.Errorf("snapshot too large (>%d bytes)", s.maxBytes)
	}
	return body, nil
}
