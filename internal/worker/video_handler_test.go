package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
)

func TestVideoHandlerForwardsToRenderer(t *testing.T) {
	var got videoPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	handler := NewVideoHandler(NewHTTPRenderer(srv.URL, 2*time.Second))
	job := models.Job{
		ID:    "job-1",
		Queue: models.QueueVideo,
		Payload: map[string]any{
			"timelapse_id": 7,
			"trigger":      "per_capture",
		},
	}
	if err := handler.Handle(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got.TimelapseID != 7 || got.Trigger != "per_capture" {
		t.Fatalf("unexpected render request: %+v", got)
	}
}

func TestVideoHandlerRendererFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "renderer busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	handler := NewVideoHandler(NewHTTPRenderer(srv.URL, 2*time.Second))
	job := models.Job{ID: "job-1", Payload: map[string]any{"timelapse_id": 7}}
	if err := handler.Handle(context.Background(), job); err == nil {
		t.Fatalf("expected error from failing renderer")
	}
}

func TestVideoHandlerRequiresTimelapseID(t *testing.T) {
	handler := NewVideoHandler(NewHTTPRenderer("http://localhost:0", time.Second))
	job := models.Job{ID: "job-1", Payload: map[string]any{"trigger": "manual"}}
	if err := handler.Handle(context.Background(), job); err == nil {
		t.Fatalf("expected payload validation error")
	}
}
