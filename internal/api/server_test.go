package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/scheduler"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/settings"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/store"
)

type fakeDirectory struct {
	rows       []models.ScheduledJob
	lastFilter store.ScheduledJobFilter
}

func (f *fakeDirectory) ListScheduledJobs(ctx context.Context, filter store.ScheduledJobFilter) ([]models.ScheduledJob, int64, error) {
	f.lastFilter = filter
	var out []models.ScheduledJob
	for _, row := range f.rows {
		if filter.Status != "" && row.Status != filter.Status {
			continue
		}
		out = append(out, row)
	}
	return out, int64(len(out)), nil
}

func (f *fakeDirectory) GetScheduledJob(ctx context.Context, jobID string) (models.ScheduledJob, error) {
	for _, row := range f.rows {
		if row.JobID == jobID {
			return row, nil
		}
	}
	return models.ScheduledJob{}, store.ErrNotFound
}

type fakeEngine struct {
	applied   []string
	intervals map[string]int
	known     map[string]bool
	removed   []string
}

func (f *fakeEngine) lookupErr(jobID string) error {
	if !f.known[jobID] {
		return fmt.Errorf("%w: %s", scheduler.ErrJobNotFound, jobID)
	}
	return nil
}

func (f *fakeEngine) Apply(ctx context.Context, jobID, action string) error {
	if err := f.lookupErr(jobID); err != nil {
		return err
	}
	f.applied = append(f.applied, jobID+":"+action)
	return nil
}

func (f *fakeEngine) BulkApply(ctx context.Context, jobIDs []string, action string) map[string]error {
	failures := map[string]error{}
	for _, id := range jobIDs {
		if err := f.Apply(ctx, id, action); err != nil {
			failures[id] = err
		}
	}
	return failures
}

func (f *fakeEngine) UpdateInterval(ctx context.Context, jobID string, intervalSeconds int) error {
	if err := f.lookupErr(jobID); err != nil {
		return err
	}
	if f.intervals == nil {
		f.intervals = map[string]int{}
	}
	f.intervals[jobID] = intervalSeconds
	return nil
}

func (f *fakeEngine) RemoveJob(ctx context.Context, jobID string) error {
	if err := f.lookupErr(jobID); err != nil {
		return err
	}
	f.removed = append(f.removed, jobID)
	return nil
}

type fakeQueue struct {
	name      string
	stats     models.QueueStatistics
	statsErr  error
	cancelled map[string]int64
}

func (f *fakeQueue) Name() string { return f.name }

func (f *fakeQueue) CancelForSubject(ctx context.Context, subjectID string) (int64, error) {
	if f.cancelled == nil {
		f.cancelled = map[string]int64{}
	}
	f.cancelled[subjectID] = 3
	return 3, nil
}

func (f *fakeQueue) Statistics(ctx context.Context) (models.QueueStatistics, error) {
	return f.stats, f.statsErr
}

type settingRows map[string]string

func (r settingRows) GetSetting(ctx context.Context, key string) (string, bool, error) {
	v, ok := r[key]
	return v, ok, nil
}

type fakeSettingsWriter struct {
	rows settingRows
}

func (f *fakeSettingsWriter) PutSetting(ctx context.Context, key, value string) error {
	f.rows[key] = value
	return nil
}

func newTestServer(dir *fakeDirectory, engine *fakeEngine, queues ...Queue) *httptest.Server {
	rows := settingRows{}
	srv := New(dir, engine, queues, nil, settings.New(rows, ""), &fakeSettingsWriter{rows: rows})
	return httptest.NewServer(srv.Router())
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(&fakeDirectory{}, &fakeEngine{})
	defer ts.Close()
	var body map[string]string
	if code := getJSON(t, ts.URL+"/healthz", &body); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestListScheduledJobsFilters(t *testing.T) {
	dir := &fakeDirectory{rows: []models.ScheduledJob{
		{JobID: "timelapse_capture_1", Status: models.ScheduledJobActive},
		{JobID: "timelapse_capture_2", Status: models.ScheduledJobPaused},
	}}
	ts := newTestServer(dir, &fakeEngine{})
	defer ts.Close()

	var body struct {
		Jobs  []models.ScheduledJob `json:"jobs"`
		Total int64                 `json:"total"`
	}
	if code := getJSON(t, ts.URL+"/api/scheduled-jobs?status=active", &body); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body.Total != 1 || len(body.Jobs) != 1 || body.Jobs[0].JobID != "timelapse_capture_1" {
		t.Fatalf("unexpected filter result: %+v", body)
	}
}

func TestListScheduledJobsClampsNegativeOffset(t *testing.T) {
	dir := &fakeDirectory{rows: []models.ScheduledJob{
		{JobID: "timelapse_capture_1", Status: models.ScheduledJobActive},
	}}
	ts := newTestServer(dir, &fakeEngine{})
	defer ts.Close()

	if code := getJSON(t, ts.URL+"/api/scheduled-jobs?limit=-5&offset=-3", nil); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if dir.lastFilter.Offset != 0 {
		t.Fatalf("negative offset must be clamped, got %d", dir.lastFilter.Offset)
	}
}

func TestGetScheduledJobNotFound(t *testing.T) {
	ts := newTestServer(&fakeDirectory{}, &fakeEngine{})
	defer ts.Close()
	var body map[string]map[string]string
	if code := getJSON(t, ts.URL+"/api/scheduled-jobs/timelapse_capture_404", &body); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if body["error"]["type"] != "not_found" {
		t.Fatalf("expected structured not_found error, got %v", body)
	}
}

func TestUpdateIntervalValidation(t *testing.T) {
	engine := &fakeEngine{known: map[string]bool{"timelapse_capture_1": true}}
	ts := newTestServer(&fakeDirectory{}, engine)
	defer ts.Close()

	// Below the default minimum of 5 seconds.
	var errBody map[string]map[string]string
	code := postJSON(t, http.MethodPatch, ts.URL+"/api/scheduled-jobs/timelapse_capture_1",
		map[string]any{"interval_seconds": 1}, &errBody)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if errBody["error"]["type"] != "invalid_interval" {
		t.Fatalf("expected invalid_interval error, got %v", errBody)
	}

	code = postJSON(t, http.MethodPatch, ts.URL+"/api/scheduled-jobs/timelapse_capture_1",
		map[string]any{"interval_seconds": 300}, nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if engine.intervals["timelapse_capture_1"] != 300 {
		t.Fatalf("interval not applied to engine: %v", engine.intervals)
	}
}

func TestJobAction(t *testing.T) {
	engine := &fakeEngine{known: map[string]bool{"timelapse_capture_1": true}}
	ts := newTestServer(&fakeDirectory{}, engine)
	defer ts.Close()

	code := postJSON(t, http.MethodPost, ts.URL+"/api/scheduled-jobs/timelapse_capture_1/actions",
		map[string]any{"action": "pause"}, nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(engine.applied) != 1 || engine.applied[0] != "timelapse_capture_1:pause" {
		t.Fatalf("action not applied: %v", engine.applied)
	}

	code = postJSON(t, http.MethodPost, ts.URL+"/api/scheduled-jobs/timelapse_capture_1/actions",
		map[string]any{"action": "detonate"}, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("unknown action must be rejected, got %d", code)
	}

	code = postJSON(t, http.MethodPost, ts.URL+"/api/scheduled-jobs/timelapse_capture_9/actions",
		map[string]any{"action": "pause"}, nil)
	if code != http.StatusNotFound {
		t.Fatalf("unknown job must 404, got %d", code)
	}
}

func TestDeleteScheduledJob(t *testing.T) {
	engine := &fakeEngine{known: map[string]bool{"timelapse_capture_1": true}}
	ts := newTestServer(&fakeDirectory{}, engine)
	defer ts.Close()

	code := postJSON(t, http.MethodDelete, ts.URL+"/api/scheduled-jobs/timelapse_capture_1", nil, nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(engine.removed) != 1 || engine.removed[0] != "timelapse_capture_1" {
		t.Fatalf("job not removed from engine: %v", engine.removed)
	}

	code = postJSON(t, http.MethodDelete, ts.URL+"/api/scheduled-jobs/timelapse_capture_9", nil, nil)
	if code != http.StatusNotFound {
		t.Fatalf("unknown job must 404, got %d", code)
	}
}

func TestBulkAction(t *testing.T) {
	engine := &fakeEngine{known: map[string]bool{
		"timelapse_capture_1": true,
		"timelapse_capture_2": true,
	}}
	ts := newTestServer(&fakeDirectory{}, engine)
	defer ts.Close()

	var body struct {
		Succeeded int               `json:"succeeded"`
		Failed    map[string]string `json:"failed"`
	}
	code := postJSON(t, http.MethodPost, ts.URL+"/api/scheduled-jobs/actions", map[string]any{
		"action":  "pause",
		"job_ids": []string{"timelapse_capture_1", "timelapse_capture_2", "timelapse_capture_9"},
	}, &body)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body.Succeeded != 2 {
		t.Fatalf("expected 2 succeeded, got %d", body.Succeeded)
	}
	if _, ok := body.Failed["timelapse_capture_9"]; !ok {
		t.Fatalf("expected per-job failure for unknown id, got %v", body.Failed)
	}
}

func TestQueueStatisticsDegradesToPartial(t *testing.T) {
	healthy := &fakeQueue{name: "thumbnail", stats: models.QueueStatistics{Pending: 4}}
	broken := &fakeQueue{name: "video", statsErr: errors.New("relation missing")}
	ts := newTestServer(&fakeDirectory{}, &fakeEngine{}, healthy, broken)
	defer ts.Close()

	var body map[string]map[string]any
	if code := getJSON(t, ts.URL+"/api/queue/statistics", &body); code != http.StatusOK {
		t.Fatalf("partial statistics must still be 200, got %d", code)
	}
	if _, ok := body["thumbnail"]; !ok {
		t.Fatalf("healthy queue missing from response: %v", body)
	}
	if _, ok := body["video"]["error"]; !ok {
		t.Fatalf("broken queue must report its error: %v", body["video"])
	}
}

func TestSettingRoundTrip(t *testing.T) {
	ts := newTestServer(&fakeDirectory{}, &fakeEngine{})
	defer ts.Close()

	var errBody map[string]map[string]string
	if code := getJSON(t, ts.URL+"/api/settings/corruption_threshold", &errBody); code != http.StatusNotFound {
		t.Fatalf("unset key must 404, got %d", code)
	}

	code := postJSON(t, http.MethodPut, ts.URL+"/api/settings/corruption_threshold",
		map[string]any{"value": "85"}, nil)
	if code != http.StatusOK {
		t.Fatalf("put setting: expected 200, got %d", code)
	}

	var body map[string]string
	if code := getJSON(t, ts.URL+"/api/settings/corruption_threshold", &body); code != http.StatusOK {
		t.Fatalf("expected 200 after put, got %d", code)
	}
	if body["value"] != "85" {
		t.Fatalf("unexpected setting value: %v", body)
	}

	code = postJSON(t, http.MethodPut, ts.URL+"/api/settings/corruption_threshold",
		map[string]any{}, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("missing value must 400, got %d", code)
	}
}

func TestQueueCancel(t *testing.T) {
	q := &fakeQueue{name: "thumbnail"}
	ts := newTestServer(&fakeDirectory{}, &fakeEngine{}, q)
	defer ts.Close()

	var body map[string]int64
	code := postJSON(t, http.MethodPost, ts.URL+"/api/queue/thumbnail/cancel",
		map[string]any{"subject_id": "42"}, &body)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["cancelled"] != 3 {
		t.Fatalf("expected cancel count, got %v", body)
	}
	if q.cancelled["42"] != 3 {
		t.Fatalf("cancel never reached the queue")
	}

	code = postJSON(t, http.MethodPost, ts.URL+"/api/queue/nope/cancel",
		map[string]any{"subject_id": "42"}, nil)
	if code != http.StatusNotFound {
		t.Fatalf("unknown queue must 404, got %d", code)
	}
}
