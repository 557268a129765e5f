// Package api exposes the admin/observability surface over HTTP. It lives in
// the scheduler process so job-control actions can reach the live timer
// engine directly.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/ratelimit"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/scheduler"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/settings"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/store"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/telemetry"
)

// JobDirectory reads the scheduled-job mirror.
type JobDirectory interface {
	ListScheduledJobs(ctx context.Context, f store.ScheduledJobFilter) ([]models.ScheduledJob, int64, error)
	GetScheduledJob(ctx context.Context, jobID string) (models.ScheduledJob, error)
}

// Engine is the live scheduler surface the control endpoints drive.
type Engine interface {
	Apply(ctx context.Context, jobID, action string) error
	BulkApply(ctx context.Context, jobIDs []string, action string) map[string]error
	UpdateInterval(ctx context.Context, jobID string, intervalSeconds int) error
	RemoveJob(ctx context.Context, jobID string) error
}

// Queue is the per-family queue surface the statistics and cancel endpoints
// use.
type Queue interface {
	Name() string
	CancelForSubject(ctx context.Context, subjectID string) (int64, error)
	Statistics(ctx context.Context) (models.QueueStatistics, error)
}

// SettingsWriter persists runtime setting overrides.
type SettingsWriter interface {
	PutSetting(ctx context.Context, key, value string) error
}

// Server wires the admin HTTP handlers.
type Server struct {
	jobs     JobDirectory
	engine   Engine
	queues   []Queue
	limiter  *ratelimit.Limiter
	settings *settings.Settings
	writer   SettingsWriter
}

// New constructs the server. limiter may be nil to disable rate limiting;
// writer may be nil to make the settings surface read-only.
func New(jobs JobDirectory, engine Engine, queues []Queue, limiter *ratelimit.Limiter, s *settings.Settings, writer SettingsWriter) *Server {
	return &Server{jobs: jobs, engine: engine, queues: queues, limiter: limiter, settings: s, writer: writer}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Get("/scheduled-jobs", s.handleListJobs)
		r.Get("/scheduled-jobs/{id}", s.handleGetJob)
		r.Patch("/scheduled-jobs/{id}", s.handleUpdateJob)
		r.Delete("/scheduled-jobs/{id}", s.handleDeleteJob)
		r.Post("/scheduled-jobs/{id}/actions", s.handleJobAction)
		r.Post("/scheduled-jobs/actions", s.handleBulkAction)
		r.Get("/queue/statistics", s.handleQueueStats)
		r.Post("/queue/{queue}/cancel", s.handleQueueCancel)
		r.Get("/settings/{key}", s.handleGetSetting)
		r.Put("/settings/{key}", s.handlePutSetting)
	})
	return r
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			allowed, _, err := s.limiter.Allow(r.Context(), clientKey(r))
			if err == nil && !allowed {
				telemetry.RateLimitDrops.Inc()
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			// A limiter error fails open: admin access beats strict limits.
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	jobs, total, err := s.jobs.ListScheduledJobs(r.Context(), store.ScheduledJobFilter{
		Status:  q.Get("status"),
		JobType: q.Get("type"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "total": total})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetScheduledJob(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "scheduled job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type updateJobRequest struct {
	IntervalSeconds int `json:"interval_seconds"`
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	var req updateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	minI, err := s.settings.Int(r.Context(), settings.KeyMinCaptureIntervalSeconds, settings.DefaultMinCaptureIntervalSeconds)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	maxI, err := s.settings.Int(r.Context(), settings.KeyMaxCaptureIntervalSeconds, settings.DefaultMaxCaptureIntervalSeconds)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if req.IntervalSeconds < minI || req.IntervalSeconds > maxI {
		writeError(w, http.StatusBadRequest, "invalid_interval",
			"interval_seconds must be between "+strconv.Itoa(minI)+" and "+strconv.Itoa(maxI))
		return
	}

	jobID := chi.URLParam(r, "id")
	if err := s.engine.UpdateInterval(r.Context(), jobID, req.IntervalSeconds); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "scheduled job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if err := s.engine.RemoveJob(r.Context(), jobID); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "scheduled job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, found, err := s.settings.Raw(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "setting not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	if s.writer == nil {
		writeError(w, http.StatusMethodNotAllowed, "read_only", "settings are read-only")
		return
	}
	key := chi.URLParam(r, "key")
	var req struct {
		Value *string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "value is required")
		return
	}
	if err := s.writer.PutSetting(r.Context(), key, *req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": *req.Value})
}

type actionRequest struct {
	Action string   `json:"action"`
	JobIDs []string `json:"job_ids,omitempty"`
}

func (s *Server) handleJobAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if !scheduler.ValidAction(req.Action) {
		writeError(w, http.StatusBadRequest, "invalid_action", "action must be one of pause, resume, disable, enable, trigger")
		return
	}
	if err := s.engine.Apply(r.Context(), chi.URLParam(r, "id"), req.Action); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "scheduled job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Action})
}

func (s *Server) handleBulkAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if !scheduler.ValidAction(req.Action) {
		writeError(w, http.StatusBadRequest, "invalid_action", "action must be one of pause, resume, disable, enable, trigger")
		return
	}
	if len(req.JobIDs) == 0 {
		writeError(w, http.StatusBadRequest, "missing_job_ids", "job_ids is required")
		return
	}
	failures := s.engine.BulkApply(r.Context(), req.JobIDs, req.Action)
	failed := make(map[string]string, len(failures))
	for id, err := range failures {
		failed[id] = err.Error()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"succeeded": len(req.JobIDs) - len(failed),
		"failed":    failed,
	})
}

// handleQueueStats degrades to partial data: a queue whose statistics query
// fails is reported with an error field instead of failing the response.
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]any, len(s.queues))
	for _, q := range s.queues {
		stats, err := q.Statistics(r.Context())
		if err != nil {
			out[q.Name()] = map[string]string{"error": err.Error()}
			continue
		}
		out[q.Name()] = stats
	}
	writeJSON(w, http.StatusOK, out)
}

type cancelRequest struct {
	SubjectID string `json:"subject_id"`
}

func (s *Server) handleQueueCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if req.SubjectID == "" {
		writeError(w, http.StatusBadRequest, "missing_subject_id", "subject_id is required")
		return
	}
	name := chi.URLParam(r, "queue")
	for _, q := range s.queues {
		if q.Name() != name {
			continue
		}
		n, err := q.CancelForSubject(r.Context(), req.SubjectID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"cancelled": n})
		return
	}
	writeError(w, http.StatusNotFound, "not_found", "unknown queue")
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, errType, msg string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]string{"type": errType, "message": msg},
	})
}
