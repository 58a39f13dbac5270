package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"thema-ads-orchestrator/internal/models"
	"thema-ads-orchestrator/internal/orchestrator"
	"thema-ads-orchestrator/internal/report"
	"thema-ads-orchestrator/internal/store"
	"thema-ads-orchestrator/internal/telemetry"
)

// JobService is the job lifecycle surface the API exposes; the orchestrator
// implements it.
type JobService interface {
	CreateJob(ctx context.Context, targets []models.AdGroupTarget, source, theme string) (models.Job, error)
	PauseJob(ctx context.Context, jobID string) error
	ResumeJob(ctx context.Context, jobID string) error
	GetJobStatus(ctx context.Context, jobID string) (models.Job, error)
	ListJobs(ctx context.Context, limit int) ([]models.Job, error)
	JobItems(ctx context.Context, jobID string) ([]models.JobItem, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// Enqueuer hands jobs to the orchestration daemon.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
	Remove(ctx context.Context, jobID string) error
}

// Server wires HTTP handlers for the job control plane.
type Server struct {
	jobs  JobService
	queue Enqueuer
	log   zerolog.Logger
}

// New constructs the API server.
func New(jobs JobService, queue Enqueuer, log zerolog.Logger) *Server {
	return &Server{jobs: jobs, queue: queue, log: log.With().Str("component", "api").Logger()}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleCreateJob)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Delete("/jobs/{id}", s.handleDeleteJob)
	r.Post("/jobs/{id}/process", s.handleProcess)
	r.Post("/jobs/{id}/pause", s.handlePause)
	r.Post("/jobs/{id}/resume", s.handleResume)
	r.Get("/jobs/{id}/report", s.handleReport)
	return r
}

type createJobRequest struct {
	Theme   string                 `json:"theme"`
	Source  string                 `json:"source"`
	Targets []models.AdGroupTarget `json:"targets"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	job, err := s.jobs.CreateJob(r.Context(), req.Targets, req.Source, req.Theme)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}
	jobs, err := s.jobs.ListJobs(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJobStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.jobs.DeleteJob(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	_ = s.queue.Remove(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.GetJobStatus(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if job.Status == models.JobStatusRunning || job.Status == models.JobStatusCompleted {
		http.Error(w, fmt.Sprintf("cannot process %s job", job.Status), http.StatusConflict)
		return
	}
	if err := s.queue.Enqueue(r.Context(), id); err != nil {
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	s.log.Info().Str("job_id", id).Msg("job queued for processing")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.PauseJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.JobStatusPaused})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.jobs.ResumeJob(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.queue.Enqueue(r.Context(), id); err != nil {
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	items, err := s.jobs.JobItems(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, err := report.BuildCSV(items)
	if err != nil {
		http.Error(w, "render report failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="job-%s-report.csv"`, id))
	_, _ = w.Write(body)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, orchestrator.ErrInvalidState), errors.Is(err, orchestrator.ErrJobRunning):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		s.log.Error().Err(err).Msg("request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
