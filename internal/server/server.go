// Package server exposes the worker's HTTP status API: job inspection
// and control, reprocess submission, and a websocket job feed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/raphaelgruber/reanchor/internal/db"
	"github.com/raphaelgruber/reanchor/internal/jobs"
	"github.com/raphaelgruber/reanchor/internal/metrics"
	"github.com/raphaelgruber/reanchor/internal/models"
	"github.com/raphaelgruber/reanchor/internal/service"
)

// JobService is the operation surface the API serves. Implemented by
// service.Service.
type JobService interface {
	SubmitJob(ctx context.Context, payload models.JobPayload) (*models.Job, error)
	GetJobStatus(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, opts db.ListJobsOptions) ([]models.Job, error)
	PauseJob(ctx context.Context, id string) (*models.Job, error)
	ResumeJob(ctx context.Context, id string) (*models.Job, error)
	CancelJob(ctx context.Context, id string) (*models.Job, error)
	RetryJob(ctx context.Context, id string) (*models.Job, error)
	FailStalledJobs(ctx context.Context) ([]models.Job, error)
}

// Server is the worker's HTTP API.
type Server struct {
	svc     JobService
	logger  *slog.Logger
	metrics *metrics.Collector
	http    *http.Server
}

// New creates the API server listening on the given port.
func New(svc JobService, port string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{svc: svc, logger: logger, metrics: metrics.NewCollector()}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /jobs/{id}/pause", s.jobAction("pause"))
	mux.HandleFunc("POST /jobs/{id}/resume", s.jobAction("resume"))
	mux.HandleFunc("POST /jobs/{id}/cancel", s.jobAction("cancel"))
	mux.HandleFunc("POST /jobs/{id}/retry", s.jobAction("retry"))
	mux.HandleFunc("POST /jobs/fail-stalled", s.handleFailStalled)
	mux.HandleFunc("POST /documents/{id}/reprocess", s.handleReprocess)
	mux.HandleFunc("GET /ws/jobs/{id}", s.handleJobFeed)

	s.http = &http.Server{
		Addr:              net.JoinHostPort("", port),
		Handler:           requestLogger(logger, s.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// jobView is the JSON shape jobs are served as.
type jobView struct {
	ID          string           `json:"id"`
	Owner       string           `json:"owner"`
	Type        models.JobType   `json:"type"`
	Document    string           `json:"document,omitempty"`
	Status      models.JobStatus `json:"status"`
	Progress    models.Progress  `json:"progress"`
	Checkpoint  string           `json:"checkpoint,omitempty"`
	Output      map[string]any   `json:"output,omitempty"`
	LastError   *string          `json:"last_error,omitempty"`
	RetryCount  int              `json:"retry_count"`
	NextRetryAt *time.Time       `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

func newJobView(j models.Job) jobView {
	id, _ := models.RecordIDString(j.ID)
	return jobView{
		ID:          id,
		Owner:       j.Owner,
		Type:        j.JobType,
		Document:    j.Document,
		Status:      j.Status,
		Progress:    j.Progress,
		Checkpoint:  j.Checkpoint,
		Output:      j.Output,
		LastError:   j.LastError,
		RetryCount:  j.RetryCount,
		NextRetryAt: j.NextRetryAt,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	opts := db.ListJobsOptions{
		Owner:    r.URL.Query().Get("owner"),
		Document: r.URL.Query().Get("document"),
		Status:   models.JobStatus(r.URL.Query().Get("status")),
	}
	if opts.Status != "" && !validStatus(opts.Status) {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", opts.Status))
		return
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", limit))
			return
		}
		opts.Limit = n
	}

	list, err := s.svc.ListJobs(r.Context(), opts)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	views := make([]jobView, len(list))
	for i, j := range list {
		views[i] = newJobView(j)
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.GetJobStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(*job))
}

// jobAction routes the four control verbs through one handler shape.
func (s *Server) jobAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		var job *models.Job
		var err error
		switch action {
		case "pause":
			job, err = s.svc.PauseJob(r.Context(), id)
		case "resume":
			job, err = s.svc.ResumeJob(r.Context(), id)
		case "cancel":
			job, err = s.svc.CancelJob(r.Context(), id)
		case "retry":
			job, err = s.svc.RetryJob(r.Context(), id)
		}
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newJobView(*job))
	}
}

func (s *Server) handleFailStalled(w http.ResponseWriter, r *http.Request) {
	failed, err := s.svc.FailStalledJobs(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	views := make([]jobView, len(failed))
	for i, j := range failed {
		views[i] = newJobView(j)
	}
	writeJSON(w, http.StatusOK, map[string]any{"failed": views})
}

// reprocessRequest is the submission body. Connections selects the
// chunk-relink-only pass instead of the full text re-derivation.
type reprocessRequest struct {
	Connections bool                    `json:"connections,omitempty"`
	Options     models.ReprocessOptions `json:"options"`
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("id")

	var req reprocessRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("parse body: %w", err))
			return
		}
	}

	var payload models.JobPayload
	if req.Connections {
		payload = models.ReprocessConnectionsPayload{DocumentID: documentID}
	} else {
		payload = models.ReprocessDocumentPayload{DocumentID: documentID, Options: req.Options}
	}

	job, err := s.svc.SubmitJob(r.Context(), payload)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newJobView(*job))
}

// writeServiceError maps service errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrJobNotFound), errors.Is(err, service.ErrDocumentNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, service.ErrDuplicateJob), errors.Is(err, jobs.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, service.ErrOwnerRequired):
		s.writeError(w, http.StatusBadRequest, err)
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func validStatus(s models.JobStatus) bool {
	switch s {
	case models.JobStatusPending, models.JobStatusProcessing, models.JobStatusPaused,
		models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled:
		return true
	}
	return false
}
