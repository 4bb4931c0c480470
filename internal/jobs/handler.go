package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/reanchor/internal/models"
)

// Cooperative control signals. Handlers surface them from Check or
// Checkpoint; the poller translates them into the paused or cancelled
// status.
var (
	ErrPauseRequested  = errors.New("pause requested")
	ErrCancelRequested = errors.New("cancel requested")
)

// Store is the persistence surface the job pipeline needs. Implemented
// by db.Client.
type Store interface {
	ClaimNextJob(ctx context.Context, worker string) (*models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	UpdateJobProgress(ctx context.Context, id string, progress models.Progress, checkpoint string) error
	Heartbeat(ctx context.Context, id string) error
	CompleteJob(ctx context.Context, id string, output map[string]any) (*models.Job, error)
	FailJob(ctx context.Context, id, errMsg string, nextRetry *time.Time) (*models.Job, error)
	MarkJobPaused(ctx context.Context, id string) (*models.Job, error)
	MarkJobCancelled(ctx context.Context, id string) (*models.Job, error)
	RequeueWorkerJobs(ctx context.Context, worker string) (int, error)
}

// Handler executes one job type. Run must observe rt.Check (directly or
// via rt.Checkpoint) at safe points so pause and cancel requests take
// effect between batches, never mid-write.
type Handler interface {
	Type() models.JobType
	Run(ctx context.Context, rt *Runtime) (map[string]any, error)
}

// Runtime is the per-execution surface the poller hands a handler.
type Runtime struct {
	Job    models.Job
	Logger *slog.Logger

	store runtimeStore
	jobID string
}

// runtimeStore is the subset of Store a running handler touches.
type runtimeStore interface {
	GetJob(ctx context.Context, id string) (*models.Job, error)
	UpdateJobProgress(ctx context.Context, id string, progress models.Progress, checkpoint string) error
}

func newRuntime(job models.Job, store runtimeStore, logger *slog.Logger) (*Runtime, error) {
	jobID, err := models.RecordIDString(job.ID)
	if err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}
	return &Runtime{Job: job, Logger: logger, store: store, jobID: jobID}, nil
}

// Progress persists advisory progress. Best-effort: a progress write
// failure never fails the job.
func (rt *Runtime) Progress(ctx context.Context, stage string, percent float64, detail string) {
	p := models.Progress{Stage: stage, Percent: percent, Detail: detail}
	if err := rt.store.UpdateJobProgress(ctx, rt.jobID, p, ""); err != nil {
		rt.Logger.Warn("progress update failed", "job", rt.jobID, "error", err)
	}
}

// Check polls the job's control flags. Returns ErrCancelRequested or
// ErrPauseRequested when an operator asked for either; cancel wins when
// both are set.
func (rt *Runtime) Check(ctx context.Context) error {
	job, err := rt.store.GetJob(ctx, rt.jobID)
	if err != nil {
		return fmt.Errorf("check control flags: %w", err)
	}
	if job == nil {
		return fmt.Errorf("check control flags: job %s disappeared", rt.jobID)
	}
	if job.CancelRequested {
		return ErrCancelRequested
	}
	if job.PauseRequested {
		return ErrPauseRequested
	}
	return nil
}

// Checkpoint records a completed stage and polls the control flags. A
// resumed job reads Job.Checkpoint to skip stages that already ran.
func (rt *Runtime) Checkpoint(ctx context.Context, stage string, percent float64) error {
	p := models.Progress{Stage: stage, Percent: percent}
	if err := rt.store.UpdateJobProgress(ctx, rt.jobID, p, stage); err != nil {
		return fmt.Errorf("persist checkpoint %q: %w", stage, err)
	}
	return rt.Check(ctx)
}

// Registry maps job types to their handlers.
type Registry struct {
	handlers map[models.JobType]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[models.JobType]Handler)}
}

// Register adds a handler. Registering two handlers for one type is a
// wiring bug, so it panics at startup rather than failing at claim time.
func (r *Registry) Register(h Handler) {
	if _, dup := r.handlers[h.Type()]; dup {
		panic(fmt.Sprintf("jobs: duplicate handler for %q", h.Type()))
	}
	r.handlers[h.Type()] = h
}

// Get returns the handler for a job type.
func (r *Registry) Get(t models.JobType) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}
