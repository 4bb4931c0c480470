// Package service exposes the reprocessing and recovery operations the
// CLI and the worker HTTP API call. It owns submission policy (owner
// attribution, duplicate refusal) and translates store-level conflicts
// into lifecycle errors callers can explain to a user.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/raphaelgruber/reanchor/internal/db"
	"github.com/raphaelgruber/reanchor/internal/models"
	"github.com/raphaelgruber/reanchor/internal/recovery"
)

var (
	// ErrOwnerRequired rejects submissions without an explicit owner.
	// There is deliberately no fallback identity.
	ErrOwnerRequired = errors.New("owner is required")

	// ErrDuplicateJob rejects a submission while an active job of the
	// same type already targets the document.
	ErrDuplicateJob = errors.New("an active job of this type already exists for the document")

	ErrJobNotFound      = errors.New("job not found")
	ErrDocumentNotFound = errors.New("document not found")
)

// Store is the persistence surface the service needs. Implemented by
// db.Client.
type Store interface {
	CreateJob(ctx context.Context, owner string, jobType models.JobType, document string, payload map[string]any) (*models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, opts db.ListJobsOptions) ([]models.Job, error)
	CountActiveJobs(ctx context.Context, document string, jobType models.JobType) (int, error)

	RequestPause(ctx context.Context, id string) (*models.Job, error)
	ResumeJob(ctx context.Context, id string) (*models.Job, error)
	RequestCancel(ctx context.Context, id string) (*models.Job, error)
	CancelQueuedJob(ctx context.Context, id string) (*models.Job, error)
	RetryJob(ctx context.Context, id string) (*models.Job, error)
	ForceFailJob(ctx context.Context, id, errMsg string) (*models.Job, error)
	GetStalledJobs(ctx context.Context, cutoff time.Time) ([]models.Job, error)

	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListChunks(ctx context.Context, documentID string) ([]models.Chunk, error)

	GetPosition(ctx context.Context, id string) (*models.Position, error)
	ListReviewPositions(ctx context.Context, documentID string) ([]models.Position, error)
	MergePosition(ctx context.Context, id string, patch models.PositionPatch) error
	MergeContent(ctx context.Context, id string, patch models.ContentPatch) error
}

// Config carries submission identity and operational policy.
type Config struct {
	// Owner is attributed to every job this service submits.
	Owner string

	// StallWindow is how long a processing job may go without a
	// heartbeat before FailStalledJobs considers it abandoned.
	StallWindow time.Duration
}

// Service implements the exposed operation surface.
type Service struct {
	store     Store
	recoverer *recovery.Orchestrator
	cfg       Config
	logger    *slog.Logger
}

// New creates the service. A nil logger discards log output.
func New(store Store, recoverer *recovery.Orchestrator, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.StallWindow <= 0 {
		cfg.StallWindow = 5 * time.Minute
	}
	return &Service{store: store, recoverer: recoverer, cfg: cfg, logger: logger}
}
