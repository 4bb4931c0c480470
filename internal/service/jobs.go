package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/reanchor/internal/db"
	"github.com/raphaelgruber/reanchor/internal/jobs"
	"github.com/raphaelgruber/reanchor/internal/models"
)

// SubmitJob validates the payload, refuses duplicates, and queues the
// job. One active job per document and job type: a second submission
// while one is pending, processing, or paused is rejected with
// ErrDuplicateJob.
func (s *Service) SubmitJob(ctx context.Context, payload models.JobPayload) (*models.Job, error) {
	if s.cfg.Owner == "" {
		return nil, ErrOwnerRequired
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("validate payload: %w", err)
	}

	document := jobDocument(payload)
	if document != "" {
		active, err := s.store.CountActiveJobs(ctx, document, payload.Type())
		if err != nil {
			return nil, fmt.Errorf("check active jobs: %w", err)
		}
		if active > 0 {
			return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateJob, document, payload.Type())
		}
	}

	job, err := s.store.CreateJob(ctx, s.cfg.Owner, payload.Type(), document, models.EncodePayload(payload))
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.logger.Info("job submitted",
		"job", models.MustRecordIDString(job.ID),
		"type", job.JobType,
		"document", document,
		"owner", s.cfg.Owner)
	return job, nil
}

// jobDocument extracts the target document id a payload names, empty
// for payloads that target no single document.
func jobDocument(payload models.JobPayload) string {
	switch p := payload.(type) {
	case models.ReprocessDocumentPayload:
		return p.DocumentID
	case models.ReprocessConnectionsPayload:
		return p.DocumentID
	}
	return ""
}

// GetJobStatus returns the job record, including progress, output, and
// retry state.
func (s *Service) GetJobStatus(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

// ListJobs returns jobs matching the filter, most recent first.
func (s *Service) ListJobs(ctx context.Context, opts db.ListJobsOptions) ([]models.Job, error) {
	return s.store.ListJobs(ctx, opts)
}

// PauseJob requests a cooperative pause. Only a processing job can
// pause; the worker honors the request at its next checkpoint, so the
// status flips to paused asynchronously.
func (s *Service) PauseJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.GetJobStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := jobs.ValidateTransition(job.Status, models.JobStatusPaused); err != nil {
		return nil, err
	}

	paused, err := s.store.RequestPause(ctx, id)
	if err != nil {
		return nil, s.conflict(ctx, "pause", id, err)
	}
	s.logger.Info("pause requested", "job", id)
	return paused, nil
}

// ResumeJob re-queues a paused job. The next poll claims it and its
// handler resumes from the persisted checkpoint.
func (s *Service) ResumeJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.GetJobStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := jobs.ValidateTransition(job.Status, models.JobStatusPending); err != nil {
		return nil, err
	}

	resumed, err := s.store.ResumeJob(ctx, id)
	if err != nil {
		return nil, s.conflict(ctx, "resume", id, err)
	}
	s.logger.Info("job resumed", "job", id, "checkpoint", resumed.Checkpoint)
	return resumed, nil
}

// CancelJob cancels a job. Queued and paused jobs cancel immediately;
// a processing job gets a cooperative cancel flag honored at its next
// checkpoint. Cancelling a terminal job is an error.
func (s *Service) CancelJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.GetJobStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := jobs.ValidateTransition(job.Status, models.JobStatusCancelled); err != nil {
		return nil, err
	}

	var cancelled *models.Job
	if job.Status == models.JobStatusProcessing {
		cancelled, err = s.store.RequestCancel(ctx, id)
	} else {
		cancelled, err = s.store.CancelQueuedJob(ctx, id)
	}
	if err != nil {
		return nil, s.conflict(ctx, "cancel", id, err)
	}
	s.logger.Info("job cancelled", "job", id, "was", job.Status)
	return cancelled, nil
}

// RetryJob re-queues a failed job immediately, regardless of its retry
// schedule or whether retries were exhausted. The retry count is kept
// so the failure history stays visible.
func (s *Service) RetryJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.GetJobStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := jobs.ValidateTransition(job.Status, models.JobStatusPending); err != nil {
		return nil, err
	}

	retried, err := s.store.RetryJob(ctx, id)
	if err != nil {
		return nil, s.conflict(ctx, "retry", id, err)
	}
	s.logger.Info("job re-queued for retry", "job", id, "previous_failures", retried.RetryCount)
	return retried, nil
}

// FailStalledJobs force-fails processing jobs whose heartbeat is older
// than the stall window. Operator-driven cleanup for crashed workers
// whose jobs were never re-queued.
func (s *Service) FailStalledJobs(ctx context.Context) ([]models.Job, error) {
	cutoff := time.Now().Add(-s.cfg.StallWindow)
	stalled, err := s.store.GetStalledJobs(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stalled jobs: %w", err)
	}

	var failed []models.Job
	for _, job := range stalled {
		id, err := models.RecordIDString(job.ID)
		if err != nil {
			s.logger.Warn("stalled job has malformed id", "error", err)
			continue
		}
		j, err := s.store.ForceFailJob(ctx, id, fmt.Sprintf("no heartbeat since %s", cutoff.UTC().Format(time.RFC3339)))
		if err != nil {
			// Raced with a worker that picked the job back up; skip it.
			s.logger.Warn("stalled job not failed", "job", id, "error", err)
			continue
		}
		s.logger.Warn("stalled job force-failed", "job", id, "worker", job.Worker)
		failed = append(failed, *j)
	}
	return failed, nil
}

// conflict re-reads the job after a guarded update matched nothing and
// reports the transition that actually failed.
func (s *Service) conflict(ctx context.Context, op, id string, err error) error {
	if !errors.Is(err, db.ErrConflict) {
		return fmt.Errorf("%s job: %w", op, err)
	}
	job, gerr := s.store.GetJob(ctx, id)
	if gerr != nil || job == nil {
		return fmt.Errorf("%s job: %w", op, err)
	}
	return fmt.Errorf("%s job: %w (now %s)", op, jobs.ErrInvalidTransition, job.Status)
}
