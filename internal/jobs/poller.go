package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/raphaelgruber/reanchor/internal/models"
)

// Config tunes the polling worker.
type Config struct {
	// Worker is this worker's stable name, recorded on claimed jobs.
	Worker string

	PollInterval      time.Duration
	HeartbeatInterval time.Duration

	MaxRetries       int
	RetryBackoffBase time.Duration
}

// Poller claims jobs from the store and drives their handlers. Several
// pollers may run against the same store; the claim is atomic, so each
// job runs on exactly one of them.
type Poller struct {
	store  Store
	reg    *Registry
	cfg    Config
	logger *slog.Logger
}

// NewPoller creates a poller. A nil logger discards log output.
func NewPoller(store Store, reg *Registry, cfg Config, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	return &Poller{store: store, reg: reg, cfg: cfg, logger: logger}
}

// Run polls until the context is cancelled. On startup it re-queues any
// job a previous run of this worker left in processing, so a crash
// never strands a claim.
func (p *Poller) Run(ctx context.Context) error {
	if n, err := p.store.RequeueWorkerJobs(ctx, p.cfg.Worker); err != nil {
		return fmt.Errorf("requeue stale jobs: %w", err)
	} else if n > 0 {
		p.logger.Info("re-queued jobs from previous run", "worker", p.cfg.Worker, "count", n)
	}

	p.logger.Info("poller started", "worker", p.cfg.Worker, "interval", p.cfg.PollInterval)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Drain the queue before sleeping.
		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			claimed, err := p.RunOnce(ctx)
			if err != nil {
				p.logger.Error("poll iteration failed", "error", err)
				break
			}
			if !claimed {
				break
			}
		}

		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping", "worker", p.cfg.Worker)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce claims and executes at most one job. Reports whether a job
// was claimed. Handler failures are recorded on the job, not returned;
// the error return is for claim-level infrastructure problems.
func (p *Poller) RunOnce(ctx context.Context) (bool, error) {
	job, err := p.store.ClaimNextJob(ctx, p.cfg.Worker)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if job == nil {
		return false, nil
	}

	p.execute(ctx, *job)
	return true, nil
}

// execute runs one claimed job to a terminal-or-paused outcome.
func (p *Poller) execute(ctx context.Context, job models.Job) {
	jobID, err := models.RecordIDString(job.ID)
	if err != nil {
		p.logger.Error("claimed job has malformed id", "error", err)
		return
	}

	logger := p.logger.With("job", jobID, "type", job.JobType, "document", job.Document)
	logger.Info("job started", "attempt", job.RetryCount+1)

	// Heartbeat in the background for the duration of the run.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go p.heartbeatLoop(hbCtx, jobID)

	output, err := p.runHandler(ctx, job, logger)

	switch {
	case err == nil:
		if _, cerr := p.store.CompleteJob(ctx, jobID, output); cerr != nil {
			logger.Error("completion not recorded", "error", cerr)
			return
		}
		logger.Info("job completed")

	case errors.Is(err, ErrPauseRequested):
		if _, perr := p.store.MarkJobPaused(ctx, jobID); perr != nil {
			logger.Error("pause not recorded", "error", perr)
			return
		}
		logger.Info("job paused at checkpoint", "checkpoint", job.Checkpoint)

	case errors.Is(err, ErrCancelRequested):
		if _, cerr := p.store.MarkJobCancelled(ctx, jobID); cerr != nil {
			logger.Error("cancellation not recorded", "error", cerr)
			return
		}
		logger.Info("job cancelled at checkpoint")

	default:
		nextRetry := NextRetryAt(job.RetryCount, p.cfg.MaxRetries, p.cfg.RetryBackoffBase, time.Now())
		if isTerminal(err) {
			nextRetry = nil
		}
		if _, ferr := p.store.FailJob(ctx, jobID, err.Error(), nextRetry); ferr != nil {
			logger.Error("failure not recorded", "error", ferr)
			return
		}
		if nextRetry != nil {
			logger.Warn("job failed, retry scheduled", "error", err, "next_retry_at", *nextRetry)
		} else {
			logger.Error("job failed permanently", "error", err)
		}
	}
}

// runHandler dispatches to the registered handler, converting panics
// into job failures so one bad job never takes down the worker.
func (p *Poller) runHandler(ctx context.Context, job models.Job, logger *slog.Logger) (output map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked", "panic", r, "stack", string(debug.Stack()))
			err = NewTerminalError(fmt.Errorf("handler panic: %v", r))
		}
	}()

	handler, ok := p.reg.Get(job.JobType)
	if !ok {
		return nil, NewTerminalError(fmt.Errorf("%w: %q", models.ErrUnknownJobType, job.JobType))
	}

	rt, err := newRuntime(job, p.store, logger)
	if err != nil {
		return nil, NewTerminalError(err)
	}
	return handler.Run(ctx, rt)
}

func (p *Poller) heartbeatLoop(ctx context.Context, jobID string) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.Heartbeat(ctx, jobID); err != nil {
				p.logger.Warn("heartbeat failed", "job", jobID, "error", err)
			}
		}
	}
}

// terminalError marks a failure no retry can fix: bad payloads, unknown
// job types, handler panics.
type terminalError struct{ err error }

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

func isTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}

// NewTerminalError wraps an error so the poller fails the job without
// scheduling a retry. For validation failures inside handlers.
func NewTerminalError(err error) error { return &terminalError{err: err} }
