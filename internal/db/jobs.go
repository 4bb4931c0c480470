package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/raphaelgruber/reanchor/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// firstRecord extracts the first record of the last statement's result.
// Returns nil when the query matched nothing.
func firstRecord[T any](results *[]surrealdb.QueryResult[[]T]) *T {
	if results == nil || len(*results) == 0 {
		return nil
	}
	res := (*results)[len(*results)-1].Result
	if len(res) == 0 {
		return nil
	}
	return &res[0]
}

// CreateJob enqueues a new pending job and returns the stored record.
func (c *Client) CreateJob(ctx context.Context, owner string, jobType models.JobType, document string, payload map[string]any) (*models.Job, error) {
	sql := `
		CREATE job SET
			owner = $owner,
			job_type = $job_type,
			document = $document,
			status = "pending",
			payload = $payload,
			progress = { stage: "queued", percent: 0.0 }
		RETURN AFTER
	`
	results, err := surrealdb.Query[[]models.Job](ctx, c.db, sql, map[string]any{
		"owner":    owner,
		"job_type": string(jobType),
		"document": document,
		"payload":  payload,
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", wrapQueryError(err))
	}

	job := firstRecord(results)
	if job == nil {
		return nil, fmt.Errorf("create job: no result returned")
	}
	return job, nil
}

// GetJob retrieves a job by ID. Returns nil if not found.
func (c *Client) GetJob(ctx context.Context, id string) (*models.Job, error) {
	results, err := surrealdb.Query[[]models.Job](ctx, c.db, `
		SELECT * FROM type::record("job", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return firstRecord(results), nil
}

// ListJobsOptions filters ListJobs. Zero values mean "no filter".
type ListJobsOptions struct {
	Owner    string
	Document string
	Status   models.JobStatus
	Limit    int
}

// ListJobs returns jobs matching the options, newest first.
func (c *Client) ListJobs(ctx context.Context, opts ListJobsOptions) ([]models.Job, error) {
	var clauses []string
	vars := map[string]any{}

	if opts.Owner != "" {
		clauses = append(clauses, "owner = $owner")
		vars["owner"] = opts.Owner
	}
	if opts.Document != "" {
		clauses = append(clauses, "document = $document")
		vars["document"] = opts.Document
	}
	if opts.Status != "" {
		clauses = append(clauses, "status = $status")
		vars["status"] = string(opts.Status)
	}

	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	vars["limit"] = limit

	sql := fmt.Sprintf(`
		SELECT * FROM job %s ORDER BY created_at DESC LIMIT $limit
	`, where)

	results, err := surrealdb.Query[[]models.Job](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Job{}, nil
	}
	return (*results)[0].Result, nil
}

// CountActiveJobs counts pending/processing/paused jobs of the given
// type targeting the document. Used to refuse duplicate submissions.
func (c *Client) CountActiveJobs(ctx context.Context, document string, jobType models.JobType) (int, error) {
	results, err := surrealdb.Query[[]struct {
		Count int `json:"count"`
	}](ctx, c.db, `
		SELECT count() AS count FROM job
		WHERE document = $document
			AND job_type = $job_type
			AND status IN ["pending", "processing", "paused"]
		GROUP ALL
	`, map[string]any{
		"document": document,
		"job_type": string(jobType),
	})
	if err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}

	row := firstRecord(results)
	if row == nil {
		return 0, nil
	}
	return row.Count, nil
}

// ClaimNextJob atomically claims the oldest pending job for the given
// worker. Failed jobs whose retry is due are first re-queued to
// pending, so the retry path goes failed -> pending -> processing like
// the lifecycle table says and the pending state stays observable. The
// guarded UPDATE re-checks the status so two workers never win the same
// job; the loser gets nil and polls again. Returns nil when the queue
// is empty.
func (c *Client) ClaimNextJob(ctx context.Context, worker string) (*models.Job, error) {
	sql := `
		UPDATE job SET
			status = "pending",
			next_retry_at = NONE
		WHERE status = "failed" AND next_retry_at != NONE AND next_retry_at <= time::now();

		UPDATE (
			SELECT VALUE id FROM job
			WHERE status = "pending"
			ORDER BY created_at ASC
			LIMIT 1
		) SET
			status = "processing",
			worker = $worker,
			started_at = time::now(),
			heartbeat_at = time::now(),
			next_retry_at = NONE,
			pause_requested = false
		WHERE status = "pending"
		RETURN AFTER
	`
	results, err := surrealdb.Query[[]models.Job](ctx, c.db, sql, map[string]any{
		"worker": worker,
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", wrapQueryError(err))
	}
	return firstRecord(results), nil
}

// UpdateJobProgress persists advisory progress and, when non-empty, the
// last completed checkpoint stage. No-op once the job left processing.
func (c *Client) UpdateJobProgress(ctx context.Context, id string, progress models.Progress, checkpoint string) error {
	sql := `
		UPDATE type::record("job", $id) SET
			progress = $progress,
			checkpoint = IF $checkpoint != "" { $checkpoint } ELSE { checkpoint }
		WHERE status = "processing"
	`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":         id,
		"progress":   progress,
		"checkpoint": checkpoint,
	})
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// Heartbeat refreshes the job's liveness timestamp while processing.
func (c *Client) Heartbeat(ctx context.Context, id string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("job", $id) SET heartbeat_at = time::now()
		WHERE status = "processing"
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// CompleteJob transitions a processing job to completed with its output.
// Returns ErrConflict if the job is no longer processing.
func (c *Client) CompleteJob(ctx context.Context, id string, output map[string]any) (*models.Job, error) {
	sql := `
		UPDATE type::record("job", $id) SET
			status = "completed",
			output = $output,
			progress.percent = 100.0,
			worker = NONE,
			completed_at = time::now()
		WHERE status = "processing"
		RETURN AFTER
	`
	results, err := surrealdb.Query[[]models.Job](ctx, c.db, sql, map[string]any{
		"id":     id,
		"output": output,
	})
	if err != nil {
		return nil, fmt.Errorf("complete job: %w", wrapQueryError(err))
	}

	job := firstRecord(results)
	if job == nil {
		return nil, fmt.Errorf("complete job %s: %w", id, ErrConflict)
	}
	return job, nil
}

// FailJob transitions a processing job to failed, recording the error
// and bumping the retry counter. A non-nil nextRetry makes the job
// claimable again once due; nil means retries are exhausted.
func (c *Client) FailJob(ctx context.Context, id, errMsg string, nextRetry *time.Time) (*models.Job, error) {
	sql := `
		UPDATE type::record("job", $id) SET
			status = "failed",
			last_error = $err,
			retry_count += 1,
			next_retry_at = $next_retry,
			worker = NONE,
			completed_at = time::now()
		WHERE status = "processing"
		RETURN AFTER
	`
	results, err := surrealdb.Query[[]models.Job](ctx, c.db, sql, map[string]any{
		"id":         id,
		"err":        errMsg,
		"next_retry": nextRetry,
	})
	if err != nil {
		return nil, fmt.Errorf("fail job: %w", wrapQueryError(err))
	}

	job := firstRecord(results)
	if job == nil {
		return nil, fmt.Errorf("fail job %s: %w", id, ErrConflict)
	}
	return job, nil
}

// RequestPause flags a processing job for cooperative pause. The worker
// observes the flag at its next checkpoint. Returns ErrConflict if the
// job is not processing.
func (c *Client) RequestPause(ctx context.Context, id string) (*models.Job, error) {
	return c.guardedUpdate(ctx, "request pause", id, `
		UPDATE type::record("job", $id) SET pause_requested = true
		WHERE status = "processing"
		RETURN AFTER
	`)
}

// MarkJobPaused records the worker-side pause transition taken at a
// checkpoint.
func (c *Client) MarkJobPaused(ctx context.Context, id string) (*models.Job, error) {
	return c.guardedUpdate(ctx, "mark paused", id, `
		UPDATE type::record("job", $id) SET
			status = "paused",
			pause_requested = false,
			worker = NONE
		WHERE status = "processing"
		RETURN AFTER
	`)
}

// ResumeJob re-queues a paused job. The next claim resumes from the
// persisted checkpoint.
func (c *Client) ResumeJob(ctx context.Context, id string) (*models.Job, error) {
	return c.guardedUpdate(ctx, "resume job", id, `
		UPDATE type::record("job", $id) SET
			status = "pending",
			pause_requested = false,
			worker = NONE,
			next_retry_at = NONE
		WHERE status = "paused"
		RETURN AFTER
	`)
}

// RequestCancel flags a processing job for cooperative cancellation.
func (c *Client) RequestCancel(ctx context.Context, id string) (*models.Job, error) {
	return c.guardedUpdate(ctx, "request cancel", id, `
		UPDATE type::record("job", $id) SET cancel_requested = true
		WHERE status = "processing"
		RETURN AFTER
	`)
}

// CancelQueuedJob cancels a job that is not currently running. Pending
// and paused jobs cancel immediately; processing jobs go through
// RequestCancel instead.
func (c *Client) CancelQueuedJob(ctx context.Context, id string) (*models.Job, error) {
	return c.guardedUpdate(ctx, "cancel queued job", id, `
		UPDATE type::record("job", $id) SET
			status = "cancelled",
			cancel_requested = false,
			worker = NONE,
			completed_at = time::now()
		WHERE status IN ["pending", "paused"]
		RETURN AFTER
	`)
}

// MarkJobCancelled records the worker-side cancellation taken at a
// checkpoint.
func (c *Client) MarkJobCancelled(ctx context.Context, id string) (*models.Job, error) {
	return c.guardedUpdate(ctx, "mark cancelled", id, `
		UPDATE type::record("job", $id) SET
			status = "cancelled",
			cancel_requested = false,
			worker = NONE,
			completed_at = time::now()
		WHERE status = "processing"
		RETURN AFTER
	`)
}

// RetryJob re-queues a failed job on operator request, regardless of
// its retry schedule. The last error is kept for history.
func (c *Client) RetryJob(ctx context.Context, id string) (*models.Job, error) {
	return c.guardedUpdate(ctx, "retry job", id, `
		UPDATE type::record("job", $id) SET
			status = "pending",
			next_retry_at = NONE,
			worker = NONE,
			cancel_requested = false,
			pause_requested = false,
			completed_at = NONE
		WHERE status = "failed"
		RETURN AFTER
	`)
}

// ForceFailJob fails a stalled processing job without scheduling a
// retry. Operator-driven; normal failures go through FailJob.
func (c *Client) ForceFailJob(ctx context.Context, id, errMsg string) (*models.Job, error) {
	sql := `
		UPDATE type::record("job", $id) SET
			status = "failed",
			last_error = $err,
			next_retry_at = NONE,
			worker = NONE,
			completed_at = time::now()
		WHERE status = "processing"
		RETURN AFTER
	`
	results, err := surrealdb.Query[[]models.Job](ctx, c.db, sql, map[string]any{
		"id":  id,
		"err": errMsg,
	})
	if err != nil {
		return nil, fmt.Errorf("force fail job: %w", wrapQueryError(err))
	}

	job := firstRecord(results)
	if job == nil {
		return nil, fmt.Errorf("force fail job %s: %w", id, ErrConflict)
	}
	return job, nil
}

// GetStalledJobs returns processing jobs whose heartbeat is older than
// the cutoff (or missing entirely).
func (c *Client) GetStalledJobs(ctx context.Context, cutoff time.Time) ([]models.Job, error) {
	results, err := surrealdb.Query[[]models.Job](ctx, c.db, `
		SELECT * FROM job
		WHERE status = "processing"
			AND (heartbeat_at = NONE OR heartbeat_at < $cutoff)
	`, map[string]any{"cutoff": cutoff})
	if err != nil {
		return nil, fmt.Errorf("get stalled jobs: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Job{}, nil
	}
	return (*results)[0].Result, nil
}

// RequeueWorkerJobs returns jobs left in processing by a previous run of
// the named worker to pending. Called on worker startup so a crash never
// strands a claim.
func (c *Client) RequeueWorkerJobs(ctx context.Context, worker string) (int, error) {
	results, err := surrealdb.Query[[]models.Job](ctx, c.db, `
		UPDATE job SET
			status = "pending",
			worker = NONE,
			heartbeat_at = NONE
		WHERE status = "processing" AND worker = $worker
		RETURN AFTER
	`, map[string]any{"worker": worker})
	if err != nil {
		return 0, fmt.Errorf("requeue worker jobs: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}

// guardedUpdate runs a single-record status-guarded UPDATE and maps an
// empty match to ErrConflict.
func (c *Client) guardedUpdate(ctx context.Context, op, id, sql string) (*models.Job, error) {
	results, err := surrealdb.Query[[]models.Job](ctx, c.db, sql, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, wrapQueryError(err))
	}

	job := firstRecord(results)
	if job == nil {
		return nil, fmt.Errorf("%s %s: %w", op, id, ErrConflict)
	}
	return job, nil
}
