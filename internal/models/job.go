// Package models defines data structures for the reanchor document store.
package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// JobType identifies the kind of work a job performs.
type JobType string

const (
	JobTypeReprocessDocument   JobType = "reprocess-document"
	JobTypeReprocessConnection JobType = "reprocess-connections"
	JobTypeImport              JobType = "import"
	JobTypeExport              JobType = "export"
)

// Valid reports whether the job type is a known type.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeReprocessDocument, JobTypeReprocessConnection, JobTypeImport, JobTypeExport:
		return true
	}
	return false
}

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusPaused     JobStatus = "paused"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is absorbing. A failed job with a
// due retry is re-queued by the poller, so failed is terminal only once
// retries are exhausted; that distinction lives on the job record
// (NextRetryAt), not the status itself.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Active reports whether the job still owns (or may reclaim) its work.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusProcessing || s == JobStatusPaused
}

// Progress is advisory handler progress, persisted for observability.
// It never gates state transitions.
type Progress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Detail  string  `json:"detail,omitempty"`
}

// Job is the durable record for one unit of asynchronous work.
type Job struct {
	ID surrealmodels.RecordID `json:"id"`

	Owner    string    `json:"owner"`
	JobType  JobType   `json:"job_type"`
	Document string    `json:"document"` // target entity id
	Status   JobStatus `json:"status"`

	// Payload is the raw input, decoded into a typed payload at the
	// handler boundary via DecodePayload.
	Payload map[string]any `json:"payload,omitempty"`

	Progress   Progress       `json:"progress"`
	Checkpoint string         `json:"checkpoint,omitempty"` // last completed stage
	Output     map[string]any `json:"output,omitempty"`

	LastError   *string    `json:"last_error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// Cooperative control flags, observed by handlers at checkpoints.
	CancelRequested bool `json:"cancel_requested"`
	PauseRequested  bool `json:"pause_requested"`

	Worker      *string    `json:"worker,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Stalled reports whether the job looks abandoned: processing with no
// heartbeat inside the given window. Stalled jobs are eligible for
// operator-driven force-fail, distinct from normal retry.
func (j *Job) Stalled(window time.Duration, now time.Time) bool {
	if j.Status != JobStatusProcessing {
		return false
	}
	hb := j.CreatedAt
	if j.HeartbeatAt != nil {
		hb = *j.HeartbeatAt
	} else if j.StartedAt != nil {
		hb = *j.StartedAt
	}
	return now.Sub(hb) > window
}
