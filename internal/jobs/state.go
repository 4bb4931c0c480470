// Package jobs implements the asynchronous job pipeline: lifecycle
// rules, the polling worker, and the per-type handlers.
package jobs

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/reanchor/internal/models"
)

// ErrInvalidTransition indicates a requested status change the
// lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid job status transition")

// transitions is the full lifecycle. Terminal statuses are absorbing,
// with one exception: a failed job may be re-queued (scheduled retry or
// operator retry). Paused jobs resume by going back through pending.
var transitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending:    {models.JobStatusProcessing, models.JobStatusCancelled},
	models.JobStatusProcessing: {models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusPaused, models.JobStatusCancelled},
	models.JobStatusPaused:     {models.JobStatusPending, models.JobStatusCancelled},
	models.JobStatusFailed:     {models.JobStatusPending},
	models.JobStatusCompleted:  {},
	models.JobStatusCancelled:  {},
}

// CanTransition reports whether the lifecycle allows moving from one
// status to another.
func CanTransition(from, to models.JobStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition when the lifecycle
// forbids the move.
func ValidateTransition(from, to models.JobStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
