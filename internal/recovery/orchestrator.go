// Package recovery re-anchors annotations after a document's canonical
// text is re-derived.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/reanchor/internal/match"
	"github.com/raphaelgruber/reanchor/internal/models"
)

// ErrStopped is returned when a checkpoint requested an early exit.
// The summary returned alongside it reflects the work completed so far.
var ErrStopped = errors.New("recovery stopped at checkpoint")

// CheckpointFunc is consulted between annotation batches. Returning an
// error stops the pass; the orchestrator wraps it with ErrStopped so
// callers can distinguish cooperative exits from failures.
type CheckpointFunc func(ctx context.Context) error

// Store is the persistence surface the orchestrator needs. Position and
// Content are partial documents: Merge* implementations must follow a
// read-merge-write pattern so unrelated fields set elsewhere survive.
type Store interface {
	ListPositions(ctx context.Context, documentID string) ([]models.Position, error)
	MergePosition(ctx context.Context, annotationID string, patch models.PositionPatch) error
	MergeContent(ctx context.Context, annotationID string, patch models.ContentPatch) error
}

// Config tunes classification and checkpoint cadence.
type Config struct {
	// AutoThreshold is the confidence at or above which a recovered
	// position is applied without review.
	AutoThreshold float64

	// ReviewThreshold is the confidence at or above which a candidate
	// position is persisted but flagged for user confirmation. Below
	// it the annotation is lost.
	ReviewThreshold float64

	// ContextWindow is how many characters of surrounding context are
	// captured around recovered offsets.
	ContextWindow int

	// CheckpointBatch is how many annotations are processed between
	// checkpoint consultations.
	CheckpointBatch int
}

// DefaultConfig returns the standard classification tuning.
func DefaultConfig() Config {
	return Config{
		AutoThreshold:   0.85,
		ReviewThreshold: 0.75,
		ContextWindow:   50,
		CheckpointBatch: 25,
	}
}

// Summary aggregates one recovery pass. Every annotation present at the
// start of the pass is counted exactly once.
type Summary struct {
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	NeedsReview int     `json:"needs_review"`
	Lost        int     `json:"lost"`
	Rate        float64 `json:"rate"` // percent of annotations not lost
}

func (s *Summary) finish() {
	if s.Total > 0 {
		s.Rate = float64(s.Total-s.Lost) / float64(s.Total) * 100
	}
}

// Orchestrator drives the fuzzy match engine over every annotation of a
// document and persists the outcomes.
type Orchestrator struct {
	store  Store
	engine *match.Engine
	cfg    Config
	logger *slog.Logger
}

// New creates an orchestrator. A nil logger discards log output.
func New(store Store, engine *match.Engine, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{store: store, engine: engine, cfg: cfg, logger: logger}
}

// RecoverAnnotations re-locates every annotation of the document in the
// newly derived text and persists one classification per annotation:
// auto-recovered, needs-review, or lost. A lost annotation keeps its
// text and offsets so a human can re-anchor it manually.
//
// The checkpoint is consulted before the pass and every CheckpointBatch
// annotations; cp may be nil. On a checkpoint stop the summary reflects
// partial progress and the error wraps ErrStopped.
func (o *Orchestrator) RecoverAnnotations(ctx context.Context, documentID, canonicalText string, chunks []models.Chunk, cp CheckpointFunc) (Summary, error) {
	var summary Summary

	index, err := match.NewChunkIndex(chunks, len(canonicalText))
	if err != nil {
		return summary, fmt.Errorf("build chunk index: %w", err)
	}

	positions, err := o.store.ListPositions(ctx, documentID)
	if err != nil {
		return summary, fmt.Errorf("list positions: %w", err)
	}
	summary.Total = len(positions)

	batch := o.cfg.CheckpointBatch
	if batch <= 0 {
		batch = 25
	}

	for i := range positions {
		if cp != nil && i%batch == 0 {
			if err := cp(ctx); err != nil {
				summary.Total = i // count only what this pass classified
				summary.finish()
				return summary, fmt.Errorf("%w: %w", ErrStopped, err)
			}
		}

		if err := o.recoverOne(ctx, &positions[i], canonicalText, index, &summary); err != nil {
			summary.finish()
			return summary, err
		}
	}

	summary.finish()
	o.logger.Info("recovery pass complete",
		"document", documentID,
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"needs_review", summary.NeedsReview,
		"lost", summary.Lost,
		"rate", summary.Rate)
	return summary, nil
}

// recoverOne classifies a single annotation. Only infrastructure errors
// propagate; a malformed annotation is marked lost and the pass
// continues.
func (o *Orchestrator) recoverOne(ctx context.Context, pos *models.Position, text string, index *match.ChunkIndex, summary *Summary) error {
	annotationID, err := models.RecordIDString(pos.ID)
	if err != nil {
		return fmt.Errorf("position id: %w", err)
	}

	if pos.OriginalText == "" || pos.StartOffset >= pos.EndOffset {
		// Partial data from an earlier failure; isolate, don't abort.
		o.logger.Warn("malformed annotation marked lost", "annotation", annotationID)
		summary.Lost++
		return o.markLost(ctx, annotationID)
	}

	res, ok := o.engine.Match(match.Request{
		OriginalText:  pos.OriginalText,
		ContextBefore: pos.ContextBefore,
		ContextAfter:  pos.ContextAfter,
		ChunkPosition: pos.ChunkPosition,
	}, text, index)

	if !ok || res.Confidence < o.cfg.ReviewThreshold {
		summary.Lost++
		return o.markLost(ctx, annotationID)
	}

	needsReview := res.Confidence < o.cfg.AutoThreshold

	before, after := contextAround(text, res.StartOffset, res.EndOffset, o.cfg.ContextWindow)
	patch := models.PositionPatch{
		StartOffset:   models.Ptr(res.StartOffset),
		EndOffset:     models.Ptr(res.EndOffset),
		ContextBefore: models.Ptr(before),
		ContextAfter:  models.Ptr(after),
		Confidence:    models.Ptr(res.Confidence),
		Method:        models.Ptr(res.Method),
		NeedsReview:   models.Ptr(needsReview),
	}
	if chunkPos := index.Locate(res.StartOffset); chunkPos >= 0 {
		patch.ChunkPosition = models.Ptr(chunkPos)
	}

	if err := o.store.MergePosition(ctx, annotationID, patch); err != nil {
		return fmt.Errorf("merge position %s: %w", annotationID, err)
	}

	if needsReview {
		summary.NeedsReview++
		return nil
	}

	// Auto-recovered: re-sync the user-visible text to the matched
	// substring so what the user sees is what the offsets cover.
	if res.MatchedText != pos.OriginalText {
		if err := o.store.MergeContent(ctx, annotationID, models.ContentPatch{
			Text: models.Ptr(res.MatchedText),
		}); err != nil {
			return fmt.Errorf("merge content %s: %w", annotationID, err)
		}
	}
	summary.Succeeded++
	return nil
}

// markLost records the lost outcome without touching text or offsets.
func (o *Orchestrator) markLost(ctx context.Context, annotationID string) error {
	err := o.store.MergePosition(ctx, annotationID, models.PositionPatch{
		Confidence:  models.Ptr(0.0),
		Method:      models.Ptr(models.MethodLost),
		NeedsReview: models.Ptr(false),
	})
	if err != nil {
		return fmt.Errorf("mark lost %s: %w", annotationID, err)
	}
	return nil
}

// contextAround captures up to window characters on each side of a span.
func contextAround(text string, start, end, window int) (before, after string) {
	lo := start - window
	if lo < 0 {
		lo = 0
	}
	hi := end + window
	if hi > len(text) {
		hi = len(text)
	}
	return text[lo:start], text[end:hi]
}
