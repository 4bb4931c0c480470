package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/reanchor/internal/chunker"
	"github.com/raphaelgruber/reanchor/internal/match"
	"github.com/raphaelgruber/reanchor/internal/models"
	"github.com/raphaelgruber/reanchor/internal/recovery"
)

// Stage names persisted as checkpoints by the reprocess handlers.
const (
	StageDerive  = "derive"
	StageRecover = "recover"
)

// Rederiver produces a document's new canonical text and chunk set.
type Rederiver interface {
	Rederive(ctx context.Context, documentID string, opts models.ReprocessOptions) (models.Derivation, error)
}

// DocumentStore is the document persistence surface handlers need.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	UpdateDocumentText(ctx context.Context, id, canonicalText string) (*models.Document, error)
	ReplaceChunks(ctx context.Context, documentID string, chunks []models.Chunk) error
	ListChunks(ctx context.Context, documentID string) ([]models.Chunk, error)
}

// Recoverer re-anchors a document's annotations in new text.
type Recoverer interface {
	RecoverAnnotations(ctx context.Context, documentID, canonicalText string, chunks []models.Chunk, cp recovery.CheckpointFunc) (recovery.Summary, error)
}

// ReprocessDocumentHandler runs the two-stage reprocess pipeline:
// derive (new canonical text and chunks, persisted) then recover
// (annotations re-anchored). The derive checkpoint lets a paused or
// retried job skip straight to recovery, which is idempotent.
type ReprocessDocumentHandler struct {
	rederiver Rederiver
	docs      DocumentStore
	recoverer Recoverer
}

// NewReprocessDocumentHandler wires the reprocess-document handler.
func NewReprocessDocumentHandler(rederiver Rederiver, docs DocumentStore, recoverer Recoverer) *ReprocessDocumentHandler {
	return &ReprocessDocumentHandler{rederiver: rederiver, docs: docs, recoverer: recoverer}
}

func (h *ReprocessDocumentHandler) Type() models.JobType { return models.JobTypeReprocessDocument }

func (h *ReprocessDocumentHandler) Run(ctx context.Context, rt *Runtime) (map[string]any, error) {
	payload, err := models.DecodePayload(rt.Job.JobType, rt.Job.Payload)
	if err != nil {
		return nil, NewTerminalError(err)
	}
	p := payload.(models.ReprocessDocumentPayload)

	var text string
	var chunks []models.Chunk

	if rt.Job.Checkpoint == StageDerive || rt.Job.Checkpoint == StageRecover {
		// Resuming past derive: the derivation is already persisted.
		rt.Logger.Info("resuming from checkpoint", "checkpoint", rt.Job.Checkpoint)
		doc, err := h.docs.GetDocument(ctx, p.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("get document: %w", err)
		}
		if doc == nil {
			return nil, NewTerminalError(fmt.Errorf("document not found: %s", p.DocumentID))
		}
		text = doc.CanonicalText
		chunks, err = h.docs.ListChunks(ctx, p.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("list chunks: %w", err)
		}
	} else {
		rt.Progress(ctx, StageDerive, 5, "re-deriving canonical text")

		d, err := h.rederiver.Rederive(ctx, p.DocumentID, p.Options)
		if err != nil {
			if errors.Is(err, chunker.ErrCleanupUnavailable) {
				return nil, NewTerminalError(err)
			}
			return nil, fmt.Errorf("rederive: %w", err)
		}

		if _, err := h.docs.UpdateDocumentText(ctx, p.DocumentID, d.CanonicalText); err != nil {
			return nil, fmt.Errorf("persist canonical text: %w", err)
		}
		if err := h.docs.ReplaceChunks(ctx, p.DocumentID, d.Chunks); err != nil {
			return nil, fmt.Errorf("persist chunks: %w", err)
		}
		text, chunks = d.CanonicalText, d.Chunks

		if err := rt.Checkpoint(ctx, StageDerive, 40); err != nil {
			return nil, err
		}
	}

	rt.Progress(ctx, StageRecover, 50, "recovering annotation positions")

	summary, err := h.recoverer.RecoverAnnotations(ctx, p.DocumentID, text, chunks, rt.Check)
	if err != nil {
		// A checkpoint stop carries the pause/cancel cause through
		// recovery.ErrStopped; the poller unwraps it.
		return nil, err
	}

	return map[string]any{
		"total":         summary.Total,
		"succeeded":     summary.Succeeded,
		"needs_review":  summary.NeedsReview,
		"lost":          summary.Lost,
		"recovery_rate": summary.Rate,
	}, nil
}

// AnnotationStore is the annotation persistence surface handlers need.
type AnnotationStore interface {
	ListPositions(ctx context.Context, documentID string) ([]models.Position, error)
	MergePosition(ctx context.Context, id string, patch models.PositionPatch) error
}

// ReprocessConnectionsHandler re-links annotations to the document's
// current chunk set without touching the text. Used after a chunk-only
// change, where offsets are still valid but chunk indices are not.
type ReprocessConnectionsHandler struct {
	docs DocumentStore
	anns AnnotationStore
}

// NewReprocessConnectionsHandler wires the reprocess-connections handler.
func NewReprocessConnectionsHandler(docs DocumentStore, anns AnnotationStore) *ReprocessConnectionsHandler {
	return &ReprocessConnectionsHandler{docs: docs, anns: anns}
}

func (h *ReprocessConnectionsHandler) Type() models.JobType {
	return models.JobTypeReprocessConnection
}

func (h *ReprocessConnectionsHandler) Run(ctx context.Context, rt *Runtime) (map[string]any, error) {
	payload, err := models.DecodePayload(rt.Job.JobType, rt.Job.Payload)
	if err != nil {
		return nil, NewTerminalError(err)
	}
	p := payload.(models.ReprocessConnectionsPayload)

	doc, err := h.docs.GetDocument(ctx, p.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if doc == nil {
		return nil, NewTerminalError(fmt.Errorf("document not found: %s", p.DocumentID))
	}

	chunks, err := h.docs.ListChunks(ctx, p.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	index, err := match.NewChunkIndex(chunks, len(doc.CanonicalText))
	if err != nil {
		return nil, NewTerminalError(fmt.Errorf("build chunk index: %w", err))
	}

	positions, err := h.anns.ListPositions(ctx, p.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	relinked := 0
	for i, pos := range positions {
		if i%25 == 0 {
			if err := rt.Check(ctx); err != nil {
				return nil, err
			}
		}

		chunkPos := index.Locate(pos.StartOffset)
		if chunkPos < 0 {
			continue
		}
		if pos.ChunkPosition != nil && *pos.ChunkPosition == chunkPos {
			continue
		}

		id, err := models.RecordIDString(pos.ID)
		if err != nil {
			return nil, fmt.Errorf("position id: %w", err)
		}
		if err := h.anns.MergePosition(ctx, id, models.PositionPatch{
			ChunkPosition: models.Ptr(chunkPos),
		}); err != nil {
			return nil, fmt.Errorf("merge position %s: %w", id, err)
		}
		relinked++
	}

	return map[string]any{
		"annotations": len(positions),
		"relinked":    relinked,
	}, nil
}
