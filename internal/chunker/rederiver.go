package chunker

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/reanchor/internal/models"
)

// ErrCleanupUnavailable indicates a cleanup re-run was requested but
// this rederiver only re-chunks existing canonical text; AI cleanup is
// the external re-derivation service's job.
var ErrCleanupUnavailable = errors.New("cleanup rerun requires the external re-derivation service")

// DocumentSource provides read access to stored documents.
type DocumentSource interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
}

// Rederiver re-derives a document by re-chunking its current canonical
// text. It covers chunking-strategy-change reprocessing; manual edits
// and AI cleanup re-runs come through an external service implementing
// the same contract.
type Rederiver struct {
	src DocumentSource
	cfg models.ChunkingConfig
}

// NewRederiver creates a rederiver with the given default chunking
// configuration.
func NewRederiver(src DocumentSource, cfg models.ChunkingConfig) *Rederiver {
	return &Rederiver{src: src, cfg: cfg}
}

// Rederive loads the document and produces its new chunk set. Options
// may override the chunking configuration per pass.
func (r *Rederiver) Rederive(ctx context.Context, documentID string, opts models.ReprocessOptions) (models.Derivation, error) {
	if opts.CleanupRerun {
		return models.Derivation{}, ErrCleanupUnavailable
	}

	doc, err := r.src.GetDocument(ctx, documentID)
	if err != nil {
		return models.Derivation{}, fmt.Errorf("get document: %w", err)
	}
	if doc == nil {
		return models.Derivation{}, fmt.Errorf("document not found: %s", documentID)
	}

	cfg := r.cfg
	if opts.Chunking != nil {
		cfg = *opts.Chunking
	}

	return models.Derivation{
		CanonicalText: doc.CanonicalText,
		Chunks:        ChunkText(documentID, doc.CanonicalText, cfg),
	}, nil
}
