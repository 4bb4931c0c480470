package service

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/reanchor/internal/models"
	"github.com/raphaelgruber/reanchor/internal/recovery"
)

// RecoverAnnotations runs one synchronous recovery pass over the
// document's annotations against its current canonical text and chunk
// set. The asynchronous path is a reprocess-document job; this direct
// surface serves callers that already re-derived the text themselves.
func (s *Service) RecoverAnnotations(ctx context.Context, documentID string) (recovery.Summary, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return recovery.Summary{}, fmt.Errorf("get document: %w", err)
	}
	if doc == nil {
		return recovery.Summary{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	chunks, err := s.store.ListChunks(ctx, documentID)
	if err != nil {
		return recovery.Summary{}, fmt.Errorf("list chunks: %w", err)
	}

	return s.recoverer.RecoverAnnotations(ctx, documentID, doc.CanonicalText, chunks, nil)
}

// ListReviewAnnotations returns the document's annotations awaiting
// user confirmation of a recovered position.
func (s *Service) ListReviewAnnotations(ctx context.Context, documentID string) ([]models.Position, error) {
	return s.store.ListReviewPositions(ctx, documentID)
}

// ConfirmReview accepts a needs-review candidate position: the review
// flag clears and the annotation's visible text re-syncs to the span
// the candidate offsets cover.
func (s *Service) ConfirmReview(ctx context.Context, annotationID string) error {
	pos, err := s.store.GetPosition(ctx, annotationID)
	if err != nil {
		return fmt.Errorf("get position: %w", err)
	}
	if pos == nil {
		return fmt.Errorf("annotation not found: %s", annotationID)
	}
	if !pos.NeedsReview {
		return fmt.Errorf("annotation %s is not awaiting review", annotationID)
	}

	doc, err := s.store.GetDocument(ctx, pos.Document)
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, pos.Document)
	}
	if err := pos.ValidateOffsets(len(doc.CanonicalText)); err != nil {
		return fmt.Errorf("candidate offsets: %w", err)
	}

	if err := s.store.MergePosition(ctx, annotationID, models.PositionPatch{
		NeedsReview: models.Ptr(false),
	}); err != nil {
		return fmt.Errorf("confirm position: %w", err)
	}

	matched := doc.CanonicalText[pos.StartOffset:pos.EndOffset]
	if matched != pos.OriginalText {
		if err := s.store.MergeContent(ctx, annotationID, models.ContentPatch{
			Text: models.Ptr(matched),
		}); err != nil {
			return fmt.Errorf("sync content: %w", err)
		}
	}

	s.logger.Info("review confirmed", "annotation", annotationID, "document", pos.Document)
	return nil
}

// RejectReview declines a needs-review candidate: the annotation is
// marked lost, keeping its text so a human can re-anchor it manually.
func (s *Service) RejectReview(ctx context.Context, annotationID string) error {
	pos, err := s.store.GetPosition(ctx, annotationID)
	if err != nil {
		return fmt.Errorf("get position: %w", err)
	}
	if pos == nil {
		return fmt.Errorf("annotation not found: %s", annotationID)
	}
	if !pos.NeedsReview {
		return fmt.Errorf("annotation %s is not awaiting review", annotationID)
	}

	if err := s.store.MergePosition(ctx, annotationID, models.PositionPatch{
		Confidence:  models.Ptr(0.0),
		Method:      models.Ptr(models.MethodLost),
		NeedsReview: models.Ptr(false),
	}); err != nil {
		return fmt.Errorf("reject position: %w", err)
	}

	s.logger.Info("review rejected, annotation marked lost", "annotation", annotationID)
	return nil
}
