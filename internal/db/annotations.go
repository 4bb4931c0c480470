package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/reanchor/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// CreateAnnotation stores both facets of a new annotation under the same
// record id in one transaction.
func (c *Client) CreateAnnotation(ctx context.Context, id string, pos models.Position, content models.Content) error {
	sql := `
		BEGIN TRANSACTION;
		CREATE type::record("annotation_position", $id) SET
			document = $document,
			start_offset = $start,
			end_offset = $end,
			original_text = $original_text,
			context_before = $context_before,
			context_after = $context_after,
			chunk_position = $chunk_position,
			confidence = $confidence,
			method = $method;
		CREATE type::record("annotation_content", $id) SET
			document = $document,
			text = $text,
			note = $note,
			tags = $tags;
		COMMIT TRANSACTION;
	`
	method := pos.Method
	if method == "" {
		method = models.MethodExact
	}
	confidence := pos.Confidence
	if confidence == 0 {
		confidence = 1.0
	}
	tags := content.Tags
	if tags == nil {
		tags = []string{}
	}
	var note *string
	if content.Note != "" {
		note = &content.Note
	}

	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":             id,
		"document":       pos.Document,
		"start":          pos.StartOffset,
		"end":            pos.EndOffset,
		"original_text":  pos.OriginalText,
		"context_before": pos.ContextBefore,
		"context_after":  pos.ContextAfter,
		"chunk_position": pos.ChunkPosition,
		"confidence":     confidence,
		"method":         string(method),
		"text":           content.Text,
		"note":           note,
		"tags":           tags,
	})
	if err != nil {
		return fmt.Errorf("create annotation: %w", wrapQueryError(err))
	}
	return nil
}

// GetPosition retrieves an annotation's positional facet. Returns nil if
// not found.
func (c *Client) GetPosition(ctx context.Context, id string) (*models.Position, error) {
	results, err := surrealdb.Query[[]models.Position](ctx, c.db, `
		SELECT * FROM type::record("annotation_position", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	return firstRecord(results), nil
}

// GetContent retrieves an annotation's content facet. Returns nil if not
// found.
func (c *Client) GetContent(ctx context.Context, id string) (*models.Content, error) {
	results, err := surrealdb.Query[[]models.Content](ctx, c.db, `
		SELECT * FROM type::record("annotation_content", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get content: %w", err)
	}
	return firstRecord(results), nil
}

// ListPositions returns the document's annotation positions ordered by
// start offset so recovery processes them in reading order.
func (c *Client) ListPositions(ctx context.Context, documentID string) ([]models.Position, error) {
	results, err := surrealdb.Query[[]models.Position](ctx, c.db, `
		SELECT * FROM annotation_position WHERE document = $document
		ORDER BY start_offset ASC
	`, map[string]any{"document": documentID})
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Position{}, nil
	}
	return (*results)[0].Result, nil
}

// ListContents returns the document's annotation contents ordered by id
// so they pair up with their positions.
func (c *Client) ListContents(ctx context.Context, documentID string) ([]models.Content, error) {
	results, err := surrealdb.Query[[]models.Content](ctx, c.db, `
		SELECT * FROM annotation_content WHERE document = $document ORDER BY id ASC
	`, map[string]any{"document": documentID})
	if err != nil {
		return nil, fmt.Errorf("list contents: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Content{}, nil
	}
	return (*results)[0].Result, nil
}

// ListReviewPositions returns positions flagged for user review.
func (c *Client) ListReviewPositions(ctx context.Context, documentID string) ([]models.Position, error) {
	results, err := surrealdb.Query[[]models.Position](ctx, c.db, `
		SELECT * FROM annotation_position
		WHERE document = $document AND needs_review = true
		ORDER BY start_offset ASC
	`, map[string]any{"document": documentID})
	if err != nil {
		return nil, fmt.Errorf("list review positions: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Position{}, nil
	}
	return (*results)[0].Result, nil
}

// MergePosition applies a partial update to the positional facet via
// read-merge-write: the stored record is fetched, the patch overlaid,
// and the merged record written back. Fields the patch leaves nil are
// untouched, so a concurrent edit of an unrelated field is preserved.
func (c *Client) MergePosition(ctx context.Context, id string, patch models.PositionPatch) error {
	pos, err := c.GetPosition(ctx, id)
	if err != nil {
		return err
	}
	if pos == nil {
		return fmt.Errorf("merge position %s: %w", id, ErrNotFound)
	}

	patch.Apply(pos)

	sql := `
		UPDATE type::record("annotation_position", $id) SET
			start_offset = $start,
			end_offset = $end,
			context_before = $context_before,
			context_after = $context_after,
			chunk_position = $chunk_position,
			confidence = $confidence,
			method = $method,
			needs_review = $needs_review,
			updated_at = time::now()
	`
	_, err = surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":             id,
		"start":          pos.StartOffset,
		"end":            pos.EndOffset,
		"context_before": pos.ContextBefore,
		"context_after":  pos.ContextAfter,
		"chunk_position": pos.ChunkPosition,
		"confidence":     pos.Confidence,
		"method":         string(pos.Method),
		"needs_review":   pos.NeedsReview,
	})
	if err != nil {
		return fmt.Errorf("merge position: %w", wrapQueryError(err))
	}
	return nil
}

// MergeContent applies a partial update to the content facet via
// read-merge-write.
func (c *Client) MergeContent(ctx context.Context, id string, patch models.ContentPatch) error {
	content, err := c.GetContent(ctx, id)
	if err != nil {
		return err
	}
	if content == nil {
		return fmt.Errorf("merge content %s: %w", id, ErrNotFound)
	}

	patch.Apply(content)

	tags := content.Tags
	if tags == nil {
		tags = []string{}
	}
	var note *string
	if content.Note != "" {
		note = &content.Note
	}

	sql := `
		UPDATE type::record("annotation_content", $id) SET
			text = $text,
			note = $note,
			tags = $tags,
			updated_at = time::now()
	`
	_, err = surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":   id,
		"text": content.Text,
		"note": note,
		"tags": tags,
	})
	if err != nil {
		return fmt.Errorf("merge content: %w", wrapQueryError(err))
	}
	return nil
}

// DeleteAnnotation removes both facets. Idempotent.
func (c *Client) DeleteAnnotation(ctx context.Context, id string) error {
	sql := `
		BEGIN TRANSACTION;
		DELETE type::record("annotation_position", $id);
		DELETE type::record("annotation_content", $id);
		COMMIT TRANSACTION;
	`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete annotation: %w", wrapQueryError(err))
	}
	return nil
}
