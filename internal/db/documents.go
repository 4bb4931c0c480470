package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/reanchor/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// CreateDocument stores a new document and returns the stored record.
func (c *Client) CreateDocument(ctx context.Context, owner, title, canonicalText string) (*models.Document, error) {
	sql := `
		CREATE document SET
			owner = $owner,
			title = $title,
			canonical_text = $text,
			version = 1
		RETURN AFTER
	`
	results, err := surrealdb.Query[[]models.Document](ctx, c.db, sql, map[string]any{
		"owner": owner,
		"title": title,
		"text":  canonicalText,
	})
	if err != nil {
		return nil, fmt.Errorf("create document: %w", wrapQueryError(err))
	}

	doc := firstRecord(results)
	if doc == nil {
		return nil, fmt.Errorf("create document: no result returned")
	}
	return doc, nil
}

// GetDocument retrieves a document by ID. Returns nil if not found.
func (c *Client) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	results, err := surrealdb.Query[[]models.Document](ctx, c.db, `
		SELECT * FROM type::record("document", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return firstRecord(results), nil
}

// ListDocuments returns documents for an owner, newest first.
func (c *Client) ListDocuments(ctx context.Context, owner string, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	results, err := surrealdb.Query[[]models.Document](ctx, c.db, `
		SELECT * FROM document WHERE owner = $owner
		ORDER BY created_at DESC LIMIT $limit
	`, map[string]any{"owner": owner, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Document{}, nil
	}
	return (*results)[0].Result, nil
}

// UpdateDocumentText replaces the canonical text and bumps the version.
// Returns ErrNotFound if the document does not exist.
func (c *Client) UpdateDocumentText(ctx context.Context, id, canonicalText string) (*models.Document, error) {
	sql := `
		UPDATE type::record("document", $id) SET
			canonical_text = $text,
			version += 1,
			updated_at = time::now()
		RETURN AFTER
	`
	results, err := surrealdb.Query[[]models.Document](ctx, c.db, sql, map[string]any{
		"id":   id,
		"text": canonicalText,
	})
	if err != nil {
		return nil, fmt.Errorf("update document text: %w", wrapQueryError(err))
	}

	doc := firstRecord(results)
	if doc == nil {
		return nil, fmt.Errorf("update document %s: %w", id, ErrNotFound)
	}
	return doc, nil
}

// ReplaceChunks swaps the document's chunk set for the given one. The
// delete and insert run in one transaction so readers never observe a
// partial chunk set.
func (c *Client) ReplaceChunks(ctx context.Context, documentID string, chunks []models.Chunk) error {
	rows := make([]map[string]any, len(chunks))
	for i, ch := range chunks {
		rows[i] = map[string]any{
			"document":     documentID,
			"position":     ch.Position,
			"start_offset": ch.StartOffset,
			"end_offset":   ch.EndOffset,
			"content":      ch.Content,
		}
	}

	sql := `
		BEGIN TRANSACTION;
		DELETE chunk WHERE document = $document;
		INSERT INTO chunk $rows;
		COMMIT TRANSACTION;
	`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"document": documentID,
		"rows":     rows,
	})
	if err != nil {
		return fmt.Errorf("replace chunks: %w", wrapQueryError(err))
	}
	return nil
}

// ListChunks returns the document's chunks in position order.
func (c *Client) ListChunks(ctx context.Context, documentID string) ([]models.Chunk, error) {
	results, err := surrealdb.Query[[]models.Chunk](ctx, c.db, `
		SELECT * FROM chunk WHERE document = $document ORDER BY position ASC
	`, map[string]any{"document": documentID})
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Chunk{}, nil
	}
	return (*results)[0].Result, nil
}
