package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/reanchor/internal/chunker"
	"github.com/raphaelgruber/reanchor/internal/match"
	"github.com/raphaelgruber/reanchor/internal/models"
)

// Bundle is the JSON interchange format import and export jobs speak.
type Bundle struct {
	ExportedAt time.Time        `json:"exported_at"`
	Documents  []BundleDocument `json:"documents"`
}

// BundleDocument is one document with its annotations, offsets defined
// against CanonicalText.
type BundleDocument struct {
	Title         string             `json:"title"`
	CanonicalText string             `json:"canonical_text"`
	Annotations   []BundleAnnotation `json:"annotations"`
}

// BundleAnnotation carries both facets of one annotation.
type BundleAnnotation struct {
	StartOffset   int      `json:"start_offset"`
	EndOffset     int      `json:"end_offset"`
	OriginalText  string   `json:"original_text"`
	ContextBefore string   `json:"context_before,omitempty"`
	ContextAfter  string   `json:"context_after,omitempty"`
	Text          string   `json:"text"`
	Note          string   `json:"note,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// ImportStore is the persistence surface the import handler needs.
type ImportStore interface {
	CreateDocument(ctx context.Context, owner, title, canonicalText string) (*models.Document, error)
	ReplaceChunks(ctx context.Context, documentID string, chunks []models.Chunk) error
	CreateAnnotation(ctx context.Context, id string, pos models.Position, content models.Content) error
}

// ImportHandler loads a bundle file into the store, chunking each
// document and linking annotations to their chunks.
type ImportHandler struct {
	store    ImportStore
	chunking models.ChunkingConfig
}

// NewImportHandler wires the import handler with the default chunking
// configuration for imported documents.
func NewImportHandler(store ImportStore, chunking models.ChunkingConfig) *ImportHandler {
	return &ImportHandler{store: store, chunking: chunking}
}

func (h *ImportHandler) Type() models.JobType { return models.JobTypeImport }

func (h *ImportHandler) Run(ctx context.Context, rt *Runtime) (map[string]any, error) {
	payload, err := models.DecodePayload(rt.Job.JobType, rt.Job.Payload)
	if err != nil {
		return nil, NewTerminalError(err)
	}
	p := payload.(models.ImportPayload)

	raw, err := os.ReadFile(p.BundlePath)
	if err != nil {
		return nil, NewTerminalError(fmt.Errorf("read bundle: %w", err))
	}
	var bundle Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, NewTerminalError(fmt.Errorf("parse bundle: %w", err))
	}

	imported, annotations, skipped := 0, 0, 0
	for i, bd := range bundle.Documents {
		if err := rt.Check(ctx); err != nil {
			return nil, err
		}
		rt.Progress(ctx, "import", float64(i)/float64(len(bundle.Documents))*100,
			fmt.Sprintf("importing %q", bd.Title))

		doc, err := h.store.CreateDocument(ctx, rt.Job.Owner, bd.Title, bd.CanonicalText)
		if err != nil {
			return nil, fmt.Errorf("create document %q: %w", bd.Title, err)
		}
		docID, err := models.RecordIDString(doc.ID)
		if err != nil {
			return nil, fmt.Errorf("document id: %w", err)
		}

		chunks := chunker.ChunkText(docID, bd.CanonicalText, h.chunking)
		if err := h.store.ReplaceChunks(ctx, docID, chunks); err != nil {
			return nil, fmt.Errorf("store chunks for %q: %w", bd.Title, err)
		}
		index, err := match.NewChunkIndex(chunks, len(bd.CanonicalText))
		if err != nil {
			return nil, fmt.Errorf("chunk index for %q: %w", bd.Title, err)
		}

		for _, ann := range bd.Annotations {
			pos := models.Position{
				Document:      docID,
				StartOffset:   ann.StartOffset,
				EndOffset:     ann.EndOffset,
				OriginalText:  ann.OriginalText,
				ContextBefore: ann.ContextBefore,
				ContextAfter:  ann.ContextAfter,
			}
			if err := pos.ValidateOffsets(len(bd.CanonicalText)); err != nil {
				rt.Logger.Warn("skipping annotation with invalid offsets",
					"document", bd.Title, "error", err)
				skipped++
				continue
			}
			if cp := index.Locate(ann.StartOffset); cp >= 0 {
				pos.ChunkPosition = models.Ptr(cp)
			}

			err := h.store.CreateAnnotation(ctx, uuid.NewString(), pos, models.Content{
				Document: docID,
				Text:     ann.Text,
				Note:     ann.Note,
				Tags:     ann.Tags,
			})
			if err != nil {
				return nil, fmt.Errorf("create annotation in %q: %w", bd.Title, err)
			}
			annotations++
		}
		imported++
	}

	return map[string]any{
		"documents":   imported,
		"annotations": annotations,
		"skipped":     skipped,
	}, nil
}

// ExportStore is the persistence surface the export handler needs.
type ExportStore interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListPositions(ctx context.Context, documentID string) ([]models.Position, error)
	ListContents(ctx context.Context, documentID string) ([]models.Content, error)
}

// ExportHandler writes the selected documents and their annotations to
// a bundle file.
type ExportHandler struct {
	store ExportStore
}

// NewExportHandler wires the export handler.
func NewExportHandler(store ExportStore) *ExportHandler {
	return &ExportHandler{store: store}
}

func (h *ExportHandler) Type() models.JobType { return models.JobTypeExport }

func (h *ExportHandler) Run(ctx context.Context, rt *Runtime) (map[string]any, error) {
	payload, err := models.DecodePayload(rt.Job.JobType, rt.Job.Payload)
	if err != nil {
		return nil, NewTerminalError(err)
	}
	p := payload.(models.ExportPayload)

	bundle := Bundle{ExportedAt: time.Now().UTC()}
	annotations := 0

	for i, docID := range p.DocumentIDs {
		if err := rt.Check(ctx); err != nil {
			return nil, err
		}
		rt.Progress(ctx, "export", float64(i)/float64(len(p.DocumentIDs))*100,
			fmt.Sprintf("exporting %s", docID))

		doc, err := h.store.GetDocument(ctx, docID)
		if err != nil {
			return nil, fmt.Errorf("get document: %w", err)
		}
		if doc == nil {
			return nil, NewTerminalError(fmt.Errorf("document not found: %s", docID))
		}

		positions, err := h.store.ListPositions(ctx, docID)
		if err != nil {
			return nil, fmt.Errorf("list positions: %w", err)
		}
		contents, err := h.store.ListContents(ctx, docID)
		if err != nil {
			return nil, fmt.Errorf("list contents: %w", err)
		}
		contentByID := make(map[string]models.Content, len(contents))
		for _, c := range contents {
			id, err := models.RecordIDString(c.ID)
			if err != nil {
				continue
			}
			contentByID[id] = c
		}

		bd := BundleDocument{
			Title:         doc.Title,
			CanonicalText: doc.CanonicalText,
		}
		for _, pos := range positions {
			id, err := models.RecordIDString(pos.ID)
			if err != nil {
				continue
			}
			content := contentByID[id]
			bd.Annotations = append(bd.Annotations, BundleAnnotation{
				StartOffset:   pos.StartOffset,
				EndOffset:     pos.EndOffset,
				OriginalText:  pos.OriginalText,
				ContextBefore: pos.ContextBefore,
				ContextAfter:  pos.ContextAfter,
				Text:          content.Text,
				Note:          content.Note,
				Tags:          content.Tags,
			})
			annotations++
		}
		bundle.Documents = append(bundle.Documents, bd)
	}

	raw, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, NewTerminalError(fmt.Errorf("encode bundle: %w", err))
	}
	if err := os.WriteFile(p.Destination, raw, 0o644); err != nil {
		return nil, fmt.Errorf("write bundle: %w", err)
	}

	return map[string]any{
		"documents":   len(bundle.Documents),
		"annotations": annotations,
		"destination": p.Destination,
	}, nil
}
