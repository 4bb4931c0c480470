package models

import (
	"fmt"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// RecoveryMethod tags how an annotation's position was re-located after
// a reprocessing pass.
type RecoveryMethod string

const (
	MethodExact        RecoveryMethod = "exact"
	MethodContext      RecoveryMethod = "context"
	MethodChunkBounded RecoveryMethod = "chunk-bounded"
	MethodTrigram      RecoveryMethod = "trigram"
	MethodLost         RecoveryMethod = "lost"
)

// Position is the positional facet of an annotation: character offsets
// into the document's current canonical text plus the context needed to
// re-locate them after the text changes. Position and Content are stored
// separately but share the annotation entity id.
type Position struct {
	ID surrealmodels.RecordID `json:"id"`

	Document string `json:"document"`

	StartOffset int `json:"start_offset"`
	EndOffset   int `json:"end_offset"`

	// OriginalText is the substring the user selected, kept verbatim so
	// recovery can search for it after the canonical text is rewritten.
	OriginalText  string `json:"original_text"`
	ContextBefore string `json:"context_before"`
	ContextAfter  string `json:"context_after"`

	// ChunkPosition is the chunk index the offsets last resolved to.
	// Nil when the annotation has never been through a recovery pass.
	ChunkPosition *int `json:"chunk_position,omitempty"`

	Confidence  float64        `json:"confidence"`
	Method      RecoveryMethod `json:"method"`
	NeedsReview bool           `json:"needs_review"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ValidateOffsets checks the positional invariants against a text length.
func (p *Position) ValidateOffsets(textLen int) error {
	if p.StartOffset < 0 || p.EndOffset > textLen || p.StartOffset >= p.EndOffset {
		return fmt.Errorf("invalid offsets [%d,%d) for text length %d", p.StartOffset, p.EndOffset, textLen)
	}
	return nil
}

// Content is the user-visible facet of an annotation: the highlighted
// text as shown to the user plus free-form note and tags.
type Content struct {
	ID surrealmodels.RecordID `json:"id"`

	Document string `json:"document"`

	Text string   `json:"text"`
	Note string   `json:"note,omitempty"`
	Tags []string `json:"tags"`

	UpdatedAt time.Time `json:"updated_at"`
}

// PositionPatch is a typed partial update for Position. Nil fields are
// left untouched by the store's read-merge-write path. Not safe under
// true concurrent writers to the same annotation; a version check would
// be needed if concurrent edits become possible.
type PositionPatch struct {
	StartOffset   *int
	EndOffset     *int
	ContextBefore *string
	ContextAfter  *string
	ChunkPosition *int
	Confidence    *float64
	Method        *RecoveryMethod
	NeedsReview   *bool
}

// Apply overlays the patch onto a stored position.
func (p PositionPatch) Apply(pos *Position) {
	if p.StartOffset != nil {
		pos.StartOffset = *p.StartOffset
	}
	if p.EndOffset != nil {
		pos.EndOffset = *p.EndOffset
	}
	if p.ContextBefore != nil {
		pos.ContextBefore = *p.ContextBefore
	}
	if p.ContextAfter != nil {
		pos.ContextAfter = *p.ContextAfter
	}
	if p.ChunkPosition != nil {
		pos.ChunkPosition = p.ChunkPosition
	}
	if p.Confidence != nil {
		pos.Confidence = *p.Confidence
	}
	if p.Method != nil {
		pos.Method = *p.Method
	}
	if p.NeedsReview != nil {
		pos.NeedsReview = *p.NeedsReview
	}
}

// ContentPatch is a typed partial update for Content.
type ContentPatch struct {
	Text *string
	Note *string
	Tags []string
}

// Apply overlays the patch onto stored content.
func (p ContentPatch) Apply(c *Content) {
	if p.Text != nil {
		c.Text = *p.Text
	}
	if p.Note != nil {
		c.Note = *p.Note
	}
	if p.Tags != nil {
		c.Tags = p.Tags
	}
}

// Ptr returns a pointer to v. Convenience for building patches.
func Ptr[T any](v T) *T { return &v }
