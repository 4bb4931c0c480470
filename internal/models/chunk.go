package models

import (
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Chunk is a contiguous span of a document's canonical text with a
// stable index. Chunks tile the text without gaps or overlap; they are
// regenerated wholesale on every reprocessing pass.
type Chunk struct {
	ID surrealmodels.RecordID `json:"id"`

	Document string `json:"document"`

	Position    int    `json:"position"` // stable index within the document
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Content     string `json:"content"`
}

// ChunkingConfig defines parameters for canonical-text chunking.
type ChunkingConfig struct {
	// Threshold is the minimum content length (chars) to trigger
	// chunking. Shorter documents become a single chunk.
	Threshold int `json:"threshold" yaml:"threshold"`

	// TargetSize is the target chunk size in characters.
	TargetSize int `json:"target_size" yaml:"target_size"`

	// MinSize is the minimum chunk size. Trailing fragments smaller
	// than this merge into the previous chunk.
	MinSize int `json:"min_size" yaml:"min_size"`

	// MaxSize is the maximum chunk size. Paragraphs larger than this
	// are split at sentence boundaries.
	MaxSize int `json:"max_size" yaml:"max_size"`
}

// DefaultChunkingConfig returns the default chunking configuration.
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		Threshold:  1500,
		TargetSize: 750,
		MinSize:    200,
		MaxSize:    1000,
	}
}

// Derivation is the output of one document re-derivation pass: the new
// canonical text and its freshly generated chunk set.
type Derivation struct {
	CanonicalText string
	Chunks        []Chunk
}
