// Package chunker splits canonical text into contiguous, offset-indexed
// chunks. Unlike content-oriented chunkers, every byte of the text
// belongs to exactly one chunk: annotation offsets must remain valid
// against the concatenation of all chunk spans.
package chunker

import (
	"unicode"
	"unicode/utf8"

	"github.com/raphaelgruber/reanchor/internal/models"
)

// ChunkText splits text into tiling chunks according to cfg. Cuts
// prefer paragraph boundaries, then sentence boundaries inside long
// paragraphs, then a hard cut when a span has no usable boundary.
// Text at or below the threshold becomes a single chunk.
func ChunkText(documentID, text string, cfg models.ChunkingConfig) []models.Chunk {
	if len(text) == 0 {
		return nil
	}
	if len(text) <= cfg.Threshold {
		return []models.Chunk{{
			Document:    documentID,
			Position:    0,
			StartOffset: 0,
			EndOffset:   len(text),
			Content:     text,
		}}
	}

	cuts := candidateCuts(text)

	var chunks []models.Chunk
	start := 0
	for start < len(text) {
		end := nextCut(text, cuts, start, cfg)
		chunks = append(chunks, models.Chunk{
			Document:    documentID,
			Position:    len(chunks),
			StartOffset: start,
			EndOffset:   end,
			Content:     text[start:end],
		})
		start = end
	}

	// A trailing fragment below the minimum merges into its neighbor.
	if n := len(chunks); n > 1 && len(chunks[n-1].Content) < cfg.MinSize {
		prev := &chunks[n-2]
		prev.EndOffset = chunks[n-1].EndOffset
		prev.Content = text[prev.StartOffset:prev.EndOffset]
		chunks = chunks[:n-1]
	}

	return chunks
}

// candidateCuts returns ascending offsets where a chunk may end:
// paragraph starts (after blank-line runs) and sentence ends.
func candidateCuts(text string) []int {
	var cuts []int
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			// End of a blank-line run is a paragraph boundary.
			j := i
			for j+1 < len(text) && (text[j+1] == '\n' || text[j+1] == '\r') {
				j++
			}
			if j > i {
				cuts = append(cuts, j+1)
				i = j
			}
		case '.', '!', '?':
			if i+1 < len(text) && unicode.IsSpace(rune(text[i+1])) {
				// Skip likely abbreviations ("Dr.").
				if i > 1 && unicode.IsUpper(rune(text[i-1])) {
					continue
				}
				cuts = append(cuts, i+2)
			}
		}
	}
	return cuts
}

// nextCut picks the end offset for the chunk starting at start: the cut
// closest past the target size that still fits within the maximum, the
// last fitting cut otherwise, and a hard rune-aligned cut when the span
// has no boundary at all.
func nextCut(text string, cuts []int, start int, cfg models.ChunkingConfig) int {
	if len(text)-start <= cfg.MaxSize {
		return len(text)
	}

	lastFit := -1
	for _, c := range cuts {
		if c <= start {
			continue
		}
		if c-start > cfg.MaxSize {
			break
		}
		lastFit = c
		if c-start >= cfg.TargetSize {
			return c
		}
	}
	if lastFit > 0 {
		return lastFit
	}

	// No boundary fits: hard cut at max size, backed off to a rune start.
	end := start + cfg.MaxSize
	for end > start && !utf8.RuneStart(text[end]) {
		end--
	}
	if end == start {
		end = start + cfg.MaxSize
	}
	return end
}
