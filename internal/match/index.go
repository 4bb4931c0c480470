package match

import (
	"fmt"
	"sort"

	"github.com/raphaelgruber/reanchor/internal/models"
)

type span struct {
	start int
	end   int
}

// ChunkIndex is an in-memory view over a document's chunk boundaries,
// built fresh from the new chunk set each recovery pass. It bounds
// approximate searches to a chunk neighborhood instead of the whole
// document.
type ChunkIndex struct {
	spans   []span
	textLen int
}

// NewChunkIndex builds an index over the given chunks. Chunks are
// ordered by position; offsets must stay within the text.
func NewChunkIndex(chunks []models.Chunk, textLen int) (*ChunkIndex, error) {
	ordered := make([]models.Chunk, len(chunks))
	copy(ordered, chunks)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Position < ordered[j].Position
	})

	spans := make([]span, len(ordered))
	for i, c := range ordered {
		if c.StartOffset < 0 || c.EndOffset > textLen || c.StartOffset >= c.EndOffset {
			return nil, fmt.Errorf("chunk %d: invalid span [%d,%d) for text length %d", c.Position, c.StartOffset, c.EndOffset, textLen)
		}
		spans[i] = span{start: c.StartOffset, end: c.EndOffset}
	}

	return &ChunkIndex{spans: spans, textLen: textLen}, nil
}

// Len returns the number of indexed chunks.
func (x *ChunkIndex) Len() int { return len(x.spans) }

// Window returns the text span covering the chunk at the given position
// extended by `neighbors` chunks on each side. Reports false when the
// position does not exist in the new chunk set.
func (x *ChunkIndex) Window(position, neighbors int) (start, end int, ok bool) {
	if position < 0 || position >= len(x.spans) {
		return 0, 0, false
	}
	lo := position - neighbors
	if lo < 0 {
		lo = 0
	}
	hi := position + neighbors
	if hi >= len(x.spans) {
		hi = len(x.spans) - 1
	}
	return x.spans[lo].start, x.spans[hi].end, true
}

// Locate returns the position of the chunk containing the given offset,
// or -1 when the offset falls outside every chunk.
func (x *ChunkIndex) Locate(offset int) int {
	i := sort.Search(len(x.spans), func(i int) bool {
		return x.spans[i].end > offset
	})
	if i < len(x.spans) && x.spans[i].start <= offset {
		return i
	}
	return -1
}
