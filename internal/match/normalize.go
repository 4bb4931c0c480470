package match

import (
	"strings"

	"github.com/raphaelgruber/reanchor/internal/models"
)

// normalizeRune folds typographic variants to their plain equivalents.
// Cleanup passes commonly swap straight quotes for curly ones and
// hyphens for dashes; folding both sides lets a verbatim selection
// survive that kind of rewrite.
func normalizeRune(r rune) rune {
	switch r {
	case '‘', '’', '‚', '′':
		return '\''
	case '“', '”', '„', '″':
		return '"'
	case '–', '—', '−':
		return '-'
	case ' ', '\t', '\n', '\r':
		return ' '
	}
	return r
}

// normalize folds typographic variants and collapses whitespace runs.
// offsets maps each normalized byte to the raw byte offset of the rune
// it came from, so a hit in normalized space maps back to raw offsets.
func normalize(s string) (string, []int) {
	var b strings.Builder
	offsets := make([]int, 0, len(s))
	prevSpace := false

	for i, r := range s {
		r = normalizeRune(r)
		if r == ' ' {
			if prevSpace {
				continue
			}
			prevSpace = true
		} else {
			prevSpace = false
		}
		start := b.Len()
		b.WriteRune(r)
		for j := start; j < b.Len(); j++ {
			offsets = append(offsets, i)
		}
	}
	return b.String(), offsets
}

// matchNormalized is tier 1b: exact substring search in normalized
// space, mapped back to raw offsets. The raw text differs from the
// selection (that is why tier 1 missed), so the result is scored and
// tagged as an approximate match, never as exact. The persisted method
// vocabulary has no value for normalized hits, so they carry the
// context tag even though no surrounding context participated.
func (e *Engine) matchNormalized(req Request, text string) (Result, bool) {
	normTarget, _ := normalize(req.OriginalText)
	if normTarget == "" {
		return Result{}, false
	}
	normText, offsets := normalize(text)

	idx := strings.Index(normText, normTarget)
	if idx < 0 {
		return Result{}, false
	}

	start := offsets[idx]
	end := len(text)
	if next := idx + len(normTarget); next < len(normText) {
		end = offsets[next]
	}
	if start >= end {
		return Result{}, false
	}

	matched := text[start:end]
	sim := similarity(matched, req.OriginalText)
	if sim < e.cfg.MinSimilarity {
		return Result{}, false
	}

	return Result{
		StartOffset: start,
		EndOffset:   end,
		Confidence:  sim,
		Method:      models.MethodContext,
		MatchedText: matched,
	}, true
}
