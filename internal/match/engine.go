// Package match re-locates annotation offsets in newly derived text.
//
// The engine is pure: one call maps an annotation's original text and
// context to the best candidate span in the new text, with a confidence
// score and a method tag. "No match" is an expected outcome, not an
// error. Four tiers are attempted in order; the first acceptable
// candidate wins:
//
//  1. exact substring (confidence 1.0), then exact in normalized space
//     (quotes, dashes, whitespace folded) scored as approximate
//  2. context-guided approximate match over the whole text
//  3. approximate match bounded to the last-known chunk neighborhood
//  4. trigram-overlap fallback with a capped confidence ceiling
package match

import (
	"strings"

	"github.com/raphaelgruber/reanchor/internal/models"
)

// Config tunes tier acceptance.
type Config struct {
	// MinSimilarity is the lowest edit-distance similarity tiers 2 and 3
	// accept before falling through to the next tier.
	MinSimilarity float64

	// TrigramFloor is the lowest trigram overlap tier 4 accepts; below
	// it the engine reports no match.
	TrigramFloor float64

	// TrigramCeiling caps tier 4 confidence so a trigram hit never
	// outranks an approximate match of the same quality.
	TrigramCeiling float64

	// ChunkScale discounts tier 3 confidence relative to tier 2: a
	// chunk-bounded hit saw less of the document than a global search.
	ChunkScale float64

	// ChunkNeighbors is how many adjacent chunks tier 3 searches on each
	// side of the last-known chunk.
	ChunkNeighbors int
}

// DefaultConfig returns the standard tier tuning.
func DefaultConfig() Config {
	return Config{
		MinSimilarity:  0.60,
		TrigramFloor:   0.45,
		TrigramCeiling: 0.80,
		ChunkScale:     0.95,
		ChunkNeighbors: 1,
	}
}

// Request carries one annotation's recovery inputs.
type Request struct {
	OriginalText  string
	ContextBefore string
	ContextAfter  string

	// ChunkPosition is the chunk index the annotation last resolved to,
	// nil when unknown.
	ChunkPosition *int
}

// Result is a candidate location in the new text.
type Result struct {
	StartOffset int
	EndOffset   int
	Confidence  float64
	Method      models.RecoveryMethod
	MatchedText string
}

// Engine runs the tiered search. Stateless per call; safe for
// concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine with the given tuning.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Match locates the annotation in text. The chunk index may be nil, in
// which case tier 3 is skipped. Reports false when no tier produced an
// acceptable candidate.
func (e *Engine) Match(req Request, text string, index *ChunkIndex) (Result, bool) {
	if req.OriginalText == "" || text == "" {
		return Result{}, false
	}

	if res, ok := e.matchExact(req, text); ok {
		return res, true
	}
	if res, ok := e.matchNormalized(req, text); ok {
		return res, true
	}
	if res, ok := e.matchContext(req, text); ok {
		return res, true
	}
	if res, ok := e.matchChunkBounded(req, text, index); ok {
		return res, true
	}
	return e.matchTrigram(req, text)
}

// matchExact is tier 1: verbatim substring scan, leftmost occurrence.
func (e *Engine) matchExact(req Request, text string) (Result, bool) {
	idx := strings.Index(text, req.OriginalText)
	if idx < 0 {
		return Result{}, false
	}
	return Result{
		StartOffset: idx,
		EndOffset:   idx + len(req.OriginalText),
		Confidence:  1.0,
		Method:      models.MethodExact,
		MatchedText: req.OriginalText,
	}, true
}

// matchContext is tier 2: approximate search for context+text+context
// anywhere in the new text, deriving offsets from the inner region of
// the matched span.
func (e *Engine) matchContext(req Request, text string) (Result, bool) {
	if req.ContextBefore == "" && req.ContextAfter == "" {
		return Result{}, false
	}

	target := req.ContextBefore + req.OriginalText + req.ContextAfter
	start, sim, ok := bestWindow(text, target, 0, len(text))
	if !ok || sim < e.cfg.MinSimilarity {
		return Result{}, false
	}

	innerStart := start + len(req.ContextBefore)
	innerEnd := innerStart + len(req.OriginalText)
	innerStart, innerEnd = clampSpan(innerStart, innerEnd, len(text))
	if innerStart >= innerEnd {
		return Result{}, false
	}

	return Result{
		StartOffset: innerStart,
		EndOffset:   innerEnd,
		Confidence:  sim,
		Method:      models.MethodContext,
		MatchedText: text[innerStart:innerEnd],
	}, true
}

// matchChunkBounded is tier 3: the approximate search restricted to the
// last-known chunk and its immediate neighbors. Bounding the window
// keeps the edit-distance work an order of magnitude cheaper than a
// whole-document scan on long texts.
func (e *Engine) matchChunkBounded(req Request, text string, index *ChunkIndex) (Result, bool) {
	if req.ChunkPosition == nil || index == nil {
		return Result{}, false
	}

	lo, hi, ok := index.Window(*req.ChunkPosition, e.cfg.ChunkNeighbors)
	if !ok {
		return Result{}, false
	}

	start, sim, ok := bestWindow(text, req.OriginalText, lo, hi)
	if !ok || sim < e.cfg.MinSimilarity {
		return Result{}, false
	}

	end := start + len(req.OriginalText)
	start, end = clampSpan(start, end, len(text))
	if start >= end {
		return Result{}, false
	}

	return Result{
		StartOffset: start,
		EndOffset:   end,
		Confidence:  sim * e.cfg.ChunkScale,
		Method:      models.MethodChunkBounded,
		MatchedText: text[start:end],
	}, true
}

// matchTrigram is tier 4: trigram-set overlap over sliding windows, an
// approximate location with a capped confidence ceiling.
func (e *Engine) matchTrigram(req Request, text string) (Result, bool) {
	start, overlap, ok := bestTrigramWindow(text, req.OriginalText)
	if !ok || overlap < e.cfg.TrigramFloor {
		return Result{}, false
	}

	conf := overlap
	if conf > e.cfg.TrigramCeiling {
		conf = e.cfg.TrigramCeiling
	}

	end := start + len(req.OriginalText)
	start, end = clampSpan(start, end, len(text))
	if start >= end {
		return Result{}, false
	}

	return Result{
		StartOffset: start,
		EndOffset:   end,
		Confidence:  conf,
		Method:      models.MethodTrigram,
		MatchedText: text[start:end],
	}, true
}

func clampSpan(start, end, max int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end > max {
		end = max
	}
	return start, end
}
