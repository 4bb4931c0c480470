package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/raphaelgruber/reanchor/internal/match"
	"github.com/raphaelgruber/reanchor/internal/models"
)

// The old canonical text the annotations were made against, and the new
// text after a cleanup pass added a preface and reworded one verb.
const (
	oldText = "Chapter one. The quick brown fox jumps over the lazy dog. The end of chapter one."
	newText = "Preface added by cleanup. Chapter one. The quick brown fox leaps over the lazy dog. The end of chapter one."
)

func singleChunk(text string) []models.Chunk {
	return []models.Chunk{{
		Document:    "doc1",
		Position:    0,
		StartOffset: 0,
		EndOffset:   len(text),
		Content:     text,
	}}
}

func newTestOrchestrator(store Store) *Orchestrator {
	return New(store, match.NewEngine(match.DefaultConfig()), DefaultConfig(), nil)
}

func addAnnotation(store *MemoryStore, id, original, before, after string) {
	start := strings.Index(oldText, original)
	store.Add(
		models.Position{
			ID:            models.NewRecordID("annotation_position", id),
			Document:      "doc1",
			StartOffset:   start,
			EndOffset:     start + len(original),
			OriginalText:  original,
			ContextBefore: before,
			ContextAfter:  after,
		},
		models.Content{Document: "doc1", Text: original},
	)
}

func TestRecoverAnnotations_ExactSurvivor(t *testing.T) {
	store := NewMemoryStore()
	addAnnotation(store, "a1", "quick brown fox", "The ", " leaps")

	summary, err := newTestOrchestrator(store).RecoverAnnotations(context.Background(), "doc1", newText, singleChunk(newText), nil)
	if err != nil {
		t.Fatalf("RecoverAnnotations() error = %v", err)
	}
	if summary.Succeeded != 1 || summary.Lost != 0 || summary.NeedsReview != 0 {
		t.Fatalf("summary = %+v, want 1 succeeded", summary)
	}

	pos := store.Position("a1")
	if pos.Method != models.MethodExact {
		t.Errorf("Method = %q, want exact", pos.Method)
	}
	if pos.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", pos.Confidence)
	}
	if pos.NeedsReview {
		t.Error("NeedsReview = true for an exact match")
	}
	wantStart := strings.Index(newText, "quick brown fox")
	if pos.StartOffset != wantStart || pos.EndOffset != wantStart+len("quick brown fox") {
		t.Errorf("offsets = [%d,%d), want [%d,%d)", pos.StartOffset, pos.EndOffset, wantStart, wantStart+len("quick brown fox"))
	}
	if pos.ChunkPosition == nil || *pos.ChunkPosition != 0 {
		t.Errorf("ChunkPosition = %v, want 0", pos.ChunkPosition)
	}
	// Text identical, so the content facet stays untouched.
	if got := store.Content("a1").Text; got != "quick brown fox" {
		t.Errorf("content text = %q, want unchanged", got)
	}
}

func TestRecoverAnnotations_ContextGuidedResync(t *testing.T) {
	store := NewMemoryStore()
	addAnnotation(store, "a1", "jumps over the lazy dog", "brown fox ", ". The end")

	summary, err := newTestOrchestrator(store).RecoverAnnotations(context.Background(), "doc1", newText, singleChunk(newText), nil)
	if err != nil {
		t.Fatalf("RecoverAnnotations() error = %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("summary = %+v, want 1 succeeded", summary)
	}

	pos := store.Position("a1")
	if pos.Method != models.MethodContext {
		t.Errorf("Method = %q, want context", pos.Method)
	}
	if pos.Confidence < 0.85 || pos.Confidence >= 1.0 {
		t.Errorf("Confidence = %v, want in [0.85,1.0)", pos.Confidence)
	}
	if got := newText[pos.StartOffset:pos.EndOffset]; got != "leaps over the lazy dog" {
		t.Errorf("offsets cover %q, want the reworded span", got)
	}
	if !strings.HasSuffix(pos.ContextBefore, "brown fox ") {
		t.Errorf("ContextBefore = %q, want recaptured from new text", pos.ContextBefore)
	}

	// Auto-recovery re-syncs the user-visible text to the new wording.
	if got := store.Content("a1").Text; got != "leaps over the lazy dog" {
		t.Errorf("content text = %q, want resynced", got)
	}
	// The search key keeps the original selection.
	if pos.OriginalText != "jumps over the lazy dog" {
		t.Errorf("OriginalText = %q, want preserved", pos.OriginalText)
	}
}

func TestRecoverAnnotations_LowConfidenceNeedsReview(t *testing.T) {
	store := NewMemoryStore()
	// Case-shifted selection with no context and no chunk hint: only the
	// capped trigram tier can place it, which lands below the auto
	// threshold.
	addAnnotation(store, "a1", "the end of chapter one", "", "")

	summary, err := newTestOrchestrator(store).RecoverAnnotations(context.Background(), "doc1", newText, nil, nil)
	if err != nil {
		t.Fatalf("RecoverAnnotations() error = %v", err)
	}
	if summary.NeedsReview != 1 || summary.Succeeded != 0 || summary.Lost != 0 {
		t.Fatalf("summary = %+v, want 1 needs-review", summary)
	}

	pos := store.Position("a1")
	if pos.Method != models.MethodTrigram {
		t.Errorf("Method = %q, want trigram", pos.Method)
	}
	if !pos.NeedsReview {
		t.Error("NeedsReview = false, want true")
	}
	if pos.Confidence < 0.75 || pos.Confidence >= 0.85 {
		t.Errorf("Confidence = %v, want in [0.75,0.85)", pos.Confidence)
	}
	// Candidate only: the content facet waits for user confirmation.
	if got := store.Content("a1").Text; got != "the end of chapter one" {
		t.Errorf("content text = %q, want unchanged", got)
	}
}

func TestRecoverAnnotations_Lost(t *testing.T) {
	store := NewMemoryStore()
	store.Add(
		models.Position{
			ID:           models.NewRecordID("annotation_position", "a1"),
			Document:     "doc1",
			StartOffset:  5,
			EndOffset:    34,
			OriginalText: "quarterly revenue projections",
		},
		models.Content{Document: "doc1", Text: "quarterly revenue projections", Note: "follow up"},
	)

	summary, err := newTestOrchestrator(store).RecoverAnnotations(context.Background(), "doc1", newText, singleChunk(newText), nil)
	if err != nil {
		t.Fatalf("RecoverAnnotations() error = %v", err)
	}
	if summary.Lost != 1 || summary.Succeeded != 0 {
		t.Fatalf("summary = %+v, want 1 lost", summary)
	}
	if summary.Rate != 0 {
		t.Errorf("Rate = %v, want 0", summary.Rate)
	}

	pos := store.Position("a1")
	if pos.Method != models.MethodLost {
		t.Errorf("Method = %q, want lost", pos.Method)
	}
	if pos.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", pos.Confidence)
	}
	if pos.NeedsReview {
		t.Error("NeedsReview = true for a lost annotation")
	}
	// A lost annotation keeps everything a human needs to re-anchor it.
	if pos.StartOffset != 5 || pos.EndOffset != 34 {
		t.Errorf("offsets = [%d,%d), want untouched [5,34)", pos.StartOffset, pos.EndOffset)
	}
	if pos.OriginalText != "quarterly revenue projections" {
		t.Errorf("OriginalText = %q, want preserved", pos.OriginalText)
	}
	content := store.Content("a1")
	if content.Text != "quarterly revenue projections" || content.Note != "follow up" {
		t.Errorf("content = %+v, want untouched", content)
	}
}

func TestRecoverAnnotations_MalformedIsIsolated(t *testing.T) {
	store := NewMemoryStore()
	// Partial data from an earlier crash: no original text at all.
	store.Add(
		models.Position{ID: models.NewRecordID("annotation_position", "a1"), Document: "doc1"},
		models.Content{Document: "doc1"},
	)
	addAnnotation(store, "a2", "quick brown fox", "The ", " leaps")

	summary, err := newTestOrchestrator(store).RecoverAnnotations(context.Background(), "doc1", newText, singleChunk(newText), nil)
	if err != nil {
		t.Fatalf("RecoverAnnotations() error = %v", err)
	}
	if summary.Lost != 1 || summary.Succeeded != 1 {
		t.Fatalf("summary = %+v, want the healthy annotation recovered alongside the lost one", summary)
	}
	if store.Position("a1").Method != models.MethodLost {
		t.Error("malformed annotation not marked lost")
	}
	if store.Position("a2").Method != models.MethodExact {
		t.Error("healthy annotation not recovered")
	}
}

func TestRecoverAnnotations_CheckpointStops(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < 4; i++ {
		addAnnotation(store, fmt.Sprintf("a%d", i), "quick brown fox", "", "")
	}

	cfg := DefaultConfig()
	cfg.CheckpointBatch = 2
	orch := New(store, match.NewEngine(match.DefaultConfig()), cfg, nil)

	stop := errors.New("pause requested")
	calls := 0
	cp := func(ctx context.Context) error {
		calls++
		if calls > 1 {
			return stop
		}
		return nil
	}

	summary, err := orch.RecoverAnnotations(context.Background(), "doc1", newText, singleChunk(newText), cp)
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("error = %v, want ErrStopped", err)
	}
	if !errors.Is(err, stop) {
		t.Errorf("error = %v, want to wrap the checkpoint cause", err)
	}
	if summary.Total != 2 || summary.Succeeded != 2 {
		t.Errorf("summary = %+v, want exactly one batch processed", summary)
	}
}

func TestRecoverAnnotations_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	addAnnotation(store, "a1", "quick brown fox", "The ", " leaps")
	addAnnotation(store, "a2", "jumps over the lazy dog", "brown fox ", ". The end")

	orch := newTestOrchestrator(store)

	first, err := orch.RecoverAnnotations(context.Background(), "doc1", newText, singleChunk(newText), nil)
	if err != nil {
		t.Fatalf("first pass error = %v", err)
	}
	posAfterFirst := *store.Position("a2")

	second, err := orch.RecoverAnnotations(context.Background(), "doc1", newText, singleChunk(newText), nil)
	if err != nil {
		t.Fatalf("second pass error = %v", err)
	}
	if first.Succeeded != second.Succeeded || first.Lost != second.Lost {
		t.Errorf("summaries differ: %+v vs %+v", first, second)
	}

	posAfterSecond := *store.Position("a2")
	if posAfterFirst.StartOffset != posAfterSecond.StartOffset || posAfterFirst.EndOffset != posAfterSecond.EndOffset {
		t.Errorf("offsets drifted between passes: [%d,%d) vs [%d,%d)",
			posAfterFirst.StartOffset, posAfterFirst.EndOffset,
			posAfterSecond.StartOffset, posAfterSecond.EndOffset)
	}
}

func TestRecoverAnnotations_EmptyDocument(t *testing.T) {
	store := NewMemoryStore()

	summary, err := newTestOrchestrator(store).RecoverAnnotations(context.Background(), "doc1", newText, singleChunk(newText), nil)
	if err != nil {
		t.Fatalf("RecoverAnnotations() error = %v", err)
	}
	if summary.Total != 0 || summary.Rate != 0 {
		t.Errorf("summary = %+v, want zero totals", summary)
	}
}
