package recovery

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/raphaelgruber/reanchor/internal/models"
)

// MemoryStore is an in-memory Store for tests and local experiments.
type MemoryStore struct {
	mu        sync.Mutex
	positions map[string]*models.Position
	contents  map[string]*models.Content
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]*models.Position),
		contents:  make(map[string]*models.Content),
	}
}

// Add stores an annotation's two facets under the same id.
func (m *MemoryStore) Add(pos models.Position, content models.Content) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := models.MustRecordIDString(pos.ID)
	m.positions[id] = &pos
	content.ID = pos.ID
	m.contents[id] = &content
}

// ListPositions returns the document's positions in id order.
func (m *MemoryStore) ListPositions(_ context.Context, documentID string) ([]models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Position
	for _, p := range m.positions {
		if p.Document == documentID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return models.MustRecordIDString(out[i].ID) < models.MustRecordIDString(out[j].ID)
	})
	return out, nil
}

// MergePosition applies the patch to the stored position.
func (m *MemoryStore) MergePosition(_ context.Context, annotationID string, patch models.PositionPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[annotationID]
	if !ok {
		return fmt.Errorf("position not found: %s", annotationID)
	}
	patch.Apply(pos)
	return nil
}

// MergeContent applies the patch to the stored content.
func (m *MemoryStore) MergeContent(_ context.Context, annotationID string, patch models.ContentPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.contents[annotationID]
	if !ok {
		return fmt.Errorf("content not found: %s", annotationID)
	}
	patch.Apply(c)
	return nil
}

// Position returns a copy of the stored position, or nil.
func (m *MemoryStore) Position(annotationID string) *models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[annotationID]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// Content returns a copy of the stored content, or nil.
func (m *MemoryStore) Content(annotationID string) *models.Content {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contents[annotationID]; ok {
		cp := *c
		return &cp
	}
	return nil
}
