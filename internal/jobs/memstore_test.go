package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/reanchor/internal/models"
)

var errMemConflict = errors.New("job state changed concurrently")

// memStore is an in-memory Store for poller and handler tests,
// mirroring the guarded-update semantics of the SurrealDB layer.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
	seq  int
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*models.Job)}
}

func (s *memStore) add(jobType models.JobType, document string, payload map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("job-%d", s.seq)
	s.jobs[id] = &models.Job{
		ID:        models.NewRecordID("job", id),
		Owner:     "tester",
		JobType:   jobType,
		Document:  document,
		Status:    models.JobStatusPending,
		Payload:   payload,
		Progress:  models.Progress{Stage: "queued"},
		CreatedAt: time.Now().Add(time.Duration(s.seq) * time.Microsecond),
	}
	return id
}

func (s *memStore) get(id string) models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memStore) set(id string, f func(*models.Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s.jobs[id])
}

func (s *memStore) ClaimNextJob(_ context.Context, worker string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.jobs[ids[i]].CreatedAt.Before(s.jobs[ids[j]].CreatedAt)
	})

	// Due retries go back through pending before the claim, like the
	// db layer.
	now := time.Now()
	for _, id := range ids {
		j := s.jobs[id]
		if j.Status == models.JobStatusFailed && j.NextRetryAt != nil && !j.NextRetryAt.After(now) {
			j.Status = models.JobStatusPending
			j.NextRetryAt = nil
		}
	}

	for _, id := range ids {
		j := s.jobs[id]
		if j.Status != models.JobStatusPending {
			continue
		}
		j.Status = models.JobStatusProcessing
		j.Worker = &worker
		j.StartedAt = models.Ptr(now)
		j.HeartbeatAt = models.Ptr(now)
		j.NextRetryAt = nil
		j.PauseRequested = false
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) UpdateJobProgress(_ context.Context, id string, progress models.Progress, checkpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobStatusProcessing {
		return nil
	}
	j.Progress = progress
	if checkpoint != "" {
		j.Checkpoint = checkpoint
	}
	return nil
}

func (s *memStore) Heartbeat(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && j.Status == models.JobStatusProcessing {
		j.HeartbeatAt = models.Ptr(time.Now())
	}
	return nil
}

func (s *memStore) guarded(id string, from models.JobStatus, f func(*models.Job)) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != from {
		return nil, errMemConflict
	}
	f(j)
	cp := *j
	return &cp, nil
}

func (s *memStore) CompleteJob(_ context.Context, id string, output map[string]any) (*models.Job, error) {
	return s.guarded(id, models.JobStatusProcessing, func(j *models.Job) {
		j.Status = models.JobStatusCompleted
		j.Output = output
		j.Progress.Percent = 100
		j.Worker = nil
		j.CompletedAt = models.Ptr(time.Now())
	})
}

func (s *memStore) FailJob(_ context.Context, id, errMsg string, nextRetry *time.Time) (*models.Job, error) {
	return s.guarded(id, models.JobStatusProcessing, func(j *models.Job) {
		j.Status = models.JobStatusFailed
		j.LastError = &errMsg
		j.RetryCount++
		j.NextRetryAt = nextRetry
		j.Worker = nil
		j.CompletedAt = models.Ptr(time.Now())
	})
}

func (s *memStore) MarkJobPaused(_ context.Context, id string) (*models.Job, error) {
	return s.guarded(id, models.JobStatusProcessing, func(j *models.Job) {
		j.Status = models.JobStatusPaused
		j.PauseRequested = false
		j.Worker = nil
	})
}

func (s *memStore) MarkJobCancelled(_ context.Context, id string) (*models.Job, error) {
	return s.guarded(id, models.JobStatusProcessing, func(j *models.Job) {
		j.Status = models.JobStatusCancelled
		j.CancelRequested = false
		j.Worker = nil
		j.CompletedAt = models.Ptr(time.Now())
	})
}

func (s *memStore) RequeueWorkerJobs(_ context.Context, worker string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == models.JobStatusProcessing && j.Worker != nil && *j.Worker == worker {
			j.Status = models.JobStatusPending
			j.Worker = nil
			j.HeartbeatAt = nil
			n++
		}
	}
	return n, nil
}

// memDocStore is an in-memory document store covering the handler-side
// persistence interfaces.
type memDocStore struct {
	mu       sync.Mutex
	docs     map[string]*models.Document
	chunks   map[string][]models.Chunk
	positions map[string]*models.Position
	contents  map[string]*models.Content
}

func newMemDocStore() *memDocStore {
	return &memDocStore{
		docs:      make(map[string]*models.Document),
		chunks:    make(map[string][]models.Chunk),
		positions: make(map[string]*models.Position),
		contents:  make(map[string]*models.Content),
	}
}

func (s *memDocStore) addDocument(id, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = &models.Document{
		ID:            models.NewRecordID("document", id),
		Owner:         "tester",
		Title:         id,
		CanonicalText: text,
		Version:       1,
	}
}

func (s *memDocStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *memDocStore) CreateDocument(_ context.Context, owner, title, text string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.docs[id] = &models.Document{
		ID:            models.NewRecordID("document", id),
		Owner:         owner,
		Title:         title,
		CanonicalText: text,
		Version:       1,
	}
	cp := *s.docs[id]
	return &cp, nil
}

func (s *memDocStore) UpdateDocumentText(_ context.Context, id, text string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, errors.New("document not found")
	}
	d.CanonicalText = text
	d.Version++
	cp := *d
	return &cp, nil
}

func (s *memDocStore) ReplaceChunks(_ context.Context, documentID string, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[documentID] = append([]models.Chunk(nil), chunks...)
	return nil
}

func (s *memDocStore) ListChunks(_ context.Context, documentID string) ([]models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Chunk(nil), s.chunks[documentID]...), nil
}

func (s *memDocStore) CreateAnnotation(_ context.Context, id string, pos models.Position, content models.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos.ID = models.NewRecordID("annotation_position", id)
	content.ID = models.NewRecordID("annotation_content", id)
	s.positions[id] = &pos
	s.contents[id] = &content
	return nil
}

func (s *memDocStore) ListPositions(_ context.Context, documentID string) ([]models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Position
	for _, p := range s.positions {
		if p.Document == documentID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartOffset < out[j].StartOffset })
	return out, nil
}

func (s *memDocStore) ListContents(_ context.Context, documentID string) ([]models.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Content
	for _, c := range s.contents {
		if c.Document == documentID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return models.MustRecordIDString(out[i].ID) < models.MustRecordIDString(out[j].ID)
	})
	return out, nil
}

func (s *memDocStore) MergePosition(_ context.Context, id string, patch models.PositionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return errors.New("position not found")
	}
	patch.Apply(p)
	return nil
}

func (s *memDocStore) MergeContent(_ context.Context, id string, patch models.ContentPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contents[id]
	if !ok {
		return errors.New("content not found")
	}
	patch.Apply(c)
	return nil
}

func (s *memDocStore) position(id string) models.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.positions[id]
}

func (s *memDocStore) content(id string) models.Content {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.contents[id]
}
