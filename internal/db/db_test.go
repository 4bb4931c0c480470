// Package db provides integration tests for SurrealDB operations.
package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/reanchor/internal/models"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *Client
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

func createTestDocument(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	doc, err := testDB.CreateDocument(ctx, "tester", "Test Document",
		"The quick brown fox jumps over the lazy dog. A second sentence for variety.")
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	id := models.MustRecordIDString(doc.ID)
	t.Cleanup(func() {
		_, _ = testDB.Query(ctx, "DELETE type::record(\"document\", $id)", map[string]any{"id": id})
	})
	return id
}

func createTestJob(t *testing.T, docID string) *models.Job {
	t.Helper()
	ctx := context.Background()

	job, err := testDB.CreateJob(ctx, "tester", models.JobTypeReprocessDocument, docID, map[string]any{
		"document_id": docID,
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	t.Cleanup(func() {
		id := models.MustRecordIDString(job.ID)
		_, _ = testDB.Query(ctx, "DELETE type::record(\"job\", $id)", map[string]any{"id": id})
	})
	return job
}

// =============================================================================
// DOCUMENT AND CHUNK TESTS
// =============================================================================

func TestDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	docID := createTestDocument(t)

	doc, err := testDB.GetDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if doc == nil {
		t.Fatal("GetDocument returned nil")
	}
	if doc.Version != 1 {
		t.Errorf("Expected version 1, got %d", doc.Version)
	}

	updated, err := testDB.UpdateDocumentText(ctx, docID, "Entirely new canonical text.")
	if err != nil {
		t.Fatalf("UpdateDocumentText failed: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("Expected version 2 after update, got %d", updated.Version)
	}
	if updated.CanonicalText != "Entirely new canonical text." {
		t.Errorf("Canonical text not updated: %q", updated.CanonicalText)
	}

	// Non-existent document
	missing, err := testDB.GetDocument(ctx, "does-not-exist")
	if err != nil {
		t.Errorf("GetDocument with missing ID should not error: %v", err)
	}
	if missing != nil {
		t.Error("GetDocument with missing ID should return nil")
	}

	_, err = testDB.UpdateDocumentText(ctx, "does-not-exist", "text")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateDocumentText on missing doc: got %v, want ErrNotFound", err)
	}
}

func TestReplaceChunks(t *testing.T) {
	ctx := context.Background()
	docID := createTestDocument(t)

	first := []models.Chunk{
		{Document: docID, Position: 0, StartOffset: 0, EndOffset: 40, Content: "x"},
		{Document: docID, Position: 1, StartOffset: 40, EndOffset: 76, Content: "y"},
	}
	if err := testDB.ReplaceChunks(ctx, docID, first); err != nil {
		t.Fatalf("ReplaceChunks failed: %v", err)
	}

	chunks, err := testDB.ListChunks(ctx, docID)
	if err != nil {
		t.Fatalf("ListChunks failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Position != 0 || chunks[1].Position != 1 {
		t.Error("Chunks should be ordered by position")
	}

	// Replacement swaps the whole set, never appends.
	second := []models.Chunk{
		{Document: docID, Position: 0, StartOffset: 0, EndOffset: 76, Content: "z"},
	}
	if err := testDB.ReplaceChunks(ctx, docID, second); err != nil {
		t.Fatalf("Second ReplaceChunks failed: %v", err)
	}
	chunks, err = testDB.ListChunks(ctx, docID)
	if err != nil {
		t.Fatalf("ListChunks after replace failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("Expected 1 chunk after replacement, got %d", len(chunks))
	}
}

// =============================================================================
// ANNOTATION TESTS
// =============================================================================

func TestAnnotationMerge(t *testing.T) {
	ctx := context.Background()
	docID := createTestDocument(t)

	annID := uuid.NewString()
	err := testDB.CreateAnnotation(ctx, annID,
		models.Position{
			Document:      docID,
			StartOffset:   4,
			EndOffset:     19,
			OriginalText:  "quick brown fox",
			ContextBefore: "The ",
			ContextAfter:  " jumps",
		},
		models.Content{
			Document: docID,
			Text:     "quick brown fox",
			Note:     "a note",
			Tags:     []string{"animals"},
		})
	if err != nil {
		t.Fatalf("CreateAnnotation failed: %v", err)
	}
	t.Cleanup(func() { _ = testDB.DeleteAnnotation(ctx, annID) })

	// Patch only the positional fields; original_text must survive.
	err = testDB.MergePosition(ctx, annID, models.PositionPatch{
		StartOffset: models.Ptr(30),
		EndOffset:   models.Ptr(45),
		Confidence:  models.Ptr(0.9),
		Method:      models.Ptr(models.MethodContext),
		NeedsReview: models.Ptr(false),
	})
	if err != nil {
		t.Fatalf("MergePosition failed: %v", err)
	}

	pos, err := testDB.GetPosition(ctx, annID)
	if err != nil {
		t.Fatalf("GetPosition failed: %v", err)
	}
	if pos.StartOffset != 30 || pos.EndOffset != 45 {
		t.Errorf("offsets = [%d,%d), want [30,45)", pos.StartOffset, pos.EndOffset)
	}
	if pos.OriginalText != "quick brown fox" {
		t.Errorf("OriginalText = %q, want preserved", pos.OriginalText)
	}
	if pos.ContextBefore != "The " {
		t.Errorf("ContextBefore = %q, want preserved", pos.ContextBefore)
	}
	if pos.Method != models.MethodContext {
		t.Errorf("Method = %q, want context", pos.Method)
	}

	// Patch only the text; note and tags must survive.
	err = testDB.MergeContent(ctx, annID, models.ContentPatch{
		Text: models.Ptr("swift brown fox"),
	})
	if err != nil {
		t.Fatalf("MergeContent failed: %v", err)
	}

	content, err := testDB.GetContent(ctx, annID)
	if err != nil {
		t.Fatalf("GetContent failed: %v", err)
	}
	if content.Text != "swift brown fox" {
		t.Errorf("Text = %q, want updated", content.Text)
	}
	if content.Note != "a note" {
		t.Errorf("Note = %q, want preserved", content.Note)
	}
	if len(content.Tags) != 1 || content.Tags[0] != "animals" {
		t.Errorf("Tags = %v, want preserved", content.Tags)
	}

	// Merge on a missing annotation reports ErrNotFound.
	err = testDB.MergePosition(ctx, "missing-annotation", models.PositionPatch{
		Confidence: models.Ptr(0.5),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("MergePosition on missing record: got %v, want ErrNotFound", err)
	}
}

func TestListPositions(t *testing.T) {
	ctx := context.Background()
	docID := createTestDocument(t)

	// Insert out of reading order.
	ids := []string{uuid.NewString(), uuid.NewString()}
	offsets := [][2]int{{40, 50}, {4, 19}}
	for i, id := range ids {
		err := testDB.CreateAnnotation(ctx, id,
			models.Position{
				Document:     docID,
				StartOffset:  offsets[i][0],
				EndOffset:    offsets[i][1],
				OriginalText: "text",
			},
			models.Content{Document: docID, Text: "text"})
		if err != nil {
			t.Fatalf("CreateAnnotation failed: %v", err)
		}
		id := id
		t.Cleanup(func() { _ = testDB.DeleteAnnotation(ctx, id) })
	}

	positions, err := testDB.ListPositions(ctx, docID)
	if err != nil {
		t.Fatalf("ListPositions failed: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("Expected 2 positions, got %d", len(positions))
	}
	if positions[0].StartOffset != 4 {
		t.Error("Positions should be ordered by start offset")
	}
}

// =============================================================================
// JOB TESTS
// =============================================================================

func TestJobCreateAndGet(t *testing.T) {
	ctx := context.Background()
	docID := createTestDocument(t)
	job := createTestJob(t, docID)

	if job.Status != models.JobStatusPending {
		t.Errorf("Status = %q, want pending", job.Status)
	}
	if job.Progress.Stage != "queued" {
		t.Errorf("Progress.Stage = %q, want queued", job.Progress.Stage)
	}

	jobID := models.MustRecordIDString(job.ID)
	fetched, err := testDB.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched == nil {
		t.Fatal("GetJob returned nil")
	}
	if fetched.JobType != models.JobTypeReprocessDocument {
		t.Errorf("JobType = %q, want reprocess-document", fetched.JobType)
	}
}

func TestClaimNextJob_Exclusive(t *testing.T) {
	ctx := context.Background()
	docID := createTestDocument(t)
	job := createTestJob(t, docID)
	jobID := models.MustRecordIDString(job.ID)

	claimed, err := testDB.ClaimNextJob(ctx, "worker-a")
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("ClaimNextJob returned nil with a pending job in the queue")
	}
	if models.MustRecordIDString(claimed.ID) != jobID {
		t.Errorf("Claimed wrong job: %v", claimed.ID)
	}
	if claimed.Status != models.JobStatusProcessing {
		t.Errorf("Status = %q, want processing", claimed.Status)
	}
	if claimed.Worker == nil || *claimed.Worker != "worker-a" {
		t.Errorf("Worker = %v, want worker-a", claimed.Worker)
	}

	// A second worker finds nothing claimable.
	second, err := testDB.ClaimNextJob(ctx, "worker-b")
	if err != nil {
		t.Fatalf("Second ClaimNextJob failed: %v", err)
	}
	if second != nil {
		t.Errorf("Job claimed twice: %v", second.ID)
	}

	_, _ = testDB.CompleteJob(ctx, jobID, nil)
}

func TestCompleteJob(t *testing.T) {
	ctx := context.Background()
	docID := createTestDocument(t)
	job := createTestJob(t, docID)
	jobID := models.MustRecordIDString(job.ID)

	if _, err := testDB.ClaimNextJob(ctx, "worker-a"); err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}

	done, err := testDB.CompleteJob(ctx, jobID, map[string]any{"succeeded": 3})
	if err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	if done.Status != models.JobStatusCompleted {
		t.Errorf("Status = %q, want completed", done.Status)
	}
	if done.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
	if done.Progress.Percent != 100 {
		t.Errorf("Progress.Percent = %v, want 100", done.Progress.Percent)
	}

	// Completing again conflicts: the job already left processing.
	_, err = testDB.CompleteJob(ctx, jobID, nil)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Second CompleteJob: got %v, want ErrConflict", err)
	}
}

func TestFailJobAndRetryClaim(t *testing.T) {
	ctx := context.Background()
	docID := createTestDocument(t)
	job := createTestJob(t, docID)
	jobID := models.MustRecordIDString(job.ID)

	if _, err := testDB.ClaimNextJob(ctx, "worker-a"); err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}

	// Fail with a retry already due: the job is immediately claimable.
	due := time.Now().Add(-time.Second)
	failed, err := testDB.FailJob(ctx, jobID, "transient error", &due)
	if err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}
	if failed.Status != models.JobStatusFailed {
		t.Errorf("Status = %q, want failed", failed.Status)
	}
	if failed.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", failed.RetryCount)
	}
	if failed.LastError == nil || *failed.LastError != "transient error" {
		t.Errorf("LastError = %v, want recorded", failed.LastError)
	}

	reclaimed, err := testDB.ClaimNextJob(ctx, "worker-b")
	if err != nil {
		t.Fatalf("ClaimNextJob after failure failed: %v", err)
	}
	if reclaimed == nil {
		t.Fatal("Retry-due job should be claimable")
	}
	if models.MustRecordIDString(reclaimed.ID) != jobID {
		t.Errorf("Reclaimed wrong job: %v", reclaimed.ID)
	}
	if reclaimed.NextRetryAt != nil {
		t.Error("NextRetryAt should be cleared on claim")
	}

	// The retry went back through pending before the claim.
	if reclaimed.Status != models.JobStatusProcessing {
		t.Errorf("Status = %q, want processing", reclaimed.Status)
	}

	// Exhausted retries: no schedule, not claimable.
	if _, err := testDB.FailJob(ctx, jobID, "permanent error", nil); err != nil {
		t.Fatalf("Final FailJob failed: %v", err)
	}
	exhausted, err := testDB.ClaimNextJob(ctx, "worker-c")
	if err != nil {
		t.Fatalf("ClaimNextJob after exhaustion failed: %v", err)
	}
	if exhausted != nil {
		t.Error("Exhausted job should not be claimable")
	}
}

func TestRetryRequeuesThroughPending(t *testing.T) {
	ctx := context.Background()
	docID := createTestDocument(t)
	first := createTestJob(t, docID)
	second := createTestJob(t, docID)
	firstID := models.MustRecordIDString(first.ID)
	secondID := models.MustRecordIDString(second.ID)

	for range 2 {
		if _, err := testDB.ClaimNextJob(ctx, "worker-a"); err != nil {
			t.Fatalf("ClaimNextJob failed: %v", err)
		}
	}

	due := time.Now().Add(-time.Second)
	for _, id := range []string{firstID, secondID} {
		if _, err := testDB.FailJob(ctx, id, "transient error", &due); err != nil {
			t.Fatalf("FailJob failed: %v", err)
		}
	}

	// One claim re-queues every due retry to pending and takes one of
	// them; the other must be observable as pending, not failed.
	claimed, err := testDB.ClaimNextJob(ctx, "worker-b")
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("Due retry should be claimable")
	}

	waitingID := firstID
	if models.MustRecordIDString(claimed.ID) == firstID {
		waitingID = secondID
	}
	waiting, err := testDB.GetJob(ctx, waitingID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if waiting.Status != models.JobStatusPending {
		t.Errorf("Status = %q, want pending", waiting.Status)
	}
	if waiting.NextRetryAt != nil {
		t.Error("NextRetryAt should be cleared on requeue")
	}

	next, err := testDB.ClaimNextJob(ctx, "worker-b")
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if next == nil || models.MustRecordIDString(next.ID) != waitingID {
		t.Errorf("Claimed %v, want the re-queued job %s", next, waitingID)
	}
}

func TestPauseResumeFlow(t *testing.T) {
	ctx := context.Background()
	docID := createTestDocument(t)
	job := createTestJob(t, docID)
	jobID := models.MustRecordIDString(job.ID)

	if _, err := testDB.ClaimNextJob(ctx, "worker-a"); err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}

	flagged, err := testDB.RequestPause(ctx, jobID)
	if err != nil {
		t.Fatalf("RequestPause failed: %v", err)
	}
	if !flagged.PauseRequested {
		t.Error("PauseRequested should be set")
	}
	if flagged.Status != models.JobStatusProcessing {
		t.Error("Pause request must not change status; the worker pauses at a checkpoint")
	}

	paused, err := testDB.MarkJobPaused(ctx, jobID)
	if err != nil {
		t.Fatalf("MarkJobPaused failed: %v", err)
	}
	if paused.Status != models.JobStatusPaused {
		t.Errorf("Status = %q, want paused", paused.Status)
	}
	if paused.PauseRequested {
		t.Error("PauseRequested should be cleared on pause")
	}

	resumed, err := testDB.ResumeJob(ctx, jobID)
	if err != nil {
		t.Fatalf("ResumeJob failed: %v", err)
	}
	if resumed.Status != models.JobStatusPending {
		t.Errorf("Status = %q, want pending (re-queued)", resumed.Status)
	}

	// Resuming a non-paused job conflicts.
	_, err = testDB.ResumeJob(ctx, jobID)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("ResumeJob on pending job: got %v, want ErrConflict", err)
	}

	claimed, _ := testDB.ClaimNextJob(ctx, "worker-a")
	if claimed != nil {
		_, _ = testDB.CompleteJob(ctx, models.MustRecordIDString(claimed.ID), nil)
	}
}

func TestCancelFlow(t *testing.T) {
	ctx := context.Background()
	docID := createTestDocument(t)

	// Pending jobs cancel immediately.
	queued := createTestJob(t, docID)
	queuedID := models.MustRecordIDString(queued.ID)
	cancelled, err := testDB.CancelQueuedJob(ctx, queuedID)
	if err != nil {
		t.Fatalf("CancelQueuedJob failed: %v", err)
	}
	if cancelled.Status != models.JobStatusCancelled {
		t.Errorf("Status = %q, want cancelled", cancelled.Status)
	}

	// Processing jobs get a cooperative flag, then the worker confirms.
	running := createTestJob(t, docID)
	runningID := models.MustRecordIDString(running.ID)
	if _, err := testDB.ClaimNextJob(ctx, "worker-a"); err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	flagged, err := testDB.RequestCancel(ctx, runningID)
	if err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if !flagged.CancelRequested {
		t.Error("CancelRequested should be set")
	}
	confirmed, err := testDB.MarkJobCancelled(ctx, runningID)
	if err != nil {
		t.Fatalf("MarkJobCancelled failed: %v", err)
	}
	if confirmed.Status != models.JobStatusCancelled {
		t.Errorf("Status = %q, want cancelled", confirmed.Status)
	}

	// Cancelled is absorbing.
	_, err = testDB.CancelQueuedJob(ctx, runningID)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Cancel on cancelled job: got %v, want ErrConflict", err)
	}
}

func TestRetryJob(t *testing.T) {
	ctx := context.Background()
	docID := createTestDocument(t)
	job := createTestJob(t, docID)
	jobID := models.MustRecordIDString(job.ID)

	if _, err := testDB.ClaimNextJob(ctx, "worker-a"); err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if _, err := testDB.FailJob(ctx, jobID, "boom", nil); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}

	retried, err := testDB.RetryJob(ctx, jobID)
	if err != nil {
		t.Fatalf("RetryJob failed: %v", err)
	}
	if retried.Status != models.JobStatusPending {
		t.Errorf("Status = %q, want pending", retried.Status)
	}
	if retried.LastError == nil {
		t.Error("LastError should be kept for history")
	}

	claimed, _ := testDB.ClaimNextJob(ctx, "worker-a")
	if claimed != nil {
		_, _ = testDB.CompleteJob(ctx, models.MustRecordIDString(claimed.ID), nil)
	}
}

func TestStalledJobs(t *testing.T) {
	ctx := context.Background()
	docID := createTestDocument(t)
	job := createTestJob(t, docID)
	jobID := models.MustRecordIDString(job.ID)

	if _, err := testDB.ClaimNextJob(ctx, "worker-a"); err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}

	// With a future cutoff every processing job looks stalled.
	stalled, err := testDB.GetStalledJobs(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("GetStalledJobs failed: %v", err)
	}
	found := false
	for _, j := range stalled {
		if models.MustRecordIDString(j.ID) == jobID {
			found = true
		}
	}
	if !found {
		t.Error("Expected job in stalled set")
	}

	// A fresh heartbeat clears it for a past cutoff.
	if err := testDB.Heartbeat(ctx, jobID); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	stalled, err = testDB.GetStalledJobs(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("GetStalledJobs failed: %v", err)
	}
	for _, j := range stalled {
		if models.MustRecordIDString(j.ID) == jobID {
			t.Error("Heartbeated job should not be stalled")
		}
	}

	forced, err := testDB.ForceFailJob(ctx, jobID, "stalled: no heartbeat")
	if err != nil {
		t.Fatalf("ForceFailJob failed: %v", err)
	}
	if forced.Status != models.JobStatusFailed || forced.NextRetryAt != nil {
		t.Errorf("Force-failed job = %q/%v, want failed with no retry", forced.Status, forced.NextRetryAt)
	}
}

func TestRequeueWorkerJobs(t *testing.T) {
	ctx := context.Background()
	docID := createTestDocument(t)
	job := createTestJob(t, docID)
	jobID := models.MustRecordIDString(job.ID)

	if _, err := testDB.ClaimNextJob(ctx, "worker-restart"); err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}

	n, err := testDB.RequeueWorkerJobs(ctx, "worker-restart")
	if err != nil {
		t.Fatalf("RequeueWorkerJobs failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Requeued %d jobs, want 1", n)
	}

	requeued, err := testDB.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if requeued.Status != models.JobStatusPending {
		t.Errorf("Status = %q, want pending after requeue", requeued.Status)
	}

	claimed, _ := testDB.ClaimNextJob(ctx, "worker-restart")
	if claimed != nil {
		_, _ = testDB.CompleteJob(ctx, models.MustRecordIDString(claimed.ID), nil)
	}
}

func TestCountActiveJobs(t *testing.T) {
	ctx := context.Background()
	docID := createTestDocument(t)

	n, err := testDB.CountActiveJobs(ctx, docID, models.JobTypeReprocessDocument)
	if err != nil {
		t.Fatalf("CountActiveJobs failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 active jobs, got %d", n)
	}

	job := createTestJob(t, docID)
	n, err = testDB.CountActiveJobs(ctx, docID, models.JobTypeReprocessDocument)
	if err != nil {
		t.Fatalf("CountActiveJobs failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 active job, got %d", n)
	}

	// Terminal jobs do not count.
	jobID := models.MustRecordIDString(job.ID)
	if _, err := testDB.CancelQueuedJob(ctx, jobID); err != nil {
		t.Fatalf("CancelQueuedJob failed: %v", err)
	}
	n, err = testDB.CountActiveJobs(ctx, docID, models.JobTypeReprocessDocument)
	if err != nil {
		t.Fatalf("CountActiveJobs failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 active jobs after cancel, got %d", n)
	}
}
