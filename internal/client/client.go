// Package client provides a REST client for the reanchor worker API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/reanchor/internal/models"
)

// Client talks to the worker's HTTP status API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client. If endpoint is empty, uses the
// REANCHOR_SERVER_URL env var or defaults to localhost:8585.
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("REANCHOR_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:8585"
	}

	timeout := 30 * time.Second
	if t := os.Getenv("REANCHOR_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Job is the API's job representation.
type Job struct {
	ID          string           `json:"id"`
	Owner       string           `json:"owner"`
	Type        models.JobType   `json:"type"`
	Document    string           `json:"document,omitempty"`
	Status      models.JobStatus `json:"status"`
	Progress    models.Progress  `json:"progress"`
	Checkpoint  string           `json:"checkpoint,omitempty"`
	Output      map[string]any   `json:"output,omitempty"`
	LastError   *string          `json:"last_error,omitempty"`
	RetryCount  int              `json:"retry_count"`
	NextRetryAt *time.Time       `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// apiError is the error body every non-2xx response carries.
type apiError struct {
	Error string `json:"error"`
}

// do executes one request and decodes the JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var e apiError
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("server error: %s", e.Error)
		}
		return fmt.Errorf("server error: %s", resp.Status)
	}

	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// Health checks the worker is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// GetJob retrieves one job.
func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobsOptions filters job listings.
type ListJobsOptions struct {
	Owner    string
	Document string
	Status   string
	Limit    int
}

// ListJobs returns jobs matching the filter, most recent first.
func (c *Client) ListJobs(ctx context.Context, opts ListJobsOptions) ([]Job, error) {
	q := url.Values{}
	if opts.Owner != "" {
		q.Set("owner", opts.Owner)
	}
	if opts.Document != "" {
		q.Set("document", opts.Document)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

func (c *Client) jobAction(ctx context.Context, id, action string) (*Job, error) {
	var job Job
	path := "/jobs/" + url.PathEscape(id) + "/" + action
	if err := c.do(ctx, http.MethodPost, path, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// PauseJob requests a cooperative pause.
func (c *Client) PauseJob(ctx context.Context, id string) (*Job, error) {
	return c.jobAction(ctx, id, "pause")
}

// ResumeJob re-queues a paused job.
func (c *Client) ResumeJob(ctx context.Context, id string) (*Job, error) {
	return c.jobAction(ctx, id, "resume")
}

// CancelJob cancels a job.
func (c *Client) CancelJob(ctx context.Context, id string) (*Job, error) {
	return c.jobAction(ctx, id, "cancel")
}

// RetryJob re-queues a failed job.
func (c *Client) RetryJob(ctx context.Context, id string) (*Job, error) {
	return c.jobAction(ctx, id, "retry")
}

// FailStalled force-fails processing jobs with stale heartbeats.
func (c *Client) FailStalled(ctx context.Context) ([]Job, error) {
	var result struct {
		Failed []Job `json:"failed"`
	}
	if err := c.do(ctx, http.MethodPost, "/jobs/fail-stalled", nil, &result); err != nil {
		return nil, err
	}
	return result.Failed, nil
}

// reprocessRequest mirrors the server's submission body.
type reprocessRequest struct {
	Connections bool                    `json:"connections,omitempty"`
	Options     models.ReprocessOptions `json:"options"`
}

// SubmitReprocess queues a reprocessing job for a document. With
// connections set, only the chunk links are rebuilt.
func (c *Client) SubmitReprocess(ctx context.Context, documentID string, connections bool, opts models.ReprocessOptions) (*Job, error) {
	var job Job
	path := "/documents/" + url.PathEscape(documentID) + "/reprocess"
	if err := c.do(ctx, http.MethodPost, path, reprocessRequest{Connections: connections, Options: opts}, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// WatchJob subscribes to the job's websocket feed and invokes onUpdate
// for every state change until the job reaches a terminal status, the
// context is cancelled, or onUpdate returns an error.
func (c *Client) WatchJob(ctx context.Context, id string, onUpdate func(Job) error) error {
	wsURL := strings.Replace(c.baseURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL += "/ws/jobs/" + url.PathEscape(id)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("job not found: %s", id)
		}
		return fmt.Errorf("websocket connect: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var job Job
		if err := conn.ReadJSON(&job); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read update: %w", err)
		}
		if err := onUpdate(job); err != nil {
			return err
		}
		if job.Status.Terminal() {
			return nil
		}
	}
}
