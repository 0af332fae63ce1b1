// Package brieflinesdk is a minimal client for the briefline HTTP API.
package brieflinesdk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal briefline HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		BasePath: "/api",
		Timeout:  30 * time.Second,
	}
}

// Job mirrors the API job model.
type Job struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	Depth     int    `json:"depth"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// Section mirrors the API section model.
type Section struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	Key       string `json:"key"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// Artifact mirrors the API artifact model.
type Artifact struct {
	ID         string `json:"id"`
	JobID      string `json:"job_id"`
	SectionKey string `json:"section_key"`
	Kind       string `json:"kind"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	CreatedAt  string `json:"created_at"`
}

// Event mirrors the stream payload.
type Event struct {
	Kind         string `json:"kind"`
	Text         string `json:"text,omitempty"`
	SectionKey   string `json:"section_key,omitempty"`
	SectionTitle string `json:"section_title,omitempty"`
	Progress     *int   `json:"progress,omitempty"`
	Citations    string `json:"citations,omitempty"`
	FullReport   string `json:"full_report,omitempty"`
}

// JobContent is the load endpoint response.
type JobContent struct {
	Job       Job        `json:"job"`
	Sections  []Section  `json:"sections"`
	Artifacts []Artifact `json:"artifacts"`
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.Timeout}
}

func (c *Client) url(path string) string {
	return c.BaseURL + c.BasePath + path
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// Submit creates a research job and returns it immediately; processing
// continues server-side.
func (c *Client) Submit(ctx context.Context, topic string, depth int) (Job, error) {
	var job Job
	err := c.do(ctx, http.MethodPost, "/submit", map[string]any{"topic": topic, "depth": depth}, &job)
	return job, err
}

// Status fetches a job's current state.
func (c *Client) Status(ctx context.Context, jobID string) (Job, error) {
	var job Job
	err := c.do(ctx, http.MethodGet, "/jobs/"+jobID+"/status", nil, &job)
	return job, err
}

// Sections lists a job's persisted sections in creation order.
func (c *Client) Sections(ctx context.Context, jobID string) ([]Section, error) {
	var sections []Section
	err := c.do(ctx, http.MethodGet, "/jobs/"+jobID+"/sections", nil, &sections)
	return sections, err
}

// Artifacts lists a job's artifacts in creation order.
func (c *Client) Artifacts(ctx context.Context, jobID string) ([]Artifact, error) {
	var artifacts []Artifact
	err := c.do(ctx, http.MethodGet, "/jobs/"+jobID+"/artifacts", nil, &artifacts)
	return artifacts, err
}

// History lists all jobs, newest first.
func (c *Client) History(ctx context.Context) ([]Job, error) {
	var jobs []Job
	err := c.do(ctx, http.MethodGet, "/history", nil, &jobs)
	return jobs, err
}

// Load fetches a job together with its sections.
func (c *Client) Load(ctx context.Context, jobID string) (JobContent, error) {
	var content JobContent
	err := c.do(ctx, http.MethodGet, "/jobs/"+jobID+"/load", nil, &content)
	return content, err
}

// Cancel marks a job cancelled.
func (c *Client) Cancel(ctx context.Context, jobID string) (Job, error) {
	var job Job
	err := c.do(ctx, http.MethodPost, "/jobs/"+jobID+"/cancel", nil, &job)
	return job, err
}

// Resume restarts a cancelled or failed job from scratch.
func (c *Client) Resume(ctx context.Context, jobID string) (Job, error) {
	var job Job
	err := c.do(ctx, http.MethodPost, "/jobs/"+jobID+"/resume", nil, &job)
	return job, err
}

// Stream attaches to a job's event stream and calls fn for each event
// until the stream closes, fn returns an error, or ctx is done. Events
// published before the call are not replayed; use Load to recover state.
func (c *Client) Stream(ctx context.Context, jobID string, fn func(Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/jobs/"+jobID+"/stream"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	// No timeout on the streaming client; the context bounds the call.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream %s: %s", jobID, resp.Status)
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
