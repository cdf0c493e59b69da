package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/CostLensHQ/CostLens/internal/pkg/env"
)

// Client talks to the pipeline engine's trigger/status API. No retries here:
// the engine deduplicates by run id, and callers decide whether a failed
// trigger is worth re-issuing.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// TriggerRequest starts a pipeline run for an organization.
type TriggerRequest struct {
	OrgSlug string `json:"org_slug"`
	Kind    string `json:"kind"`
}

// Run is the engine's view of a pipeline run.
type Run struct {
	ID         string     `json:"id"`
	OrgSlug    string     `json:"org_slug"`
	Kind       string     `json:"kind"`
	State      string     `json:"state"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// NewClient creates a pipeline engine client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// NewClientFromEnv builds the client from PIPELINE_ENGINE_URL and
// PIPELINE_ENGINE_TOKEN.
func NewClientFromEnv() *Client {
	return NewClient(
		env.GetEnv("PIPELINE_ENGINE_URL", "http://localhost:8082"),
		env.GetEnv("PIPELINE_ENGINE_TOKEN", ""),
	)
}

// Trigger starts a run of the given kind for the organization.
func (c *Client) Trigger(ctx context.Context, orgSlug, kind string) (*Run, error) {
	body, err := json.Marshal(TriggerRequest{OrgSlug: orgSlug, Kind: kind})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/runs", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// Status fetches the current state of a run.
func (c *Client) Status(ctx context.Context, runID string) (*Run, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/runs/"+runID, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Run, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("pipeline: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("pipeline: %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, data)
	}

	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("pipeline: decode response: %w", err)
	}
	return &run, nil
}

// SetHTTPClient overrides the transport (test use).
func (c *Client) SetHTTPClient(h *http.Client) {
	c.http = h
}
