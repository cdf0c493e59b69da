package limitsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"
)

// SyncType distinguishes why limits are being pushed, for downstream
// observability in the limits service.
type SyncType string

const (
	SyncTypePlanChange SyncType = "plan_change"
	SyncTypeResync     SyncType = "resync"
)

// OrgLimits is the payload the backend limits service expects. It mirrors the
// organization's derived limit columns plus enough billing context for the
// quota engine to gate pipeline runs.
type OrgLimits struct {
	OrgSlug             string     `json:"org_slug"`
	PlanName            string     `json:"plan_name"`
	BillingStatus       string     `json:"billing_status"`
	TrialEndsAt         *time.Time `json:"trial_ends_at,omitempty"`
	SeatLimit           int        `json:"seat_limit"`
	ProviderLimit       int        `json:"provider_limit"`
	PipelinesPerDay     int        `json:"pipelines_per_day"`
	PipelinesPerMonth   int        `json:"pipelines_per_month"`
	ConcurrentPipelines int        `json:"concurrent_pipelines"`
	SyncType            SyncType   `json:"sync_type"`
}

// PushResult reports one of {synced, failed, queued-for-retry}.
type PushResult struct {
	Success bool
	// Queued is true when retries were exhausted on a transient failure
	// class; a later resync can complete the push.
	Queued bool
	Err    error
}

// Config controls the retry policy of the client.
type Config struct {
	BaseURL        string
	APIToken       string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CallTimeout    time.Duration
}

// DefaultConfig returns the retry policy used in production: up to 4
// attempts, 500ms doubling backoff capped at 8s, 30s overall budget.
func DefaultConfig(baseURL, token string) Config {
	return Config{
		BaseURL:        baseURL,
		APIToken:       token,
		MaxAttempts:    4,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		CallTimeout:    30 * time.Second,
	}
}

// Client pushes organization limits to the backend limits service with
// bounded, classified retries. Only transient failures (5xx, timeouts,
// connection errors) are retried; 4xx responses indicate a caller or
// configuration defect and are returned immediately.
type Client struct {
	config Config
	http   *http.Client
}

func NewClient(config Config) *Client {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 4
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 500 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 8 * time.Second
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 30 * time.Second
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// SetHTTPClient overrides the underlying HTTP client (tests).
func (c *Client) SetHTTPClient(h *http.Client) {
	c.http = h
}

type pushError struct {
	statusCode int
	retryAfter time.Duration
	err        error
}

func (e *pushError) Error() string { return e.err.Error() }

func (e *pushError) transient() bool {
	if e.statusCode == 0 {
		// timeout or connection-level failure
		return true
	}
	if e.statusCode == http.StatusTooManyRequests {
		return true
	}
	return e.statusCode >= 500
}

// Push sends the limits payload, retrying transient failures with
// exponential backoff. A Retry-After hint from the service is honored when
// it exceeds the computed delay.
func (c *Client) Push(ctx context.Context, limits OrgLimits, syncType SyncType) PushResult {
	limits.SyncType = syncType

	ctx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	body, err := json.Marshal(limits)
	if err != nil {
		return PushResult{Success: false, Queued: false, Err: fmt.Errorf("limitsync: encode payload: %w", err)}
	}

	var lastErr *pushError
	for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			if lastErr != nil && lastErr.retryAfter > delay {
				delay = lastErr.retryAfter
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return PushResult{Success: false, Queued: true, Err: ctx.Err()}
			}
		}

		perr := c.doPut(ctx, body)
		if perr == nil {
			return PushResult{Success: true}
		}
		if !perr.transient() {
			return PushResult{Success: false, Queued: false, Err: perr.err}
		}
		lastErr = perr
		log.Printf("Warning: limits push for %s failed (attempt %d/%d): %v",
			limits.OrgSlug, attempt+1, c.config.MaxAttempts, perr.err)
	}

	return PushResult{Success: false, Queued: true, Err: lastErr.err}
}

func (c *Client) doPut(ctx context.Context, body []byte) *pushError {
	url := c.config.BaseURL + "/v1/org-limits"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return &pushError{err: fmt.Errorf("limitsync: create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return &pushError{err: fmt.Errorf("limitsync: request timeout: %w", err)}
		}
		return &pushError{err: fmt.Errorf("limitsync: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	perr := &pushError{
		statusCode: resp.StatusCode,
		err:        fmt.Errorf("limitsync: service returned status %d", resp.StatusCode),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			perr.retryAfter = time.Duration(secs) * time.Second
		}
	}
	return perr
}

func (c *Client) backoff(attempt int) time.Duration {
	d := float64(c.config.InitialBackoff) * math.Pow(2, float64(attempt-1))
	if d > float64(c.config.MaxBackoff) {
		d = float64(c.config.MaxBackoff)
	}
	return time.Duration(d)
}
