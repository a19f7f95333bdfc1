// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package client is a typed client for the console-agentd HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/api"
	"github.com/thornburywn2/console-web-sub013/internal/runner"
)

// DefaultURL is the daemon address used when none is configured.
const DefaultURL = "http://127.0.0.1:7433"

// Client is a client for the daemon API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	// Reason is set for admission rejections.
	Reason string
	// Hint is the daemon's suggestion for resolving the error.
	Hint      string
	Retryable bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

// IsUserVisible implements pkg/errors.UserVisibleError.
func (e *APIError) IsUserVisible() bool { return true }

// UserMessage implements pkg/errors.UserVisibleError.
func (e *APIError) UserMessage() string { return e.Message }

// Suggestion implements pkg/errors.UserVisibleError.
func (e *APIError) Suggestion() string { return e.Hint }

// IsConflict reports whether the daemon refused because of current state,
// such as the agent already running.
func (e *APIError) IsConflict() bool { return e.StatusCode == http.StatusConflict }

// New creates a client for the daemon at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid daemon URL %q", baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = client
		return nil
	}
}

// WithAPIToken sets the bearer token sent on every request.
func WithAPIToken(token string) Option {
	return func(c *Client) error {
		c.apiToken = token
		return nil
	}
}

// Health returns the daemon health.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	return &out, c.do(ctx, http.MethodGet, "/v1/health", "", nil, &out)
}

// Status returns the runner status and schedules.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var out api.StatusResponse
	return &out, c.do(ctx, http.MethodGet, "/v1/status", "", nil, &out)
}

// RunAgent starts a manual run. A rejection is an *APIError with Reason set.
func (c *Client) RunAgent(ctx context.Context, agentID string) (*agent.Execution, error) {
	var out agent.Execution
	return &out, c.do(ctx, http.MethodPost, "/v1/agents/"+url.PathEscape(agentID)+"/run", "", nil, &out)
}

// StopAgent cancels the agent's running execution. Stopped reports
// whether it ended CANCELLED; Warning is set when the daemon gave up
// waiting for it.
func (c *Client) StopAgent(ctx context.Context, agentID string) (*api.StopResponse, error) {
	var out api.StopResponse
	return &out, c.do(ctx, http.MethodPost, "/v1/agents/"+url.PathEscape(agentID)+"/stop", "", nil, &out)
}

// ReloadAgent re-reads the agent and reinstalls its trigger.
func (c *Client) ReloadAgent(ctx context.Context, agentID string) (*api.ReloadResponse, error) {
	var out api.ReloadResponse
	return &out, c.do(ctx, http.MethodPost, "/v1/agents/"+url.PathEscape(agentID)+"/reload", "", nil, &out)
}

// Executions lists the agent's executions, newest first.
func (c *Client) Executions(ctx context.Context, agentID string, limit, offset int) (*api.ExecutionsResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/v1/agents/" + url.PathEscape(agentID) + "/executions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out api.ExecutionsResponse
	return &out, c.do(ctx, http.MethodGet, path, "", nil, &out)
}

// Execution returns one execution.
func (c *Client) Execution(ctx context.Context, id string) (*agent.Execution, error) {
	var out agent.Execution
	return &out, c.do(ctx, http.MethodGet, "/v1/executions/"+url.PathEscape(id), "", nil, &out)
}

// FireHook reports a git hook invocation using the hook token instead of
// the API token.
func (c *Client) FireHook(ctx context.Context, hookToken string, req api.HookRequest) (int, error) {
	var out api.SubmittedResponse
	err := c.do(ctx, http.MethodPost, "/v1/hooks", hookToken, req, &out)
	return out.Submitted, err
}

// PublishEvent publishes a session or system event.
func (c *Client) PublishEvent(ctx context.Context, req api.EventRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/events", "", req, nil)
}

// Stream calls fn for every runner event until ctx is done, the daemon
// closes the stream or fn returns an error. An empty agentID streams all
// agents.
func (c *Client) Stream(ctx context.Context, agentID string, fn func(runner.Event) error) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/v1/events/stream"
	if agentID != "" {
		wsURL += "?agent=" + url.QueryEscape(agentID)
	}
	opts := &websocket.DialOptions{HTTPClient: &http.Client{Transport: c.httpClient.Transport}}
	if c.apiToken != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.apiToken}}
	}
	conn, resp, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return &APIError{StatusCode: resp.StatusCode, Message: "event stream refused"}
		}
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	defer conn.CloseNow()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("event stream: %w", err)
		}
		var ev runner.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if err := fn(ev); err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return err
		}
	}
}

// do sends a request and decodes a JSON response into out. token
// overrides the API token when set.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token == "" {
		token = c.apiToken
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var e api.ErrorResponse
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
			apiErr.Reason = e.Reason
			apiErr.Hint = e.Suggestion
			apiErr.Retryable = e.Retryable
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
