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

// Package http performs the outbound requests of API actions.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	nethttp "net/http"
	"net/url"
	"strings"
	"time"
)

// Request is one outbound call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	// Body is sent verbatim when it is a string or []byte and JSON-encoded otherwise.
	Body any
}

// Response is a completed 2xx call. Body holds the decoded JSON value when
// the response is JSON and the raw text otherwise.
type Response struct {
	StatusCode int                 `json:"status"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Body       any                 `json:"body,omitempty"`
	JSON       bool                `json:"-"`
}

// Client issues requests with size and redirect limits.
type Client struct {
	config Config
	client *nethttp.Client
}

// New creates a client, filling unset config fields from DefaultConfig.
func New(config Config) *Client {
	def := DefaultConfig()
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxResponseSize == 0 {
		config.MaxResponseSize = def.MaxResponseSize
	}
	if config.MaxErrorBody == 0 {
		config.MaxErrorBody = def.MaxErrorBody
	}
	if config.MaxRedirects == 0 {
		config.MaxRedirects = def.MaxRedirects
	}
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}
	maxRedirects := config.MaxRedirects
	return &Client{
		config: config,
		client: &nethttp.Client{
			Transport: config.Transport,
			CheckRedirect: func(_ *nethttp.Request, via []*nethttp.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

// Do sends req. Non-2xx responses return a *StatusError. The call is
// bounded by the ctx deadline, or by the client timeout when ctx has none.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if err := validateURL(req.URL); err != nil {
		return nil, err
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = nethttp.MethodGet
	}

	body, isJSON, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	timeout := c.config.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline).Round(time.Millisecond)
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := nethttp.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, &InvalidURLError{URL: req.URL, Reason: err.Error()}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}
	if isJSON && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, req.URL, timeout, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseSize+1))
	if err != nil {
		return nil, classify(ctx, req.URL, timeout, err)
	}
	if int64(len(raw)) > c.config.MaxResponseSize {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", req.URL, c.config.MaxResponseSize)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			URL:        req.URL,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(raw), c.config.MaxErrorBody),
		}
	}

	out := &Response{StatusCode: resp.StatusCode, Headers: resp.Header}
	if isJSONContent(resp.Header.Get("Content-Type")) && len(raw) > 0 {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("failed to decode JSON response from %s: %w", req.URL, err)
		}
		out.Body = decoded
		out.JSON = true
	} else {
		out.Body = string(raw)
	}
	return out, nil
}

func classify(ctx context.Context, rawURL string, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{URL: rawURL, Timeout: timeout.String()}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &NetworkError{URL: rawURL, Reason: err.Error()}
}

func validateURL(raw string) error {
	if raw == "" {
		return &InvalidURLError{URL: raw, Reason: "url is required"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &InvalidURLError{URL: raw, Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &InvalidURLError{URL: raw, Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &InvalidURLError{URL: raw, Reason: "host is required"}
	}
	return nil
}

func encodeBody(body any) (io.Reader, bool, error) {
	switch v := body.(type) {
	case nil:
		return nil, false, nil
	case string:
		if v == "" {
			return nil, false, nil
		}
		return strings.NewReader(v), false, nil
	case []byte:
		return bytes.NewReader(v), false, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, false, fmt.Errorf("failed to encode request body: %w", err)
		}
		return bytes.NewReader(b), true, nil
	}
}

func isJSONContent(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...[truncated]"
}
