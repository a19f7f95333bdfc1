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

package http

import (
	"context"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Do(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		switch r.URL.Path {
		case "/json":
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			_, _ = w.Write([]byte(`{"ok":true,"items":[1,2]}`))
		case "/text":
			_, _ = w.Write([]byte("plain"))
		case "/echo":
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"method":      r.Method,
				"contentType": r.Header.Get("Content-Type"),
				"token":       r.Header.Get("X-Token"),
				"body":        string(body),
			})
		case "/fail":
			w.WriteHeader(nethttp.StatusServiceUnavailable)
			_, _ = w.Write([]byte(strings.Repeat("e", 100)))
		case "/slow":
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		}
	}))
	defer srv.Close()

	c := New(Config{MaxErrorBody: 10})

	t.Run("decodes json", func(t *testing.T) {
		resp, err := c.Do(context.Background(), Request{URL: srv.URL + "/json"})
		require.NoError(t, err)
		assert.True(t, resp.JSON)
		assert.Equal(t, map[string]any{"ok": true, "items": []any{1.0, 2.0}}, resp.Body)
	})

	t.Run("keeps text", func(t *testing.T) {
		resp, err := c.Do(context.Background(), Request{URL: srv.URL + "/text"})
		require.NoError(t, err)
		assert.False(t, resp.JSON)
		assert.Equal(t, "plain", resp.Body)
	})

	t.Run("json body and headers", func(t *testing.T) {
		resp, err := c.Do(context.Background(), Request{
			Method:  "post",
			URL:     srv.URL + "/echo",
			Headers: map[string]string{"X-Token": "abc"},
			Body:    map[string]any{"n": 1},
		})
		require.NoError(t, err)
		body := resp.Body.(map[string]any)
		assert.Equal(t, "POST", body["method"])
		assert.Equal(t, "application/json", body["contentType"])
		assert.Equal(t, "abc", body["token"])
		assert.JSONEq(t, `{"n":1}`, body["body"].(string))
	})

	t.Run("non-2xx", func(t *testing.T) {
		_, err := c.Do(context.Background(), Request{URL: srv.URL + "/fail"})
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, 503, statusErr.StatusCode)
		assert.Equal(t, "eeeeeeeeee...[truncated]", statusErr.Body)
	})

	t.Run("timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := c.Do(ctx, Request{URL: srv.URL + "/slow"})
		var timeoutErr *TimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("network error", func(t *testing.T) {
		closed := httptest.NewServer(nethttp.NotFoundHandler())
		addr := closed.URL
		closed.Close()
		_, err := c.Do(context.Background(), Request{URL: addr})
		var netErr *NetworkError
		require.ErrorAs(t, err, &netErr)
	})
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://example.com/hook", false},
		{"http://localhost:8080", false},
		{"", true},
		{"ftp://example.com", true},
		{"/relative", true},
		{"http://", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := validateURL(tt.url)
			if tt.wantErr {
				var urlErr *InvalidURLError
				assert.ErrorAs(t, err, &urlErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
