// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultAPIKey is the development token accepted by local routers.
const DefaultAPIKey = "default-dev-token"

const (
	defaultCompletionTimeout = 30 * time.Second
	maxResponseBytes         = 4 << 20
)

// RouterClient talks to a Cortensor router over its REST API.
type RouterClient struct {
	baseURL           string
	apiKey            string
	client            *http.Client
	completionTimeout time.Duration
	userAgent         string
}

// Option configures a RouterClient.
type Option func(*RouterClient)

// WithAPIKey sets the bearer token. An empty key keeps the default.
func WithAPIKey(key string) Option {
	return func(c *RouterClient) {
		if key != "" {
			c.apiKey = key
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *RouterClient) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithCompletionTimeout sets the timeout the router is asked to honor per completion.
func WithCompletionTimeout(d time.Duration) Option {
	return func(c *RouterClient) {
		if d > 0 {
			c.completionTimeout = d
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *RouterClient) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// NewRouterClient creates a client for the router at baseURL.
// Timeouts are taken from the contexts passed to each call.
func NewRouterClient(baseURL string, opts ...Option) *RouterClient {
	c := &RouterClient{
		baseURL:           strings.TrimRight(baseURL, "/"),
		apiKey:            DefaultAPIKey,
		client:            &http.Client{},
		completionTimeout: defaultCompletionTimeout,
		userAgent:         "trustlayer/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the router base URL.
func (c *RouterClient) BaseURL() string {
	return c.baseURL
}

// Info returns the router's self-description.
func (c *RouterClient) Info(ctx context.Context) (map[string]any, error) {
	return c.getObject(ctx, "/api/v1/info")
}

// Status returns the router's status document.
func (c *RouterClient) Status(ctx context.Context) (map[string]any, error) {
	return c.getObject(ctx, "/api/v1/status")
}

// HealthCheck reports whether the status endpoint answers successfully.
func (c *RouterClient) HealthCheck(ctx context.Context) bool {
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/status", nil); err != nil {
		log.Debugf("router health check failed: %v", err)
		return false
	}
	return true
}

// ListResponders returns the miners currently known to the router.
func (c *RouterClient) ListResponders(ctx context.Context) ([]Descriptor, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/miners", nil)
	if err != nil {
		return nil, err
	}
	return parseMiners(body), nil
}

// ListSessions returns the router's sessions.
func (c *RouterClient) ListSessions(ctx context.Context) ([]Session, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/sessions", nil)
	if err != nil {
		return nil, err
	}
	items := listOf(gjson.ParseBytes(body), "sessions", "data")
	sessions := make([]Session, 0, len(items))
	for _, item := range items {
		sessions = append(sessions, Session{ID: item.Get("id").Int(), Name: item.Get("name").String()})
	}
	return sessions, nil
}

// Session returns a single session by id.
func (c *RouterClient) Session(ctx context.Context, id int64) (map[string]any, error) {
	return c.getObject(ctx, fmt.Sprintf("/api/v1/sessions/%d", id))
}

// Query submits the prompt as a non-streaming completion and normalizes the
// answer. Latency is measured client-side.
func (c *RouterClient) Query(ctx context.Context, req Request) (Completion, error) {
	payload, err := c.completionPayload(req)
	if err != nil {
		return Completion{}, &Error{Code: CodeUnknown, Message: "failed to build completion payload", Err: err}
	}

	start := time.Now()
	body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/completions/%d", req.SessionID), payload)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return Completion{}, err
	}

	result := gjson.ParseBytes(body)
	id := firstString(result, "miner_id", "minerId", "miner.id")
	if id == "" {
		id = req.Responder.ID
	}
	return Completion{
		ResponderID: id,
		Text:        completionText(result),
		LatencyMs:   latency,
	}, nil
}

func (c *RouterClient) completionPayload(req Request) ([]byte, error) {
	payload := []byte(`{}`)
	var err error
	if payload, err = sjson.SetBytes(payload, "prompt", req.Prompt); err != nil {
		return nil, err
	}
	if payload, err = sjson.SetBytes(payload, "stream", false); err != nil {
		return nil, err
	}
	if payload, err = sjson.SetBytes(payload, "timeout", int(c.completionTimeout/time.Second)); err != nil {
		return nil, err
	}
	if req.Responder.ID != "" {
		if payload, err = sjson.SetBytes(payload, "miner_id", req.Responder.ID); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

func (c *RouterClient) getObject(ctx context.Context, path string) (map[string]any, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if len(bytes.TrimSpace(body)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(body, &out); err != nil {
		// Non-object documents are wrapped so callers always get a map.
		out = map[string]any{"value": gjson.ParseBytes(body).Value()}
	}
	return out, nil
}

func (c *RouterClient) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if c.baseURL == "" {
		return nil, &Error{Code: CodeConnectionFailed, Message: "router url not configured"}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &Error{Code: CodeUnknown, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(ctx, fmt.Errorf("failed to read response body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// parseMiners accepts a bare array, or an array under "miners" or "data".
// Entries may be objects or plain id strings.
func parseMiners(body []byte) []Descriptor {
	items := listOf(gjson.ParseBytes(body), "miners", "data")
	out := make([]Descriptor, 0, len(items))
	for _, item := range items {
		if item.Type == gjson.String {
			out = append(out, Descriptor{ID: item.String()})
			continue
		}
		d := Descriptor{
			ID:      firstString(item, "id", "miner_id", "address"),
			Address: item.Get("address").String(),
			Model:   item.Get("model").String(),
			Status:  item.Get("status").String(),
		}
		out = append(out, d)
	}
	return out
}

func listOf(result gjson.Result, keys ...string) []gjson.Result {
	if result.IsArray() {
		return result.Array()
	}
	for _, key := range keys {
		if v := result.Get(key); v.IsArray() {
			return v.Array()
		}
	}
	return nil
}

func completionText(result gjson.Result) string {
	return firstString(result,
		"response", "completion", "text",
		"choices.0.text", "choices.0.message.content",
	)
}

func firstString(result gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := result.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
