// Package client posts chat queries to the configured backend endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/sipeed/picochat/pkg/logger"
)

// FallbackReply is used when a successful reply carries neither field.
const FallbackReply = "Sorry, I didn't understand that."

const maxReplyBytes = 4 << 20

// replyFields are tried in order; the first truthy one wins.
var replyFields = []string{"response", "message"}

type queryRequest struct {
	Query string `json:"query"`
}

// Client sends one query per call. Endpoint and headers may be updated
// between calls.
type Client struct {
	mu         sync.RWMutex
	endpoint   string
	headers    map[string]string
	httpClient *http.Client
}

func DefaultHeaders() map[string]string {
	return map[string]string{"Content-Type": "application/json"}
}

// New creates a client for endpoint. Extra headers are merged over the
// default header set.
func New(endpoint string, headers map[string]string, timeout time.Duration) *Client {
	c := &Client{
		endpoint:   endpoint,
		headers:    DefaultHeaders(),
		httpClient: &http.Client{Timeout: timeout},
	}
	for k, v := range headers {
		c.headers[k] = v
	}
	return c
}

func (c *Client) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint
}

// Headers returns a copy of the headers sent with every query.
func (c *Client) Headers() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		out[k] = v
	}
	return out
}

// Update applies a partial configuration change. An empty endpoint keeps
// the current one; headers overwrite existing keys.
func (c *Client) Update(endpoint string, headers map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if endpoint != "" {
		c.endpoint = endpoint
	}
	for k, v := range headers {
		c.headers[k] = v
	}
}

// Query posts text and returns the display string extracted from the reply.
func (c *Client) Query(ctx context.Context, text string) (string, error) {
	c.mu.RLock()
	endpoint := c.endpoint
	headers := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		headers[k] = v
	}
	hc := c.httpClient
	c.mu.RUnlock()

	body, err := json.Marshal(queryRequest{Query: text})
	if err != nil {
		return "", fmt.Errorf("encoding query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &NetworkError{Err: fmt.Errorf("building request: %w", err)}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return "", &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", &NetworkError{Err: fmt.Errorf("reading reply: %w", err)}
	}

	logger.DebugCF("client", "Reply received", map[string]interface{}{
		"status":     resp.StatusCode,
		"bytes":      len(data),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	return ExtractReply(data)
}

// ExtractReply applies the reply fallback chain to a response body. Only
// JSON-truthy values count: empty strings, zero, false and null fall
// through to the next field. A null body is a parse error.
func ExtractReply(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", &ParseError{Body: truncate(string(data), 200)}
	}
	root := gjson.ParseBytes(data)
	// Field access on a null body fails like a malformed one.
	if root.Type == gjson.Null {
		return "", &ParseError{Body: truncate(string(data), 200)}
	}
	if !root.IsObject() {
		return FallbackReply, nil
	}
	for _, field := range replyFields {
		v := root.Get(field)
		if truthy(v) {
			return v.String(), nil
		}
	}
	return FallbackReply, nil
}

func truthy(v gjson.Result) bool {
	if !v.Exists() {
		return false
	}
	switch v.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.String:
		return v.Str != ""
	case gjson.Number:
		return v.Num != 0
	default:
		return true
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
