package mcp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

const (
	// maxResponseBodySize is the maximum response body size from upstream.
	// Prevents OOM from a malicious upstream sending unbounded responses.
	maxResponseBodySize = 10 * 1024 * 1024 // 10MB

	// maxErrorBodySize bounds how much of a non-2xx body ends up in errors.
	maxErrorBodySize = 512

	sessionHeader = "Mcp-Session-Id"
)

// HTTPClient connects to an MCP server via HTTP (Streamable HTTP transport).
// Each message is one POST; responses arrive as JSON or as an SSE stream.
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
	headers    map[string]string

	mu        sync.Mutex
	sessionID string // Mcp-Session-Id from server
}

// ClientOption is a functional option for configuring HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient = client
	}
}

// WithTimeout sets the request timeout for the HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		if c.httpClient != nil && d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHeaders sets static headers sent on every request (e.g. upstream auth).
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *HTTPClient) {
		c.headers = headers
	}
}

// NewHTTPClient creates a client for the given MCP server HTTP endpoint.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// send POSTs one JSON-RPC message and returns the response matching id.
func (c *HTTPClient) send(ctx context.Context, body []byte, id jsonrpc.ID) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if sid := resp.Header.Get(sessionHeader); sid != "" {
		c.mu.Lock()
		c.sessionID = sid
		c.mu.Unlock()
	}

	// A 404 on an established session means the server dropped it.
	if resp.StatusCode == http.StatusNotFound && sessionID != "" {
		return nil, errSessionExpired
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if !id.IsValid() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodySize))
		return nil, nil
	}

	limited := io.LimitReader(resp.Body, maxResponseBodySize)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		return readEventStream(limited, id)
	}

	respBody, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return bytes.TrimSpace(respBody), nil
}

// readEventStream scans SSE events until one carries the response to id.
// Server requests and notifications interleaved on the stream are skipped.
func readEventStream(r io.Reader, id jsonrpc.ID) ([]byte, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseBodySize)

	var data bytes.Buffer
	dispatch := func() []byte {
		defer data.Reset()
		if data.Len() == 0 {
			return nil
		}
		if payload := bytes.TrimSpace(data.Bytes()); matchResponse(payload, id) {
			return append([]byte(nil), payload...)
		}
		return nil
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			if payload := dispatch(); payload != nil {
				return payload, nil
			}
			continue
		}
		if value, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.Write(bytes.TrimPrefix(value, []byte(" ")))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading event stream: %w", err)
	}
	// Stream ended without a trailing blank line.
	if payload := dispatch(); payload != nil {
		return payload, nil
	}
	return nil, fmt.Errorf("event stream closed without response")
}

func (c *HTTPClient) reset() {
	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()
}

// Close releases idle connections. Close is idempotent.
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Compile-time check that HTTPClient implements transport.
var _ transport = (*HTTPClient)(nil)
