package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Sentinel-Gate/toolgate/internal/domain/auth"
	"github.com/Sentinel-Gate/toolgate/internal/domain/gateway"
	"github.com/Sentinel-Gate/toolgate/pkg/mcp"
)

// discardLogger returns a logger that discards all output (for tests)
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway records the last request and returns a canned reply.
type fakeGateway struct {
	mu    sync.Mutex
	last  gateway.Request
	calls int
	reply gateway.Reply
}

func (g *fakeGateway) Handle(_ context.Context, req gateway.Request) gateway.Reply {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = req
	g.calls++
	return g.reply
}

func newTestServer(t *testing.T, gw *fakeGateway, opts ...Option) *httptest.Server {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	srv := httptest.NewServer(NewHTTPTransport(gw, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url string, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHandler_ForwardsRequestToGateway(t *testing.T) {
	gw := &fakeGateway{reply: gateway.Reply{Body: []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)}}
	srv := newTestServer(t, gw)

	body := `{"jsonrpc":"2.0","id":1,"method":"ping"}`
	resp := post(t, srv.URL+"/v1/mcp/agent-1", body, map[string]string{
		"Authorization":       "Bearer tgk_secret",
		ExternalAgentIDHeader: "ext-7",
		RequestIDHeader:       "req-42",
	})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := resp.Header.Get(MCPProtocolVersionHeader); got != mcp.ProtocolVersion {
		t.Errorf("%s = %q, want %q", MCPProtocolVersionHeader, got, mcp.ProtocolVersion)
	}
	if got := resp.Header.Get(RequestIDHeader); got != "req-42" {
		t.Errorf("request id = %q, want req-42", got)
	}
	got, _ := io.ReadAll(resp.Body)
	if string(got) != string(gw.reply.Body) {
		t.Errorf("body = %s", got)
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.last.AgentID != "agent-1" {
		t.Errorf("AgentID = %q", gw.last.AgentID)
	}
	if gw.last.Credential != "tgk_secret" {
		t.Errorf("Credential = %q", gw.last.Credential)
	}
	if gw.last.ExternalAgentID != "ext-7" {
		t.Errorf("ExternalAgentID = %q", gw.last.ExternalAgentID)
	}
	if gw.last.RequestID != "req-42" {
		t.Errorf("RequestID = %q", gw.last.RequestID)
	}
	if string(gw.last.Body) != body {
		t.Errorf("Body = %s", gw.last.Body)
	}
}

func TestHandler_GeneratesRequestID(t *testing.T) {
	gw := &fakeGateway{reply: gateway.Reply{Body: []byte(`{}`)}}
	srv := newTestServer(t, gw)

	resp := post(t, srv.URL+"/v1/mcp/a", `{}`, nil)
	id := resp.Header.Get(RequestIDHeader)
	if id == "" {
		t.Fatal("expected a generated request id")
	}
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.last.RequestID != id {
		t.Errorf("gateway saw %q, response carried %q", gw.last.RequestID, id)
	}
}

func TestHandler_ReplyStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		reply      gateway.Reply
		wantStatus int
		wantHeader string
	}{
		{
			name:       "unauthorized",
			reply:      gateway.Reply{Body: mcp.ErrorResponse(nil, mcp.CodeUnauthorized, "Unauthorized"), Err: auth.ErrUnauthorized},
			wantStatus: http.StatusUnauthorized,
			wantHeader: "WWW-Authenticate",
		},
		{
			name: "dependency unavailable",
			reply: gateway.Reply{
				Body: mcp.ErrorResponse(nil, mcp.CodeDependencyUnavailable, "Service temporarily unavailable"),
				Err:  fmt.Errorf("%w: %w", gateway.ErrUnavailable, errors.New("store down")),
			},
			wantStatus: http.StatusServiceUnavailable,
			wantHeader: "Retry-After",
		},
		{
			name:       "malformed",
			reply:      gateway.Reply{Body: mcp.ErrorResponse(nil, mcp.CodeParseError, "Parse error"), Err: gateway.ErrMalformedRequest},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "internal",
			reply:      gateway.Reply{Body: mcp.ErrorResponse(nil, mcp.CodeInternalError, "Internal error"), Err: errors.New("boom")},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "notifications only",
			reply:      gateway.Reply{},
			wantStatus: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeGateway{reply: tt.reply})
			resp := post(t, srv.URL+"/v1/mcp/a", `{"jsonrpc":"2.0","method":"ping","id":1}`, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantHeader != "" && resp.Header.Get(tt.wantHeader) == "" {
				t.Errorf("missing %s header", tt.wantHeader)
			}
			body, _ := io.ReadAll(resp.Body)
			if tt.reply.Body != nil && !bytes.Equal(body, tt.reply.Body) {
				t.Errorf("body = %s, want %s", body, tt.reply.Body)
			}
		})
	}
}

func TestHandler_RejectsBeforeGateway(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		path        string
		contentType string
		origin      string
		body        string
		wantStatus  int
	}{
		{"wrong content type", http.MethodPost, "/v1/mcp/a", "text/plain", "", "{}", http.StatusUnsupportedMediaType},
		{"missing content type", http.MethodPost, "/v1/mcp/a", "", "", "{}", http.StatusUnsupportedMediaType},
		{"body too large", http.MethodPost, "/v1/mcp/a", "application/json", "", strings.Repeat("x", maxRequestBodySize+1), http.StatusRequestEntityTooLarge},
		{"get not allowed", http.MethodGet, "/v1/mcp/a", "", "", "", http.StatusMethodNotAllowed},
		{"unknown path", http.MethodPost, "/mcp", "application/json", "", "{}", http.StatusNotFound},
		{"foreign origin", http.MethodPost, "/v1/mcp/a", "application/json", "https://evil.example", "{}", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{reply: gateway.Reply{Body: []byte(`{}`)}}
			srv := newTestServer(t, gw)

			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			_ = resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			gw.mu.Lock()
			defer gw.mu.Unlock()
			if gw.calls != 0 {
				t.Errorf("gateway called %d times, want 0", gw.calls)
			}
		})
	}
}

func TestHandler_AllowedOrigin(t *testing.T) {
	gw := &fakeGateway{reply: gateway.Reply{Body: []byte(`{}`)}}
	srv := newTestServer(t, gw, WithAllowedOrigins([]string{"https://app.example"}))

	resp := post(t, srv.URL+"/v1/mcp/a", `{}`, map[string]string{"Origin": "https://app.example"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandler_ContentTypeWithCharset(t *testing.T) {
	gw := &fakeGateway{reply: gateway.Reply{Body: []byte(`{}`)}}
	srv := newTestServer(t, gw)

	resp := post(t, srv.URL+"/v1/mcp/a", `{}`, map[string]string{"Content-Type": "application/json; charset=utf-8"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestTransport_WithMiddlewareWrapsAgentEndpoint(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	gw := &fakeGateway{reply: gateway.Reply{Body: []byte(`{}`)}}
	srv := newTestServer(t, gw, WithMiddleware(mark("first"), mark("second")))
	post(t, srv.URL+"/v1/mcp/a", `{}`, nil)

	if strings.Join(order, ",") != "first,second" {
		t.Errorf("middleware order = %v, want [first second]", order)
	}

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if len(order) != 2 {
		t.Errorf("operational endpoints must bypass agent middleware, got %v", order)
	}
}
