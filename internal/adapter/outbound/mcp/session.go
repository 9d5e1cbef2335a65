// Package mcp provides MCP client adapters for executing tool calls on
// upstream servers.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/Sentinel-Gate/toolgate/internal/port/outbound"
	"github.com/Sentinel-Gate/toolgate/pkg/mcp"
)

// errSessionExpired is returned by a transport when the upstream no longer
// recognizes the session; the session reinitializes and retries once.
var errSessionExpired = errors.New("upstream session expired")

// transport moves encoded JSON-RPC messages to one upstream.
type transport interface {
	// send delivers body. For calls (id valid) it returns the raw response
	// carrying id; for notifications it returns nil.
	send(ctx context.Context, body []byte, id jsonrpc.ID) ([]byte, error)
	// reset drops any transport-level session state.
	reset()
	Close() error
}

// Session is an initialized MCP client session over one transport.
type Session struct {
	name    string
	version string
	t       transport
	logger  *slog.Logger

	mu          sync.Mutex
	initialized bool
	nextID      atomic.Int64
}

func newSession(name, version string, t transport, logger *slog.Logger) *Session {
	return &Session{
		name:    name,
		version: version,
		t:       t,
		logger:  logger.With("upstream", name),
	}
}

type initializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ClientInfo      mcp.ServerInfo         `json:"clientInfo"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallTool invokes toolName (without the server prefix) and returns its result.
func (s *Session) CallTool(ctx context.Context, toolName string, args json.RawMessage) (*outbound.ToolResult, error) {
	result, err := s.callTool(ctx, toolName, args)
	if errors.Is(err, errSessionExpired) {
		s.logger.Debug("upstream session expired, reinitializing")
		s.invalidate()
		result, err = s.callTool(ctx, toolName, args)
	}
	return result, err
}

func (s *Session) callTool(ctx context.Context, toolName string, args json.RawMessage) (*outbound.ToolResult, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	resp, err := s.request(ctx, mcp.MethodToolsCall, callToolParams{Name: toolName, Arguments: args})
	if err != nil {
		return nil, err
	}

	var wireErr *jsonrpc.Error
	if resp.Error != nil {
		if !errors.As(resp.Error, &wireErr) {
			return nil, fmt.Errorf("upstream %s: %w", s.name, resp.Error)
		}
		content, err := json.Marshal(mcp.CallToolResult{
			Content: []mcp.Content{{Type: "text", Text: wireErr.Message}},
			IsError: true,
		})
		if err != nil {
			return nil, fmt.Errorf("marshaling upstream error: %w", err)
		}
		return &outbound.ToolResult{Content: content, IsError: true, Size: len(content)}, nil
	}

	var status struct {
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(resp.Result, &status); err != nil {
		return nil, fmt.Errorf("upstream %s: malformed tool result: %w", s.name, err)
	}
	return &outbound.ToolResult{
		Content: resp.Result,
		IsError: status.IsError,
		Size:    len(resp.Result),
	}, nil
}

// ensureInitialized runs the initialize handshake once per session.
// Concurrent callers wait for the first handshake.
func (s *Session) ensureInitialized(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	resp, err := s.request(ctx, mcp.MethodInitialize, initializeParams{
		ProtocolVersion: mcp.ProtocolVersion,
		Capabilities:    map[string]interface{}{},
		ClientInfo:      mcp.ServerInfo{Name: "toolgate", Version: s.version},
	})
	if err != nil {
		return fmt.Errorf("initialize %s: %w", s.name, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize %s: %w", s.name, resp.Error)
	}

	if err := s.notify(ctx, "notifications/initialized"); err != nil {
		return fmt.Errorf("initialized notification %s: %w", s.name, err)
	}

	s.initialized = true
	s.logger.Debug("upstream session initialized")
	return nil
}

func (s *Session) invalidate() {
	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()
	s.t.reset()
}

func (s *Session) request(ctx context.Context, method string, params interface{}) (*jsonrpc.Response, error) {
	id, err := jsonrpc.MakeID(float64(s.nextID.Add(1)))
	if err != nil {
		return nil, err
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	body, err := jsonrpc.EncodeMessage(&jsonrpc.Request{ID: id, Method: method, Params: rawParams})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	raw, err := s.t.send(ctx, body, id)
	if err != nil {
		return nil, err
	}
	return decodeResponse(raw)
}

func (s *Session) notify(ctx context.Context, method string) error {
	body, err := jsonrpc.EncodeMessage(&jsonrpc.Request{Method: method})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	_, err = s.t.send(ctx, body, jsonrpc.ID{})
	return err
}

// Close closes the underlying transport.
func (s *Session) Close() error {
	return s.t.Close()
}

func decodeResponse(raw []byte) (*jsonrpc.Response, error) {
	msg, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	resp, ok := msg.(*jsonrpc.Response)
	if !ok {
		return nil, fmt.Errorf("expected response, got %T", msg)
	}
	return resp, nil
}

// matchResponse reports whether raw is the response to id.
func matchResponse(raw []byte, id jsonrpc.ID) bool {
	resp, err := decodeResponse(raw)
	if err != nil {
		return false
	}
	return resp.ID.Raw() == id.Raw()
}
