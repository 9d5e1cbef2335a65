// Package mcp provides MCP message types and JSON-RPC codec utilities
// for the toolgate gateway.
package mcp

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// MCP method names the gateway treats specially.
const (
	MethodInitialize   = "initialize"
	MethodPing         = "ping"
	MethodToolsList    = "tools/list"
	MethodToolsCall    = "tools/call"
	NotificationPrefix = "notifications/"
)

// ErrNotToolCall is returned by ToolCallParams for any other method.
var ErrNotToolCall = errors.New("not a tools/call request")

// Message wraps a decoded JSON-RPC message.
// It stores both the raw bytes (for id extraction and forwarding) and the
// decoded message (for policy inspection).
type Message struct {
	// Raw contains the original bytes of the message.
	Raw []byte

	// Decoded contains the parsed JSON-RPC message.
	// The concrete type is either *jsonrpc.Request or *jsonrpc.Response.
	Decoded jsonrpc.Message

	// Timestamp records when the message was received by the gateway.
	Timestamp time.Time

	// ParsedParams contains the request params as a generic map.
	// Set by ParseParams() for reuse. Nil if not a request or parsing failed.
	ParsedParams map[string]interface{}

	toolCall *ToolCallParams
}

// ToolCallMeta is the _meta object of a tools/call request.
type ToolCallMeta struct {
	// ContextTrusted is false when the arguments were derived from
	// untrusted tool output. Absent means no claim.
	ContextTrusted *bool `json:"contextTrusted,omitempty"`

	// ExternalAgentID names the agent delegating this call, if any.
	ExternalAgentID string `json:"externalAgentId,omitempty"`
}

// ToolCallParams is the params object of a tools/call request.
type ToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Meta      *ToolCallMeta          `json:"_meta,omitempty"`
}

// Untrusted reports whether the caller flagged the call's context as untrusted.
func (p *ToolCallParams) Untrusted() bool {
	return p.Meta != nil && p.Meta.ContextTrusted != nil && !*p.Meta.ContextTrusted
}

// IsRequest returns true if the message is a JSON-RPC request.
func (m *Message) IsRequest() bool {
	return m.Request() != nil
}

// IsResponse returns true if the message is a JSON-RPC response.
func (m *Message) IsResponse() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Response)
	return ok
}

// IsNotification returns true for a request without an id.
func (m *Message) IsNotification() bool {
	req := m.Request()
	return req != nil && !req.IsCall()
}

// Method returns the method name if this is a request, empty string otherwise.
func (m *Message) Method() string {
	req := m.Request()
	if req == nil {
		return ""
	}
	return req.Method
}

// IsToolCall returns true if this is a tools/call request.
func (m *Message) IsToolCall() bool {
	return m.Method() == MethodToolsCall
}

// IsNotificationMethod returns true for methods in the notifications/ namespace.
func (m *Message) IsNotificationMethod() bool {
	return strings.HasPrefix(m.Method(), NotificationPrefix)
}

// Request returns the underlying Request if this is a request message.
func (m *Message) Request() *jsonrpc.Request {
	if m.Decoded == nil {
		return nil
	}
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// Response returns the underlying Response if this is a response message.
func (m *Message) Response() *jsonrpc.Response {
	if m.Decoded == nil {
		return nil
	}
	resp, _ := m.Decoded.(*jsonrpc.Response)
	return resp
}

// ParseParams parses the request params and stores in ParsedParams.
// Safe to call multiple times (no-op if already parsed).
func (m *Message) ParseParams() map[string]interface{} {
	if m.ParsedParams != nil {
		return m.ParsedParams
	}

	req := m.Request()
	if req == nil || req.Params == nil {
		return nil
	}

	var params map[string]interface{}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil
	}

	m.ParsedParams = params
	return params
}

// ToolCallParams decodes the params of a tools/call request. The result is
// cached on the message.
func (m *Message) ToolCallParams() (*ToolCallParams, error) {
	if m.toolCall != nil {
		return m.toolCall, nil
	}
	if !m.IsToolCall() {
		return nil, ErrNotToolCall
	}
	req := m.Request()
	if len(req.Params) == 0 {
		return nil, NewError(CodeInvalidParams, "tool name is required")
	}

	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, NewError(CodeInvalidParams, "Invalid params")
	}
	if err := ValidateToolName(params.Name); err != nil {
		return nil, err
	}
	m.toolCall = &params
	return m.toolCall, nil
}

// RawID extracts the request ID from the raw message bytes as json.RawMessage.
// This is needed because the SDK's jsonrpc.ID type doesn't marshal correctly
// through interface{}, so we extract the ID directly from the raw JSON.
// Returns nil if no ID is found.
func (m *Message) RawID() json.RawMessage {
	if m.Raw == nil {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &raw); err != nil {
		return nil
	}

	// Preserves original format: number, string, or null
	return raw["id"]
}
