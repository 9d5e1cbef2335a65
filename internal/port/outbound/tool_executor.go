// Package outbound defines the outbound port interfaces for reaching
// downstream tool servers.
package outbound

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnknownServer is returned when no downstream is configured for a
// tool's server prefix.
var ErrUnknownServer = errors.New("no upstream configured for tool server")

// ToolCall is one allowed tools/call forwarded downstream.
type ToolCall struct {
	// Name is the full namespaced name, <server>__<tool>.
	Name string
	// Arguments is the raw arguments object as received.
	Arguments json.RawMessage
}

// ExecContext carries the resolved caller identity to the executor.
type ExecContext struct {
	AgentID        string
	IdentityID     string
	OrganizationID string
	RequestID      string
}

// ToolResult is the downstream result of one call.
type ToolResult struct {
	// Content is the MCP result object returned by the tool server.
	Content json.RawMessage
	// IsError is true when the tool reported failure, either via
	// result.isError or a JSON-RPC error.
	IsError bool
	// Size is the byte length of Content.
	Size int
}

// ToolExecutor is the outbound port for executing allowed tool calls.
// Adapters implement this for different transports.
type ToolExecutor interface {
	// ExecuteToolCall runs one call downstream. A returned error means the
	// downstream could not be reached or answered garbage; tool-level
	// failures are reported via ToolResult.IsError.
	ExecuteToolCall(ctx context.Context, call ToolCall, execCtx ExecContext) (*ToolResult, error)
}
