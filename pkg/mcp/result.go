package mcp

import "encoding/json"

// ProtocolVersion is the MCP revision advertised in initialize responses.
const ProtocolVersion = "2025-06-18"

// Content is one element of a tool result's content array.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallToolResult is the result object of a tools/call response.
type CallToolResult struct {
	Content           []Content   `json:"content"`
	IsError           bool        `json:"isError,omitempty"`
	StructuredContent interface{} `json:"structuredContent,omitempty"`
}

// Refusal is the structured content of a policy refusal.
type Refusal struct {
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason"`
	ToolName string `json:"toolName"`
}

// RefusalResult builds the tool result returned in place of a blocked call.
// Refusals are results, never transport errors, so models can read them.
func RefusalResult(toolName, reason string) CallToolResult {
	return CallToolResult{
		Content: []Content{{Type: "text", Text: reason}},
		IsError: true,
		StructuredContent: Refusal{
			Allowed:  false,
			Reason:   reason,
			ToolName: toolName,
		},
	}
}

// ToolEntry describes one tool in a tools/list response.
type ToolEntry struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolsListResult is the result object of a tools/list response.
type ToolsListResult struct {
	Tools []ToolEntry `json:"tools"`
}

// ServerInfo identifies the gateway in initialize responses.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the result object of an initialize response.
type InitializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      ServerInfo             `json:"serverInfo"`
}

// NewInitializeResult advertises the tools capability only.
func NewInitializeResult(name, version string) InitializeResult {
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		ServerInfo: ServerInfo{Name: name, Version: version},
	}
}
