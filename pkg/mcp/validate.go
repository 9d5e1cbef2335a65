package mcp

import (
	"regexp"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// MaxToolNameLength is the maximum length of a tool name.
const MaxToolNameLength = 255

// toolNamePattern validates tool names.
// Tool names must start with a letter and contain only alphanumeric characters,
// underscores, hyphens and dots.
var toolNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)

// ValidateRequest checks that an inbound message is a well-formed JSON-RPC
// request or notification. Responses are not accepted from clients.
func ValidateRequest(msg *Message) error {
	if msg == nil || msg.Decoded == nil {
		return NewError(CodeParseError, "Parse error")
	}

	req, ok := msg.Decoded.(*jsonrpc.Request)
	if !ok {
		return NewError(CodeInvalidRequest, "Invalid Request")
	}
	if req.Method == "" {
		return NewError(CodeInvalidRequest, "Invalid Request")
	}
	return nil
}

// ValidateToolName validates a tool name against injection patterns.
//
// Valid tool names:
//   - Start with a letter
//   - Contain only alphanumeric characters, underscores, hyphens and dots
//   - Are at most MaxToolNameLength characters
//   - Do not contain path traversal sequences
func ValidateToolName(name string) error {
	if name == "" {
		return NewError(CodeInvalidParams, "tool name is required")
	}

	if len(name) > MaxToolNameLength {
		return NewError(CodeInvalidParams, "tool name too long")
	}

	// Path traversal check (before pattern match for clearer error)
	if strings.Contains(name, "..") || strings.Contains(name, "/") {
		return NewError(CodeInvalidParams, "invalid characters in tool name")
	}

	if !toolNamePattern.MatchString(name) {
		return NewError(CodeInvalidParams, "invalid tool name format")
	}

	return nil
}
