// Package tool contains domain types for gateway-exposed tools and their
// composite naming scheme.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// NameSeparator joins a server name and a tool name into the composite
// tool name exposed to agents.
const NameSeparator = "__"

// BuiltinServer is the server name reserved for tools implemented by the
// gateway itself.
const BuiltinServer = "toolgate"

// DelegationPrefix marks calls that delegate work to another agent.
const DelegationPrefix = "agent" + NameSeparator

// ErrInvalidName is returned when a composite name has no server part.
var ErrInvalidName = errors.New("tool name must be <server>__<tool>")

// Tool is a tool registered with the gateway and exposed to one or more agents.
type Tool struct {
	// ID is the unique identifier used by policies.
	ID string
	// Name is the composite <serverName>__<toolName> name.
	Name string
	// Description is shown to agents in tools/list.
	Description string
	// InputSchema is the JSON Schema of the tool's arguments.
	InputSchema json.RawMessage
	// AgentIDs lists the agents this tool is exposed to.
	AgentIDs []string
}

// ServerName returns the server part of the tool's composite name.
func (t *Tool) ServerName() string {
	server, _, _ := SplitName(t.Name)
	return server
}

// ExposedTo reports whether the tool is assigned to the given agent.
func (t *Tool) ExposedTo(agentID string) bool {
	for _, id := range t.AgentIDs {
		if id == agentID {
			return true
		}
	}
	return false
}

// SplitName splits a composite name on the first separator.
// Server names may be arbitrary but the remainder keeps any further
// separators, so "a__b__c" yields ("a", "b__c").
func SplitName(name string) (server, toolName string, err error) {
	server, toolName, ok := strings.Cut(name, NameSeparator)
	if !ok || server == "" || toolName == "" {
		return "", "", ErrInvalidName
	}
	return server, toolName, nil
}

// IsReserved reports whether the call targets a gateway builtin or is an
// agent delegation call. Reserved calls bypass per-tool policies.
func IsReserved(name string) bool {
	if strings.HasPrefix(name, DelegationPrefix) {
		return true
	}
	server, _, err := SplitName(name)
	return err == nil && server == BuiltinServer
}

// Store resolves tools for policy evaluation and listing.
// Implementations: in-memory (seeded from configuration).
type Store interface {
	// FindToolsByNames returns the tools whose full composite name is in names.
	// Unknown names are silently absent from the result.
	FindToolsByNames(ctx context.Context, names []string) ([]Tool, error)

	// ListToolsForAgent returns every tool exposed to the agent, sorted by name.
	ListToolsForAgent(ctx context.Context, agentID string) ([]Tool, error)
}
