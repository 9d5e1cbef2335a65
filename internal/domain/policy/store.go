package policy

import "context"

// Store provides read access to tool invocation policies.
// Implementations: in-memory (seeded from configuration).
type Store interface {
	// FindPoliciesByToolIDs returns every policy attached to any of the
	// given tools, in storage order.
	FindPoliciesByToolIDs(ctx context.Context, toolIDs []string) ([]ToolInvocationPolicy, error)
}

// GlobalPolicyStore resolves an organization's enforcement mode.
type GlobalPolicyStore interface {
	// GetGlobalToolPolicy returns the organization's mode.
	// Implementations return GlobalRestrictive for unknown organizations.
	GetGlobalToolPolicy(ctx context.Context, organizationID string) (GlobalToolPolicy, error)
}
