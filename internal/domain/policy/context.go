package policy

// EvaluationContext carries per-request facts that context.* conditions
// can reference. It is never persisted.
type EvaluationContext struct {
	// TeamIDs are the caller's team memberships.
	TeamIDs []string
	// ExternalAgentID identifies a delegating agent, empty when absent.
	ExternalAgentID string
}
