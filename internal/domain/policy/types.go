// Package policy contains domain types and the evaluation engine for
// per-tool invocation policies.
package policy

import "errors"

// Action is what a matching policy does to a tool call.
type Action string

const (
	// ActionBlockAlways blocks the call regardless of trust.
	ActionBlockAlways Action = "block_always"
	// ActionBlockWhenUntrusted blocks the call only when the context is untrusted.
	ActionBlockWhenUntrusted Action = "block_when_context_is_untrusted"
	// ActionAllowWhenUntrusted allows the call even when the context is untrusted.
	ActionAllowWhenUntrusted Action = "allow_when_context_is_untrusted"
)

// IsValid returns true if the action is a known action.
func (a Action) IsValid() bool {
	switch a {
	case ActionBlockAlways, ActionBlockWhenUntrusted, ActionAllowWhenUntrusted:
		return true
	default:
		return false
	}
}

// GlobalToolPolicy is the organization-wide enforcement mode.
type GlobalToolPolicy string

const (
	// GlobalPermissive allows every call without per-tool evaluation.
	GlobalPermissive GlobalToolPolicy = "permissive"
	// GlobalRestrictive enforces per-tool policies.
	GlobalRestrictive GlobalToolPolicy = "restrictive"
)

// IsValid returns true if the mode is a known mode.
func (g GlobalToolPolicy) IsValid() bool {
	return g == GlobalPermissive || g == GlobalRestrictive
}

// Operator compares a resolved value against a condition value.
type Operator string

const (
	OpEqual       Operator = "equal"
	OpNotEqual    Operator = "notEqual"
	OpContains    Operator = "contains"
	OpNotContains Operator = "notContains"
	OpStartsWith  Operator = "startsWith"
	OpEndsWith    Operator = "endsWith"
	OpRegex       Operator = "regex"
)

// IsValid returns true if the operator is a known operator.
func (o Operator) IsValid() bool {
	switch o {
	case OpEqual, OpNotEqual, OpContains, OpNotContains, OpStartsWith, OpEndsWith, OpRegex:
		return true
	default:
		return false
	}
}

// Reserved condition keys resolved from the EvaluationContext rather than
// from the call arguments.
const (
	ContextPrefix     = "context."
	KeyExternalAgent  = ContextPrefix + "externalAgentId"
	KeyContextTeamIDs = ContextPrefix + "teamIds"
)

// Condition is a single predicate over a call's arguments or context.
type Condition struct {
	// Key is a dotted path into the arguments or a context.* key.
	Key string
	// Operator is the comparison to apply.
	Operator Operator
	// Value is the operand, compared as a string.
	Value string
}

// ToolInvocationPolicy is a rule attached to a single tool.
// A policy without conditions is the tool's default policy.
type ToolInvocationPolicy struct {
	ID         string
	ToolID     string
	Conditions []Condition
	Action     Action
	// Reason is shown to the agent when this policy blocks a call.
	Reason string
}

// IsDefault reports whether the policy has no conditions.
func (p *ToolInvocationPolicy) IsDefault() bool {
	return len(p.Conditions) == 0
}

// ToolCall is a proposed invocation of a tool.
type ToolCall struct {
	// Name is the composite tool name.
	Name string
	// Arguments are the decoded call arguments.
	Arguments map[string]interface{}
}

// BatchDecision is the outcome of evaluating a batch of tool calls.
type BatchDecision struct {
	// Allowed is true when every call in the batch may proceed.
	Allowed bool
	// BlockedIndex is the position of the first blocked call, or -1.
	BlockedIndex int
	// BlockedCall is the name of the first blocked call.
	BlockedCall string
	// PolicyID is the policy that caused the block, empty for generic blocks.
	PolicyID string
	// Reason explains the block. Empty when allowed.
	Reason string
}

// Generic block reasons used when a policy carries no reason of its own.
const (
	ReasonBlocked            = "blocked by tool policy"
	ReasonUntrustedContext   = "tool call blocked: context is untrusted"
	ReasonForbiddenByDefault = "tool call forbidden by default in untrusted context"
)

// ErrDependencyUnavailable is returned when the tool or policy store cannot
// be read. Callers must treat it as retryable and never as an allow.
var ErrDependencyUnavailable = errors.New("policy store unavailable")

func allowed() BatchDecision {
	return BatchDecision{Allowed: true, BlockedIndex: -1}
}
