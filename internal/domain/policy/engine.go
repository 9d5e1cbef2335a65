package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Sentinel-Gate/toolgate/internal/domain/tool"
)

// Engine evaluates batches of tool calls against stored per-tool policies.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	tools    tool.Store
	policies Store
	logger   *slog.Logger
}

// NewEngine creates an Engine backed by the given stores.
func NewEngine(tools tool.Store, policies Store, logger *slog.Logger) *Engine {
	return &Engine{tools: tools, policies: policies, logger: logger}
}

// EvaluateBatch decides whether every call may proceed. Calls are evaluated
// in the order given and evaluation stops at the first blocked call.
// A store failure returns an error wrapping ErrDependencyUnavailable.
func (e *Engine) EvaluateBatch(ctx context.Context, calls []ToolCall, evalCtx EvaluationContext, trusted bool, mode GlobalToolPolicy) (BatchDecision, error) {
	if mode == GlobalPermissive {
		return allowed(), nil
	}

	// Keep original indexes so a block points at the caller's call.
	type indexed struct {
		idx  int
		call ToolCall
	}
	pending := make([]indexed, 0, len(calls))
	names := make([]string, 0, len(calls))
	seen := make(map[string]struct{}, len(calls))
	for i, c := range calls {
		if tool.IsReserved(c.Name) {
			continue
		}
		pending = append(pending, indexed{idx: i, call: c})
		if _, ok := seen[c.Name]; !ok {
			seen[c.Name] = struct{}{}
			names = append(names, c.Name)
		}
	}
	if len(pending) == 0 {
		return allowed(), nil
	}

	tools, err := e.tools.FindToolsByNames(ctx, names)
	if err != nil {
		return BatchDecision{}, fmt.Errorf("%w: find tools: %v", ErrDependencyUnavailable, err)
	}
	toolIDs := make(map[string]string, len(tools))
	ids := make([]string, 0, len(tools))
	for _, t := range tools {
		toolIDs[t.Name] = t.ID
		ids = append(ids, t.ID)
	}

	byTool := make(map[string][]ToolInvocationPolicy)
	if len(ids) > 0 {
		all, err := e.policies.FindPoliciesByToolIDs(ctx, ids)
		if err != nil {
			return BatchDecision{}, fmt.Errorf("%w: find policies: %v", ErrDependencyUnavailable, err)
		}
		for _, p := range all {
			byTool[p.ToolID] = append(byTool[p.ToolID], p)
		}
	}

	for _, p := range pending {
		var policies []ToolInvocationPolicy
		if id, ok := toolIDs[p.call.Name]; ok {
			policies = byTool[id]
		}
		blocked, policyID, reason := evaluateCall(p.call, policies, evalCtx, trusted)
		if blocked {
			e.logger.Debug("tool call blocked",
				"tool", p.call.Name,
				"index", p.idx,
				"policy_id", policyID,
				"trusted", trusted,
			)
			return BatchDecision{
				Allowed:      false,
				BlockedIndex: p.idx,
				BlockedCall:  p.call.Name,
				PolicyID:     policyID,
				Reason:       reason,
			}, nil
		}
	}

	return allowed(), nil
}

// evaluateCall applies a single tool's policies to one call. Specific
// policies pre-empt defaults entirely once any of them matched.
func evaluateCall(call ToolCall, policies []ToolInvocationPolicy, evalCtx EvaluationContext, trusted bool) (blocked bool, policyID, reason string) {
	if len(policies) == 0 {
		if !trusted {
			return true, "", ReasonForbiddenByDefault
		}
		return false, "", ""
	}

	var specific, defaults []ToolInvocationPolicy
	for _, p := range policies {
		if p.IsDefault() {
			defaults = append(defaults, p)
		} else {
			specific = append(specific, p)
		}
	}

	matched := make([]ToolInvocationPolicy, 0, len(specific))
	for _, p := range specific {
		if matchesAll(p.Conditions, call.Arguments, evalCtx) {
			matched = append(matched, p)
		}
	}
	if len(matched) == 0 {
		matched = defaults
	}
	if len(matched) == 0 {
		// Policies exist but none applies to this call.
		if !trusted {
			return true, "", ReasonForbiddenByDefault
		}
		return false, "", ""
	}

	allowUntrusted := false
	for _, p := range matched {
		switch p.Action {
		case ActionBlockAlways:
			return true, p.ID, reasonOr(p.Reason, ReasonBlocked)
		case ActionBlockWhenUntrusted:
			if !trusted {
				return true, p.ID, reasonOr(p.Reason, ReasonUntrustedContext)
			}
		case ActionAllowWhenUntrusted:
			allowUntrusted = true
		}
	}

	if !trusted && !allowUntrusted {
		return true, "", ReasonUntrustedContext
	}
	return false, "", ""
}

func reasonOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}
