package gateway

import (
	"github.com/Sentinel-Gate/toolgate/internal/domain/auth"
	"github.com/Sentinel-Gate/toolgate/pkg/mcp"
)

// TrustPolicy decides whether a request's context is trusted.
type TrustPolicy struct {
	methods map[auth.Method]bool
}

// NewTrustPolicy trusts callers authenticated by one of methods.
func NewTrustPolicy(methods []auth.Method) TrustPolicy {
	set := make(map[auth.Method]bool, len(methods))
	for _, m := range methods {
		set[m] = true
	}
	return TrustPolicy{methods: set}
}

// Trusted reports whether calls made under result are trusted. Administrators
// and trusted auth methods are trusted unless any call in the batch declares
// its context untrusted.
func (p TrustPolicy) Trusted(result *auth.Result, calls []*mcp.ToolCallParams) bool {
	if result == nil {
		return false
	}
	for _, c := range calls {
		if c != nil && c.Untrusted() {
			return false
		}
	}
	return result.IsAdmin || p.methods[result.Method]
}

// externalAgentID resolves the delegating agent: the request header wins,
// otherwise the first call carrying _meta.externalAgentId.
func externalAgentID(header string, calls []*mcp.ToolCallParams) string {
	if header != "" {
		return header
	}
	for _, c := range calls {
		if c != nil && c.Meta != nil && c.Meta.ExternalAgentID != "" {
			return c.Meta.ExternalAgentID
		}
	}
	return ""
}
