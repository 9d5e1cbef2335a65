// Package audit contains domain types for tool-call audit logging.
package audit

import (
	"strings"
	"time"
)

// Decision constants for audit records.
const (
	// DecisionAllow indicates the tool call was forwarded.
	DecisionAllow = "allow"
	// DecisionDeny indicates the tool call was refused by policy.
	DecisionDeny = "deny"
)

// sensitiveKeywords lists substrings that indicate a sensitive argument key.
// Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// redactedValue replaces sensitive argument values.
const redactedValue = "***REDACTED***"

// RedactSensitiveArgs returns a copy of args with sensitive values masked,
// descending into nested objects.
func RedactSensitiveArgs(args map[string]interface{}) map[string]interface{} {
	if len(args) == 0 {
		return args
	}
	redacted := make(map[string]interface{}, len(args))
	for k, v := range args {
		switch {
		case isSensitiveKey(k):
			redacted[k] = redactedValue
		default:
			if nested, ok := v.(map[string]interface{}); ok {
				redacted[k] = RedactSensitiveArgs(nested)
			} else {
				redacted[k] = v
			}
		}
	}
	return redacted
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Record is one audited tool call.
type Record struct {
	// ID uniquely identifies the record.
	ID string `json:"id"`
	// Timestamp is when the call was received (UTC).
	Timestamp time.Time `json:"timestamp"`
	// RequestID correlates records of one inbound request.
	RequestID string `json:"request_id,omitempty"`

	AgentID        string `json:"agent_id"`
	OrganizationID string `json:"organization_id"`
	// IdentityID is the resolved caller (token or user ID).
	IdentityID string `json:"identity_id"`
	UserID     string `json:"user_id,omitempty"`
	// AuthMethod is the strategy that authenticated the caller.
	AuthMethod string `json:"auth_method"`

	ToolName      string                 `json:"tool_name"`
	ToolArguments map[string]interface{} `json:"tool_arguments,omitempty"`
	Trusted       bool                   `json:"trusted"`

	// Decision is DecisionAllow or DecisionDeny.
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
	PolicyID string `json:"policy_id,omitempty"`

	// DurationMicros is the downstream execution time. Zero for denials.
	DurationMicros int64 `json:"duration_us"`
	// ResultSize is the byte length of the downstream result.
	ResultSize int  `json:"result_size"`
	IsError    bool `json:"is_error"`
}
