package gateway

import (
	"context"
	"errors"

	"github.com/Sentinel-Gate/toolgate/internal/domain/auth"
	"github.com/Sentinel-Gate/toolgate/internal/domain/policy"
)

var (
	// ErrMalformedRequest is set on a Reply whose body could not be parsed
	// as JSON-RPC at all.
	ErrMalformedRequest = errors.New("malformed JSON-RPC request")

	// ErrUnavailable is set on a Reply when a store or issuer could not be
	// reached. The caller should retry.
	ErrUnavailable = errors.New("gateway dependency unavailable")
)

// isDependencyFailure reports whether err is a retryable dependency failure
// from authentication or policy evaluation.
func isDependencyFailure(err error) bool {
	return errors.Is(err, auth.ErrDependencyUnavailable) ||
		errors.Is(err, policy.ErrDependencyUnavailable) ||
		errors.Is(err, ErrUnavailable)
}

// SafeErrorMessage returns a client-facing message for err.
// Internal details never reach the client.
func SafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, auth.ErrUnauthorized):
		return "Unauthorized"
	case isDependencyFailure(err):
		return "Service temporarily unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "Request timeout"
	default:
		return "Internal error"
	}
}
