// Package inbound defines the ports through which transports drive the
// gateway core.
package inbound

import (
	"context"

	"github.com/Sentinel-Gate/toolgate/internal/domain/gateway"
)

// Gateway processes one inbound MCP request for an agent endpoint.
// Implementations must be safe for concurrent use.
type Gateway interface {
	Handle(ctx context.Context, req gateway.Request) gateway.Reply
}

// Compile-time check that the dispatcher satisfies the port.
var _ Gateway = (*gateway.Dispatcher)(nil)
