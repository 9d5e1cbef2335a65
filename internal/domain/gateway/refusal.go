package gateway

import (
	"errors"

	"github.com/Sentinel-Gate/toolgate/pkg/mcp"
)

// refusalResponse answers a blocked tools/call with a tool result carrying
// the refusal, so the calling model sees the reason instead of a
// transport failure.
func refusalResponse(msg *mcp.Message, toolName, reason string) []byte {
	body, err := mcp.ResultResponse(msg.RawID(), mcp.RefusalResult(toolName, reason))
	if err != nil {
		return mcp.ErrorResponse(msg.RawID(), mcp.CodeInternalError, "Internal error")
	}
	return body
}

// errorResponse answers a malformed message with the protocol error it
// failed with.
func errorResponse(msg *mcp.Message, err error) []byte {
	var rpcErr *mcp.Error
	if !errors.As(err, &rpcErr) {
		rpcErr = mcp.NewError(mcp.CodeInternalError, "Internal error")
	}
	return mcp.ErrorResponse(msg.RawID(), rpcErr.Code, rpcErr.Message)
}
