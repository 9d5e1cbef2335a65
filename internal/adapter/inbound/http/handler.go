package http

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/Sentinel-Gate/toolgate/internal/domain/auth"
	"github.com/Sentinel-Gate/toolgate/internal/domain/gateway"
	"github.com/Sentinel-Gate/toolgate/internal/port/inbound"
	"github.com/Sentinel-Gate/toolgate/pkg/mcp"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// MCPProtocolVersionHeader is the header for protocol version.
const MCPProtocolVersionHeader = "MCP-Protocol-Version"

// ExternalAgentIDHeader names the agent a call is made on behalf of.
const ExternalAgentIDHeader = "X-External-Agent-Id"

// retryAfterSeconds is sent with 503 responses.
const retryAfterSeconds = "1"

// mcpHandler serves POST /v1/mcp/{agentID}.
func mcpHandler(gw inbound.Gateway) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := LoggerFromContext(r.Context())

		agentID := r.PathValue("agentID")
		if agentID == "" {
			http.Error(w, "agent id required", http.StatusNotFound)
			return
		}

		if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
			http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			logger.Warn("failed to read request body", "error", err)
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		reply := gw.Handle(r.Context(), gateway.Request{
			AgentID:         agentID,
			Credential:      bearerCredential(r),
			ExternalAgentID: r.Header.Get(ExternalAgentIDHeader),
			RequestID:       RequestIDFromContext(r.Context()),
			Body:            body,
		})
		writeReply(w, reply)
	})
}

// writeReply maps a gateway reply onto the HTTP response.
func writeReply(w http.ResponseWriter, reply gateway.Reply) {
	status := http.StatusOK
	switch {
	case errors.Is(reply.Err, auth.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", `Bearer realm="toolgate"`)
		status = http.StatusUnauthorized
	case errors.Is(reply.Err, gateway.ErrUnavailable):
		w.Header().Set("Retry-After", retryAfterSeconds)
		status = http.StatusServiceUnavailable
	case errors.Is(reply.Err, gateway.ErrMalformedRequest):
		status = http.StatusBadRequest
	case reply.Err != nil:
		status = http.StatusInternalServerError
	}

	if reply.Body == nil {
		if status == http.StatusOK {
			status = http.StatusAccepted
		}
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(MCPProtocolVersionHeader, mcp.ProtocolVersion)
	w.WriteHeader(status)
	_, _ = w.Write(reply.Body)
}
