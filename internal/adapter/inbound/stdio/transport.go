// Package stdio serves one agent endpoint over newline-delimited JSON-RPC on
// stdin/stdout, for MCP clients that spawn their servers as subprocesses.
package stdio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/toolgate/internal/ctxkey"
	"github.com/Sentinel-Gate/toolgate/internal/domain/gateway"
	"github.com/Sentinel-Gate/toolgate/internal/port/inbound"
)

// maxLineSize bounds one message, matching the HTTP body limit.
const maxLineSize = 1 << 20

// StdioTransport feeds each input line to the gateway as one request for a
// fixed agent and credential.
type StdioTransport struct {
	gateway    inbound.Gateway
	agentID    string
	credential string
	logger     *slog.Logger
}

// NewStdioTransport creates a stdio transport. credential is presented on
// every request exactly as a bearer token would be.
func NewStdioTransport(gw inbound.Gateway, agentID, credential string, logger *slog.Logger) *StdioTransport {
	return &StdioTransport{
		gateway:    gw,
		agentID:    agentID,
		credential: credential,
		logger:     logger,
	}
}

// Start serves os.Stdin and os.Stdout until EOF or cancellation.
func (t *StdioTransport) Start(ctx context.Context) error {
	return t.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve reads messages from in and writes replies to out, one per line.
// Lines that produce no reply (notifications) write nothing. A credential
// rejection is written as its JSON-RPC error and serving continues.
func (t *StdioTransport) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	w := bufio.NewWriter(out)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		requestID := uuid.NewString()
		logger := t.logger.With("request_id", requestID)
		reqCtx := ctxkey.WithLogger(ctx, logger)

		reply := t.gateway.Handle(reqCtx, gateway.Request{
			AgentID:    t.agentID,
			Credential: t.credential,
			RequestID:  requestID,
			Body:       append([]byte(nil), line...),
		})
		if reply.Err != nil {
			logger.Debug("request failed", "error", reply.Err)
		}
		if reply.Body == nil {
			continue
		}

		if _, err := w.Write(reply.Body); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("message exceeds %d bytes", maxLineSize)
		}
		return fmt.Errorf("read request: %w", err)
	}
	return nil
}

// Close is a no-op; stdin and stdout belong to the process.
func (t *StdioTransport) Close() error {
	return nil
}
