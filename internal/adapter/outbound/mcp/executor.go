package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sentinel-Gate/toolgate/internal/domain/tool"
	"github.com/Sentinel-Gate/toolgate/internal/port/outbound"
)

// Upstream describes one downstream MCP server. Exactly one of URL or
// Command is set.
type Upstream struct {
	// Name is the server prefix of the tools it serves (<Name>__<tool>).
	Name    string
	URL     string
	Headers map[string]string
	Command string
	Args    []string
	Env     []string
	Timeout time.Duration
}

// Executor routes allowed tool calls to upstream sessions by server prefix.
// It implements outbound.ToolExecutor.
type Executor struct {
	sessions map[string]*Session
	logger   *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	version     string
	httpOptions []ClientOption
}

// WithClientVersion sets the version reported in initialize clientInfo.
func WithClientVersion(v string) ExecutorOption {
	return func(c *executorConfig) { c.version = v }
}

// WithHTTPClientOptions applies opts to every HTTP upstream client.
func WithHTTPClientOptions(opts ...ClientOption) ExecutorOption {
	return func(c *executorConfig) { c.httpOptions = append(c.httpOptions, opts...) }
}

// NewExecutor creates sessions for upstreams. No connection is made until
// the first call.
func NewExecutor(upstreams []Upstream, logger *slog.Logger, opts ...ExecutorOption) (*Executor, error) {
	cfg := executorConfig{version: "dev"}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Executor{
		sessions: make(map[string]*Session, len(upstreams)),
		logger:   logger,
	}
	for _, u := range upstreams {
		if _, dup := e.sessions[u.Name]; dup {
			return nil, fmt.Errorf("duplicate upstream %q", u.Name)
		}

		var t transport
		switch {
		case u.URL != "":
			clientOpts := append([]ClientOption{WithHeaders(u.Headers)}, cfg.httpOptions...)
			clientOpts = append(clientOpts, WithTimeout(u.Timeout))
			t = NewHTTPClient(u.URL, clientOpts...)
		case u.Command != "":
			t = NewStdioClient(u.Command, u.Args, u.Env)
		default:
			return nil, fmt.Errorf("upstream %q: url or command is required", u.Name)
		}
		e.sessions[u.Name] = newSession(u.Name, cfg.version, t, logger)
	}
	return e, nil
}

// ExecuteToolCall forwards call to the upstream owning its server prefix,
// with the prefix stripped from the tool name.
func (e *Executor) ExecuteToolCall(ctx context.Context, call outbound.ToolCall, execCtx outbound.ExecContext) (*outbound.ToolResult, error) {
	server, toolName, err := tool.SplitName(call.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", outbound.ErrUnknownServer, call.Name)
	}
	session, ok := e.sessions[server]
	if !ok {
		return nil, fmt.Errorf("%w: %s", outbound.ErrUnknownServer, server)
	}

	e.logger.Debug("forwarding tool call",
		"upstream", server,
		"tool", toolName,
		"agent_id", execCtx.AgentID,
		"request_id", execCtx.RequestID,
	)
	return session.CallTool(ctx, toolName, call.Arguments)
}

// Close closes every upstream session.
func (e *Executor) Close() error {
	var errs []error
	for name, s := range e.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close upstream %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Compile-time check that Executor implements ToolExecutor.
var _ outbound.ToolExecutor = (*Executor)(nil)
