// Package gateway composes credential validation, policy evaluation and
// downstream execution for inbound MCP requests.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/toolgate/internal/ctxkey"
	"github.com/Sentinel-Gate/toolgate/internal/domain/audit"
	"github.com/Sentinel-Gate/toolgate/internal/domain/auth"
	"github.com/Sentinel-Gate/toolgate/internal/domain/policy"
	"github.com/Sentinel-Gate/toolgate/internal/domain/tool"
	"github.com/Sentinel-Gate/toolgate/internal/port/outbound"
	"github.com/Sentinel-Gate/toolgate/pkg/mcp"
)

const tracerName = "github.com/Sentinel-Gate/toolgate/internal/domain/gateway"

// CredentialValidator resolves a bearer credential presented to an agent.
type CredentialValidator interface {
	Validate(ctx context.Context, agentID, rawCredential string) (*auth.Result, error)
}

// BatchEvaluator decides whether a batch of tool calls may proceed.
type BatchEvaluator interface {
	EvaluateBatch(ctx context.Context, calls []policy.ToolCall, evalCtx policy.EvaluationContext, trusted bool, mode policy.GlobalToolPolicy) (policy.BatchDecision, error)
}

// ToolCatalog lists the tools exposed to an agent.
type ToolCatalog interface {
	ListToolsForAgent(ctx context.Context, agentID string) ([]tool.Tool, error)
}

// Metrics receives gateway outcomes. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RecordDecision(decision string)
	RecordUpstream(server string, d time.Duration, isError bool)
}

type noopMetrics struct{}

func (noopMetrics) RecordDecision(string)                       {}
func (noopMetrics) RecordUpstream(string, time.Duration, bool) {}

// Request is one inbound HTTP request to an agent endpoint.
type Request struct {
	AgentID string
	// Credential is the raw bearer value. Never log it.
	Credential string
	// ExternalAgentID is the X-External-Agent-Id header, if any.
	ExternalAgentID string
	RequestID       string
	Body            []byte
}

// Reply is the outcome of Handle. Body is nil when nothing needs to be
// written (notifications only). Err classifies request-level failures:
// auth.ErrUnauthorized, ErrUnavailable or ErrMalformedRequest.
type Reply struct {
	Body []byte
	Err  error
}

// Dispatcher handles inbound MCP requests: validate, evaluate, then forward
// or refuse, then audit. It holds no per-request state.
type Dispatcher struct {
	validator CredentialValidator
	engine    BatchEvaluator
	globals   policy.GlobalPolicyStore
	catalog   ToolCatalog
	executor  outbound.ToolExecutor
	recorder  audit.Recorder
	trust     TrustPolicy
	metrics   Metrics
	tracer    trace.Tracer
	now       func() time.Time
	name      string
	version   string
	logger    *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder sets the audit recorder. Without one no records are written.
func WithRecorder(r audit.Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithTrustedMethods sets the auth methods whose callers are trusted.
func WithTrustedMethods(methods ...auth.Method) Option {
	return func(d *Dispatcher) { d.trust = NewTrustPolicy(methods) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTracer sets the tracer. Defaults to the global provider's tracer.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithClock injects the time source for audit timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithServerInfo sets the name and version advertised on initialize.
func WithServerInfo(name, version string) Option {
	return func(d *Dispatcher) {
		d.name = name
		d.version = version
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	validator CredentialValidator,
	engine BatchEvaluator,
	globals policy.GlobalPolicyStore,
	catalog ToolCatalog,
	executor outbound.ToolExecutor,
	logger *slog.Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		validator: validator,
		engine:    engine,
		globals:   globals,
		catalog:   catalog,
		executor:  executor,
		trust:     NewTrustPolicy(nil),
		metrics:   noopMetrics{},
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
		name:      "toolgate",
		version:   "dev",
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// toolCallRef ties a decoded tools/call to its response slot.
type toolCallRef struct {
	slot   int
	msg    *mcp.Message
	params *mcp.ToolCallParams
}

// Handle processes one inbound request body (single message or batch).
func (d *Dispatcher) Handle(ctx context.Context, req Request) Reply {
	ctx, span := d.tracer.Start(ctx, "gateway.handle",
		trace.WithAttributes(attribute.String("agent.id", req.AgentID)))
	defer span.End()

	logger := ctxkey.Logger(ctx, d.logger).With("agent_id", req.AgentID)

	result, err := d.authenticate(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, SafeErrorMessage(err))
		if errors.Is(err, auth.ErrUnauthorized) {
			logger.Info("request rejected", "reason", "unauthorized")
		} else {
			logger.Warn("authentication dependency failure", "error", err)
		}
		return failureReply(err)
	}
	logger = logger.With("identity_id", result.IdentityID, "auth_method", string(result.Method))

	batch, err := mcp.DecodeBatch(req.Body)
	if err != nil {
		var rpcErr *mcp.Error
		if !errors.As(err, &rpcErr) {
			rpcErr = mcp.NewError(mcp.CodeParseError, "Parse error")
		}
		return Reply{Body: mcp.ErrorResponse(nil, rpcErr.Code, rpcErr.Message), Err: ErrMalformedRequest}
	}

	responses := make([][]byte, len(batch.Messages))
	var calls []toolCallRef
	for i, msg := range batch.Messages {
		if err := mcp.ValidateRequest(msg); err != nil {
			responses[i] = errorResponse(msg, err)
			continue
		}
		if !msg.IsToolCall() {
			responses[i] = d.handleLocal(ctx, msg, req.AgentID, logger)
			continue
		}
		if msg.IsNotification() {
			// A tools/call without an id has no response slot to carry a result.
			logger.Warn("dropping tools/call sent as notification")
			continue
		}
		params, err := msg.ToolCallParams()
		if err != nil {
			responses[i] = errorResponse(msg, err)
			continue
		}
		calls = append(calls, toolCallRef{slot: i, msg: msg, params: params})
	}

	if len(calls) > 0 {
		if err := d.handleToolCalls(ctx, req, result, calls, responses, logger); err != nil {
			span.SetStatus(codes.Error, SafeErrorMessage(err))
			logger.Warn("policy dependency failure", "error", err)
			return failureReply(err)
		}
	}

	out := make([][]byte, 0, len(responses)+len(batch.Invalid))
	for _, r := range responses {
		if r != nil {
			out = append(out, r)
		}
	}
	out = append(out, batch.Invalid...)
	return Reply{Body: mcp.EncodeResponses(out, batch.IsBatch)}
}

func (d *Dispatcher) authenticate(ctx context.Context, req Request) (*auth.Result, error) {
	ctx, span := d.tracer.Start(ctx, "auth.validate")
	defer span.End()

	result, err := d.validator.Validate(ctx, req.AgentID, req.Credential)
	if err != nil {
		span.SetStatus(codes.Error, SafeErrorMessage(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("auth.method", string(result.Method)))
	return result, nil
}

// handleToolCalls evaluates all tool calls of the request as one batch and
// fills their response slots. Only dependency failures are returned.
func (d *Dispatcher) handleToolCalls(ctx context.Context, req Request, result *auth.Result, calls []toolCallRef, responses [][]byte, logger *slog.Logger) error {
	params := make([]*mcp.ToolCallParams, len(calls))
	batch := make([]policy.ToolCall, len(calls))
	for i, c := range calls {
		params[i] = c.params
		batch[i] = policy.ToolCall{Name: c.params.Name, Arguments: c.params.Arguments}
	}

	trusted := d.trust.Trusted(result, params)
	evalCtx := policy.EvaluationContext{
		TeamIDs:         result.TeamIDs,
		ExternalAgentID: externalAgentID(req.ExternalAgentID, params),
	}

	decision, err := d.evaluate(ctx, result.OrganizationID, batch, evalCtx, trusted)
	if err != nil {
		return err
	}

	base := audit.Record{
		RequestID:      req.RequestID,
		AgentID:        req.AgentID,
		OrganizationID: result.OrganizationID,
		IdentityID:     result.IdentityID,
		UserID:         result.UserID,
		AuthMethod:     string(result.Method),
		Trusted:        trusted,
	}

	if !decision.Allowed {
		d.metrics.RecordDecision(audit.DecisionDeny)
		logger.Info("tool batch refused",
			"tool", decision.BlockedCall,
			"blocked_index", decision.BlockedIndex,
			"policy_id", decision.PolicyID,
			"reason", decision.Reason,
			"trusted", trusted,
		)
		for _, c := range calls {
			responses[c.slot] = refusalResponse(c.msg, c.params.Name, decision.Reason)
			rec := base
			rec.ToolName = c.params.Name
			rec.ToolArguments = audit.RedactSensitiveArgs(c.params.Arguments)
			rec.Decision = audit.DecisionDeny
			rec.Reason = decision.Reason
			rec.PolicyID = decision.PolicyID
			d.record(rec)
		}
		return nil
	}

	d.metrics.RecordDecision(audit.DecisionAllow)
	for _, c := range calls {
		responses[c.slot] = d.execute(ctx, c, base, req.RequestID, logger)
	}
	return nil
}

func (d *Dispatcher) evaluate(ctx context.Context, orgID string, calls []policy.ToolCall, evalCtx policy.EvaluationContext, trusted bool) (policy.BatchDecision, error) {
	ctx, span := d.tracer.Start(ctx, "policy.evaluate", trace.WithAttributes(
		attribute.Int("policy.calls", len(calls)),
		attribute.Bool("policy.trusted", trusted),
	))
	defer span.End()

	mode, err := d.globals.GetGlobalToolPolicy(ctx, orgID)
	if err != nil {
		span.SetStatus(codes.Error, "global tool policy unavailable")
		return policy.BatchDecision{}, fmt.Errorf("%w: global tool policy: %w", ErrUnavailable, err)
	}
	span.SetAttributes(attribute.String("policy.mode", string(mode)))

	decision, err := d.engine.EvaluateBatch(ctx, calls, evalCtx, trusted, mode)
	if err != nil {
		span.SetStatus(codes.Error, "policy evaluation failed")
		return policy.BatchDecision{}, err
	}
	span.SetAttributes(attribute.Bool("policy.allowed", decision.Allowed))
	return decision, nil
}

// execute forwards one allowed call and audits the outcome.
func (d *Dispatcher) execute(ctx context.Context, c toolCallRef, base audit.Record, requestID string, logger *slog.Logger) []byte {
	server, _, _ := tool.SplitName(c.params.Name)
	ctx, span := d.tracer.Start(ctx, "tool.call", trace.WithAttributes(
		attribute.String("tool.server", server),
		attribute.String("tool.name", c.params.Name),
	))
	defer span.End()

	rec := base
	rec.Timestamp = d.now().UTC()
	rec.ToolName = c.params.Name
	rec.ToolArguments = audit.RedactSensitiveArgs(c.params.Arguments)
	rec.Decision = audit.DecisionAllow

	var args json.RawMessage
	if c.params.Arguments != nil {
		var err error
		if args, err = json.Marshal(c.params.Arguments); err != nil {
			rec.IsError = true
			d.record(rec)
			span.SetStatus(codes.Error, "encode arguments")
			logger.Error("failed to encode tool arguments", "tool", c.params.Name, "error", err)
			return mcp.ErrorResponse(c.msg.RawID(), mcp.CodeInternalError, "Internal error")
		}
	}

	start := d.now()
	res, err := d.executor.ExecuteToolCall(ctx,
		outbound.ToolCall{Name: c.params.Name, Arguments: args},
		outbound.ExecContext{
			AgentID:        base.AgentID,
			IdentityID:     base.IdentityID,
			OrganizationID: base.OrganizationID,
			RequestID:      requestID,
		},
	)
	elapsed := d.now().Sub(start)
	rec.DurationMicros = elapsed.Microseconds()

	if err != nil {
		rec.IsError = true
		d.metrics.RecordUpstream(server, elapsed, true)
		d.record(rec)
		span.SetStatus(codes.Error, "upstream call failed")

		if errors.Is(err, outbound.ErrUnknownServer) {
			logger.Warn("no upstream for tool", "tool", c.params.Name)
			return mcp.ErrorResponse(c.msg.RawID(), mcp.CodeMethodNotFound, "Tool not found: "+c.params.Name)
		}
		logger.Error("upstream call failed", "tool", c.params.Name, "error", err)
		msg := "upstream unavailable"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			msg = "Request timeout"
		}
		return mcp.ErrorResponse(c.msg.RawID(), mcp.CodeInternalError, msg)
	}

	rec.ResultSize = res.Size
	rec.IsError = res.IsError
	d.metrics.RecordUpstream(server, elapsed, res.IsError)
	d.record(rec)

	body, err := mcp.ResultResponse(c.msg.RawID(), res.Content)
	if err != nil {
		logger.Error("malformed upstream result", "tool", c.params.Name, "error", err)
		return mcp.ErrorResponse(c.msg.RawID(), mcp.CodeInternalError, "Internal error")
	}
	return body
}

// handleLocal answers methods the gateway serves itself.
func (d *Dispatcher) handleLocal(ctx context.Context, msg *mcp.Message, agentID string, logger *slog.Logger) []byte {
	if msg.IsNotification() || msg.IsNotificationMethod() {
		return nil
	}

	var result interface{}
	switch msg.Method() {
	case mcp.MethodInitialize:
		result = mcp.NewInitializeResult(d.name, d.version)
	case mcp.MethodPing:
		result = struct{}{}
	case mcp.MethodToolsList:
		tools, err := d.catalog.ListToolsForAgent(ctx, agentID)
		if err != nil {
			logger.Warn("tool catalog unavailable", "error", err)
			return mcp.ErrorResponse(msg.RawID(), mcp.CodeDependencyUnavailable, SafeErrorMessage(ErrUnavailable))
		}
		entries := make([]mcp.ToolEntry, 0, len(tools))
		for _, t := range tools {
			entries = append(entries, mcp.ToolEntry{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
		}
		result = mcp.ToolsListResult{Tools: entries}
	default:
		return mcp.ErrorResponse(msg.RawID(), mcp.CodeMethodNotFound, "Method not found")
	}

	body, err := mcp.ResultResponse(msg.RawID(), result)
	if err != nil {
		logger.Error("failed to encode response", "method", msg.Method(), "error", err)
		return mcp.ErrorResponse(msg.RawID(), mcp.CodeInternalError, "Internal error")
	}
	return body
}

func (d *Dispatcher) record(rec audit.Record) {
	if d.recorder == nil {
		return
	}
	rec.ID = uuid.NewString()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = d.now().UTC()
	}
	d.recorder.Record(rec)
}

// failureReply maps a request-level failure to its JSON-RPC error body.
func failureReply(err error) Reply {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return Reply{
			Body: mcp.ErrorResponse(nil, mcp.CodeUnauthorized, SafeErrorMessage(err)),
			Err:  auth.ErrUnauthorized,
		}
	case isDependencyFailure(err):
		return Reply{
			Body: mcp.ErrorResponse(nil, mcp.CodeDependencyUnavailable, SafeErrorMessage(err)),
			Err:  fmt.Errorf("%w: %w", ErrUnavailable, err),
		}
	default:
		return Reply{
			Body: mcp.ErrorResponse(nil, mcp.CodeInternalError, SafeErrorMessage(err)),
			Err:  err,
		}
	}
}
