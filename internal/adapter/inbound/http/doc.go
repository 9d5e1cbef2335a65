// Package http provides the inbound HTTP transport for toolgate.
//
// Each agent has its own endpoint. A request carries one JSON-RPC message,
// or a batch, and a bearer credential issued to, or accepted for, that agent:
//
//	POST /v1/mcp/{agentID}
//	Authorization: Bearer <credential>
//	Content-Type: application/json
//
// The transport authenticates nothing itself. It extracts the credential,
// the request id and the optional X-External-Agent-Id header, hands the
// body to the gateway and maps the outcome onto HTTP:
//
//	200  JSON-RPC response or batch (including policy refusals)
//	202  notifications only, nothing to return
//	400  body is not JSON-RPC
//	401  credential rejected (WWW-Authenticate: Bearer)
//	503  a store or issuer is unreachable (Retry-After)
//
// # Usage
//
//	transport := http.NewHTTPTransport(dispatcher,
//	    http.WithAddr("127.0.0.1:8080"),
//	    http.WithMetrics(metrics, registry),
//	    http.WithHealthChecker(http.NewHealthChecker(version, http.WithAuditQueue(auditService, 90))),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Operational endpoints
//
//	GET /health   - Component health (503 when degraded)
//	GET /metrics  - Prometheus metrics (toolgate_* plus Go runtime)
//
// # Security
//
// Requests that carry an Origin header are rejected unless the origin is in
// the configured allowlist (DNS rebinding protection). Bodies are capped at
// 1 MB. Credentials are never logged.
package http
