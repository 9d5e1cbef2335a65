package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sentinel-Gate/toolgate/internal/port/inbound"
)

// MCPPath is the agent endpoint pattern.
const MCPPath = "POST /v1/mcp/{agentID}"

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// HTTPTransport is the inbound adapter that connects MCP clients to the
// gateway over HTTP.
type HTTPTransport struct {
	gateway        inbound.Gateway
	server         *http.Server
	addr           string
	allowedOrigins []string
	certFile       string
	keyFile        string
	logger         *slog.Logger
	metrics        *Metrics
	registry       *prometheus.Registry
	healthChecker  *HealthChecker
	readTimeout    time.Duration
	writeTimeout   time.Duration
	outer          []func(http.Handler) http.Handler
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(t *HTTPTransport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the allowed origins for DNS rebinding protection.
// If empty, all requests with an Origin header are blocked.
func WithAllowedOrigins(origins []string) Option {
	return func(t *HTTPTransport) {
		t.allowedOrigins = origins
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithMetrics sets the metrics and the registry served on /metrics.
// Without it the transport creates its own registry.
func WithMetrics(m *Metrics, reg *prometheus.Registry) Option {
	return func(t *HTTPTransport) {
		t.metrics = m
		t.registry = reg
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// WithTimeouts sets the server read and write timeouts.
func WithTimeouts(read, write time.Duration) Option {
	return func(t *HTTPTransport) {
		t.readTimeout = read
		t.writeTimeout = write
	}
}

// WithMiddleware wraps the agent endpoint, inside the metrics middleware
// and outside request id handling. Used for tracing.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(t *HTTPTransport) {
		t.outer = append(t.outer, mw...)
	}
}

// NewHTTPTransport creates an HTTP transport serving the given gateway.
func NewHTTPTransport(gw inbound.Gateway, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		gateway:        gw,
		addr:           "127.0.0.1:8080",
		allowedOrigins: []string{},
		logger:         slog.Default(),
		readTimeout:    30 * time.Second,
		writeTimeout:   60 * time.Second,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.registry == nil {
		t.registry = prometheus.NewRegistry()
		t.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if t.metrics == nil {
		t.metrics = NewMetrics(t.registry)
	}
	if t.healthChecker == nil {
		t.healthChecker = NewHealthChecker("")
	}

	return t
}

// Handler builds the routed handler with its middleware chain.
func (t *HTTPTransport) Handler() http.Handler {
	// Middleware order (outermost first):
	// 1. Metrics - must be outermost to capture full duration
	// 2. WithMiddleware extras (tracing)
	// 3. RequestID - extract/generate request ID and enrich logger
	// 4. RealIP - add client address to the logger
	// 5. DNSRebinding - Origin allowlist
	// 6. Handler - gateway dispatch
	var agent http.Handler = mcpHandler(t.gateway)
	agent = DNSRebindingProtection(t.allowedOrigins)(agent)
	agent = RealIPMiddleware(agent)
	agent = RequestIDMiddleware(t.logger)(agent)
	for i := len(t.outer) - 1; i >= 0; i-- {
		agent = t.outer[i](agent)
	}

	mux := http.NewServeMux()
	mux.Handle(MCPPath, agent)
	mux.Handle("GET /health", t.healthChecker.Handler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{
		Registry: t.registry,
	}))

	return MetricsMiddleware(t.metrics)(mux)
}

// Start begins accepting HTTP connections.
// It blocks until the context is cancelled or an error occurs.
func (t *HTTPTransport) Start(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       t.readTimeout,
		WriteTimeout:      t.writeTimeout,
	}

	tlsEnabled := t.certFile != "" && t.keyFile != ""
	if tlsEnabled {
		t.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsEnabled {
			t.logger.Info("starting HTTPS server", "addr", t.addr)
			err = t.server.ListenAndServeTLS(t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", t.addr)
			err = t.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
