// Package observability wires OpenTelemetry tracing for toolgate.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig holds configuration for OpenTelemetry tracing.
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// SampleRate is the fraction of new traces recorded, 0 to 1.
	SampleRate float64
	// Output receives spans as JSON. Required when Enabled.
	Output io.Writer
}

// TracingManager owns the tracer provider.
type TracingManager struct {
	logger   *slog.Logger
	config   TracingConfig
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewTracingManager creates a tracing manager. When tracing is disabled the
// manager hands out a no-op tracer and installs nothing globally.
func NewTracingManager(config TracingConfig, logger *slog.Logger) (*TracingManager, error) {
	tm := &TracingManager{
		logger: logger,
		config: config,
		tracer: noop.NewTracerProvider().Tracer(config.ServiceName),
	}

	if !config.Enabled {
		logger.Debug("tracing disabled")
		return tm, nil
	}
	if config.Output == nil {
		return nil, fmt.Errorf("tracing output is required")
	}

	if err := tm.initTracing(); err != nil {
		return nil, fmt.Errorf("initialize tracing: %w", err)
	}

	logger.Info("tracing initialized",
		"service_name", config.ServiceName,
		"sample_rate", config.SampleRate)
	return tm, nil
}

func (tm *TracingManager) initTracing() error {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(tm.config.Output))
	if err != nil {
		return fmt.Errorf("create span exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(tm.config.ServiceName),
			semconv.ServiceVersionKey.String(tm.config.ServiceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	tm.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(tm.config.SampleRate))),
	)

	otel.SetTracerProvider(tm.provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	tm.tracer = tm.provider.Tracer(tm.config.ServiceName)
	return nil
}

// Enabled reports whether spans are exported.
func (tm *TracingManager) Enabled() bool {
	return tm.provider != nil
}

// Tracer returns the tracer for gateway spans.
func (tm *TracingManager) Tracer() trace.Tracer {
	return tm.tracer
}

// Close flushes pending spans and shuts the provider down.
func (tm *TracingManager) Close(ctx context.Context) error {
	if tm.provider == nil {
		return nil
	}
	tm.logger.Debug("shutting down tracing")
	return tm.provider.Shutdown(ctx)
}

// HTTPMiddleware returns middleware that starts a server span per request,
// continuing any W3C trace context the caller sent.
func (tm *TracingManager) HTTPMiddleware() func(http.Handler) http.Handler {
	if tm.provider == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	propagator := propagation.TraceContext{}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tm.tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
					attribute.String("user_agent.original", r.UserAgent()),
				),
			)
			defer span.End()

			ww := &tracingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.response.status_code", ww.statusCode))
			if ww.statusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(ww.statusCode))
			}
		})
	}
}

// tracingResponseWriter captures the status code for the span.
type tracingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *tracingResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
