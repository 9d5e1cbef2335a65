package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/toolgate/internal/adapter/inbound/http"
	auditsink "github.com/Sentinel-Gate/toolgate/internal/adapter/outbound/audit"
	mcpclient "github.com/Sentinel-Gate/toolgate/internal/adapter/outbound/mcp"
	"github.com/Sentinel-Gate/toolgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/toolgate/internal/config"
	"github.com/Sentinel-Gate/toolgate/internal/domain/audit"
	"github.com/Sentinel-Gate/toolgate/internal/domain/auth"
	"github.com/Sentinel-Gate/toolgate/internal/domain/gateway"
	"github.com/Sentinel-Gate/toolgate/internal/domain/policy"
	"github.com/Sentinel-Gate/toolgate/internal/observability"
	"github.com/Sentinel-Gate/toolgate/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Start the toolgate HTTP gateway.

Agents send MCP JSON-RPC requests to POST /v1/mcp/{agentID} with their
credential in the Authorization header. Allowed tool calls are forwarded to
the upstream whose name prefixes the tool (<server>__<tool>); blocked calls
are answered with a refusal and audited.

Examples:
  # Start with config file settings
  toolgate start

  # Start with a specific config file and verbose logging
  toolgate --config /etc/toolgate/toolgate.yaml start --dev`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load without validation so CLI flags can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(os.Stderr, cfg)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("toolgate stopped")
	return nil
}

// newLogger builds the text logger. DevMode forces debug.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// run wires every component and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	g, err := newGatewayServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer g.Close()

	return g.transport.Start(ctx)
}

// gatewayServer holds the running components and closes them in reverse
// order of construction.
type gatewayServer struct {
	store     *memory.Store
	registry  *prometheus.Registry
	gateway   *gateway.Dispatcher
	transport *http.HTTPTransport
	audit     *service.AuditService
	closers   []func() error
	logger    *slog.Logger
}

func newGatewayServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *gatewayServer, err error) {
	g := &gatewayServer{logger: logger}
	defer func() {
		if err != nil {
			g.Close()
		}
	}()

	// Seed the in-memory stores.
	g.store = memory.NewStore()
	if err := cfg.Seed(g.store, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to seed stores: %w", err)
	}
	logger.Info("seeded stores",
		"organizations", len(cfg.Organizations),
		"agents", len(cfg.Agents),
		"tools", len(cfg.Tools),
		"policies", len(cfg.Policies),
	)

	g.registry = prometheus.NewRegistry()
	g.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := http.NewMetrics(g.registry)

	tracing, err := g.newTracing(cfg.Tracing)
	if err != nil {
		return nil, err
	}

	auditStore, err := auditsink.OpenStore(ctx, cfg.Audit.Output, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit store: %w", err)
	}
	g.closers = append(g.closers, auditStore.Close)

	g.audit = service.NewAuditService(auditStore, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(config.Duration(cfg.Audit.FlushInterval)),
		service.WithSendTimeout(config.Duration(cfg.Audit.SendTimeout)),
		service.WithWarningThreshold(cfg.Audit.WarningThreshold),
		service.WithDropHook(metrics.AuditDropsTotal.Inc),
	)
	g.audit.Start(ctx)
	g.closers = append(g.closers, func() error {
		g.audit.Stop()
		return nil
	})

	validator := newCredentialValidator(cfg.Gateway, g.store, metrics, logger)
	engine := policy.NewEngine(g.store, g.store, logger)

	executor, err := mcpclient.NewExecutor(upstreamsFromConfig(cfg.Upstreams), logger,
		mcpclient.WithClientVersion(Version),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream executor: %w", err)
	}
	g.closers = append(g.closers, executor.Close)
	logger.Info("upstreams configured", "count", len(cfg.Upstreams))

	g.gateway = gateway.NewDispatcher(validator, engine, g.store, g.store, executor, logger,
		gateway.WithRecorder(g.audit),
		gateway.WithTrustedMethods(trustedMethods(cfg.Gateway.TrustedAuthMethods)...),
		gateway.WithMetrics(metrics),
		gateway.WithTracer(tracing.Tracer()),
		gateway.WithServerInfo("toolgate", Version),
	)

	opts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		http.WithLogger(logger),
		http.WithMetrics(metrics, g.registry),
		http.WithHealthChecker(newHealthChecker(g.audit, auditStore)),
		http.WithTimeouts(config.Duration(cfg.Server.ReadTimeout), config.Duration(cfg.Server.WriteTimeout)),
	}
	if tracing.Enabled() {
		opts = append(opts, http.WithMiddleware(tracing.HTTPMiddleware()))
	}
	if cfg.Server.TLSCertFile != "" {
		opts = append(opts, http.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile))
	}
	g.transport = http.NewHTTPTransport(g.gateway, opts...)

	return g, nil
}

// newHealthChecker reports the audit queue and, for file and SQLite sinks,
// the store itself.
func newHealthChecker(queue http.AuditQueue, store audit.Store) *http.HealthChecker {
	opts := []http.HealthOption{http.WithAuditQueue(queue, 90)}
	if p, ok := store.(auditsink.Pinger); ok {
		opts = append(opts, http.WithProbe("audit_store", p.Ping))
	}
	return http.NewHealthChecker(Version, opts...)
}

func (g *gatewayServer) newTracing(cfg config.TracingConfig) (*observability.TracingManager, error) {
	var out io.Writer
	if cfg.Enabled {
		w, closeFn, err := openTraceOutput(cfg.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace output: %w", err)
		}
		out = w
		g.closers = append(g.closers, closeFn)
	}

	tm, err := observability.NewTracingManager(observability.TracingConfig{
		Enabled:        cfg.Enabled,
		ServiceName:    "toolgate",
		ServiceVersion: Version,
		SampleRate:     cfg.SampleRate,
		Output:         out,
	}, g.logger)
	if err != nil {
		return nil, err
	}
	g.closers = append(g.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tm.Close(ctx)
	})
	return tm, nil
}

// Close releases components in reverse order: executor sessions first, then
// the audit queue is drained into its store, then the store and tracer are
// closed.
func (g *gatewayServer) Close() {
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i](); err != nil {
			g.logger.Error("shutdown error", "error", err)
		}
	}
	g.closers = nil
}

// newCredentialValidator builds the validator with its IdP caches.
func newCredentialValidator(cfg config.GatewayConfig, store auth.Store, metrics *http.Metrics, logger *slog.Logger) *auth.Validator {
	fetchTimeout := config.Duration(cfg.ExternalCallTimeout)
	client := &stdhttp.Client{Timeout: fetchTimeout}

	discovery := auth.NewDiscoveryCache(client,
		auth.WithMaxEntries(cfg.DiscoveryCacheSize),
		auth.WithTTL(config.Duration(cfg.DiscoveryTTL)),
		auth.WithFetchTimeout(fetchTimeout),
	)
	keys := auth.NewKeySetCache(client,
		auth.WithMaxEntries(cfg.DiscoveryCacheSize),
		auth.WithTTL(config.Duration(cfg.JWKSTTL)),
		auth.WithFetchTimeout(fetchTimeout),
	)

	return auth.NewValidator(store, logger,
		auth.WithDiscoveryCache(discovery),
		auth.WithKeySetCache(keys),
		auth.WithLeeway(config.Duration(cfg.JWTLeeway)),
		auth.WithObserver(metrics.AuthObserver()),
	)
}

func upstreamsFromConfig(cfgs []config.UpstreamConfig) []mcpclient.Upstream {
	out := make([]mcpclient.Upstream, 0, len(cfgs))
	for _, u := range cfgs {
		out = append(out, mcpclient.Upstream{
			Name:    u.Name,
			URL:     u.URL,
			Headers: u.Headers,
			Command: u.Command,
			Args:    u.Args,
			Env:     u.Env,
			Timeout: config.Duration(u.Timeout),
		})
	}
	return out
}

func trustedMethods(names []string) []auth.Method {
	methods := make([]auth.Method, 0, len(names))
	for _, n := range names {
		methods = append(methods, auth.Method(n))
	}
	return methods
}

// openTraceOutput resolves "stdout", "stderr" or "file:///abs/path".
// The returned close function is a no-op for the standard streams.
func openTraceOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }
	switch output {
	case "", "stderr":
		return os.Stderr, noop, nil
	case "stdout":
		return os.Stdout, noop, nil
	}

	u, err := url.Parse(output)
	if err != nil || u.Scheme != "file" || u.Host != "" || u.Path == "" {
		return nil, nil, errors.New("trace output must be stdout, stderr or file:///abs/path")
	}
	f, err := os.OpenFile(u.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
