// Package config provides configuration types for toolgate.
//
// Configuration is file based: one YAML document carries the listener and
// audit settings, the upstream MCP servers tool calls are forwarded to, and
// the seed data (organizations, users, agents, identity providers, tokens,
// tools and policies) loaded into the in-memory stores at startup.
//
// Durations are strings in time.ParseDuration syntax ("30s", "5m").
package config

import (
	"time"
)

// Config is the top-level configuration for toolgate.
type Config struct {
	// Server configures the HTTP server listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Gateway configures credential validation and forwarding.
	Gateway GatewayConfig `yaml:"gateway" mapstructure:"gateway"`

	// Audit configures where tool-call audit records are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Tracing configures OpenTelemetry span export.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// Upstreams are the MCP servers tool calls are routed to by server name.
	Upstreams []UpstreamConfig `yaml:"upstreams" mapstructure:"upstreams" validate:"omitempty,dive"`

	Organizations     []OrganizationConfig     `yaml:"organizations" mapstructure:"organizations" validate:"omitempty,dive"`
	Users             []UserConfig             `yaml:"users" mapstructure:"users" validate:"omitempty,dive"`
	Agents            []AgentConfig            `yaml:"agents" mapstructure:"agents" validate:"omitempty,dive"`
	IdentityProviders []IdentityProviderConfig `yaml:"identity_providers" mapstructure:"identity_providers" validate:"omitempty,dive"`
	TeamTokens        []TeamTokenConfig        `yaml:"team_tokens" mapstructure:"team_tokens" validate:"omitempty,dive"`
	UserTokens        []UserTokenConfig        `yaml:"user_tokens" mapstructure:"user_tokens" validate:"omitempty,dive"`
	OAuthTokens       []OAuthTokenConfig       `yaml:"oauth_tokens" mapstructure:"oauth_tokens" validate:"omitempty,dive"`
	Tools             []ToolConfig             `yaml:"tools" mapstructure:"tools" validate:"omitempty,dive"`
	Policies          []PolicyConfig           `yaml:"policies" mapstructure:"policies" validate:"omitempty,dive"`

	// DevMode enables verbose logging.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level: "debug", "info", "warn", "error".
	// DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// AllowedOrigins lists browser origins allowed to call agent endpoints.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins" validate:"omitempty,dive,url"`

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file" validate:"required_with=TLSCertFile"`

	ReadTimeout  string `yaml:"read_timeout" mapstructure:"read_timeout" validate:"omitempty,duration"`
	WriteTimeout string `yaml:"write_timeout" mapstructure:"write_timeout" validate:"omitempty,duration"`
}

// GatewayConfig configures the authorization core.
type GatewayConfig struct {
	// TrustedAuthMethods lists the auth methods whose callers are trusted.
	// Administrators are always trusted.
	TrustedAuthMethods []string `yaml:"trusted_auth_methods" mapstructure:"trusted_auth_methods" validate:"omitempty,dive,auth_method"`

	// ExternalCallTimeout bounds each discovery or JWKS fetch. Default "5s".
	ExternalCallTimeout string `yaml:"external_call_timeout" mapstructure:"external_call_timeout" validate:"omitempty,duration"`

	// DiscoveryCacheSize caps cached issuers. Default 100.
	DiscoveryCacheSize int `yaml:"discovery_cache_size" mapstructure:"discovery_cache_size" validate:"omitempty,min=1"`

	// DiscoveryTTL is how long a discovered jwks_uri is reused. Default "10m".
	DiscoveryTTL string `yaml:"discovery_ttl" mapstructure:"discovery_ttl" validate:"omitempty,duration"`

	// JWKSTTL is how long a fetched key set is reused. Default "10m".
	JWKSTTL string `yaml:"jwks_ttl" mapstructure:"jwks_ttl" validate:"omitempty,duration"`

	// JWTLeeway tolerates clock skew on exp/nbf. Default "30s".
	JWTLeeway string `yaml:"jwt_leeway" mapstructure:"jwt_leeway" validate:"omitempty,duration"`
}

// AuditConfig configures audit log output.
type AuditConfig struct {
	// Output is "stdout", "file:///abs/path.jsonl" or "sqlite:///abs/path.db".
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	// ChannelSize is the buffer size for the audit channel. Default 1000.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records written together. Default 100.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often pending records are written. Default "1s".
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,duration"`

	// SendTimeout is how long Record blocks when the channel is full.
	// "0" drops immediately. Default "100ms".
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,duration"`

	// WarningThreshold is the channel fill percentage that logs a warning.
	// Default 80.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`
}

// TracingConfig configures OpenTelemetry spans.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// SampleRate is the fraction of traces recorded. Default 1.
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate" validate:"min=0,max=1"`
	// Output is "stderr", "stdout" or "file:///abs/path". Default "stderr".
	Output string `yaml:"output" mapstructure:"output" validate:"omitempty,trace_output"`
}

// UpstreamConfig configures one upstream MCP server.
// Exactly one of URL or Command must be set.
type UpstreamConfig struct {
	// Name is the server prefix of the tools it serves (<name>__<tool>).
	Name string `yaml:"name" mapstructure:"name" validate:"required,server_name"`

	// URL is a Streamable HTTP MCP endpoint.
	URL string `yaml:"url" mapstructure:"url" validate:"omitempty,url"`

	// Headers are sent with every HTTP request to the upstream.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`

	// Command is an MCP server executable spoken to over stdio.
	Command string `yaml:"command" mapstructure:"command"`
	Args    []string `yaml:"args" mapstructure:"args"`
	// Env entries are KEY=VALUE pairs added to the subprocess environment.
	Env []string `yaml:"env" mapstructure:"env" validate:"omitempty,dive,contains=="`

	// Timeout bounds each forwarded call. Default "30s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// OrganizationConfig sets an organization's enforcement mode.
type OrganizationConfig struct {
	ID string `yaml:"id" mapstructure:"id" validate:"required"`
	// GlobalToolPolicy is "permissive" or "restrictive". Default "restrictive".
	GlobalToolPolicy string `yaml:"global_tool_policy" mapstructure:"global_tool_policy" validate:"omitempty,oneof=permissive restrictive"`
}

// UserConfig defines a local user.
type UserConfig struct {
	ID             string   `yaml:"id" mapstructure:"id" validate:"required"`
	Email          string   `yaml:"email" mapstructure:"email" validate:"required,email"`
	OrganizationID string   `yaml:"organization_id" mapstructure:"organization_id" validate:"required"`
	TeamIDs        []string `yaml:"team_ids" mapstructure:"team_ids"`
	// Permissions are organization grants; "agents:admin" makes the user an administrator.
	Permissions []string `yaml:"permissions" mapstructure:"permissions"`
}

// AgentConfig defines an agent endpoint.
type AgentConfig struct {
	ID             string   `yaml:"id" mapstructure:"id" validate:"required"`
	Name           string   `yaml:"name" mapstructure:"name"`
	OrganizationID string   `yaml:"organization_id" mapstructure:"organization_id" validate:"required"`
	TeamIDs        []string `yaml:"team_ids" mapstructure:"team_ids"`
	// IdentityProviderID links an external IdP whose JWTs the agent accepts.
	IdentityProviderID string `yaml:"identity_provider_id" mapstructure:"identity_provider_id"`
}

// IdentityProviderConfig defines an external OIDC issuer.
type IdentityProviderConfig struct {
	ID             string `yaml:"id" mapstructure:"id" validate:"required"`
	OrganizationID string `yaml:"organization_id" mapstructure:"organization_id" validate:"required"`
	Name           string `yaml:"name" mapstructure:"name"`
	// Issuer is the expected iss claim and the discovery base URL.
	Issuer   string `yaml:"issuer" mapstructure:"issuer" validate:"required,url"`
	ClientID string `yaml:"client_id" mapstructure:"client_id" validate:"required"`
	// JWKSURL skips discovery when set.
	JWKSURL string `yaml:"jwks_url" mapstructure:"jwks_url" validate:"omitempty,url"`
}

// TeamTokenConfig defines a static team or organization token.
type TeamTokenConfig struct {
	ID string `yaml:"id" mapstructure:"id" validate:"required"`
	// Hash is "sha256:<hex>" or an Argon2id PHC string (toolgate hash-token).
	Hash           string `yaml:"hash" mapstructure:"hash" validate:"required,token_hash"`
	Name           string `yaml:"name" mapstructure:"name"`
	OrganizationID string `yaml:"organization_id" mapstructure:"organization_id" validate:"required"`
	// TeamID is empty for organization-wide tokens.
	TeamID string `yaml:"team_id" mapstructure:"team_id"`
	// ExpiresAt is RFC 3339; empty never expires.
	ExpiresAt string `yaml:"expires_at" mapstructure:"expires_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Revoked   bool   `yaml:"revoked" mapstructure:"revoked"`
}

// UserTokenConfig defines a personal token.
type UserTokenConfig struct {
	ID        string `yaml:"id" mapstructure:"id" validate:"required"`
	Hash      string `yaml:"hash" mapstructure:"hash" validate:"required,token_hash"`
	Name      string `yaml:"name" mapstructure:"name"`
	UserID    string `yaml:"user_id" mapstructure:"user_id" validate:"required"`
	ExpiresAt string `yaml:"expires_at" mapstructure:"expires_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Revoked   bool   `yaml:"revoked" mapstructure:"revoked"`
}

// OAuthTokenConfig defines an OAuth access token and the refresh grant it
// was minted from.
type OAuthTokenConfig struct {
	ID string `yaml:"id" mapstructure:"id" validate:"required"`
	// Hash must be "sha256:<hex>"; access tokens are looked up by hash.
	Hash           string `yaml:"hash" mapstructure:"hash" validate:"required,startswith=sha256:"`
	UserID         string `yaml:"user_id" mapstructure:"user_id" validate:"required"`
	RefreshGrantID string `yaml:"refresh_grant_id" mapstructure:"refresh_grant_id" validate:"required"`
	ExpiresAt      string `yaml:"expires_at" mapstructure:"expires_at" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	// GrantRevoked marks the refresh grant revoked.
	GrantRevoked bool `yaml:"grant_revoked" mapstructure:"grant_revoked"`
}

// ToolConfig registers a tool and the agents it is exposed to.
type ToolConfig struct {
	ID          string `yaml:"id" mapstructure:"id" validate:"required"`
	Name        string `yaml:"name" mapstructure:"name" validate:"required,tool_name"`
	Description string `yaml:"description" mapstructure:"description"`
	// InputSchema is the JSON Schema as a JSON string. Map keys in YAML
	// would lose their case.
	InputSchema string   `yaml:"input_schema" mapstructure:"input_schema" validate:"omitempty,json"`
	AgentIDs    []string `yaml:"agent_ids" mapstructure:"agent_ids"`
}

// PolicyConfig defines a tool invocation policy. A policy without
// conditions is the tool's default.
type PolicyConfig struct {
	ID         string            `yaml:"id" mapstructure:"id" validate:"required"`
	ToolID     string            `yaml:"tool_id" mapstructure:"tool_id" validate:"required"`
	Action     string            `yaml:"action" mapstructure:"action" validate:"required,oneof=block_always block_when_context_is_untrusted allow_when_context_is_untrusted"`
	Reason     string            `yaml:"reason" mapstructure:"reason"`
	Conditions []ConditionConfig `yaml:"conditions" mapstructure:"conditions" validate:"omitempty,dive"`
}

// ConditionConfig is one policy predicate.
type ConditionConfig struct {
	// Key is a dotted argument path or context.externalAgentId / context.teamIds.
	Key      string `yaml:"key" mapstructure:"key" validate:"required"`
	Operator string `yaml:"operator" mapstructure:"operator" validate:"required,oneof=equal notEqual contains notContains startsWith endsWith regex"`
	Value    string `yaml:"value" mapstructure:"value"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless configured otherwise.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "30s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "60s"
	}

	if c.Gateway.ExternalCallTimeout == "" {
		c.Gateway.ExternalCallTimeout = "5s"
	}
	if c.Gateway.DiscoveryCacheSize == 0 {
		c.Gateway.DiscoveryCacheSize = 100
	}
	if c.Gateway.DiscoveryTTL == "" {
		c.Gateway.DiscoveryTTL = "10m"
	}
	if c.Gateway.JWKSTTL == "" {
		c.Gateway.JWKSTTL = "10m"
	}
	if c.Gateway.JWTLeeway == "" {
		c.Gateway.JWTLeeway = "30s"
	}

	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}

	if c.Tracing.Output == "" {
		c.Tracing.Output = "stderr"
	}
	if c.Tracing.Enabled && c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1
	}

	for i := range c.Upstreams {
		if c.Upstreams[i].Timeout == "" {
			c.Upstreams[i].Timeout = "30s"
		}
	}
	for i := range c.Organizations {
		if c.Organizations[i].GlobalToolPolicy == "" {
			c.Organizations[i].GlobalToolPolicy = "restrictive"
		}
	}
}

// Duration parses a validated duration string. Invalid or empty input
// yields zero.
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
