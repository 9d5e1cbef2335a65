package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Sentinel-Gate/toolgate/internal/domain/auth"
	"github.com/Sentinel-Gate/toolgate/internal/domain/tool"
	"github.com/Sentinel-Gate/toolgate/pkg/mcp"
)

// RegisterCustomValidators registers toolgate-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"audit_output": validateAuditOutput,
		"trace_output": validateTraceOutput,
		"duration":     validateDuration,
		"auth_method":  validateAuthMethod,
		"tool_name":    validateToolName,
		"server_name":  validateServerName,
		"token_hash":   validateTokenHash,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// absoluteURLPath reports whether output is scheme:///abs/path for one of
// the given schemes.
func absoluteURLPath(output string, schemes ...string) bool {
	u, err := url.Parse(output)
	if err != nil || u.Host != "" || u.Path == "" || !filepath.IsAbs(u.Path) {
		return false
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return true
		}
	}
	return false
}

// validateAuditOutput accepts "stdout", "file://<abs>" or "sqlite://<abs>".
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()
	return output == "stdout" || absoluteURLPath(output, "file", "sqlite")
}

// validateTraceOutput accepts "stdout", "stderr" or "file://<abs>".
func validateTraceOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()
	return output == "stdout" || output == "stderr" || absoluteURLPath(output, "file")
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

func validateAuthMethod(fl validator.FieldLevel) bool {
	return auth.Method(fl.Field().String()).IsValid()
}

// validateToolName requires a well-formed composite <server>__<tool> name.
func validateToolName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if mcp.ValidateToolName(name) != nil {
		return false
	}
	_, _, err := tool.SplitName(name)
	return err == nil
}

// validateServerName rejects names that would be ambiguous as a tool prefix
// or that shadow the builtin server.
func validateServerName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	return mcp.ValidateToolName(name) == nil &&
		!strings.Contains(name, tool.NameSeparator) &&
		name != tool.BuiltinServer
}

func validateTokenHash(fl validator.FieldLevel) bool {
	return auth.DetectHashType(fl.Field().String()) != auth.HashTypeUnknown
}

// Validate validates the Config using struct tags and cross-reference rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	checks := []func() error{
		c.validateUpstreams,
		c.validateReferences,
	}
	var errs []error
	for _, check := range checks {
		if err := check(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// validateUpstreams ensures names are unique and each upstream has exactly
// one transport.
func (c *Config) validateUpstreams() error {
	seen := make(map[string]struct{}, len(c.Upstreams))
	for i, u := range c.Upstreams {
		if _, dup := seen[u.Name]; dup {
			return fmt.Errorf("upstreams[%d]: duplicate name %q", i, u.Name)
		}
		seen[u.Name] = struct{}{}

		switch hasURL, hasCommand := u.URL != "", u.Command != ""; {
		case hasURL && hasCommand:
			return fmt.Errorf("upstreams[%d]: specify url OR command, not both", i)
		case !hasURL && !hasCommand:
			return fmt.Errorf("upstreams[%d]: url or command is required", i)
		}
	}
	return nil
}

// idSet collects ids and reports the first duplicate.
func idSet[T any](section string, items []T, id func(T) string) (map[string]T, error) {
	set := make(map[string]T, len(items))
	for i, item := range items {
		key := id(item)
		if _, dup := set[key]; dup {
			return nil, fmt.Errorf("%s[%d]: duplicate id %q", section, i, key)
		}
		set[key] = item
	}
	return set, nil
}

// validateReferences checks that every id a seed entry points at exists.
func (c *Config) validateReferences() error {
	orgs, err := idSet("organizations", c.Organizations, func(o OrganizationConfig) string { return o.ID })
	if err != nil {
		return err
	}
	users, err := idSet("users", c.Users, func(u UserConfig) string { return u.ID })
	if err != nil {
		return err
	}
	agents, err := idSet("agents", c.Agents, func(a AgentConfig) string { return a.ID })
	if err != nil {
		return err
	}
	idps, err := idSet("identity_providers", c.IdentityProviders, func(p IdentityProviderConfig) string { return p.ID })
	if err != nil {
		return err
	}
	tools, err := idSet("tools", c.Tools, func(t ToolConfig) string { return t.ID })
	if err != nil {
		return err
	}
	if _, err := idSet("tools", c.Tools, func(t ToolConfig) string { return t.Name }); err != nil {
		return fmt.Errorf("%w (tool names must be unique)", err)
	}
	if _, err := idSet("policies", c.Policies, func(p PolicyConfig) string { return p.ID }); err != nil {
		return err
	}
	if _, err := idSet("team_tokens", c.TeamTokens, func(t TeamTokenConfig) string { return t.ID }); err != nil {
		return err
	}
	if _, err := idSet("user_tokens", c.UserTokens, func(t UserTokenConfig) string { return t.ID }); err != nil {
		return err
	}
	if _, err := idSet("oauth_tokens", c.OAuthTokens, func(t OAuthTokenConfig) string { return t.ID }); err != nil {
		return err
	}

	requireOrg := func(section string, i int, orgID string) error {
		if _, ok := orgs[orgID]; !ok {
			return fmt.Errorf("%s[%d]: references unknown organization_id: %s", section, i, orgID)
		}
		return nil
	}

	// Teams have no entries of their own; a team exists once a user or
	// agent of the organization belongs to it.
	teams := make(map[string]map[string]struct{})
	addTeams := func(orgID string, ids []string) {
		if teams[orgID] == nil {
			teams[orgID] = make(map[string]struct{})
		}
		for _, id := range ids {
			teams[orgID][id] = struct{}{}
		}
	}

	for i, u := range c.Users {
		if err := requireOrg("users", i, u.OrganizationID); err != nil {
			return err
		}
		addTeams(u.OrganizationID, u.TeamIDs)
	}
	for i, p := range c.IdentityProviders {
		if err := requireOrg("identity_providers", i, p.OrganizationID); err != nil {
			return err
		}
	}
	for i, a := range c.Agents {
		if err := requireOrg("agents", i, a.OrganizationID); err != nil {
			return err
		}
		addTeams(a.OrganizationID, a.TeamIDs)
		if a.IdentityProviderID == "" {
			continue
		}
		idp, ok := idps[a.IdentityProviderID]
		if !ok {
			return fmt.Errorf("agents[%d]: references unknown identity_provider_id: %s", i, a.IdentityProviderID)
		}
		if idp.OrganizationID != a.OrganizationID {
			return fmt.Errorf("agents[%d]: identity provider %s belongs to another organization", i, idp.ID)
		}
	}
	for i, t := range c.TeamTokens {
		if err := requireOrg("team_tokens", i, t.OrganizationID); err != nil {
			return err
		}
		if t.TeamID == "" {
			continue
		}
		if _, ok := teams[t.OrganizationID][t.TeamID]; !ok {
			return fmt.Errorf("team_tokens[%d]: references unknown team_id: %s", i, t.TeamID)
		}
	}
	for i, t := range c.UserTokens {
		if _, ok := users[t.UserID]; !ok {
			return fmt.Errorf("user_tokens[%d]: references unknown user_id: %s", i, t.UserID)
		}
	}
	for i, t := range c.OAuthTokens {
		if _, ok := users[t.UserID]; !ok {
			return fmt.Errorf("oauth_tokens[%d]: references unknown user_id: %s", i, t.UserID)
		}
	}
	for i, t := range c.Tools {
		for _, agentID := range t.AgentIDs {
			if _, ok := agents[agentID]; !ok {
				return fmt.Errorf("tools[%d]: references unknown agent_id: %s", i, agentID)
			}
		}
	}
	for i, p := range c.Policies {
		if _, ok := tools[p.ToolID]; !ok {
			return fmt.Errorf("policies[%d]: references unknown tool_id: %s", i, p.ToolID)
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "json":
		return fmt.Sprintf("%s must be valid JSON", field)
	case "datetime":
		return fmt.Sprintf("%s must be an RFC 3339 timestamp", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a duration like 30s or 5m", field)
	case "audit_output":
		return fmt.Sprintf("%s must be 'stdout', 'file://<absolute-path>' or 'sqlite://<absolute-path>'", field)
	case "trace_output":
		return fmt.Sprintf("%s must be 'stdout', 'stderr' or 'file://<absolute-path>'", field)
	case "auth_method":
		return fmt.Sprintf("%s must be one of: external_idp team_token user_token oauth", field)
	case "tool_name":
		return fmt.Sprintf("%s must be <server>__<tool>", field)
	case "server_name":
		return fmt.Sprintf("%s must be a plain name without %q and not %q", field, tool.NameSeparator, tool.BuiltinServer)
	case "token_hash":
		return fmt.Sprintf("%s must be 'sha256:<hex>' or an Argon2id hash", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
