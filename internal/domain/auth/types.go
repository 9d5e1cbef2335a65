// Package auth contains the domain types and logic for credential validation.
package auth

import (
	"time"
)

// Method identifies the strategy that authenticated a caller.
type Method string

const (
	// MethodExternalIdP is a JWT issued by an organization's identity provider.
	MethodExternalIdP Method = "external_idp"
	// MethodTeamToken is a static team or organization token.
	MethodTeamToken Method = "team_token"
	// MethodUserToken is a personal token owned by a user.
	MethodUserToken Method = "user_token"
	// MethodOAuth is an OAuth access token issued by the gateway.
	MethodOAuth Method = "oauth"
)

// AllMethods lists every method in validation order.
var AllMethods = []Method{MethodExternalIdP, MethodTeamToken, MethodUserToken, MethodOAuth}

// IsValid returns true if the method is a known method.
func (m Method) IsValid() bool {
	switch m {
	case MethodExternalIdP, MethodTeamToken, MethodUserToken, MethodOAuth:
		return true
	default:
		return false
	}
}

// Permission is an organization-level grant held by a user.
type Permission string

// PermissionAdminAll grants access to every agent in the organization.
const PermissionAdminAll Permission = "agents:admin"

// User is a local identity.
type User struct {
	ID             string
	Email          string
	OrganizationID string
	TeamIDs        []string
	Permissions    []Permission
}

// HasPermission returns true if the user holds the permission.
func (u *User) HasPermission(p Permission) bool {
	for _, have := range u.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// Agent is the gateway endpoint a credential is presented to.
type Agent struct {
	ID             string
	Name           string
	OrganizationID string
	// TeamIDs are the teams the agent is assigned to.
	TeamIDs []string
	// IdentityProviderID links an external IdP, empty when none.
	IdentityProviderID string
}

// IdentityProvider is an external issuer of agent credentials.
type IdentityProvider struct {
	ID             string
	OrganizationID string
	Name           string
	// OIDC is nil for providers without OIDC settings.
	OIDC *OIDCSettings
}

// OIDCSettings configure JWT verification for an identity provider.
type OIDCSettings struct {
	// Issuer must equal the iss claim and is the discovery base URL.
	Issuer string
	// ClientID must be present in the aud claim.
	ClientID string
	// JWKSURL skips issuer discovery when set.
	JWKSURL string
}

// TeamToken is a static token scoped to a team or a whole organization.
type TeamToken struct {
	ID string
	// Hash is the stored hash (sha256:<hex>, bare hex or Argon2id PHC).
	Hash           string
	Name           string
	OrganizationID string
	// TeamID is empty for organization-wide tokens.
	TeamID    string
	CreatedAt time.Time
	// ExpiresAt is nil for tokens that never expire.
	ExpiresAt *time.Time
	Revoked   bool
}

// IsOrgWide returns true if the token is not scoped to a team.
func (t *TeamToken) IsOrgWide() bool {
	return t.TeamID == ""
}

// IsExpired returns true if the token expired before now.
func (t *TeamToken) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// UserToken is a personal token owned by a user.
type UserToken struct {
	ID        string
	Hash      string
	Name      string
	UserID    string
	CreatedAt time.Time
	ExpiresAt *time.Time
	Revoked   bool
}

// IsExpired returns true if the token expired before now.
func (t *UserToken) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// OAuthAccessToken is an access token minted by the gateway's OAuth flow.
// Only the SHA-256 hash of the token value is stored.
type OAuthAccessToken struct {
	ID             string
	Hash           string
	UserID         string
	RefreshGrantID string
	ExpiresAt      time.Time
}

// IsExpired returns true if the token expired before now.
func (t *OAuthAccessToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// RefreshGrant is the long-lived grant an access token was minted from.
type RefreshGrant struct {
	ID        string
	UserID    string
	RevokedAt *time.Time
}

// IsRevoked returns true if the grant has been revoked.
func (g *RefreshGrant) IsRevoked() bool {
	return g.RevokedAt != nil
}

// Result is the identity a credential resolved to.
type Result struct {
	// Method is the strategy that succeeded.
	Method Method
	// IdentityID is the token ID for team tokens and the user ID otherwise.
	IdentityID string
	// UserID is empty for team and organization tokens.
	UserID         string
	Email          string
	OrganizationID string
	// TeamIDs are the caller's team memberships used for policy context.
	TeamIDs   []string
	IsOrgWide bool
	IsAdmin   bool
}
