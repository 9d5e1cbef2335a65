package auth

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when a record does not exist.
// Validation strategies treat it as "no match" rather than a failure.
var ErrNotFound = errors.New("not found")

// AgentStore resolves validation targets.
type AgentStore interface {
	// GetAgent returns ErrNotFound if the agent doesn't exist.
	GetAgent(ctx context.Context, id string) (*Agent, error)
}

// IdentityProviderStore resolves external identity providers.
type IdentityProviderStore interface {
	// GetIdentityProvider returns ErrNotFound if the provider doesn't exist.
	GetIdentityProvider(ctx context.Context, id string) (*IdentityProvider, error)
}

// UserStore resolves local identities.
type UserStore interface {
	// GetUser returns ErrNotFound if the user doesn't exist.
	GetUser(ctx context.Context, id string) (*User, error)
	// FindUserByEmail matches case-insensitively.
	// Returns ErrNotFound if no user has the email.
	FindUserByEmail(ctx context.Context, email string) (*User, error)
}

// TokenStore provides credential lookup for static and OAuth tokens.
// This interface is defined in the domain to avoid circular imports.
// Implementations: in-memory (seeded from configuration).
type TokenStore interface {
	// FindTeamTokenByHash looks up a team token by its SHA-256 hex hash.
	FindTeamTokenByHash(ctx context.Context, hash string) (*TeamToken, error)
	// ListTeamTokens returns all team tokens for iteration-based verification.
	ListTeamTokens(ctx context.Context) ([]*TeamToken, error)

	// FindUserTokenByHash looks up a personal token by its SHA-256 hex hash.
	FindUserTokenByHash(ctx context.Context, hash string) (*UserToken, error)
	// ListUserTokens returns all personal tokens for iteration-based verification.
	ListUserTokens(ctx context.Context) ([]*UserToken, error)

	// FindAccessTokenByHash looks up an OAuth access token by its SHA-256 hex hash.
	FindAccessTokenByHash(ctx context.Context, hash string) (*OAuthAccessToken, error)
	// GetRefreshGrant returns ErrNotFound if the grant doesn't exist.
	GetRefreshGrant(ctx context.Context, id string) (*RefreshGrant, error)
}

// Store combines every lookup the Validator performs.
type Store interface {
	AgentStore
	IdentityProviderStore
	UserStore
	TokenStore
}
