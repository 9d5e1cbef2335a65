package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sentinel-Gate/toolgate/internal/domain/auth"
	"github.com/Sentinel-Gate/toolgate/internal/domain/policy"
	"github.com/Sentinel-Gate/toolgate/internal/domain/tool"
)

// Seeder receives the configured seed data. The in-memory store implements it.
type Seeder interface {
	SetGlobalToolPolicy(organizationID string, mode policy.GlobalToolPolicy)
	AddUser(u *auth.User)
	AddAgent(a *auth.Agent)
	AddIdentityProvider(p *auth.IdentityProvider)
	AddTeamToken(t *auth.TeamToken)
	AddUserToken(t *auth.UserToken)
	AddAccessToken(t *auth.OAuthAccessToken)
	AddRefreshGrant(g *auth.RefreshGrant)
	AddTool(t *tool.Tool)
	AddPolicy(p policy.ToolInvocationPolicy)
}

// Seed loads every seed section into s. now stamps CreatedAt and the
// revocation time of revoked grants. The config must have been validated.
func (c *Config) Seed(s Seeder, now time.Time) error {
	for _, o := range c.Organizations {
		s.SetGlobalToolPolicy(o.ID, policy.GlobalToolPolicy(o.GlobalToolPolicy))
	}

	for _, u := range c.Users {
		perms := make([]auth.Permission, len(u.Permissions))
		for i, p := range u.Permissions {
			perms[i] = auth.Permission(p)
		}
		s.AddUser(&auth.User{
			ID:             u.ID,
			Email:          u.Email,
			OrganizationID: u.OrganizationID,
			TeamIDs:        u.TeamIDs,
			Permissions:    perms,
		})
	}

	for _, p := range c.IdentityProviders {
		s.AddIdentityProvider(&auth.IdentityProvider{
			ID:             p.ID,
			OrganizationID: p.OrganizationID,
			Name:           p.Name,
			OIDC: &auth.OIDCSettings{
				Issuer:   p.Issuer,
				ClientID: p.ClientID,
				JWKSURL:  p.JWKSURL,
			},
		})
	}

	for _, a := range c.Agents {
		s.AddAgent(&auth.Agent{
			ID:                 a.ID,
			Name:               a.Name,
			OrganizationID:     a.OrganizationID,
			TeamIDs:            a.TeamIDs,
			IdentityProviderID: a.IdentityProviderID,
		})
	}

	for _, t := range c.TeamTokens {
		expires, err := optionalTime(t.ExpiresAt)
		if err != nil {
			return fmt.Errorf("team_tokens %s: %w", t.ID, err)
		}
		s.AddTeamToken(&auth.TeamToken{
			ID:             t.ID,
			Hash:           t.Hash,
			Name:           t.Name,
			OrganizationID: t.OrganizationID,
			TeamID:         t.TeamID,
			CreatedAt:      now,
			ExpiresAt:      expires,
			Revoked:        t.Revoked,
		})
	}

	for _, t := range c.UserTokens {
		expires, err := optionalTime(t.ExpiresAt)
		if err != nil {
			return fmt.Errorf("user_tokens %s: %w", t.ID, err)
		}
		s.AddUserToken(&auth.UserToken{
			ID:        t.ID,
			Hash:      t.Hash,
			Name:      t.Name,
			UserID:    t.UserID,
			CreatedAt: now,
			ExpiresAt: expires,
			Revoked:   t.Revoked,
		})
	}

	for _, t := range c.OAuthTokens {
		expires, err := time.Parse(time.RFC3339, t.ExpiresAt)
		if err != nil {
			return fmt.Errorf("oauth_tokens %s: expires_at: %w", t.ID, err)
		}
		grant := &auth.RefreshGrant{ID: t.RefreshGrantID, UserID: t.UserID}
		if t.GrantRevoked {
			revokedAt := now
			grant.RevokedAt = &revokedAt
		}
		s.AddRefreshGrant(grant)
		s.AddAccessToken(&auth.OAuthAccessToken{
			ID:             t.ID,
			Hash:           t.Hash,
			UserID:         t.UserID,
			RefreshGrantID: t.RefreshGrantID,
			ExpiresAt:      expires,
		})
	}

	for _, t := range c.Tools {
		var schema json.RawMessage
		if t.InputSchema != "" {
			schema = json.RawMessage(t.InputSchema)
		}
		s.AddTool(&tool.Tool{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
			AgentIDs:    t.AgentIDs,
		})
	}

	for _, p := range c.Policies {
		s.AddPolicy(p.ToPolicy())
	}
	return nil
}

// ToPolicy converts the entry to its domain form.
func (p PolicyConfig) ToPolicy() policy.ToolInvocationPolicy {
	conds := make([]policy.Condition, len(p.Conditions))
	for i, c := range p.Conditions {
		conds[i] = policy.Condition{
			Key:      c.Key,
			Operator: policy.Operator(c.Operator),
			Value:    c.Value,
		}
	}
	return policy.ToolInvocationPolicy{
		ID:         p.ID,
		ToolID:     p.ToolID,
		Conditions: conds,
		Action:     policy.Action(p.Action),
		Reason:     p.Reason,
	}
}

func optionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("expires_at: %w", err)
	}
	return &t, nil
}
