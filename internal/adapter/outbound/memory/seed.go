package memory

import (
	"github.com/Sentinel-Gate/toolgate/internal/domain/auth"
	"github.com/Sentinel-Gate/toolgate/internal/domain/policy"
	"github.com/Sentinel-Gate/toolgate/internal/domain/tool"
)

// AddAgent adds or replaces an agent.
func (s *Store) AddAgent(a *auth.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = copyAgent(a)
}

// AddIdentityProvider adds or replaces an identity provider.
func (s *Store) AddIdentityProvider(p *auth.IdentityProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	if p.OIDC != nil {
		oidc := *p.OIDC
		cp.OIDC = &oidc
	}
	s.idps[p.ID] = &cp
}

// AddUser adds or replaces a user.
func (s *Store) AddUser(u *auth.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = copyUser(u)
}

// AddTeamToken stores a team token. SHA-256 hashes are indexed for direct
// lookup; Argon2id hashes are kept for iteration.
func (s *Store) AddTeamToken(t *auth.TeamToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	if key, ok := auth.NormalizeHash(t.Hash); ok {
		s.teamTokens[key] = &cp
		return
	}
	s.teamArgon = append(s.teamArgon, &cp)
}

// AddUserToken stores a personal token, indexed like AddTeamToken.
func (s *Store) AddUserToken(t *auth.UserToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	if key, ok := auth.NormalizeHash(t.Hash); ok {
		s.userTokens[key] = &cp
		return
	}
	s.userArgon = append(s.userArgon, &cp)
}

// AddAccessToken stores an OAuth access token by its SHA-256 hash.
func (s *Store) AddAccessToken(t *auth.OAuthAccessToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	key, ok := auth.NormalizeHash(t.Hash)
	if !ok {
		key = t.Hash
	}
	s.accessTokens[key] = &cp
}

// AddRefreshGrant adds or replaces a refresh grant.
func (s *Store) AddRefreshGrant(g *auth.RefreshGrant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	s.grants[g.ID] = &cp
}

// SetGlobalToolPolicy sets an organization's enforcement mode.
func (s *Store) SetGlobalToolPolicy(organizationID string, mode policy.GlobalToolPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgModes[organizationID] = mode
}

// AddTool adds or replaces a tool, keyed by composite name.
func (s *Store) AddTool(t *tool.Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyTool(t)
	s.tools[t.Name] = &cp
}

// AddPolicy appends a policy. Re-adding an existing ID replaces it in place
// so storage order is preserved.
func (s *Store) AddPolicy(p policy.ToolInvocationPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyPolicy(p)
	if i, ok := s.policyIndex[p.ID]; ok && p.ID != "" {
		s.policies[i] = cp
		return
	}
	s.policyIndex[p.ID] = len(s.policies)
	s.policies = append(s.policies, cp)
}
