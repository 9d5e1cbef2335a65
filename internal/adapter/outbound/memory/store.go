// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/Sentinel-Gate/toolgate/internal/domain/auth"
	"github.com/Sentinel-Gate/toolgate/internal/domain/policy"
	"github.com/Sentinel-Gate/toolgate/internal/domain/tool"
)

// Store implements the auth, tool and policy lookup ports with in-memory
// maps. Values are copied on the way in and out. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	agents       map[string]*auth.Agent
	idps         map[string]*auth.IdentityProvider
	users        map[string]*auth.User
	teamTokens   map[string]*auth.TeamToken // lookup hash -> token
	teamArgon    []*auth.TeamToken          // tokens stored as Argon2id
	userTokens   map[string]*auth.UserToken
	userArgon    []*auth.UserToken
	accessTokens map[string]*auth.OAuthAccessToken
	grants       map[string]*auth.RefreshGrant

	orgModes map[string]policy.GlobalToolPolicy

	tools       map[string]*tool.Tool // name -> tool
	policies    []policy.ToolInvocationPolicy
	policyIndex map[string]int // policy ID -> position in policies
}

// Compile-time interface verification.
var (
	_ auth.Store               = (*Store)(nil)
	_ tool.Store               = (*Store)(nil)
	_ policy.Store             = (*Store)(nil)
	_ policy.GlobalPolicyStore = (*Store)(nil)
)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		agents:       make(map[string]*auth.Agent),
		idps:         make(map[string]*auth.IdentityProvider),
		users:        make(map[string]*auth.User),
		teamTokens:   make(map[string]*auth.TeamToken),
		userTokens:   make(map[string]*auth.UserToken),
		accessTokens: make(map[string]*auth.OAuthAccessToken),
		grants:       make(map[string]*auth.RefreshGrant),
		orgModes:     make(map[string]policy.GlobalToolPolicy),
		tools:        make(map[string]*tool.Tool),
		policyIndex:  make(map[string]int),
	}
}

// GetAgent returns auth.ErrNotFound if the agent doesn't exist.
func (s *Store) GetAgent(_ context.Context, id string) (*auth.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return copyAgent(a), nil
}

// GetIdentityProvider returns auth.ErrNotFound if the provider doesn't exist.
func (s *Store) GetIdentityProvider(_ context.Context, id string) (*auth.IdentityProvider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.idps[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *p
	if p.OIDC != nil {
		oidc := *p.OIDC
		cp.OIDC = &oidc
	}
	return &cp, nil
}

// GetUser returns auth.ErrNotFound if the user doesn't exist.
func (s *Store) GetUser(_ context.Context, id string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return copyUser(u), nil
}

// FindUserByEmail matches case-insensitively.
func (s *Store) FindUserByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return copyUser(u), nil
		}
	}
	return nil, auth.ErrNotFound
}

// FindTeamTokenByHash looks up a token stored as SHA-256.
func (s *Store) FindTeamTokenByHash(_ context.Context, hash string) (*auth.TeamToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teamTokens[hash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ListTeamTokens returns the tokens that need iteration-based verification.
// SHA-256 tokens are reachable by direct lookup and are not listed.
func (s *Store) ListTeamTokens(_ context.Context) ([]*auth.TeamToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*auth.TeamToken, 0, len(s.teamArgon))
	for _, t := range s.teamArgon {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

// FindUserTokenByHash looks up a token stored as SHA-256.
func (s *Store) FindUserTokenByHash(_ context.Context, hash string) (*auth.UserToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.userTokens[hash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ListUserTokens returns the tokens that need iteration-based verification.
func (s *Store) ListUserTokens(_ context.Context) ([]*auth.UserToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*auth.UserToken, 0, len(s.userArgon))
	for _, t := range s.userArgon {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

// FindAccessTokenByHash looks up an OAuth access token.
func (s *Store) FindAccessTokenByHash(_ context.Context, hash string) (*auth.OAuthAccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.accessTokens[hash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// GetRefreshGrant returns auth.ErrNotFound if the grant doesn't exist.
func (s *Store) GetRefreshGrant(_ context.Context, id string) (*auth.RefreshGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

// GetGlobalToolPolicy defaults to restrictive for unknown organizations.
func (s *Store) GetGlobalToolPolicy(_ context.Context, organizationID string) (policy.GlobalToolPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if mode, ok := s.orgModes[organizationID]; ok {
		return mode, nil
	}
	return policy.GlobalRestrictive, nil
}

// FindToolsByNames returns tools by full composite name.
func (s *Store) FindToolsByNames(_ context.Context, names []string) ([]tool.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tool.Tool, 0, len(names))
	for _, n := range names {
		if t, ok := s.tools[n]; ok {
			out = append(out, copyTool(t))
		}
	}
	return out, nil
}

// ListToolsForAgent returns the agent's tools sorted by name.
func (s *Store) ListToolsForAgent(_ context.Context, agentID string) ([]tool.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tool.Tool
	for _, t := range s.tools {
		if t.ExposedTo(agentID) {
			out = append(out, copyTool(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FindPoliciesByToolIDs returns policies in insertion order.
func (s *Store) FindPoliciesByToolIDs(_ context.Context, toolIDs []string) ([]policy.ToolInvocationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]struct{}, len(toolIDs))
	for _, id := range toolIDs {
		want[id] = struct{}{}
	}
	var out []policy.ToolInvocationPolicy
	for _, p := range s.policies {
		if _, ok := want[p.ToolID]; ok {
			out = append(out, copyPolicy(p))
		}
	}
	return out, nil
}

func copyAgent(a *auth.Agent) *auth.Agent {
	cp := *a
	cp.TeamIDs = append([]string(nil), a.TeamIDs...)
	return &cp
}

func copyUser(u *auth.User) *auth.User {
	cp := *u
	cp.TeamIDs = append([]string(nil), u.TeamIDs...)
	cp.Permissions = append([]auth.Permission(nil), u.Permissions...)
	return &cp
}

func copyTool(t *tool.Tool) tool.Tool {
	cp := *t
	cp.AgentIDs = append([]string(nil), t.AgentIDs...)
	cp.InputSchema = append([]byte(nil), t.InputSchema...)
	return cp
}

func copyPolicy(p policy.ToolInvocationPolicy) policy.ToolInvocationPolicy {
	p.Conditions = append([]policy.Condition(nil), p.Conditions...)
	return p
}
