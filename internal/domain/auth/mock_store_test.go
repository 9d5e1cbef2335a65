package auth

import (
	"context"
	"strings"
	"sync"
)

// mockStore implements Store for testing. Setting err fails every lookup.
type mockStore struct {
	mu           sync.Mutex
	agents       map[string]*Agent
	idps         map[string]*IdentityProvider
	users        map[string]*User
	teamTokens   map[string]*TeamToken
	userTokens   map[string]*UserToken
	accessTokens map[string]*OAuthAccessToken
	grants       map[string]*RefreshGrant
	err          error
	// failTokens fails only token lookups.
	failTokens error
	lookups    []string
}

func newMockStore() *mockStore {
	return &mockStore{
		agents:       make(map[string]*Agent),
		idps:         make(map[string]*IdentityProvider),
		users:        make(map[string]*User),
		teamTokens:   make(map[string]*TeamToken),
		userTokens:   make(map[string]*UserToken),
		accessTokens: make(map[string]*OAuthAccessToken),
		grants:       make(map[string]*RefreshGrant),
	}
}

func (m *mockStore) record(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups = append(m.lookups, op)
	return m.err
}

// count returns how many times op was recorded.
func (m *mockStore) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.lookups {
		if l == op {
			n++
		}
	}
	return n
}

func (m *mockStore) GetAgent(_ context.Context, id string) (*Agent, error) {
	if err := m.record("agent"); err != nil {
		return nil, err
	}
	if a, ok := m.agents[id]; ok {
		return a, nil
	}
	return nil, ErrNotFound
}

func (m *mockStore) GetIdentityProvider(_ context.Context, id string) (*IdentityProvider, error) {
	if err := m.record("idp"); err != nil {
		return nil, err
	}
	if p, ok := m.idps[id]; ok {
		return p, nil
	}
	return nil, ErrNotFound
}

func (m *mockStore) GetUser(_ context.Context, id string) (*User, error) {
	if err := m.record("user"); err != nil {
		return nil, err
	}
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, ErrNotFound
}

func (m *mockStore) FindUserByEmail(_ context.Context, email string) (*User, error) {
	if err := m.record("user_email"); err != nil {
		return nil, err
	}
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockStore) FindTeamTokenByHash(_ context.Context, hash string) (*TeamToken, error) {
	if err := m.record("team_token"); err != nil {
		return nil, err
	}
	if m.failTokens != nil {
		return nil, m.failTokens
	}
	if t, ok := m.teamTokens[hash]; ok {
		return t, nil
	}
	return nil, ErrNotFound
}

func (m *mockStore) ListTeamTokens(_ context.Context) ([]*TeamToken, error) {
	if err := m.record("list_team_tokens"); err != nil {
		return nil, err
	}
	out := make([]*TeamToken, 0, len(m.teamTokens))
	for _, t := range m.teamTokens {
		out = append(out, t)
	}
	return out, nil
}

func (m *mockStore) FindUserTokenByHash(_ context.Context, hash string) (*UserToken, error) {
	if err := m.record("user_token"); err != nil {
		return nil, err
	}
	if m.failTokens != nil {
		return nil, m.failTokens
	}
	if t, ok := m.userTokens[hash]; ok {
		return t, nil
	}
	return nil, ErrNotFound
}

func (m *mockStore) ListUserTokens(_ context.Context) ([]*UserToken, error) {
	if err := m.record("list_user_tokens"); err != nil {
		return nil, err
	}
	out := make([]*UserToken, 0, len(m.userTokens))
	for _, t := range m.userTokens {
		out = append(out, t)
	}
	return out, nil
}

func (m *mockStore) FindAccessTokenByHash(_ context.Context, hash string) (*OAuthAccessToken, error) {
	if err := m.record("access_token"); err != nil {
		return nil, err
	}
	if m.failTokens != nil {
		return nil, m.failTokens
	}
	if t, ok := m.accessTokens[hash]; ok {
		return t, nil
	}
	return nil, ErrNotFound
}

func (m *mockStore) GetRefreshGrant(_ context.Context, id string) (*RefreshGrant, error) {
	if err := m.record("grant"); err != nil {
		return nil, err
	}
	if g, ok := m.grants[id]; ok {
		return g, nil
	}
	return nil, ErrNotFound
}

// Compile-time check that mockStore implements Store.
var _ Store = (*mockStore)(nil)
