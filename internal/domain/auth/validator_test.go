package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fixedClock() time.Time { return testNow }

// seedStore returns a store with one organization, one agent on team-a and
// users covering each relationship to that agent.
func seedStore() *mockStore {
	m := newMockStore()
	m.agents["agent-1"] = &Agent{ID: "agent-1", OrganizationID: "org-1", TeamIDs: []string{"team-a"}, IdentityProviderID: "idp-1"}
	m.users["u-admin"] = &User{ID: "u-admin", Email: "admin@example.com", OrganizationID: "org-1", Permissions: []Permission{PermissionAdminAll}}
	m.users["u-member"] = &User{ID: "u-member", Email: "member@example.com", OrganizationID: "org-1", TeamIDs: []string{"team-a", "team-c"}}
	m.users["u-outsider"] = &User{ID: "u-outsider", Email: "outsider@example.com", OrganizationID: "org-1", TeamIDs: []string{"team-b"}}
	m.users["u-foreign"] = &User{ID: "u-foreign", Email: "foreign@other.org", OrganizationID: "org-2", TeamIDs: []string{"team-a"}}
	return m
}

func newTestValidator(store Store, opts ...Option) *Validator {
	opts = append([]Option{WithValidatorClock(fixedClock)}, opts...)
	return NewValidator(store, testLogger(), opts...)
}

func timePtr(t time.Time) *time.Time { return &t }

func TestValidator_TeamToken(t *testing.T) {
	raw := "tgk_team-secret"
	past := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)

	tests := []struct {
		name        string
		token       TeamToken
		wantErr     error
		wantOrgWide bool
		wantTeams   []string
	}{
		{name: "org-wide token", token: TeamToken{ID: "tt-1", OrganizationID: "org-1"}, wantOrgWide: true},
		{name: "team token assigned to agent", token: TeamToken{ID: "tt-1", OrganizationID: "org-1", TeamID: "team-a", ExpiresAt: &future}, wantTeams: []string{"team-a"}},
		{name: "team token not assigned to agent", token: TeamToken{ID: "tt-1", OrganizationID: "org-1", TeamID: "team-b"}, wantErr: ErrUnauthorized},
		{name: "revoked token", token: TeamToken{ID: "tt-1", OrganizationID: "org-1", Revoked: true}, wantErr: ErrUnauthorized},
		{name: "expired token", token: TeamToken{ID: "tt-1", OrganizationID: "org-1", ExpiresAt: &past}, wantErr: ErrUnauthorized},
		{name: "token from another organization", token: TeamToken{ID: "tt-1", OrganizationID: "org-2"}, wantErr: ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seedStore()
			tok := tt.token
			tok.Hash = HashToken(raw)
			store.teamTokens[tok.Hash] = &tok

			res, err := newTestValidator(store).Validate(context.Background(), "agent-1", raw)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if res.Method != MethodTeamToken {
				t.Errorf("Method = %q, want %q", res.Method, MethodTeamToken)
			}
			if res.IdentityID != "tt-1" || res.OrganizationID != "org-1" {
				t.Errorf("result = %+v", res)
			}
			if res.IsOrgWide != tt.wantOrgWide {
				t.Errorf("IsOrgWide = %v, want %v", res.IsOrgWide, tt.wantOrgWide)
			}
			if len(res.TeamIDs) != len(tt.wantTeams) {
				t.Errorf("TeamIDs = %v, want %v", res.TeamIDs, tt.wantTeams)
			}
		})
	}
}

func TestValidator_TeamTokenArgon2id(t *testing.T) {
	raw := "tgk_argon-secret"
	hash, err := HashTokenArgon2id(raw)
	if err != nil {
		t.Fatalf("HashTokenArgon2id() error = %v", err)
	}
	store := seedStore()
	store.teamTokens["argon-entry"] = &TeamToken{ID: "tt-argon", Hash: hash, OrganizationID: "org-1"}

	res, err := newTestValidator(store).Validate(context.Background(), "agent-1", raw)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if res.IdentityID != "tt-argon" {
		t.Errorf("IdentityID = %q, want tt-argon", res.IdentityID)
	}
}

func TestValidator_UnknownPrefixedTokenSkipsRepeatedArgon2Scan(t *testing.T) {
	hash, err := HashTokenArgon2id("tgk_argon-secret")
	if err != nil {
		t.Fatalf("HashTokenArgon2id() error = %v", err)
	}
	store := seedStore()
	store.teamTokens["argon-entry"] = &TeamToken{ID: "tt-argon", Hash: hash, OrganizationID: "org-1"}
	store.userTokens["argon-entry"] = &UserToken{ID: "ut-argon", Hash: hash, UserID: "u-member"}

	clock := &fakeClock{now: testNow}
	v := newTestValidator(store, WithValidatorClock(clock.Now))

	for i := 0; i < 5; i++ {
		if _, err := v.Validate(context.Background(), "agent-1", "tgk_bogus"); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("Validate(bogus) error = %v, want ErrUnauthorized", err)
		}
	}
	if n := store.count("list_team_tokens"); n != 1 {
		t.Errorf("team token scans = %d, want 1", n)
	}
	if n := store.count("list_user_tokens"); n != 1 {
		t.Errorf("user token scans = %d, want 1", n)
	}

	res, err := v.Validate(context.Background(), "agent-1", "tgk_argon-secret")
	if err != nil {
		t.Fatalf("Validate(valid) error = %v", err)
	}
	if res.IdentityID != "tt-argon" {
		t.Errorf("IdentityID = %q, want tt-argon", res.IdentityID)
	}

	clock.Advance(DefaultMissTTL)
	if _, err := v.Validate(context.Background(), "agent-1", "tgk_bogus"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Validate(bogus) after TTL error = %v, want ErrUnauthorized", err)
	}
	if n := store.count("list_team_tokens"); n != 3 {
		t.Errorf("team token scans after TTL = %d, want 3", n)
	}
}

func TestValidator_MissTTLZeroAlwaysScans(t *testing.T) {
	store := seedStore()
	v := newTestValidator(store, WithMissTTL(0))

	for i := 0; i < 3; i++ {
		if _, err := v.Validate(context.Background(), "agent-1", "tgk_bogus"); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("Validate() error = %v, want ErrUnauthorized", err)
		}
	}
	if n := store.count("list_team_tokens"); n != 3 {
		t.Errorf("team token scans = %d, want 3", n)
	}
}

func TestValidator_UserToken(t *testing.T) {
	raw := "tgk_user-secret"

	tests := []struct {
		name      string
		userID    string
		revoked   bool
		wantErr   error
		wantAdmin bool
	}{
		{name: "admin granted without shared team", userID: "u-admin", wantAdmin: true},
		{name: "member shares a team", userID: "u-member"},
		{name: "outsider shares no team", userID: "u-outsider", wantErr: ErrUnauthorized},
		{name: "user from another organization", userID: "u-foreign", wantErr: ErrUnauthorized},
		{name: "unknown owner", userID: "u-ghost", wantErr: ErrUnauthorized},
		{name: "revoked token", userID: "u-member", revoked: true, wantErr: ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seedStore()
			store.userTokens[HashToken(raw)] = &UserToken{ID: "ut-1", Hash: HashToken(raw), UserID: tt.userID, Revoked: tt.revoked}

			res, err := newTestValidator(store).Validate(context.Background(), "agent-1", raw)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if res.Method != MethodUserToken || res.UserID != tt.userID {
				t.Errorf("result = %+v", res)
			}
			if res.IsAdmin != tt.wantAdmin {
				t.Errorf("IsAdmin = %v, want %v", res.IsAdmin, tt.wantAdmin)
			}
		})
	}
}

func TestValidator_OAuthToken(t *testing.T) {
	raw := "opaque-oauth-access-token"
	revokedAt := testNow.Add(-time.Minute)

	tests := []struct {
		name    string
		expires time.Time
		grant   *RefreshGrant
		userID  string
		wantErr error
	}{
		{name: "valid token", expires: testNow.Add(time.Hour), grant: &RefreshGrant{ID: "g-1", UserID: "u-member"}, userID: "u-member"},
		{name: "expired token", expires: testNow.Add(-time.Second), grant: &RefreshGrant{ID: "g-1", UserID: "u-member"}, userID: "u-member", wantErr: ErrUnauthorized},
		{name: "revoked grant", expires: testNow.Add(time.Hour), grant: &RefreshGrant{ID: "g-1", UserID: "u-member", RevokedAt: &revokedAt}, userID: "u-member", wantErr: ErrUnauthorized},
		{name: "missing grant", expires: testNow.Add(time.Hour), userID: "u-member", wantErr: ErrUnauthorized},
		{name: "outsider", expires: testNow.Add(time.Hour), grant: &RefreshGrant{ID: "g-1", UserID: "u-outsider"}, userID: "u-outsider", wantErr: ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seedStore()
			store.accessTokens[HashToken(raw)] = &OAuthAccessToken{
				ID: "at-1", Hash: HashToken(raw), UserID: tt.userID, RefreshGrantID: "g-1", ExpiresAt: tt.expires,
			}
			if tt.grant != nil {
				store.grants[tt.grant.ID] = tt.grant
			}

			res, err := newTestValidator(store).Validate(context.Background(), "agent-1", raw)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && res.Method != MethodOAuth {
				t.Errorf("Method = %q, want %q", res.Method, MethodOAuth)
			}
		})
	}
}

// idpServer serves OIDC discovery and a JWKS for a single RSA key.
type idpServer struct {
	*httptest.Server
	key           *rsa.PrivateKey
	discoveryHits atomic.Int32
	jwksHits      atomic.Int32
	failJWKS      atomic.Bool
}

func newIDPServer(t *testing.T) *idpServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey() error = %v", err)
	}
	s := &idpServer{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		s.discoveryHits.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"issuer": s.URL, "jwks_uri": s.URL + "/jwks"})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		s.jwksHits.Add(1)
		if s.failJWKS.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(JWKS{Keys: []JWK{NewRSAJWK("kid-1", &key.PublicKey)}})
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *idpServer) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "kid-1"
	signed, err := tok.SignedString(s.key)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return signed
}

func (s *idpServer) claims(email string) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   s.URL,
		"aud":   "toolgate-client",
		"sub":   "ext-" + email,
		"email": email,
		"iat":   testNow.Add(-time.Minute).Unix(),
		"exp":   testNow.Add(time.Hour).Unix(),
	}
}

func storeWithIDP(s *idpServer, jwksURL string) *mockStore {
	store := seedStore()
	store.idps["idp-1"] = &IdentityProvider{
		ID:             "idp-1",
		OrganizationID: "org-1",
		OIDC:           &OIDCSettings{Issuer: s.URL, ClientID: "toolgate-client", JWKSURL: jwksURL},
	}
	return store
}

func TestValidator_ExternalIdP(t *testing.T) {
	srv := newIDPServer(t)

	tests := []struct {
		name    string
		mutate  func(jwt.MapClaims)
		email   string
		wantErr error
	}{
		{name: "valid assertion", email: "member@example.com"},
		{name: "email matched case-insensitively", email: "Member@Example.com"},
		{name: "wrong audience", email: "member@example.com", mutate: func(c jwt.MapClaims) { c["aud"] = "other" }, wantErr: ErrUnauthorized},
		{name: "wrong issuer", email: "member@example.com", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil.example" }, wantErr: ErrUnauthorized},
		{name: "expired", email: "member@example.com", mutate: func(c jwt.MapClaims) { c["exp"] = testNow.Add(-time.Minute).Unix() }, wantErr: ErrUnauthorized},
		{name: "missing expiry", email: "member@example.com", mutate: func(c jwt.MapClaims) { delete(c, "exp") }, wantErr: ErrUnauthorized},
		{name: "missing email", email: "", wantErr: ErrUnauthorized},
		{name: "unknown email", email: "nobody@example.com", wantErr: ErrUnauthorized},
		{name: "user outside organization", email: "foreign@other.org", wantErr: ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := srv.claims(tt.email)
			if tt.email == "" {
				delete(claims, "email")
			}
			if tt.mutate != nil {
				tt.mutate(claims)
			}

			v := newTestValidator(storeWithIDP(srv, ""))
			res, err := v.Validate(context.Background(), "agent-1", srv.sign(t, claims))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if res.Method != MethodExternalIdP || res.UserID != "u-member" {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestValidator_ExternalIdPUsesConfiguredJWKS(t *testing.T) {
	srv := newIDPServer(t)
	v := newTestValidator(storeWithIDP(srv, srv.URL+"/jwks"))

	if _, err := v.Validate(context.Background(), "agent-1", srv.sign(t, srv.claims("member@example.com"))); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if n := srv.discoveryHits.Load(); n != 0 {
		t.Errorf("discovery hits = %d, want 0 with configured JWKS URL", n)
	}
}

func TestValidator_ExternalIdPCachesDiscovery(t *testing.T) {
	srv := newIDPServer(t)
	v := newTestValidator(storeWithIDP(srv, ""))
	jwtStr := srv.sign(t, srv.claims("member@example.com"))

	for i := 0; i < 3; i++ {
		if _, err := v.Validate(context.Background(), "agent-1", jwtStr); err != nil {
			t.Fatalf("Validate() #%d error = %v", i, err)
		}
	}
	if n := srv.discoveryHits.Load(); n != 1 {
		t.Errorf("discovery hits = %d, want 1", n)
	}
	if n := srv.jwksHits.Load(); n != 1 {
		t.Errorf("jwks hits = %d, want 1", n)
	}
}

func TestValidator_PrefixedCredentialSkipsIdP(t *testing.T) {
	srv := newIDPServer(t)
	v := newTestValidator(storeWithIDP(srv, ""))

	_, err := v.Validate(context.Background(), "agent-1", "tgk_a.b.c")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Validate() error = %v, want ErrUnauthorized", err)
	}
	if n := srv.discoveryHits.Load() + srv.jwksHits.Load(); n != 0 {
		t.Errorf("IdP contacted %d times for a prefixed credential", n)
	}
}

func TestValidator_KeySetOutageIsRetryable(t *testing.T) {
	srv := newIDPServer(t)
	srv.failJWKS.Store(true)
	v := newTestValidator(storeWithIDP(srv, ""))

	_, err := v.Validate(context.Background(), "agent-1", srv.sign(t, srv.claims("member@example.com")))
	if !errors.Is(err, ErrDependencyUnavailable) {
		t.Fatalf("Validate() error = %v, want ErrDependencyUnavailable", err)
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Error("dependency failure also reported as unauthorized")
	}
}

func TestValidator_FirstSuccessWins(t *testing.T) {
	var calls []Method
	strategy := func(m Method, res *Result, err error) Strategy {
		return Strategy{Method: m, Check: func(context.Context, *Credential) (*Result, error) {
			calls = append(calls, m)
			return res, err
		}}
	}

	v := newTestValidator(seedStore(), WithStrategies(
		strategy(MethodExternalIdP, nil, nil),
		strategy(MethodTeamToken, &Result{IdentityID: "team-identity", OrganizationID: "org-1"}, nil),
		strategy(MethodUserToken, &Result{IdentityID: "user-identity"}, nil),
		strategy(MethodOAuth, &Result{IdentityID: "oauth-identity"}, nil),
	))

	res, err := v.Validate(context.Background(), "agent-1", "credential")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if res.Method != MethodTeamToken || res.IdentityID != "team-identity" {
		t.Errorf("result = %+v, want the team strategy's identity", res)
	}
	if len(calls) != 2 {
		t.Errorf("strategies evaluated = %v, want only the first two", calls)
	}
}

func TestValidator_DependencyFailures(t *testing.T) {
	storeErr := errors.New("connection reset")

	t.Run("later success overrides earlier failure", func(t *testing.T) {
		v := newTestValidator(seedStore(), WithStrategies(
			Strategy{Method: MethodExternalIdP, Check: func(context.Context, *Credential) (*Result, error) { return nil, storeErr }},
			Strategy{Method: MethodTeamToken, Check: func(context.Context, *Credential) (*Result, error) { return &Result{IdentityID: "t"}, nil }},
		))
		res, err := v.Validate(context.Background(), "agent-1", "credential")
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if res.Method != MethodTeamToken {
			t.Errorf("Method = %q, want team_token", res.Method)
		}
	})

	t.Run("token store outage", func(t *testing.T) {
		store := seedStore()
		store.failTokens = storeErr
		_, err := newTestValidator(store).Validate(context.Background(), "agent-1", "tgk_anything")
		if !errors.Is(err, ErrDependencyUnavailable) {
			t.Fatalf("Validate() error = %v, want ErrDependencyUnavailable", err)
		}
	})

	t.Run("agent store outage", func(t *testing.T) {
		store := seedStore()
		store.err = storeErr
		_, err := newTestValidator(store).Validate(context.Background(), "agent-1", "tgk_anything")
		if !errors.Is(err, ErrDependencyUnavailable) {
			t.Fatalf("Validate() error = %v, want ErrDependencyUnavailable", err)
		}
	})
}

func TestValidator_Rejections(t *testing.T) {
	v := newTestValidator(seedStore())

	if _, err := v.Validate(context.Background(), "agent-1", ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("empty credential error = %v, want ErrUnauthorized", err)
	}
	if _, err := v.Validate(context.Background(), "agent-missing", "tgk_x"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("unknown agent error = %v, want ErrUnauthorized", err)
	}
	if _, err := v.Validate(context.Background(), "agent-1", "tgk_unknown"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("unknown token error = %v, want ErrUnauthorized", err)
	}
}

func TestValidator_Observer(t *testing.T) {
	store := seedStore()
	raw := "tgk_observed"
	store.userTokens[HashToken(raw)] = &UserToken{ID: "ut", Hash: HashToken(raw), UserID: "u-member"}

	outcomes := map[Method]string{}
	v := newTestValidator(store, WithObserver(func(m Method, outcome string) { outcomes[m] = outcome }))
	if _, err := v.Validate(context.Background(), "agent-1", raw); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	want := map[Method]string{MethodExternalIdP: "no_match", MethodTeamToken: "no_match", MethodUserToken: "success"}
	for m, o := range want {
		if outcomes[m] != o {
			t.Errorf("outcome[%s] = %q, want %q", m, outcomes[m], o)
		}
	}
	if _, ok := outcomes[MethodOAuth]; ok {
		t.Error("oauth strategy evaluated after user token success")
	}
}
