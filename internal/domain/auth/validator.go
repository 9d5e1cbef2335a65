package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

var (
	// ErrUnauthorized is returned when no strategy accepts the credential.
	// It is terminal and must not be retried.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrDependencyUnavailable is returned when no strategy accepted the
	// credential and at least one could not reach its store or issuer.
	ErrDependencyUnavailable = errors.New("authentication dependency unavailable")
)

// Credential is a raw bearer credential bound to its validation target.
type Credential struct {
	// Raw is the bearer value. Never log it; use Redact.
	Raw string
	// Hash is HashToken(Raw), computed once per validation.
	Hash  string
	Agent *Agent
}

// StrategyFunc tries to resolve a credential. It returns (nil, nil) when the
// credential does not match and a non-nil error only for dependency failures.
type StrategyFunc func(ctx context.Context, cred *Credential) (*Result, error)

// Strategy is a named entry in the validation chain.
type Strategy struct {
	Method Method
	Check  StrategyFunc
}

// Observer is notified of each strategy outcome.
// outcome is one of "success", "no_match" or "error".
type Observer func(method Method, outcome string)

// Validator resolves bearer credentials presented to an agent by trying
// strategies in order. The first success wins.
type Validator struct {
	store      Store
	discovery  *DiscoveryCache
	keys       *KeySetCache
	misses     *missCache
	strategies []Strategy
	now        func() time.Time
	leeway     time.Duration
	observe    Observer
	logger     *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithDiscoveryCache replaces the issuer discovery cache.
func WithDiscoveryCache(d *DiscoveryCache) Option {
	return func(v *Validator) { v.discovery = d }
}

// WithKeySetCache replaces the JWKS cache.
func WithKeySetCache(k *KeySetCache) Option {
	return func(v *Validator) { v.keys = k }
}

// WithMissTTL sets how long a gateway-prefixed credential that matched no
// stored Argon2id hash is rejected without rescanning. Zero disables it.
func WithMissTTL(d time.Duration) Option {
	return func(v *Validator) { v.misses = newMissCache(d) }
}

// WithValidatorClock injects the time source for expiry checks.
func WithValidatorClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithLeeway allows clock skew when verifying JWT time claims.
func WithLeeway(d time.Duration) Option {
	return func(v *Validator) { v.leeway = d }
}

// WithObserver registers a callback for strategy outcomes.
func WithObserver(o Observer) Option {
	return func(v *Validator) { v.observe = o }
}

// WithStrategies replaces the default strategy chain.
func WithStrategies(s ...Strategy) Option {
	return func(v *Validator) { v.strategies = s }
}

// NewValidator creates a Validator with the default chain:
// external IdP, team token, user token, OAuth token.
func NewValidator(store Store, logger *slog.Logger, opts ...Option) *Validator {
	client := &http.Client{Timeout: DefaultExternalCallTimeout}
	v := &Validator{
		store:   store,
		now:     time.Now,
		logger:  logger,
		observe: func(Method, string) {},
		misses:  newMissCache(DefaultMissTTL),
	}
	v.strategies = []Strategy{
		{Method: MethodExternalIdP, Check: v.checkExternalIdP},
		{Method: MethodTeamToken, Check: v.checkTeamToken},
		{Method: MethodUserToken, Check: v.checkUserToken},
		{Method: MethodOAuth, Check: v.checkOAuthToken},
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.discovery == nil {
		v.discovery = NewDiscoveryCache(client)
	}
	if v.keys == nil {
		v.keys = NewKeySetCache(client)
	}
	return v
}

// Validate resolves rawCredential for the agent.
// Returns ErrUnauthorized or an error wrapping ErrDependencyUnavailable.
func (v *Validator) Validate(ctx context.Context, agentID, rawCredential string) (*Result, error) {
	if rawCredential == "" {
		return nil, ErrUnauthorized
	}

	agent, err := v.store.GetAgent(ctx, agentID)
	if errors.Is(err, ErrNotFound) {
		v.logger.Debug("credential presented to unknown agent", "agent_id", agentID)
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get agent: %v", ErrDependencyUnavailable, err)
	}

	cred := &Credential{Raw: rawCredential, Hash: HashToken(rawCredential), Agent: agent}

	var depErrs []error
	for _, s := range v.strategies {
		res, err := s.Check(ctx, cred)
		if err != nil {
			v.observe(s.Method, "error")
			v.logger.Warn("auth strategy failed",
				"method", s.Method,
				"agent_id", agentID,
				"credential", Redact(rawCredential),
				"error", err,
			)
			depErrs = append(depErrs, fmt.Errorf("%s: %w", s.Method, err))
			continue
		}
		if res == nil {
			v.observe(s.Method, "no_match")
			continue
		}
		v.observe(s.Method, "success")
		res.Method = s.Method
		return res, nil
	}

	if len(depErrs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrDependencyUnavailable, errors.Join(depErrs...))
	}
	v.logger.Debug("credential rejected", "agent_id", agentID, "credential", Redact(rawCredential))
	return nil, ErrUnauthorized
}

// userResult checks the user/agent relationship shared by the user-token
// and OAuth strategies.
func (v *Validator) userResult(ctx context.Context, userID string, agent *Agent) (*Result, error) {
	user, err := v.store.GetUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if user.OrganizationID != agent.OrganizationID {
		return nil, nil
	}
	isAdmin := user.HasPermission(PermissionAdminAll)
	if !isAdmin && !sharesTeam(user.TeamIDs, agent.TeamIDs) {
		return nil, nil
	}
	return &Result{
		IdentityID:     user.ID,
		UserID:         user.ID,
		Email:          user.Email,
		OrganizationID: user.OrganizationID,
		TeamIDs:        append([]string(nil), user.TeamIDs...),
		IsAdmin:        isAdmin,
	}, nil
}

func sharesTeam(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func containsTeam(teams []string, id string) bool {
	for _, t := range teams {
		if t == id {
			return true
		}
	}
	return false
}
