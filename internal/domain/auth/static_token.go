package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Negative cache defaults for the Argon2id fallback scan.
const (
	DefaultMissTTL   = 30 * time.Second
	maxMissEntries   = 10000
	teamTokenMissKey = "team:"
	userTokenMissKey = "user:"
)

// missCache remembers credential hashes that failed a full Argon2id scan so
// repeated bad credentials do not rerun it. Entries expire after ttl.
type missCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	max     int
}

func newMissCache(ttl time.Duration) *missCache {
	return &missCache{entries: make(map[string]time.Time), ttl: ttl, max: maxMissEntries}
}

func (c *missCache) has(key string, now time.Time) bool {
	if c == nil || c.ttl <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.entries[key]
	if !ok {
		return false
	}
	if now.Sub(at) >= c.ttl {
		delete(c.entries, key)
		return false
	}
	return true
}

func (c *missCache) add(key string, now time.Time) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		for k, at := range c.entries {
			if now.Sub(at) >= c.ttl {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.max {
			clear(c.entries)
		}
	}
	c.entries[key] = now
}

// lookupStatic finds a static token by direct SHA-256 lookup, falling back
// to Argon2id verification over every stored token for gateway-prefixed
// credentials. A credential that missed the fallback scan within the miss
// TTL skips it. Returns (nil, nil) when nothing matches.
func lookupStatic[T any](
	ctx context.Context,
	cred *Credential,
	misses *missCache,
	missKey string,
	now time.Time,
	find func(context.Context, string) (*T, error),
	list func(context.Context) ([]*T, error),
	hashOf func(*T) string,
) (*T, error) {
	tok, err := find(ctx, cred.Hash)
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if !strings.HasPrefix(cred.Raw, TokenPrefix) {
		return nil, nil
	}
	missKey += cred.Hash
	if misses.has(missKey, now) {
		return nil, nil
	}

	all, err := list(ctx)
	if err != nil {
		return nil, err
	}
	for _, candidate := range all {
		stored := hashOf(candidate)
		if DetectHashType(stored) != HashTypeArgon2id {
			continue
		}
		match, verifyErr := VerifyToken(cred.Raw, stored)
		if verifyErr != nil {
			continue
		}
		if match {
			return candidate, nil
		}
	}
	misses.add(missKey, now)
	return nil, nil
}

func (v *Validator) checkTeamToken(ctx context.Context, cred *Credential) (*Result, error) {
	tok, err := lookupStatic(ctx, cred, v.misses, teamTokenMissKey, v.now(), v.store.FindTeamTokenByHash, v.store.ListTeamTokens,
		func(t *TeamToken) string { return t.Hash })
	if err != nil || tok == nil {
		return nil, err
	}

	if tok.Revoked || tok.IsExpired(v.now()) {
		return nil, nil
	}
	agent := cred.Agent
	if tok.OrganizationID != agent.OrganizationID {
		return nil, nil
	}
	if !tok.IsOrgWide() && !containsTeam(agent.TeamIDs, tok.TeamID) {
		v.logger.Debug("team token not assigned to agent",
			"token_id", tok.ID,
			"team_id", tok.TeamID,
			"agent_id", agent.ID,
		)
		return nil, nil
	}

	res := &Result{
		IdentityID:     tok.ID,
		OrganizationID: tok.OrganizationID,
		IsOrgWide:      tok.IsOrgWide(),
	}
	if !tok.IsOrgWide() {
		res.TeamIDs = []string{tok.TeamID}
	}
	return res, nil
}

func (v *Validator) checkUserToken(ctx context.Context, cred *Credential) (*Result, error) {
	tok, err := lookupStatic(ctx, cred, v.misses, userTokenMissKey, v.now(), v.store.FindUserTokenByHash, v.store.ListUserTokens,
		func(t *UserToken) string { return t.Hash })
	if err != nil || tok == nil {
		return nil, err
	}

	if tok.Revoked || tok.IsExpired(v.now()) {
		return nil, nil
	}
	return v.userResult(ctx, tok.UserID, cred.Agent)
}
