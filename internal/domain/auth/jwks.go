package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// ErrUnknownKey is returned when a JWT names a key the issuer does not publish.
var ErrUnknownKey = errors.New("signing key not found in key set")

// JWK represents a JSON Web Key.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	// RSA
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`
	// EC
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKS represents a JSON Web Key Set.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// keySet maps key IDs to parsed public keys.
type keySet map[string]crypto.PublicKey

// KeySetCache fetches and caches JSON Web Key Sets by URL.
type KeySetCache struct {
	client *http.Client
	cache  *boundedCache[keySet]

	mu          sync.Mutex
	lastRefetch map[string]time.Time
	interval    time.Duration
	maxEntries  int
	now         func() time.Time
}

// NewKeySetCache creates a key-set cache. Entries expire after
// DefaultKeySetTTL unless WithTTL is given.
func NewKeySetCache(client *http.Client, opts ...CacheOption) *KeySetCache {
	cfg := newCacheConfig(DefaultKeySetTTL, opts)
	k := &KeySetCache{
		client:      client,
		lastRefetch: make(map[string]time.Time),
		interval:    cfg.refetch,
		maxEntries:  cfg.maxEntries,
		now:         cfg.now,
	}
	k.cache = newBoundedCache(cfg.maxEntries, cfg.ttl, cfg.timeout, cfg.now, k.fetch)
	return k
}

// Key returns the public key kid from the key set at url. An unknown kid
// triggers one refetch to pick up rotated keys, at most once per refetch
// interval for each url. An empty kid selects the only key of a single-key set.
func (k *KeySetCache) Key(ctx context.Context, url, kid string) (crypto.PublicKey, error) {
	set, err := k.cache.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	if key, ok := set.find(kid); ok {
		return key, nil
	}

	if !k.allowRefetch(url) {
		return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
	}
	set, err = k.cache.Refresh(ctx, url)
	if err != nil {
		return nil, err
	}
	if key, ok := set.find(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
}

// allowRefetch records a refetch of url unless one happened within the
// interval. Stale records are pruned once the map outgrows the cache.
func (k *KeySetCache) allowRefetch(url string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if last, ok := k.lastRefetch[url]; ok && now.Sub(last) < k.interval {
		return false
	}
	if len(k.lastRefetch) >= k.maxEntries {
		for u, last := range k.lastRefetch {
			if now.Sub(last) >= k.interval {
				delete(k.lastRefetch, u)
			}
		}
	}
	k.lastRefetch[url] = now
	return true
}

func (s keySet) find(kid string) (crypto.PublicKey, bool) {
	if kid == "" {
		if len(s) != 1 {
			return nil, false
		}
		for _, key := range s {
			return key, true
		}
	}
	key, ok := s[kid]
	return key, ok
}

func (k *KeySetCache) fetch(ctx context.Context, url string) (keySet, error) {
	var doc JWKS
	if err := getJSON(ctx, k.client, url, &doc); err != nil {
		return nil, err
	}
	return parseKeySet(doc), nil
}

// parseKeySet keeps signature keys that parse. Unsupported or malformed
// entries are skipped.
func parseKeySet(doc JWKS) keySet {
	set := make(keySet, len(doc.Keys))
	for _, jwk := range doc.Keys {
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		key, err := jwk.PublicKey()
		if err != nil {
			continue
		}
		set[jwk.Kid] = key
	}
	return set
}

// PublicKey decodes the JWK into an *rsa.PublicKey or *ecdsa.PublicKey.
func (j JWK) PublicKey() (crypto.PublicKey, error) {
	switch j.Kty {
	case "RSA":
		n, err := decodeBigInt(j.N)
		if err != nil {
			return nil, fmt.Errorf("decode n: %w", err)
		}
		e, err := decodeBigInt(j.E)
		if err != nil {
			return nil, fmt.Errorf("decode e: %w", err)
		}
		if !e.IsInt64() || e.Int64() < 2 || e.Int64() > 1<<31-1 {
			return nil, errors.New("invalid RSA exponent")
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil

	case "EC":
		var curve elliptic.Curve
		switch j.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported curve %q", j.Crv)
		}
		x, err := decodeBigInt(j.X)
		if err != nil {
			return nil, fmt.Errorf("decode x: %w", err)
		}
		y, err := decodeBigInt(j.Y)
		if err != nil {
			return nil, fmt.Errorf("decode y: %w", err)
		}
		if !curve.IsOnCurve(x, y) {
			return nil, errors.New("point not on curve")
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil

	default:
		return nil, fmt.Errorf("unsupported key type %q", j.Kty)
	}
}

// NewRSAJWK encodes an RSA public key as a JWK.
func NewRSAJWK(kid string, key *rsa.PublicKey) JWK {
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: kid,
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}

func decodeBigInt(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("empty value")
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}
