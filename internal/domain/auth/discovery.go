package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Discovery defaults.
const (
	DefaultDiscoveryMaxEntries = 100
	DefaultExternalCallTimeout = 10 * time.Second
	DefaultKeySetTTL           = 5 * time.Minute
	DefaultKeyRefetchInterval  = 30 * time.Second

	wellKnownPath       = "/.well-known/openid-configuration"
	maxDiscoveryBodyLen = 1 << 20
)

// ErrDiscovery is returned when an issuer's metadata or key set cannot be fetched.
var ErrDiscovery = errors.New("identity provider discovery failed")

// CacheOption configures a DiscoveryCache or KeySetCache.
type CacheOption func(*cacheConfig)

type cacheConfig struct {
	maxEntries int
	ttl        time.Duration
	timeout    time.Duration
	now        func() time.Time
	// refetch is the minimum gap between unknown-kid refetches of one key set.
	refetch time.Duration
}

// WithMaxEntries caps the number of cached entries.
func WithMaxEntries(n int) CacheOption {
	return func(c *cacheConfig) { c.maxEntries = n }
}

// WithTTL expires entries after d. Zero keeps entries for the process lifetime.
func WithTTL(d time.Duration) CacheOption {
	return func(c *cacheConfig) { c.ttl = d }
}

// WithFetchTimeout bounds each outbound fetch.
func WithFetchTimeout(d time.Duration) CacheOption {
	return func(c *cacheConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRefetchInterval sets how long a key set must be held before an
// unknown kid may trigger another fetch of it. Zero refetches on every miss.
func WithRefetchInterval(d time.Duration) CacheOption {
	return func(c *cacheConfig) { c.refetch = d }
}

// WithClock injects the time source used for TTL checks.
func WithClock(now func() time.Time) CacheOption {
	return func(c *cacheConfig) { c.now = now }
}

func newCacheConfig(ttl time.Duration, opts []CacheOption) cacheConfig {
	cfg := cacheConfig{
		maxEntries: DefaultDiscoveryMaxEntries,
		ttl:        ttl,
		timeout:    DefaultExternalCallTimeout,
		now:        time.Now,
		refetch:    DefaultKeyRefetchInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// DiscoveryCache resolves and caches an issuer's jwks_uri.
type DiscoveryCache struct {
	client *http.Client
	cache  *boundedCache[string]
}

// NewDiscoveryCache creates a cache that fetches issuer metadata with client.
// Entries never expire unless WithTTL is given.
func NewDiscoveryCache(client *http.Client, opts ...CacheOption) *DiscoveryCache {
	cfg := newCacheConfig(0, opts)
	d := &DiscoveryCache{client: client}
	d.cache = newBoundedCache(cfg.maxEntries, cfg.ttl, cfg.timeout, cfg.now, d.fetch)
	return d
}

// JWKSURI returns the key-set URL advertised by issuer.
func (d *DiscoveryCache) JWKSURI(ctx context.Context, issuer string) (string, error) {
	return d.cache.Get(ctx, issuer)
}

// Len returns the number of cached issuers.
func (d *DiscoveryCache) Len() int {
	return d.cache.Len()
}

type discoveryDocument struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

func (d *DiscoveryCache) fetch(ctx context.Context, issuer string) (string, error) {
	url := strings.TrimSuffix(issuer, "/") + wellKnownPath

	var doc discoveryDocument
	if err := getJSON(ctx, d.client, url, &doc); err != nil {
		return "", err
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("%w: %s: missing jwks_uri", ErrDiscovery, issuer)
	}
	return doc.JWKSURI, nil
}

// getJSON performs a GET and decodes a JSON body of bounded size.
func getJSON(ctx context.Context, client *http.Client, url string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrDiscovery, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDiscovery, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: status %d", ErrDiscovery, url, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDiscoveryBodyLen)).Decode(v); err != nil {
		return fmt.Errorf("%w: %s: decode: %v", ErrDiscovery, url, err)
	}
	return nil
}
