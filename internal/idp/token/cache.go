// Package token caches OAuth2 client-credentials access tokens per identity
// provider. Tokens never persist across restarts; a cached token is served
// while it still has at least ExpiryBuffer of life left, and at most one fetch
// per cache key is in flight at any time (concurrent callers for the same key
// wait for it).
package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ldaptoid/ldaptoid/internal/logger"
)

// ExpiryBuffer is the minimum remaining lifetime for a cached token to be
// served without a re-fetch.
const ExpiryBuffer = 30 * time.Second

// Key identifies one token cache slot. Realm carries the IdP-variant scoping
// value (Keycloak realm, Entra tenant or Zitadel organization).
type Key struct {
	IdPType  string
	BaseURL  string
	ClientID string
	Realm    string
}

// Metrics counts token fetches by outcome. Nil disables recording.
type Metrics interface {
	RecordTokenFetch(idp string, ok bool)
}

// Cache is the process-wide token cache.
type Cache struct {
	metrics Metrics
	now     func() time.Time

	mu    sync.Mutex
	slots map[Key]*slot
}

// slot serializes fetches for one key. The slot mutex is held across the
// network round trip, which is exactly the "one in-flight fetch per key"
// requirement: latecomers block on it and then find a fresh token.
type slot struct {
	mu    sync.Mutex
	token *oauth2.Token
}

// NewCache creates an empty token cache.
func NewCache(metrics Metrics) *Cache {
	return &Cache{
		metrics: metrics,
		now:     time.Now,
		slots:   make(map[Key]*slot),
	}
}

func (c *Cache) slotFor(key Key) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[key]
	if !ok {
		s = &slot{}
		c.slots[key] = s
	}
	return s
}

// Token returns a bearer token for key, fetching one via the client
// credentials grant when the cache is empty or the cached token is within
// ExpiryBuffer of expiry.
func (c *Cache) Token(ctx context.Context, key Key, cfg *clientcredentials.Config) (string, error) {
	s := c.slotFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != nil && s.token.Expiry.Sub(c.now()) >= ExpiryBuffer {
		return s.token.AccessToken, nil
	}

	tok, err := cfg.Token(ctx)
	if c.metrics != nil {
		c.metrics.RecordTokenFetch(key.IdPType, err == nil)
	}
	if err != nil {
		return "", fmt.Errorf("token: client credentials grant against %s: %w", cfg.TokenURL, err)
	}
	logger.Debug("access token acquired", "idp", key.IdPType, "expires_at", tok.Expiry)

	s.token = tok
	return tok.AccessToken, nil
}

// Evict discards the cached token for key. Called when the IdP rejects a
// request with 401/403 so the next Token call re-fetches.
func (c *Cache) Evict(key Key) {
	s := c.slotFor(key)
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()
	logger.Debug("access token evicted", "idp", key.IdPType)
}
