package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2/clientcredentials"
)

type countingMetrics struct {
	mu      sync.Mutex
	fetches map[string][]bool
}

func (m *countingMetrics) RecordTokenFetch(idp string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetches == nil {
		m.fetches = make(map[string][]bool)
	}
	m.fetches[idp] = append(m.fetches[idp], ok)
}

func newTokenServer(t *testing.T, expiresIn int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + string(rune('a'+n-1)),
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
		})
	}))
}

func TestTokenIsCachedUntilExpiryBuffer(t *testing.T) {
	var calls atomic.Int32
	srv := newTokenServer(t, 3600, &calls)
	defer srv.Close()

	base := time.Now()
	clock := base
	cache := NewCache(nil)
	cache.now = func() time.Time { return clock }

	key := Key{IdPType: "keycloak", BaseURL: srv.URL, ClientID: "svc"}
	cfg := &clientcredentials.Config{ClientID: "svc", ClientSecret: "s", TokenURL: srv.URL}

	first, err := cache.Token(context.Background(), key, cfg)
	require.NoError(t, err)
	second, err := cache.Token(context.Background(), key, cfg)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())

	// Step to within the expiry buffer: the next call must re-fetch.
	clock = base.Add(3600*time.Second - ExpiryBuffer + time.Second)
	third, err := cache.Token(context.Background(), key, cfg)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEvictForcesRefetch(t *testing.T) {
	var calls atomic.Int32
	srv := newTokenServer(t, 3600, &calls)
	defer srv.Close()

	cache := NewCache(nil)
	key := Key{IdPType: "entra", BaseURL: srv.URL, ClientID: "svc"}
	cfg := &clientcredentials.Config{ClientID: "svc", ClientSecret: "s", TokenURL: srv.URL}

	_, err := cache.Token(context.Background(), key, cfg)
	require.NoError(t, err)
	cache.Evict(key)
	_, err = cache.Token(context.Background(), key, cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestKeysAreIsolated(t *testing.T) {
	var calls atomic.Int32
	srv := newTokenServer(t, 3600, &calls)
	defer srv.Close()

	cache := NewCache(nil)
	cfg := &clientcredentials.Config{ClientID: "svc", ClientSecret: "s", TokenURL: srv.URL}

	_, err := cache.Token(context.Background(), Key{IdPType: "keycloak", Realm: "a"}, cfg)
	require.NoError(t, err)
	_, err = cache.Token(context.Background(), Key{IdPType: "keycloak", Realm: "b"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "distinct realms must not share a token")
}

func TestConcurrentCallersShareOneFetch(t *testing.T) {
	var calls atomic.Int32
	srv := newTokenServer(t, 3600, &calls)
	defer srv.Close()

	cache := NewCache(nil)
	key := Key{IdPType: "zitadel", BaseURL: srv.URL, ClientID: "svc"}
	cfg := &clientcredentials.Config{ClientID: "svc", ClientSecret: "s", TokenURL: srv.URL}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Token(context.Background(), key, cfg)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchOutcomeIsRecorded(t *testing.T) {
	var calls atomic.Int32
	srv := newTokenServer(t, 3600, &calls)
	defer srv.Close()

	metrics := &countingMetrics{}
	cache := NewCache(metrics)
	cfg := &clientcredentials.Config{ClientID: "svc", ClientSecret: "s", TokenURL: srv.URL}

	_, err := cache.Token(context.Background(), Key{IdPType: "keycloak"}, cfg)
	require.NoError(t, err)

	bad := &clientcredentials.Config{ClientID: "svc", ClientSecret: "s", TokenURL: "http://127.0.0.1:1/token"}
	_, err = cache.Token(context.Background(), Key{IdPType: "entra"}, bad)
	require.Error(t, err)

	assert.Equal(t, []bool{true}, metrics.fetches["keycloak"])
	assert.Equal(t, []bool{false}, metrics.fetches["entra"])
}
