// Package idp normalizes users and groups from an OpenID Connect identity
// provider (Keycloak, Microsoft Entra ID or Zitadel v2) into the canonical
// shape the snapshot builder consumes. Adapters are read-only: they never
// modify IdP state.
package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/ldaptoid/ldaptoid/internal/idp/token"
)

// Type enumerates the supported IdP variants.
type Type string

const (
	TypeKeycloak Type = "keycloak"
	TypeEntra    Type = "entra"
	TypeZitadel  Type = "zitadel"
)

// DefaultRequestTimeout bounds each HTTP call to the IdP.
const DefaultRequestTimeout = 10 * time.Second

// ErrTransient marks a failure worth retrying on the scheduler's backoff
// clock (network trouble, 5xx, malformed payloads).
var ErrTransient = errors.New("idp: transient failure")

// ErrAuth marks a token rejection (401/403). The fetch helper evicts the
// cached token and retries once before surfacing it.
var ErrAuth = errors.New("idp: token rejected")

// User is one principal as delivered by the IdP, before ID allocation.
// Inactive users are filtered out by the adapter, never later.
type User struct {
	ID          string
	Username    string
	DisplayName string
	GivenName   string
	FamilyName  string
	Email       string
	Active      bool
}

// Group is one group as delivered by the IdP. MemberUserIDs may be empty
// when the IdP requires per-group membership calls this core does not make.
type Group struct {
	ID            string
	Name          string
	Description   string
	MemberUserIDs []string
}

// Directory is one complete adapter fetch.
type Directory struct {
	Users  []User
	Groups []Group
}

// Adapter fetches and normalizes one IdP variant.
type Adapter interface {
	// Name returns the variant name for logs and metrics.
	Name() string

	// FetchDirectory retrieves all users and groups. Errors wrap ErrAuth
	// for token rejections and ErrTransient for everything retryable.
	FetchDirectory(ctx context.Context) (*Directory, error)
}

// Config carries the IdP connection settings from pkg/config.
type Config struct {
	Type         Type
	BaseURL      string
	ClientID     string
	ClientSecret string

	// Variant scoping: exactly one is meaningful per Type.
	Realm        string // Keycloak
	Tenant       string // Entra
	Organization string // Zitadel, optional

	RequestTimeout time.Duration
}

// New constructs the adapter for cfg.Type.
func New(cfg Config, tokens *token.Cache) (Adapter, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	client := &http.Client{Timeout: cfg.RequestTimeout}

	switch cfg.Type {
	case TypeKeycloak:
		if cfg.Realm == "" {
			return nil, errors.New("idp: keycloak requires a realm")
		}
		return newKeycloak(cfg, tokens, client), nil
	case TypeEntra:
		if cfg.Tenant == "" {
			return nil, errors.New("idp: entra requires a tenant")
		}
		return newEntra(cfg, tokens, client), nil
	case TypeZitadel:
		return newZitadel(cfg, tokens, client), nil
	default:
		return nil, fmt.Errorf("idp: unknown type %q", cfg.Type)
	}
}

// rest is the shared HTTP plumbing: bearer injection, token eviction plus a
// single retry on 401/403, and the transient/auth error taxonomy.
type rest struct {
	client  *http.Client
	tokens  *token.Cache
	key     token.Key
	oauth   *clientcredentials.Config
	headers map[string]string
}

// doJSON performs one authenticated request and decodes the JSON response
// into out. A token rejection evicts the cached token and retries exactly
// once with a fresh one.
func (r *rest) doJSON(ctx context.Context, method, url string, body []byte, out any) error {
	err := r.attempt(ctx, method, url, body, out)
	if errors.Is(err, ErrAuth) {
		r.tokens.Evict(r.key)
		err = r.attempt(ctx, method, url, body, out)
	}
	return err
}

func (r *rest) attempt(ctx context.Context, method, url string, body []byte, out any) error {
	bearer, err := r.tokens.Token(ctx, r.key, r.oauth)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrTransient, err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransient, method, url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s returned %d", ErrAuth, method, url, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: %s %s returned %d", ErrTransient, method, url, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrTransient, url, err)
	}
	return nil
}

// displayNameOf joins given/family names, falling back to username.
func displayNameOf(display, given, family, username string) string {
	if display != "" {
		return display
	}
	switch {
	case given != "" && family != "":
		return given + " " + family
	case given != "":
		return given
	case family != "":
		return family
	default:
		return username
	}
}
