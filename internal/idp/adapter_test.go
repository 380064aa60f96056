package idp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldaptoid/ldaptoid/internal/idp/token"
)

// newIdPServer fakes a token endpoint plus variant-specific resource routes.
func newIdPServer(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, handler := range routes {
		mux.HandleFunc(pattern, handler)
	}
	return httptest.NewServer(mux)
}

func tokenHandler(accessToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": accessToken,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}
}

func TestKeycloakFetchFiltersDisabledUsers(t *testing.T) {
	srv := newIdPServer(t, map[string]http.HandlerFunc{
		"/realms/acme/protocol/openid-connect/token": tokenHandler("kc-token"),
		"/admin/realms/acme/users": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer kc-token", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"id": "u1", "username": "alice", "enabled": true, "firstName": "Alice", "lastName": "Adams", "email": "alice@acme.test"},
				{"id": "u2", "username": "mallory", "enabled": false},
			})
		},
		"/admin/realms/acme/groups": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"id": "g1", "name": "devs", "path": "/devs"},
			})
		},
	})
	defer srv.Close()

	adapter, err := New(Config{
		Type:    TypeKeycloak,
		BaseURL: srv.URL + "/admin/realms/acme",
		Realm:   "acme",
	}, token.NewCache(nil))
	require.NoError(t, err)

	dir, err := adapter.FetchDirectory(context.Background())
	require.NoError(t, err)
	require.Len(t, dir.Users, 1)
	assert.Equal(t, "alice", dir.Users[0].Username)
	assert.Equal(t, "Alice Adams", dir.Users[0].DisplayName)
	assert.True(t, dir.Users[0].Active)
	require.Len(t, dir.Groups, 1)
	assert.Equal(t, "devs", dir.Groups[0].Name)
	assert.Empty(t, dir.Groups[0].MemberUserIDs)
}

func TestEntraFetchMapsGraphFields(t *testing.T) {
	srv := newIdPServer(t, map[string]http.HandlerFunc{
		"/token": tokenHandler("graph-token"),
		"/v1.0/users": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"value": []map[string]any{
				{"id": "e1", "userPrincipalName": "alice@contoso.com", "displayName": "Alice Adams",
					"givenName": "Alice", "surname": "Adams", "mail": "alice@contoso.com", "accountEnabled": true},
				{"id": "e2", "userPrincipalName": "gone@contoso.com", "accountEnabled": false},
			}})
		},
		"/v1.0/groups": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"value": []map[string]any{
				{"id": "g1", "displayName": "Engineering", "description": "eng team"},
			}})
		},
	})
	defer srv.Close()

	adapter, err := New(Config{Type: TypeEntra, BaseURL: srv.URL, Tenant: "contoso"}, token.NewCache(nil))
	require.NoError(t, err)

	// Point the token fetch at the fake server instead of login.microsoftonline.com.
	adapter.(*entra).oauth.TokenURL = srv.URL + "/token"

	dir, err := adapter.FetchDirectory(context.Background())
	require.NoError(t, err)
	require.Len(t, dir.Users, 1)
	assert.Equal(t, "alice@contoso.com", dir.Users[0].Username)
	assert.Equal(t, "Adams", dir.Users[0].FamilyName)
	require.Len(t, dir.Groups, 1)
	assert.Equal(t, "Engineering", dir.Groups[0].Name)
}

func TestZitadelFetchFiltersInactiveStatesAndSendsOrgHeader(t *testing.T) {
	srv := newIdPServer(t, map[string]http.HandlerFunc{
		"/oauth/v2/token": tokenHandler("zt-token"),
		"/v2/users": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "org-7", r.Header.Get("x-zitadel-orgid"))

			var body zitadelSearchRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.True(t, body.Query.Asc)
			require.Len(t, body.Queries, 1)
			assert.Equal(t, "org-7", body.Queries[0].OrganizationIDQuery.OrganizationID)

			_ = json.NewEncoder(w).Encode(map[string]any{"result": []map[string]any{
				{"userId": "z1", "username": "alice", "preferredLoginName": "alice@org.zitadel",
					"state": "USER_STATE_ACTIVE",
					"human": map[string]any{
						"profile": map[string]any{"givenName": "Alice", "familyName": "Adams"},
						"email":   map[string]any{"email": "alice@org.test"},
					}},
				{"userId": "z2", "username": "locked", "state": "USER_STATE_LOCKED"},
				{"userId": "z3", "username": "initial", "state": "USER_STATE_INITIAL"},
			}})
		},
	})
	defer srv.Close()

	adapter, err := New(Config{Type: TypeZitadel, BaseURL: srv.URL, Organization: "org-7"}, token.NewCache(nil))
	require.NoError(t, err)

	dir, err := adapter.FetchDirectory(context.Background())
	require.NoError(t, err)
	require.Len(t, dir.Users, 1)
	assert.Equal(t, "alice@org.zitadel", dir.Users[0].Username)
	assert.Equal(t, "Alice Adams", dir.Users[0].DisplayName)
	assert.Empty(t, dir.Groups)
}

func TestTokenRejectionEvictsAndRetriesOnce(t *testing.T) {
	var resourceCalls, tokenCalls atomic.Int32
	srv := newIdPServer(t, map[string]http.HandlerFunc{
		"/realms/acme/protocol/openid-connect/token": func(w http.ResponseWriter, r *http.Request) {
			tokenCalls.Add(1)
			tokenHandler("kc-token")(w, r)
		},
		"/admin/realms/acme/users": func(w http.ResponseWriter, r *http.Request) {
			if resourceCalls.Add(1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode([]map[string]any{})
		},
		"/admin/realms/acme/groups": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode([]map[string]any{})
		},
	})
	defer srv.Close()

	adapter, err := New(Config{
		Type:    TypeKeycloak,
		BaseURL: srv.URL + "/admin/realms/acme",
		Realm:   "acme",
	}, token.NewCache(nil))
	require.NoError(t, err)

	_, err = adapter.FetchDirectory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), resourceCalls.Load(), "one failure plus one retry")
	assert.Equal(t, int32(2), tokenCalls.Load(), "eviction forces a second token fetch")
}

func TestPersistentRejectionSurfacesAuthError(t *testing.T) {
	srv := newIdPServer(t, map[string]http.HandlerFunc{
		"/realms/acme/protocol/openid-connect/token": tokenHandler("kc-token"),
		"/admin/realms/acme/users": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		},
	})
	defer srv.Close()

	adapter, err := New(Config{
		Type:    TypeKeycloak,
		BaseURL: srv.URL + "/admin/realms/acme",
		Realm:   "acme",
	}, token.NewCache(nil))
	require.NoError(t, err)

	_, err = adapter.FetchDirectory(context.Background())
	assert.ErrorIs(t, err, ErrAuth)
}

func TestServerErrorIsTransient(t *testing.T) {
	srv := newIdPServer(t, map[string]http.HandlerFunc{
		"/realms/acme/protocol/openid-connect/token": tokenHandler("kc-token"),
		"/admin/realms/acme/users": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
	})
	defer srv.Close()

	adapter, err := New(Config{
		Type:    TypeKeycloak,
		BaseURL: srv.URL + "/admin/realms/acme",
		Realm:   "acme",
	}, token.NewCache(nil))
	require.NoError(t, err)

	_, err = adapter.FetchDirectory(context.Background())
	assert.ErrorIs(t, err, ErrTransient)
}

func TestMissingScopingIsConfigError(t *testing.T) {
	_, err := New(Config{Type: TypeKeycloak}, token.NewCache(nil))
	assert.Error(t, err)
	_, err = New(Config{Type: TypeEntra}, token.NewCache(nil))
	assert.Error(t, err)
	_, err = New(Config{Type: "okta"}, token.NewCache(nil))
	assert.Error(t, err)
}
