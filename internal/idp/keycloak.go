package idp

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/ldaptoid/ldaptoid/internal/idp/token"
)

// keycloak reads the Keycloak admin REST API. BaseURL points at the realm's
// admin resource root (…/admin/realms/<realm>); the token endpoint lives under
// the server root, which is recovered by stripping the admin path.
type keycloak struct {
	rest
	baseURL string
}

func newKeycloak(cfg Config, tokens *token.Cache, client *http.Client) *keycloak {
	base := strings.TrimRight(cfg.BaseURL, "/")
	serverRoot := base
	if i := strings.Index(base, "/admin/realms/"); i >= 0 {
		serverRoot = base[:i]
	}
	key := token.Key{
		IdPType:  string(TypeKeycloak),
		BaseURL:  base,
		ClientID: cfg.ClientID,
		Realm:    cfg.Realm,
	}
	return &keycloak{
		baseURL: base,
		rest: rest{
			client: client,
			tokens: tokens,
			key:    key,
			oauth: &clientcredentials.Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				TokenURL:     serverRoot + "/realms/" + cfg.Realm + "/protocol/openid-connect/token",
				Scopes:       []string{"openid", "profile", "email"},
			},
		},
	}
}

func (k *keycloak) Name() string { return string(TypeKeycloak) }

type keycloakUser struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Enabled   bool   `json:"enabled"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type keycloakGroup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// FetchDirectory lists users and groups. Group membership requires one API
// call per group in Keycloak; this core leaves MemberUserIDs empty instead.
func (k *keycloak) FetchDirectory(ctx context.Context) (*Directory, error) {
	var rawUsers []keycloakUser
	if err := k.doJSON(ctx, http.MethodGet, k.baseURL+"/users", nil, &rawUsers); err != nil {
		return nil, err
	}
	var rawGroups []keycloakGroup
	if err := k.doJSON(ctx, http.MethodGet, k.baseURL+"/groups", nil, &rawGroups); err != nil {
		return nil, err
	}

	dir := &Directory{}
	for _, u := range rawUsers {
		if !u.Enabled {
			continue
		}
		dir.Users = append(dir.Users, User{
			ID:          u.ID,
			Username:    u.Username,
			DisplayName: displayNameOf("", u.FirstName, u.LastName, u.Username),
			GivenName:   u.FirstName,
			FamilyName:  u.LastName,
			Email:       u.Email,
			Active:      true,
		})
	}
	for _, g := range rawGroups {
		dir.Groups = append(dir.Groups, Group{
			ID:          g.ID,
			Name:        g.Name,
			Description: g.Path,
		})
	}
	return dir, nil
}
