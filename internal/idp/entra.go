package idp

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/ldaptoid/ldaptoid/internal/idp/token"
)

// entra reads the Microsoft Graph API. The token endpoint is always the
// Microsoft identity platform; BaseURL defaults to the public Graph root and
// is overridable for sovereign clouds.
type entra struct {
	rest
	baseURL string
}

const defaultGraphBase = "https://graph.microsoft.com"

func newEntra(cfg Config, tokens *token.Cache, client *http.Client) *entra {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultGraphBase
	}
	key := token.Key{
		IdPType:  string(TypeEntra),
		BaseURL:  base,
		ClientID: cfg.ClientID,
		Realm:    cfg.Tenant,
	}
	return &entra{
		baseURL: base,
		rest: rest{
			client: client,
			tokens: tokens,
			key:    key,
			oauth: &clientcredentials.Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				TokenURL:     "https://login.microsoftonline.com/" + cfg.Tenant + "/oauth2/v2.0/token",
				Scopes:       []string{"https://graph.microsoft.com/.default"},
			},
		},
	}
}

func (e *entra) Name() string { return string(TypeEntra) }

type entraUser struct {
	ID                string `json:"id"`
	UserPrincipalName string `json:"userPrincipalName"`
	DisplayName       string `json:"displayName"`
	GivenName         string `json:"givenName"`
	Surname           string `json:"surname"`
	Mail              string `json:"mail"`
	AccountEnabled    bool   `json:"accountEnabled"`
}

type entraGroup struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
}

// Graph wraps collections in a "value" array.
type entraList[T any] struct {
	Value []T `json:"value"`
}

// FetchDirectory lists users and groups from Graph. Transitive group member
// expansion needs per-group calls that this core does not make.
func (e *entra) FetchDirectory(ctx context.Context) (*Directory, error) {
	var rawUsers entraList[entraUser]
	if err := e.doJSON(ctx, http.MethodGet, e.baseURL+"/v1.0/users", nil, &rawUsers); err != nil {
		return nil, err
	}
	var rawGroups entraList[entraGroup]
	if err := e.doJSON(ctx, http.MethodGet, e.baseURL+"/v1.0/groups", nil, &rawGroups); err != nil {
		return nil, err
	}

	dir := &Directory{}
	for _, u := range rawUsers.Value {
		if !u.AccountEnabled {
			continue
		}
		dir.Users = append(dir.Users, User{
			ID:          u.ID,
			Username:    u.UserPrincipalName,
			DisplayName: displayNameOf(u.DisplayName, u.GivenName, u.Surname, u.UserPrincipalName),
			GivenName:   u.GivenName,
			FamilyName:  u.Surname,
			Email:       u.Mail,
			Active:      true,
		})
	}
	for _, g := range rawGroups.Value {
		dir.Groups = append(dir.Groups, Group{
			ID:          g.ID,
			Name:        g.DisplayName,
			Description: g.Description,
		})
	}
	return dir, nil
}
