package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/ldaptoid/ldaptoid/internal/idp/token"
)

// zitadel reads the Zitadel v2 user API. Groups are not served by this API
// generation, so the directory carries users only; group projection relies on
// the synthetic feature flags.
type zitadel struct {
	rest
	baseURL string
	orgID   string
}

const zitadelUserStateActive = "USER_STATE_ACTIVE"

func newZitadel(cfg Config, tokens *token.Cache, client *http.Client) *zitadel {
	base := strings.TrimRight(cfg.BaseURL, "/")
	scopes := []string{"urn:zitadel:iam:org:projects:roles"}
	if cfg.Organization != "" {
		scopes = append(scopes, "urn:zitadel:iam:org:id:"+cfg.Organization)
	}
	key := token.Key{
		IdPType:  string(TypeZitadel),
		BaseURL:  base,
		ClientID: cfg.ClientID,
		Realm:    cfg.Organization,
	}
	headers := map[string]string{}
	if cfg.Organization != "" {
		headers["x-zitadel-orgid"] = cfg.Organization
	}
	return &zitadel{
		baseURL: base,
		orgID:   cfg.Organization,
		rest: rest{
			client:  client,
			tokens:  tokens,
			key:     key,
			headers: headers,
			oauth: &clientcredentials.Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				TokenURL:     base + "/oauth/v2/token",
				Scopes:       scopes,
			},
		},
	}
}

func (z *zitadel) Name() string { return string(TypeZitadel) }

type zitadelSearchRequest struct {
	Query   zitadelListQuery `json:"query"`
	Queries []zitadelQuery   `json:"queries,omitempty"`
}

type zitadelListQuery struct {
	Limit int  `json:"limit"`
	Asc   bool `json:"asc"`
}

type zitadelQuery struct {
	OrganizationIDQuery *zitadelOrgIDQuery `json:"organizationIdQuery,omitempty"`
}

type zitadelOrgIDQuery struct {
	OrganizationID string `json:"organizationId"`
}

type zitadelUser struct {
	UserID             string   `json:"userId"`
	Username           string   `json:"username"`
	PreferredLoginName string   `json:"preferredLoginName"`
	LoginNames         []string `json:"loginNames"`
	State              string   `json:"state"`
	Human              struct {
		Profile struct {
			GivenName   string `json:"givenName"`
			FamilyName  string `json:"familyName"`
			DisplayName string `json:"displayName"`
		} `json:"profile"`
		Email struct {
			Email string `json:"email"`
		} `json:"email"`
	} `json:"human"`
}

type zitadelSearchResponse struct {
	Result []zitadelUser `json:"result"`
}

const zitadelPageLimit = 1000

// FetchDirectory searches users via POST /v2/users. Only USER_STATE_ACTIVE
// principals survive; every other state (INITIAL, LOCKED, SUSPENDED, DELETED)
// is dropped at the adapter.
func (z *zitadel) FetchDirectory(ctx context.Context) (*Directory, error) {
	search := zitadelSearchRequest{
		Query: zitadelListQuery{Limit: zitadelPageLimit, Asc: true},
	}
	if z.orgID != "" {
		search.Queries = []zitadelQuery{
			{OrganizationIDQuery: &zitadelOrgIDQuery{OrganizationID: z.orgID}},
		}
	}
	body, err := json.Marshal(search)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal user search: %v", ErrTransient, err)
	}

	var resp zitadelSearchResponse
	if err := z.doJSON(ctx, http.MethodPost, z.baseURL+"/v2/users", body, &resp); err != nil {
		return nil, err
	}

	dir := &Directory{}
	for _, u := range resp.Result {
		if u.State != zitadelUserStateActive {
			continue
		}
		username := u.PreferredLoginName
		if username == "" {
			username = u.Username
		}
		if username == "" && len(u.LoginNames) > 0 {
			username = u.LoginNames[0]
		}
		dir.Users = append(dir.Users, User{
			ID:       u.UserID,
			Username: username,
			DisplayName: displayNameOf(
				u.Human.Profile.DisplayName,
				u.Human.Profile.GivenName,
				u.Human.Profile.FamilyName,
				username,
			),
			GivenName:  u.Human.Profile.GivenName,
			FamilyName: u.Human.Profile.FamilyName,
			Email:      u.Human.Email.Email,
			Active:     true,
		})
	}
	return dir, nil
}
