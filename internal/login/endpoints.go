package login

import (
	"fmt"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/openkcm/directory-auth/internal/directory"
)

// Endpoints locates the tenant specific endpoints of the identity provider.
type Endpoints struct {
	Scheme string
	Host   string
}

func (e Endpoints) base(tenantID string) string {
	scheme := e.Scheme
	if scheme == "" {
		scheme = "https"
	}

	return fmt.Sprintf("%s://%s/%s/oauth2", scheme, e.Host, url.PathEscape(tenantID))
}

// AuthorizeURL returns https://{host}/{tenantID}/oauth2/authorize.
func (e Endpoints) AuthorizeURL(tenantID string) string {
	return e.base(tenantID) + "/authorize"
}

// TokenURL returns https://{host}/{tenantID}/oauth2/token.
func (e Endpoints) TokenURL(tenantID string) string {
	return e.base(tenantID) + "/token"
}

// oauth2Config binds the endpoints to one registration.
func (e Endpoints) oauth2Config(reg directory.Registration, redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   e.AuthorizeURL(reg.TenantID),
			TokenURL:  e.TokenURL(reg.TenantID),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}
