package login

import (
	"strings"

	"golang.org/x/oauth2"

	"github.com/openkcm/directory-auth/internal/directory"
	"github.com/openkcm/directory-auth/internal/randsrc"
	"github.com/openkcm/directory-auth/internal/serviceerr"
)

// DefaultScopes are requested when none are configured.
var DefaultScopes = []string{"User.Read", "offline_access", "openid", "profile"}

// StateSource generates anti-forgery state tokens.
type StateSource interface {
	State() string
}

// AuthorizationRequestBuilder builds the URL the browser is sent to for
// signing in at the tenant's directory.
type AuthorizationRequestBuilder struct {
	endpoints Endpoints
	states    StateSource
}

func NewAuthorizationRequestBuilder(endpoints Endpoints, states StateSource) *AuthorizationRequestBuilder {
	if states == nil {
		states = randsrc.Source{}
	}

	return &AuthorizationRequestBuilder{
		endpoints: endpoints,
		states:    states,
	}
}

// BuildAuthorizationURL returns the authorization URL and the fresh state
// embedded in it. The caller must persist the state before redirecting.
func (b *AuthorizationRequestBuilder) BuildAuthorizationURL(reg directory.Registration, redirectURI, loginHint string, scopes []string) (string, string, error) {
	if strings.TrimSpace(redirectURI) == "" {
		return "", "", serviceerr.Validation("redirect uri is required")
	}

	if reg.ClientID == "" || reg.TenantID == "" {
		return "", "", serviceerr.Validation("registration lacks client or tenant id")
	}

	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	state := b.states.State()

	opts := make([]oauth2.AuthCodeOption, 0, 2)
	if reg.DomainHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("domain_hint", reg.DomainHint))
	}
	if loginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", loginHint))
	}

	authURL := b.endpoints.oauth2Config(reg, redirectURI, scopes).AuthCodeURL(state, opts...)

	return authURL, state, nil
}
