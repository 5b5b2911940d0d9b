package login_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"

	"github.com/openkcm/directory-auth/internal/config"
	"github.com/openkcm/directory-auth/internal/directory"
	"github.com/openkcm/directory-auth/internal/directory/directorymock"
	"github.com/openkcm/directory-auth/internal/login"
	"github.com/openkcm/directory-auth/internal/randsrc"
	"github.com/openkcm/directory-auth/internal/serviceerr"
	"github.com/openkcm/directory-auth/internal/session"
)

const (
	baseURL     = "https://app.example.com/"
	callbackURL = "https://app.example.com/auth/aad-mt"
	referrer    = "https://app.example.com/orders"
)

func newTestFlow(t *testing.T, provider *providerServer, mutate func(*config.Login), opts ...login.FlowOption) *login.Flow {
	t.Helper()

	cfg := config.Login{
		ProviderScheme:       "http",
		ProviderHost:         provider.host(),
		GraphBaseURL:         provider.URL,
		RefreshTokenLifespan: login.DefaultRefreshTokenLifespan,
		ProviderTimeout:      2 * time.Second,
		PendingLoginTTL:      10 * time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	repo := directorymock.NewInMemRepository(
		directorymock.WithRegistration(directory1),
		directorymock.WithRegistration(directory2),
	)

	opts = append([]login.FlowOption{login.WithStateSource(fixedStates("state-1"))}, opts...)
	flow, err := login.NewFlow(directory.NewResolver(repo), &cfg, provider.Client(), nil, opts...)
	require.NoError(t, err)

	return flow
}

func startLogin(t *testing.T, flow *login.Flow, userName string) login.Result {
	t.Helper()

	res, err := flow.Authenticate(t.Context(), session.New("sid", time.Now().Add(time.Hour)), login.Request{
		UserName:    userName,
		Redirect:    referrer,
		BaseURL:     baseURL,
		CallbackURL: callbackURL,
	})
	require.NoError(t, err)

	return res
}

func callbackRequest(code, state string) login.Request {
	return login.Request{Code: code, State: state, BaseURL: baseURL, CallbackURL: callbackURL}
}

func TestFlow_RoundTrip(t *testing.T) {
	provider := startProvider(t)
	provider.setTokenBody(tokenSuccess(signIDToken(t, idTokenClaims(directory1.TenantID, "user1@foo1.ms.com"))))
	flow := newTestFlow(t, provider, nil)

	started := startLogin(t, flow, "user1@foo1.ms.com")
	require.Equal(t, login.StepAwaitingCode, started.Step)

	u, err := url.Parse(started.Location)
	require.NoError(t, err)
	assert.Equal(t, provider.host(), u.Host)
	assert.Equal(t, "/"+directory1.TenantID+"/oauth2/authorize", u.Path)
	assert.Equal(t, "clientid", u.Query().Get("client_id"))
	assert.Equal(t, "foo1.ms.com", u.Query().Get("domain_hint"))
	assert.Equal(t, "user1@foo1.ms.com", u.Query().Get("login_hint"))
	assert.Equal(t, callbackURL, u.Query().Get("redirect_uri"))
	assert.Equal(t, "state-1", u.Query().Get("state"))

	require.NotNil(t, started.Session.Pending)
	assert.Equal(t, "state-1", started.Session.Pending.AntiForgeryState)
	assert.Equal(t, "user1@foo1.ms.com", started.Session.Pending.UserName)
	assert.Equal(t, referrer, started.Session.Pending.ReferrerURL)
	assert.False(t, started.Session.Authenticated)
	assert.Empty(t, provider.forms(), "no token request before the callback")

	done, err := flow.Authenticate(t.Context(), started.Session, callbackRequest("the-code", "state-1"))
	require.NoError(t, err)

	assert.Equal(t, login.StepAuthenticated, done.Step)
	assert.NoError(t, done.Err)
	assert.Equal(t, referrer+"?s=1", done.Location)

	sess := done.Session
	assert.True(t, sess.Authenticated)
	assert.Nil(t, sess.Pending)
	assert.Equal(t, "sid", sess.ID)
	assert.Equal(t, "user1@foo1.ms.com", sess.UserName)
	assert.Equal(t, directory1.TenantID, sess.TenantID)
	assert.Equal(t, "access-token", sess.AccessToken)
	assert.Equal(t, "refresh-token", sess.RefreshToken)
	require.NotNil(t, sess.Profile)
	assert.Equal(t, "en-US", sess.Profile.PreferredLanguage)

	forms := provider.forms()
	require.Len(t, forms, 1)
	assert.Equal(t, directory1.TenantID, forms[0]["tenant"])
	assert.Equal(t, "the-code", forms[0]["code"])
	assert.Equal(t, callbackURL, forms[0]["redirect_uri"])
	assert.Equal(t, []string{"Bearer access-token"}, provider.meAuths())
}

func TestFlow_StartFailures(t *testing.T) {
	provider := startProvider(t)
	flow := newTestFlow(t, provider, nil)

	tests := []struct {
		name     string
		userName string
		wantErr  error
		wantCode string
	}{
		{name: "unknown directory", userName: "user1@notregistered.com", wantErr: serviceerr.ErrUnknownDirectory, wantCode: "unknown_directory"},
		{name: "no @", userName: "user1", wantErr: serviceerr.ErrInvalidIdentifier, wantCode: "invalid_identifier"},
		{name: "blank", userName: " ", wantErr: serviceerr.ErrInvalidIdentifier, wantCode: "invalid_identifier"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := startLogin(t, flow, tt.userName)

			assert.Equal(t, login.StepFailed, res.Step)
			assert.ErrorIs(t, res.Err, tt.wantErr)
			assert.Equal(t, referrer+"?f="+tt.wantCode, res.Location)
			assert.Nil(t, res.Session.Pending)
			assert.False(t, res.Session.Authenticated)
		})
	}

	assert.Empty(t, provider.forms())
}

func TestFlow_CallbackFailures(t *testing.T) {
	provider := startProvider(t)

	missingOID := idTokenClaims(directory1.TenantID, "user1@foo1.ms.com")
	delete(missingOID, "oid")

	invalidGrant := func(*http.Request) (int, any) {
		return http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "AADSTS70008: expired code"}
	}

	tests := []struct {
		name      string
		tokenBody func(*http.Request) (int, any)
		mutate    func(s session.Session) session.Session
		req       login.Request
		wantCode  string
	}{
		{
			name:     "state mismatch",
			req:      callbackRequest("the-code", "forged"),
			wantCode: "state_mismatch",
		},
		{
			name:     "state differs in the last character",
			req:      callbackRequest("the-code", "state-2"),
			wantCode: "state_mismatch",
		},
		{
			name:     "no pending login",
			mutate:   func(s session.Session) session.Session { return s.WithoutPending() },
			req:      callbackRequest("the-code", "state-1"),
			wantCode: "state_mismatch",
		},
		{
			name: "pending login expired",
			mutate: func(s session.Session) session.Session {
				p := *s.Pending
				p.StartedAt = p.StartedAt.Add(-time.Hour)
				return s.WithPending(p)
			},
			req:      callbackRequest("the-code", "state-1"),
			wantCode: "state_mismatch",
		},
		{
			name:     "provider error on the callback",
			req:      login.Request{Error: "access_denied", ErrorDescription: "user cancelled", BaseURL: baseURL, CallbackURL: callbackURL},
			wantCode: "access_denied",
		},
		{
			name:      "invalid_grant",
			tokenBody: invalidGrant,
			req:       callbackRequest("the-code", "state-1"),
			wantCode:  "invalid_grant",
		},
		{
			name:      "missing oid",
			tokenBody: tokenSuccess(signIDToken(t, missingOID)),
			req:       callbackRequest("the-code", "state-1"),
			wantCode:  "malformed_identity_token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider.setTokenBody(tt.tokenBody)
			flow := newTestFlow(t, provider, nil)

			sess := startLogin(t, flow, "user1@foo1.ms.com").Session
			if tt.mutate != nil {
				sess = tt.mutate(sess)
			}

			res, err := flow.Authenticate(t.Context(), sess, tt.req)
			require.NoError(t, err)

			assert.Equal(t, login.StepFailed, res.Step)
			assert.Error(t, res.Err)
			assert.False(t, res.Session.Authenticated)
			assert.Nil(t, res.Session.Pending)
			assert.Empty(t, res.Session.AccessToken)

			u, err := url.Parse(res.Location)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, u.Query().Get("f"))
		})
	}
}

func TestFlow_FailurePath(t *testing.T) {
	provider := startProvider(t)
	flow := newTestFlow(t, provider, func(c *config.Login) { c.FailureRedirectPath = "/login-failed" })

	res := startLogin(t, flow, "user1@notregistered.com")

	assert.Equal(t, "https://app.example.com/login-failed?f=unknown_directory", res.Location)
}

func TestFlow_ProfileLookup(t *testing.T) {
	idToken := signIDToken(t, idTokenClaims(directory1.TenantID, "user1@foo1.ms.com"))

	t.Run("failure is swallowed", func(t *testing.T) {
		provider := startProvider(t)
		provider.setTokenBody(tokenSuccess(idToken))
		provider.setMeStatus(http.StatusServiceUnavailable)
		flow := newTestFlow(t, provider, nil)

		sess := startLogin(t, flow, "user1@foo1.ms.com").Session
		res, err := flow.Authenticate(t.Context(), sess, callbackRequest("the-code", "state-1"))
		require.NoError(t, err)

		assert.Equal(t, login.StepAuthenticated, res.Step)
		assert.Nil(t, res.Session.Profile)
	})

	t.Run("disabled", func(t *testing.T) {
		provider := startProvider(t)
		provider.setTokenBody(tokenSuccess(idToken))
		flow := newTestFlow(t, provider, func(c *config.Login) { c.ProfileLookup = new(bool) })

		sess := startLogin(t, flow, "user1@foo1.ms.com").Session
		res, err := flow.Authenticate(t.Context(), sess, callbackRequest("the-code", "state-1"))
		require.NoError(t, err)

		assert.Equal(t, login.StepAuthenticated, res.Step)
		assert.Nil(t, res.Session.Profile)
		assert.Empty(t, provider.meAuths())
	})
}

func TestFlow_CallbackRejectsAlteredState(t *testing.T) {
	provider := startProvider(t)
	flow := newTestFlow(t, provider, nil, login.WithStateSource(randsrc.Source{}))

	started := startLogin(t, flow, "user1@foo1.ms.com")
	require.NotNil(t, started.Session.Pending)

	state := []byte(started.Session.Pending.AntiForgeryState)
	require.NotEmpty(t, state)
	if state[0] == 'a' {
		state[0] = 'b'
	} else {
		state[0] = 'a'
	}

	res, err := flow.Authenticate(t.Context(), started.Session, callbackRequest("the-code", string(state)))
	require.NoError(t, err)

	assert.Equal(t, login.StepFailed, res.Step)
	assert.False(t, res.Session.Authenticated)
	assert.Empty(t, provider.forms())

	u, err := url.Parse(res.Location)
	require.NoError(t, err)
	assert.Equal(t, "state_mismatch", u.Query().Get("f"))
}

func TestFlow_ReferrerFallbacks(t *testing.T) {
	provider := startProvider(t)
	flow := newTestFlow(t, provider, func(c *config.Login) {
		c.AllowedRedirectHosts = []string{"A.example.com", "b.example.com"}
	})
	sess := session.New("sid", time.Now().Add(time.Hour))

	tests := []struct {
		name string
		req  login.Request
		want string
	}{
		{name: "redirect parameter", req: login.Request{Redirect: "https://a.example.com/", Referer: "https://b.example.com/"}, want: "https://a.example.com/"},
		{name: "referer header", req: login.Request{Referer: "https://b.example.com/"}, want: "https://b.example.com/"},
		{name: "base url", req: login.Request{}, want: baseURL},
		{name: "same host", req: login.Request{Redirect: "https://APP.example.com/orders?id=1"}, want: "https://APP.example.com/orders?id=1"},
		{name: "relative path", req: login.Request{Redirect: "/orders/7"}, want: "https://app.example.com/orders/7"},
		{name: "foreign redirect falls back to referer", req: login.Request{Redirect: "https://evil.example.net/", Referer: "https://b.example.com/"}, want: "https://b.example.com/"},
		{name: "foreign redirect and referer", req: login.Request{Redirect: "https://evil.example.net/", Referer: "https://evil.example.net/"}, want: baseURL},
		{name: "scheme relative", req: login.Request{Redirect: "//evil.example.net/x"}, want: baseURL},
		{name: "backslash scheme relative", req: login.Request{Redirect: "/\\evil.example.net/x"}, want: baseURL},
		{name: "javascript url", req: login.Request{Redirect: "javascript:alert(1)"}, want: baseURL},
		{name: "userinfo", req: login.Request{Redirect: "https://app.example.com@evil.example.net/"}, want: baseURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.UserName = "user1@foo1.ms.com"
			tt.req.BaseURL = baseURL
			tt.req.CallbackURL = callbackURL

			res, err := flow.Authenticate(t.Context(), sess, tt.req)
			require.NoError(t, err)
			require.NotNil(t, res.Session.Pending)
			assert.Equal(t, tt.want, res.Session.Pending.ReferrerURL)
		})
	}
}

func TestFlow_StartReusesPendingUserName(t *testing.T) {
	provider := startProvider(t)
	flow := newTestFlow(t, provider, nil)

	sess := startLogin(t, flow, "user2@foo2.ms.com").Session
	res, err := flow.Authenticate(t.Context(), sess, login.Request{BaseURL: baseURL, CallbackURL: callbackURL})
	require.NoError(t, err)

	assert.Equal(t, login.StepAwaitingCode, res.Step)
	assert.Contains(t, res.Location, directory2.TenantID)
}

func TestFlow_CancelledDuringExchange(t *testing.T) {
	provider := startProvider(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	provider.setTokenBody(func(r *http.Request) (int, any) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
		return http.StatusOK, map[string]any{}
	})
	flow := newTestFlow(t, provider, nil)
	sess := startLogin(t, flow, "user1@foo1.ms.com").Session

	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(50*time.Millisecond, cancel)

	res, err := flow.Authenticate(ctx, sess, callbackRequest("the-code", "state-1"))

	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Zero(t, res)
}

func TestFlow_Audit(t *testing.T) {
	auditServer := startAuditServer(t)
	auditLogger, err := otlpaudit.NewLogger(&commoncfg.Audit{Endpoint: auditServer.URL})
	require.NoError(t, err)

	provider := startProvider(t)
	provider.setTokenBody(tokenSuccess(signIDToken(t, idTokenClaims(directory1.TenantID, "user1@foo1.ms.com"))))

	cfg := config.Login{
		ProviderScheme:  "http",
		ProviderHost:    provider.host(),
		GraphBaseURL:    provider.URL,
		ProviderTimeout: 2 * time.Second,
	}
	repo := directorymock.NewInMemRepository(directorymock.WithRegistration(directory1))
	flow, err := login.NewFlow(directory.NewResolver(repo), &cfg, provider.Client(), auditLogger, login.WithStateSource(fixedStates("s")))
	require.NoError(t, err)

	started := startLogin(t, flow, "user1@foo1.ms.com")
	res, err := flow.Authenticate(t.Context(), started.Session, callbackRequest("the-code", "s"))
	require.NoError(t, err)
	assert.Equal(t, login.StepAuthenticated, res.Step)

	failed := startLogin(t, flow, "user1@notregistered.com")
	assert.Equal(t, login.StepFailed, failed.Step)
}
