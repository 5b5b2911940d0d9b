package login_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/directory-auth/internal/directory"
)

var (
	directory1 = directory.Registration{
		ClientID:        "clientid",
		ClientSecret:    "secret",
		TenantID:        "ed0dd5aa6f3f4c368a53ede9ea77a140",
		DirectoryDomain: "@foo1.ms.com",
		DomainHint:      "foo1.ms.com",
	}
	directory2 = directory.Registration{
		ClientID:        "clientid2",
		ClientSecret:    "secret2",
		TenantID:        "2b72c902f41f43549f2de8b530d6a803",
		DirectoryDomain: "@foo2.ms.com",
		DomainHint:      "foo2.ms.com",
	}
)

var (
	signingKeyOnce sync.Once
	signingKey     *rsa.PrivateKey
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	signingKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		signingKey = key
	})
	return signingKey
}

// signIDToken returns an RS256 signed JWT with the given payload.
func signIDToken(t *testing.T, claims map[string]any) string {
	t.Helper()

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: testKey(t)}, (&jose.SignerOptions{}).WithType("JWT"))
	require.NoError(t, err)

	raw, err := jwt.Signed(signer).Claims(claims).Serialize()
	require.NoError(t, err)

	return raw
}

func idTokenClaims(tenantID, userName string) map[string]any {
	return map[string]any{
		"oid":                "00000000-0000-0000-0000-0000000000a1",
		"preferred_username": userName,
		"name":               "User One",
		"tid":                tenantID,
		"nbf":                time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC).Unix(),
		"iat":                time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC).Unix(),
	}
}

type fixedStates string

func (s fixedStates) State() string { return string(s) }

// providerServer fakes the token endpoint of every tenant and the Graph /me
// endpoint on the same host.
type providerServer struct {
	*httptest.Server

	mu         sync.Mutex
	tokenBody  func(r *http.Request) (int, any)
	tokenForms []map[string]string
	meStatus   int
	meAuth     []string
}

func startProvider(t *testing.T) *providerServer {
	t.Helper()

	p := &providerServer{meStatus: http.StatusOK}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/oauth2/token"):
			_ = r.ParseForm()
			form := map[string]string{"tenant": strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")[0]}
			for k := range r.PostForm {
				form[k] = r.PostForm.Get(k)
			}

			p.mu.Lock()
			p.tokenForms = append(p.tokenForms, form)
			body := p.tokenBody
			p.mu.Unlock()

			status, payload := http.StatusOK, any(nil)
			if body != nil {
				status, payload = body(r)
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			if s, ok := payload.(string); ok {
				_, _ = w.Write([]byte(s))
				return
			}
			_ = json.NewEncoder(w).Encode(payload)
		case r.URL.Path == "/v1.0/me":
			p.mu.Lock()
			p.meAuth = append(p.meAuth, r.Header.Get("Authorization"))
			status := p.meStatus
			p.mu.Unlock()

			if status != http.StatusOK {
				w.WriteHeader(status)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"givenName":"User","surname":"One","mail":"user1@foo1.ms.com","preferredLanguage":"en-US","mobilePhone":"+1 555 0100","id":"ignored"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(p.Close)

	return p
}

func (p *providerServer) setTokenBody(fn func(r *http.Request) (int, any)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenBody = fn
}

func (p *providerServer) forms() []map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]string(nil), p.tokenForms...)
}

func (p *providerServer) meAuths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.meAuth...)
}

func (p *providerServer) setMeStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.meStatus = status
}

func (p *providerServer) host() string {
	return strings.TrimPrefix(p.URL, "http://")
}

func tokenSuccess(idToken string) func(*http.Request) (int, any) {
	return func(*http.Request) (int, any) {
		return http.StatusOK, map[string]any{
			"access_token":  "access-token",
			"refresh_token": "refresh-token",
			"id_token":      idToken,
			"token_type":    "Bearer",
			"scope":         "User.Read openid profile",
			"expires_in":    "3599",
		}
	}
}

func startAuditServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"success": true}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}
