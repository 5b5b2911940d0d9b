package login

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/directory-auth/internal/directory"
	"github.com/openkcm/directory-auth/internal/serviceerr"
)

const maxTokenResponseBytes = 1 << 20

// TokenResponse holds the tokens issued for an authorization code.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	Scope        string
	// Expiry of the access token. Zero when the provider sent no expires_in.
	Expiry time.Time
}

// tokenJSON is the wire format of both success and error bodies.
// expires_in arrives as a number from v2 endpoints and as a string from v1.
type tokenJSON struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	IDToken      string      `json:"id_token"`
	TokenType    string      `json:"token_type"`
	Scope        string      `json:"scope"`
	ExpiresIn    json.Number `json:"expires_in"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorURI         string `json:"error_uri"`
}

// CodeExchangeClient redeems authorization codes at the token endpoint.
type CodeExchangeClient struct {
	endpoints  Endpoints
	httpClient *http.Client
	scopes     []string
	timeout    time.Duration
	now        func() time.Time
}

// StatusError reports a non-2xx token response without an OAuth2 error body.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("token endpoint returned status %d", e.StatusCode)
}

func NewCodeExchangeClient(endpoints Endpoints, httpClient *http.Client, scopes []string, timeout time.Duration) *CodeExchangeClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	return &CodeExchangeClient{
		endpoints:  endpoints,
		httpClient: httpClient,
		scopes:     scopes,
		timeout:    timeout,
		now:        time.Now,
	}
}

// ExchangeCode posts the code to the tenant's token endpoint. Provider errors
// come back as *serviceerr.ProviderError with the fields untouched; transport
// failures and timeouts as *serviceerr.UnreachableError. If ctx itself ends,
// its error is returned as is.
func (c *CodeExchangeClient) ExchangeCode(ctx context.Context, reg directory.Registration, code, redirectURI string) (TokenResponse, error) {
	if code == "" {
		return TokenResponse{}, serviceerr.Validation("authorization code is required")
	}

	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", redirectURI)
	data.Set("client_id", reg.ClientID)
	data.Set("client_secret", reg.ClientSecret)
	data.Set("scope", strings.Join(c.scopes, " "))

	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	tokenURL := c.endpoints.TokenURL(reg.TenantID)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return TokenResponse{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return TokenResponse{}, ctxErr
		}

		slogctx.Warn(ctx, "Token endpoint unreachable", "url", tokenURL, "error", err)
		return TokenResponse{}, serviceerr.Unreachable(unwrapURLError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return TokenResponse{}, ctxErr
		}

		return TokenResponse{}, serviceerr.Unreachable(err)
	}

	return c.parse(ctx, resp.StatusCode, body)
}

func (c *CodeExchangeClient) parse(ctx context.Context, status int, body []byte) (TokenResponse, error) {
	ok := status >= 200 && status < 300

	var tj tokenJSON
	if err := json.Unmarshal(body, &tj); err != nil {
		slogctx.Warn(ctx, "Undecodable token response", "status", status, "error", err)

		if !ok {
			return TokenResponse{}, serviceerr.Unreachable(&StatusError{StatusCode: status})
		}

		return TokenResponse{}, &serviceerr.ProviderError{ErrorDescription: "undecodable token response", StatusCode: status}
	}

	if tj.Error != "" {
		return TokenResponse{}, &serviceerr.ProviderError{
			ErrorCode:        tj.Error,
			ErrorDescription: tj.ErrorDescription,
			ErrorURI:         tj.ErrorURI,
			StatusCode:       status,
		}
	}

	if !ok {
		return TokenResponse{}, serviceerr.Unreachable(&StatusError{StatusCode: status})
	}

	if tj.AccessToken == "" || tj.IDToken == "" {
		return TokenResponse{}, &serviceerr.ProviderError{
			ErrorDescription: "token response lacks access_token or id_token",
			StatusCode:       status,
		}
	}

	tokens := TokenResponse{
		AccessToken:  tj.AccessToken,
		RefreshToken: tj.RefreshToken,
		IDToken:      tj.IDToken,
		TokenType:    tj.TokenType,
		Scope:        tj.Scope,
	}

	if tj.ExpiresIn != "" {
		secs, err := strconv.ParseInt(tj.ExpiresIn.String(), 10, 64)
		if err == nil && secs > 0 {
			tokens.Expiry = c.now().Add(time.Duration(secs) * time.Second)
		}
	}

	return tokens, nil
}

// unwrapURLError drops the *url.Error layer so the reported type names the
// actual transport failure.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}

	return err
}
