package login

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/openkcm/directory-auth/internal/session"
)

// ProfileClient reads the signed in user's profile from Microsoft Graph.
type ProfileClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

func NewProfileClient(graphBaseURL string, httpClient *http.Client, timeout time.Duration) *ProfileClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &ProfileClient{
		baseURL:    strings.TrimRight(graphBaseURL, "/"),
		httpClient: httpClient,
		timeout:    timeout,
	}
}

// FetchProfile calls GET {graph}/v1.0/me with accessToken as bearer.
func (c *ProfileClient) FetchProfile(ctx context.Context, accessToken string) (*session.Profile, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	client := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, c.httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1.0/me", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("profile lookup failed with status: %d", resp.StatusCode)
	}

	var profile session.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &profile, nil
}
