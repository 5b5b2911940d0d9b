package login_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/directory-auth/internal/login"
	"github.com/openkcm/directory-auth/internal/session"
)

func TestFetchProfile(t *testing.T) {
	provider := startProvider(t)
	client := login.NewProfileClient(provider.URL+"/", provider.Client(), time.Second)

	got, err := client.FetchProfile(t.Context(), "access-token")
	require.NoError(t, err)

	assert.Equal(t, &session.Profile{
		GivenName:         "User",
		Surname:           "One",
		Mail:              "user1@foo1.ms.com",
		PreferredLanguage: "en-US",
		MobilePhone:       "+1 555 0100",
	}, got)
	assert.Equal(t, []string{"Bearer access-token"}, provider.meAuths())
}

func TestFetchProfile_Error(t *testing.T) {
	provider := startProvider(t)
	provider.setMeStatus(http.StatusForbidden)
	client := login.NewProfileClient(provider.URL, provider.Client(), time.Second)

	got, err := client.FetchProfile(t.Context(), "access-token")

	assert.Error(t, err)
	assert.Nil(t, got)
}
