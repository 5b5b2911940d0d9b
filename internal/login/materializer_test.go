package login_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openkcm/directory-auth/internal/login"
	"github.com/openkcm/directory-auth/internal/serviceerr"
	"github.com/openkcm/directory-auth/internal/session"
)

func pendingSession() session.Session {
	return session.New("sid", time.Now().Add(time.Hour)).WithPending(session.PendingLogin{
		AntiForgeryState: "state",
		UserName:         "user1@foo1.ms.com",
		ReferrerURL:      "https://app.example.com/orders?page=2",
		StartedAt:        time.Now(),
	})
}

func TestMaterializer_ApplySuccess(t *testing.T) {
	m := login.NewMaterializer("")
	sess := pendingSession()
	sess.Version = 3

	claims := login.Claims{
		SubjectID:          "oid-1",
		PreferredUsername:  "user1@foo1.ms.com",
		DisplayName:        "User One",
		TenantID:           directory1.TenantID,
		RefreshTokenExpiry: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		Extended:           map[string]string{"ver": "2.0"},
	}
	tokens := login.TokenResponse{AccessToken: "at", RefreshToken: "rt", IDToken: "it", Expiry: time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)}
	profile := &session.Profile{GivenName: "User", Mail: "user1@foo1.ms.com"}

	got, location := m.ApplySuccess(sess, claims, tokens, profile, login.Destination{BaseURL: "https://app.example.com/"})

	assert.Equal(t, "https://app.example.com/orders?page=2&s=1", location)
	assert.True(t, got.Authenticated)
	assert.Nil(t, got.Pending)
	assert.Equal(t, "sid", got.ID)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, "user1@foo1.ms.com", got.UserName)
	assert.Equal(t, "User One", got.DisplayName)
	assert.Equal(t, directory1.TenantID, got.TenantID)
	assert.Equal(t, "oid-1", got.SubjectID)
	assert.Equal(t, "at", got.AccessToken)
	assert.Equal(t, "rt", got.RefreshToken)
	assert.Equal(t, "it", got.IDToken)
	assert.Equal(t, tokens.Expiry, got.AccessTokenExpiry)
	assert.Equal(t, claims.RefreshTokenExpiry, got.RefreshTokenExpiry)
	assert.Equal(t, "2.0", got.Extended["ver"])
	assert.Equal(t, *profile, *got.Profile)

	// the input is left alone
	assert.False(t, sess.Authenticated)
	assert.NotNil(t, sess.Pending)
	profile.GivenName = "changed"
	assert.Equal(t, "User", got.Profile.GivenName)
}

func TestMaterializer_ApplySuccessWithoutReferrer(t *testing.T) {
	sess := session.New("sid", time.Now().Add(time.Hour))

	_, location := login.NewMaterializer("").ApplySuccess(sess, login.Claims{}, login.TokenResponse{}, nil, login.Destination{BaseURL: "https://app.example.com/"})

	assert.Equal(t, "https://app.example.com/?s=1", location)
}

func TestMaterializer_ApplyFailure(t *testing.T) {
	authenticated := pendingSession()
	authenticated.Authenticated = true
	authenticated.AccessToken = "at"
	authenticated.UserName = "user1@foo1.ms.com"

	tests := []struct {
		name         string
		failurePath  string
		dest         login.Destination
		err          error
		wantLocation string
	}{
		{
			name:         "provider code kept verbatim",
			dest:         login.Destination{BaseURL: "https://app.example.com/"},
			err:          &serviceerr.ProviderError{ErrorCode: "invalid_grant"},
			wantLocation: "https://app.example.com/orders?page=2&f=invalid_grant",
		},
		{
			name:         "failure path wins",
			failurePath:  "/login-failed",
			dest:         login.Destination{BaseURL: "https://app.example.com/"},
			err:          serviceerr.ErrStateMismatch,
			wantLocation: "https://app.example.com/login-failed?f=state_mismatch",
		},
		{
			name:         "explicit referrer",
			dest:         login.Destination{BaseURL: "https://app.example.com/", Referrer: "https://other.example.com/x#y"},
			err:          serviceerr.UnknownDirectory("@nope.com"),
			wantLocation: "https://other.example.com/x?f=unknown_directory#y",
		},
		{
			name:         "foreign error is Unknown",
			dest:         login.Destination{BaseURL: "https://app.example.com/"},
			err:          errors.New("boom"),
			wantLocation: "https://app.example.com/orders?page=2&f=Unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, location := login.NewMaterializer(tt.failurePath).ApplyFailure(t.Context(), authenticated, tt.err, tt.dest)

			assert.Equal(t, tt.wantLocation, location)
			assert.False(t, got.Authenticated)
			assert.Empty(t, got.AccessToken)
			assert.Empty(t, got.UserName)
			assert.Nil(t, got.Pending)
			assert.Equal(t, authenticated.ID, got.ID)
			assert.Equal(t, authenticated.Version, got.Version)
		})
	}
}
