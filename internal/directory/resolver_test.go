package directory_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/directory-auth/internal/directory"
	"github.com/openkcm/directory-auth/internal/directory/directorymock"
	"github.com/openkcm/directory-auth/internal/serviceerr"
)

var (
	directory1 = directory.Registration{
		ClientID:        "clientid",
		ClientSecret:    "secret",
		TenantID:        "ed0dd5aa6f3f4c368a53ede9ea77a140",
		DirectoryDomain: "@foo1.ms.com",
	}
	directory2 = directory.Registration{
		ClientID:        "clientid2",
		ClientSecret:    "secret2",
		TenantID:        "2b72c902f41f43549f2de8b530d6a803",
		DirectoryDomain: "@foo2.ms.com",
	}
)

func TestDomainFromUserName(t *testing.T) {
	tests := []struct {
		name      string
		userName  string
		want      string
		assertErr assert.ErrorAssertionFunc
	}{
		{name: "simple", userName: "user1@foo1.ms.com", want: "@foo1.ms.com", assertErr: assert.NoError},
		{name: "last @ wins", userName: "a@b@foo1.ms.com", want: "@foo1.ms.com", assertErr: assert.NoError},
		{name: "blank", userName: "  ", assertErr: assert.Error},
		{name: "no @", userName: "user1", assertErr: assert.Error},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := directory.DomainFromUserName(tt.userName)
			if !tt.assertErr(t, err) || err != nil {
				assert.ErrorIs(t, err, serviceerr.ErrInvalidIdentifier)
				return
			}

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_ResolveFromUserName(t *testing.T) {
	repo := directorymock.NewInMemRepository(
		directorymock.WithRegistration(directory1),
		directorymock.WithRegistration(directory2),
	)
	resolver := directory.NewResolver(repo)

	tests := []struct {
		name         string
		userName     string
		wantTenantID string
		wantErr      error
	}{
		{name: "directory 1", userName: "user1@foo1.ms.com", wantTenantID: directory1.TenantID},
		{name: "directory 2", userName: "user2@foo2.ms.com", wantTenantID: directory2.TenantID},
		{name: "case insensitive", userName: "user1@FOO1.MS.COM", wantTenantID: directory1.TenantID},
		{name: "multiple @", userName: "a@b@foo1.ms.com", wantTenantID: directory1.TenantID},
		{name: "unknown directory", userName: "user1@notregistered.com", wantErr: serviceerr.ErrUnknownDirectory},
		{name: "invalid identifier", userName: "user1", wantErr: serviceerr.ErrInvalidIdentifier},
		{name: "empty identifier", userName: "", wantErr: serviceerr.ErrInvalidIdentifier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.ResolveFromUserName(t.Context(), tt.userName)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, got)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantTenantID, got.TenantID)
		})
	}
}

func TestResolver_UnknownDirectoryEchoesDomain(t *testing.T) {
	resolver := directory.NewResolver(directorymock.NewInMemRepository())

	_, err := resolver.ResolveFromUserName(t.Context(), "user1@notregistered.com")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "@notregistered.com")
}

func TestResolver_NoCaching(t *testing.T) {
	repo := directorymock.NewInMemRepository()
	resolver := directory.NewResolver(repo)

	_, err := resolver.ResolveFromUserName(t.Context(), "user1@foo1.ms.com")
	require.ErrorIs(t, err, serviceerr.ErrUnknownDirectory)

	_, err = repo.Register(t.Context(), directory1)
	require.NoError(t, err)

	got, err := resolver.ResolveFromUserName(t.Context(), "user1@foo1.ms.com")
	require.NoError(t, err)
	assert.Equal(t, directory1.TenantID, got.TenantID)
}

func TestResolver_StoreFailure(t *testing.T) {
	storeErr := errors.New("connection reset")
	resolver := directory.NewResolver(directorymock.NewInMemRepository(directorymock.WithFindError(storeErr)))

	_, err := resolver.ResolveFromUserName(t.Context(), "user1@foo1.ms.com")

	assert.ErrorIs(t, err, storeErr)
	assert.NotErrorIs(t, err, serviceerr.ErrUnknownDirectory)
}

func TestResolver_IsRegistered(t *testing.T) {
	resolver := directory.NewResolver(directorymock.NewInMemRepository(directorymock.WithRegistration(directory1)))

	ok, err := resolver.IsRegistered(t.Context(), "someone@Foo1.ms.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = resolver.IsRegistered(t.Context(), "someone@other.com")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = resolver.IsRegistered(t.Context(), "someone")
	assert.ErrorIs(t, err, serviceerr.ErrInvalidIdentifier)
}
