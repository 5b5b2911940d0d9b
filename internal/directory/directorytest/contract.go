// Package directorytest holds the behaviour every directory.Repository
// implementation has to satisfy.
package directorytest

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/directory-auth/internal/directory"
	"github.com/openkcm/directory-auth/internal/serviceerr"
)

// RunRepositoryTests runs the shared repository tests. newRepo must return
// an empty repository with an initialised schema. Tests use their own
// domains, so one repository per test run is enough.
func RunRepositoryTests(t *testing.T, newRepo func(t *testing.T) directory.Repository) {
	t.Helper()

	t.Run("Register then lookup", func(t *testing.T) {
		repo := newRepo(t)
		ctx := t.Context()

		ok, err := repo.IsRegistered(ctx, "@contract-a.example.com")
		require.NoError(t, err)
		assert.False(t, ok, "IsRegistered() before Register")

		refID := int64(1)
		refIDStr := "1"
		got, err := repo.Register(ctx, directory.Registration{
			ClientID:        "clientid2",
			ClientSecret:    "secret2",
			TenantID:        "tenant-contract-a",
			DirectoryDomain: "@Contract-A.example.com",
			RefID:           &refID,
			RefIDStr:        &refIDStr,
		})
		require.NoError(t, err)
		assert.NotZero(t, got.ID)
		assert.Equal(t, "@contract-a.example.com", got.DirectoryDomain)
		assert.Equal(t, "contract-a.example.com", got.DomainHint)

		ok, err = repo.IsRegistered(ctx, "@CONTRACT-A.example.com")
		require.NoError(t, err)
		assert.True(t, ok, "IsRegistered() after Register")

		byDomain, err := repo.FindByDomain(ctx, "@contract-a.EXAMPLE.com")
		require.NoError(t, err)
		if diff := cmp.Diff(got, byDomain, cmpopts.EquateApproxTime(time.Second)); diff != "" {
			t.Errorf("FindByDomain() mismatch (-want +got):\n%s", diff)
		}

		byTenant, err := repo.FindByTenantID(ctx, "tenant-contract-a")
		require.NoError(t, err)
		if diff := cmp.Diff(got, byTenant, cmpopts.EquateApproxTime(time.Second)); diff != "" {
			t.Errorf("FindByTenantID() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Not found", func(t *testing.T) {
		repo := newRepo(t)
		ctx := t.Context()

		for _, domain := range []string{"", "@nothing-here.example.com"} {
			got, err := repo.FindByDomain(ctx, domain)
			assert.ErrorIs(t, err, serviceerr.ErrNotFound, "FindByDomain(%q)", domain)
			assert.Zero(t, got)
		}

		_, err := repo.FindByTenantID(ctx, "no-such-tenant")
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	})

	t.Run("Duplicate domain in any case conflicts", func(t *testing.T) {
		repo := newRepo(t)
		ctx := t.Context()

		first, err := repo.Register(ctx, directory.Registration{
			ClientID: "c1", ClientSecret: "s1", TenantID: "tenant-contract-b1", DirectoryDomain: "@contract-b.example.com",
		})
		require.NoError(t, err)

		_, err = repo.Register(ctx, directory.Registration{
			ClientID: "c2", ClientSecret: "s2", TenantID: "tenant-contract-b2", DirectoryDomain: "@CONTRACT-B.example.com",
		})
		assert.ErrorIs(t, err, serviceerr.ErrConflict)

		stored, err := repo.FindByDomain(ctx, "@contract-b.example.com")
		require.NoError(t, err)
		assert.Equal(t, first.TenantID, stored.TenantID, "store changed after failed Register")

		_, err = repo.FindByTenantID(ctx, "tenant-contract-b2")
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	})

	t.Run("Duplicate tenant conflicts", func(t *testing.T) {
		repo := newRepo(t)
		ctx := t.Context()

		_, err := repo.Register(ctx, directory.Registration{
			ClientID: "c1", ClientSecret: "s1", TenantID: "tenant-contract-c", DirectoryDomain: "@contract-c1.example.com",
		})
		require.NoError(t, err)

		_, err = repo.Register(ctx, directory.Registration{
			ClientID: "c1", ClientSecret: "s1", TenantID: "tenant-contract-c", DirectoryDomain: "@contract-c2.example.com",
		})
		assert.ErrorIs(t, err, serviceerr.ErrConflict)
	})

	t.Run("Validation", func(t *testing.T) {
		repo := newRepo(t)

		_, err := repo.Register(t.Context(), directory.Registration{
			ClientID: "", ClientSecret: "s", TenantID: "tenant-contract-d", DirectoryDomain: "@contract-d.example.com",
		})
		assert.ErrorIs(t, err, serviceerr.ErrValidation)

		ok, err := repo.IsRegistered(t.Context(), "@contract-d.example.com")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("InitSchema is idempotent", func(t *testing.T) {
		repo := newRepo(t)

		require.NoError(t, repo.InitSchema(t.Context()))
		require.NoError(t, repo.InitSchema(t.Context()))
	})

	t.Run("Concurrent registrations", func(t *testing.T) {
		repo := newRepo(t)
		ctx := t.Context()

		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := range n {
			wg.Go(func() {
				_, errs[i] = repo.Register(ctx, directory.Registration{
					ClientID:        "c",
					ClientSecret:    "s",
					TenantID:        fmt.Sprintf("tenant-contract-e%d", i),
					DirectoryDomain: "@contract-e.example.com",
				})
			})
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, serviceerr.ErrConflict)
		}
		assert.Equal(t, 1, succeeded)
	})
}
