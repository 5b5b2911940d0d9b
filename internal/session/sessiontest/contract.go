// Package sessiontest holds the behaviour every session.Repository has to
// satisfy.
package sessiontest

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/directory-auth/internal/serviceerr"
	"github.com/openkcm/directory-auth/internal/session"
)

// RunRepositoryTests runs the shared session repository tests. Session ids
// are unique per test, so newRepo may return a shared repository.
func RunRepositoryTests(t *testing.T, newRepo func(t *testing.T) session.Repository) {
	t.Helper()

	t.Run("Store and load", func(t *testing.T) {
		repo := newRepo(t)
		ctx := t.Context()

		sess := session.New("contract-store-load", time.Now().Add(time.Hour)).WithPending(session.PendingLogin{
			AntiForgeryState: "state",
			UserName:         "user1@foo1.ms.com",
			ReferrerURL:      "https://app.example.com/?tab=1",
			StartedAt:        time.Now().UTC(),
		})
		sess.Extended = map[string]string{"ipaddr": "10.0.0.1"}

		stored, err := repo.Store(ctx, sess)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stored.Version)

		loaded, err := repo.Load(ctx, sess.ID)
		require.NoError(t, err)
		if diff := cmp.Diff(stored, loaded, cmpopts.EquateApproxTime(time.Millisecond)); diff != "" {
			t.Errorf("Load() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Unknown id", func(t *testing.T) {
		repo := newRepo(t)

		_, err := repo.Load(t.Context(), "contract-unknown")
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	})

	t.Run("Stale version conflicts", func(t *testing.T) {
		repo := newRepo(t)
		ctx := t.Context()

		first, err := repo.Store(ctx, session.New("contract-stale", time.Now().Add(time.Hour)))
		require.NoError(t, err)

		second := first
		second.UserName = "second"
		_, err = repo.Store(ctx, second)
		require.NoError(t, err)

		first.UserName = "first"
		_, err = repo.Store(ctx, first)
		assert.ErrorIs(t, err, serviceerr.ErrConflict)

		loaded, err := repo.Load(ctx, "contract-stale")
		require.NoError(t, err)
		assert.Equal(t, "second", loaded.UserName)
		assert.Equal(t, int64(2), loaded.Version)
	})

	t.Run("New session over existing conflicts", func(t *testing.T) {
		repo := newRepo(t)
		ctx := t.Context()

		_, err := repo.Store(ctx, session.New("contract-new-twice", time.Now().Add(time.Hour)))
		require.NoError(t, err)

		_, err = repo.Store(ctx, session.New("contract-new-twice", time.Now().Add(time.Hour)))
		assert.ErrorIs(t, err, serviceerr.ErrConflict)
	})

	t.Run("Delete", func(t *testing.T) {
		repo := newRepo(t)
		ctx := t.Context()

		_, err := repo.Store(ctx, session.New("contract-delete", time.Now().Add(time.Hour)))
		require.NoError(t, err)

		require.NoError(t, repo.Delete(ctx, "contract-delete"))

		_, err = repo.Load(ctx, "contract-delete")
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)

		assert.NoError(t, repo.Delete(ctx, "contract-delete"), "Delete() of a missing session")
	})

	t.Run("Expired session is rejected", func(t *testing.T) {
		repo := newRepo(t)

		_, err := repo.Store(t.Context(), session.New("contract-expired", time.Now().Add(-time.Second)))
		assert.ErrorIs(t, err, serviceerr.ErrValidation)
	})
}
