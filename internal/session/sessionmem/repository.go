// Package sessionmem keeps sessions in process memory. Sessions are lost on
// restart and not shared between replicas.
package sessionmem

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/openkcm/directory-auth/internal/serviceerr"
	"github.com/openkcm/directory-auth/internal/session"
)

const cleanupInterval = time.Minute

type Repository struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

var _ = session.Repository(&Repository{})

func NewRepository() *Repository {
	return &Repository{
		cache: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

func (r *Repository) Load(_ context.Context, id string) (session.Session, error) {
	v, ok := r.cache.Get(id)
	if !ok {
		return session.Session{}, serviceerr.ErrNotFound
	}

	return v.(session.Session).Clone(), nil
}

func (r *Repository) Store(_ context.Context, s session.Session) (session.Session, error) {
	ttl := time.Until(s.Expiry)
	if ttl <= 0 {
		return session.Session{}, serviceerr.Validation("session %s already expired", s.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var current int64
	if v, ok := r.cache.Get(s.ID); ok {
		current = v.(session.Session).Version
	}

	if current != s.Version {
		return session.Session{}, serviceerr.Conflict("session %s was modified concurrently", s.ID)
	}

	s = s.Clone()
	s.Version++
	r.cache.Set(s.ID, s, ttl)

	return s.Clone(), nil
}

func (r *Repository) Delete(_ context.Context, id string) error {
	r.cache.Delete(id)
	return nil
}
