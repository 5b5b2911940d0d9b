package sessionmock

import (
	"context"
	"sync"

	"github.com/openkcm/directory-auth/internal/serviceerr"
	"github.com/openkcm/directory-auth/internal/session"
)

type RepositoryOption func(*Repository)

// Repository records every stored session. It does not expire sessions.
type Repository struct {
	mu       sync.Mutex
	sessions map[string]session.Session
	stored   []session.Session

	loadErr, storeErr, deleteErr error
}

func WithSession(s session.Session) RepositoryOption {
	return func(r *Repository) { r.sessions[s.ID] = s }
}
func WithLoadError(err error) RepositoryOption {
	return func(r *Repository) { r.loadErr = err }
}
func WithStoreError(err error) RepositoryOption {
	return func(r *Repository) { r.storeErr = err }
}
func WithDeleteError(err error) RepositoryOption {
	return func(r *Repository) { r.deleteErr = err }
}

var _ = session.Repository(&Repository{})

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		sessions: make(map[string]session.Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// TGet is a helper method for tests to read a session without error injection.
func (r *Repository) TGet(id string) (session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// TStoreCount is a helper method for tests returning the number of successful stores.
func (r *Repository) TStoreCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stored)
}

func (r *Repository) Load(_ context.Context, id string) (session.Session, error) {
	if r.loadErr != nil {
		return session.Session{}, r.loadErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s.Clone(), nil
	}
	return session.Session{}, serviceerr.ErrNotFound
}

func (r *Repository) Store(_ context.Context, s session.Session) (session.Session, error) {
	if r.storeErr != nil {
		return session.Session{}, r.storeErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.ID].Version != s.Version {
		return session.Session{}, serviceerr.Conflict("session %s was modified concurrently", s.ID)
	}

	s = s.Clone()
	s.Version++
	r.sessions[s.ID] = s
	r.stored = append(r.stored, s)
	return s.Clone(), nil
}

func (r *Repository) Delete(_ context.Context, id string) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}
