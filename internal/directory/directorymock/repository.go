package directorymock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/openkcm/directory-auth/internal/directory"
	"github.com/openkcm/directory-auth/internal/serviceerr"
)

type RepositoryOption func(*Repository)

// Repository is an in-memory directory.Repository.
type Repository struct {
	mu      sync.RWMutex
	byID    map[int64]directory.Registration
	lastID  int64
	schemaN int

	findErr, registerErr, initErr error
}

func WithRegistration(reg directory.Registration) RepositoryOption {
	return func(r *Repository) { r.TAdd(reg) }
}
func WithFindError(err error) RepositoryOption {
	return func(r *Repository) { r.findErr = err }
}
func WithRegisterError(err error) RepositoryOption {
	return func(r *Repository) { r.registerErr = err }
}
func WithInitSchemaError(err error) RepositoryOption {
	return func(r *Repository) { r.initErr = err }
}

var _ = directory.Repository(&Repository{})

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		byID: make(map[int64]directory.Registration),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// TAdd is a helper method for tests to add a registration without validation.
func (r *Repository) TAdd(reg directory.Registration) directory.Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	_ = reg.SetDirectoryDomain(reg.DirectoryDomain)
	r.lastID++
	reg.ID = r.lastID
	r.byID[reg.ID] = reg
	return reg
}

// TLen is a helper method for tests returning the number of registrations.
func (r *Repository) TLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// TSchemaCalls returns how often InitSchema was called.
func (r *Repository) TSchemaCalls() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schemaN
}

func (r *Repository) IsRegistered(ctx context.Context, domain string) (bool, error) {
	_, err := r.FindByDomain(ctx, domain)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, serviceerr.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (r *Repository) FindByDomain(_ context.Context, domain string) (directory.Registration, error) {
	if r.findErr != nil {
		return directory.Registration{}, r.findErr
	}

	domain = directory.NormalizeDomain(domain)
	if domain == "" {
		return directory.Registration{}, serviceerr.ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.byID {
		if reg.DirectoryDomain == domain {
			return reg, nil
		}
	}
	return directory.Registration{}, serviceerr.ErrNotFound
}

func (r *Repository) FindByTenantID(_ context.Context, tenantID string) (directory.Registration, error) {
	if r.findErr != nil {
		return directory.Registration{}, r.findErr
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.byID {
		if reg.TenantID == tenantID {
			return reg, nil
		}
	}
	return directory.Registration{}, serviceerr.ErrNotFound
}

func (r *Repository) Register(_ context.Context, reg directory.Registration) (directory.Registration, error) {
	if r.registerErr != nil {
		return directory.Registration{}, r.registerErr
	}

	reg, err := directory.Prepare(reg)
	if err != nil {
		return directory.Registration{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.DirectoryDomain == reg.DirectoryDomain {
			return directory.Registration{}, serviceerr.Conflict("directory domain %s is already registered", reg.DirectoryDomain)
		}
		if existing.TenantID == reg.TenantID {
			return directory.Registration{}, serviceerr.Conflict("tenant %s is already registered", reg.TenantID)
		}
	}

	r.lastID++
	reg.ID = r.lastID
	reg.CreatedAt = time.Now().UTC()
	r.byID[reg.ID] = reg
	return reg, nil
}

func (r *Repository) InitSchema(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemaN++
	return r.initErr
}
