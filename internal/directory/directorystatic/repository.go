// Package directorystatic serves one registration taken from configuration.
//
// Every lookup returns the configured registration, whatever domain or
// tenant is asked for. Single tenant deployments rely on this; it is not a
// fit for multi-tenant routing, so construction logs a warning.
package directorystatic

import (
	"context"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/directory-auth/internal/directory"
	"github.com/openkcm/directory-auth/internal/serviceerr"
)

type Repository struct {
	reg directory.Registration
}

var _ = directory.Repository(&Repository{})

// NewRepository validates reg and returns a repository serving it.
func NewRepository(ctx context.Context, reg directory.Registration) (*Repository, error) {
	reg, err := directory.Prepare(reg)
	if err != nil {
		return nil, err
	}

	slogctx.Warn(ctx, "Static directory configured: every domain resolves to the same registration",
		"tenant_id", reg.TenantID, "directory_domain", reg.DirectoryDomain)

	return &Repository{reg: reg}, nil
}

func (r *Repository) IsRegistered(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (r *Repository) FindByDomain(_ context.Context, _ string) (directory.Registration, error) {
	return r.reg, nil
}

func (r *Repository) FindByTenantID(_ context.Context, _ string) (directory.Registration, error) {
	return r.reg, nil
}

func (r *Repository) Register(_ context.Context, _ directory.Registration) (directory.Registration, error) {
	return directory.Registration{}, serviceerr.Validation("registration is not supported by the static directory")
}

func (r *Repository) InitSchema(_ context.Context) error {
	return nil
}
