package business

import (
	"context"
	"errors"
	"fmt"

	"github.com/openkcm/directory-auth/internal/config"
	"github.com/openkcm/directory-auth/internal/directory"
)

// RegisterDirectory adds reg to the configured directory store.
func RegisterDirectory(ctx context.Context, cfg *config.Config, reg directory.Registration) (directory.Registration, error) {
	repo, closeFn, err := openDirectoryBackend(ctx, cfg)
	if err != nil {
		return directory.Registration{}, fmt.Errorf("opening the directory: %w", err)
	}
	defer closeFn()

	return repo.Register(ctx, reg)
}

// LookupDirectory finds a registration by tenant id or, when tenantID is
// empty, by directory domain.
func LookupDirectory(ctx context.Context, cfg *config.Config, tenantID, domain string) (directory.Registration, error) {
	if (tenantID == "") == (domain == "") {
		return directory.Registration{}, errors.New("exactly one of tenant id and domain is required")
	}

	repo, closeFn, err := openDirectoryBackend(ctx, cfg)
	if err != nil {
		return directory.Registration{}, fmt.Errorf("opening the directory: %w", err)
	}
	defer closeFn()

	if tenantID != "" {
		return repo.FindByTenantID(ctx, tenantID)
	}

	return repo.FindByDomain(ctx, domain)
}
