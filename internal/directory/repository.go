package directory

import "context"

// Repository stores tenant registrations keyed by directory domain.
// Implementations must be safe for concurrent use. Lookups are case
// insensitive and report serviceerr.ErrNotFound when nothing matches.
type Repository interface {
	IsRegistered(ctx context.Context, domain string) (bool, error)
	FindByDomain(ctx context.Context, domain string) (Registration, error)
	FindByTenantID(ctx context.Context, tenantID string) (Registration, error)
	// Register validates and stores reg. It fails with a validation error
	// on blank fields and with a conflict when the domain or tenant exists.
	Register(ctx context.Context, reg Registration) (Registration, error)
	// InitSchema creates the storage structure if it does not exist yet.
	InitSchema(ctx context.Context) error
}
