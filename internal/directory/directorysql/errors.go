package directorysql

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/openkcm/directory-auth/internal/serviceerr"
)

const (
	uniqueViolation        = "23505"
	domainUniqueConstraint = "directory_registrations_domain_idx"
)

// handlePgError maps unique violations to a conflict naming the clashing
// field.
func handlePgError(err error, domain, tenantID string) (error, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err, false
	}

	if pgErr.ConstraintName == domainUniqueConstraint {
		return serviceerr.Conflict("directory domain %s is already registered", domain), true
	}

	return serviceerr.Conflict("tenant %s is already registered", tenantID), true
}
