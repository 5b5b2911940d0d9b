package directorysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openkcm/directory-auth/internal/directory"
	"github.com/openkcm/directory-auth/internal/serviceerr"
)

// Schema is executed by InitSchema. The goose migrations in the sql
// directory create the same structure.
const Schema = `
CREATE TABLE IF NOT EXISTS directory_registrations (
    id               BIGSERIAL PRIMARY KEY,
    client_id        VARCHAR(128) NOT NULL,
    client_secret    VARCHAR(128) NOT NULL,
    tenant_id        VARCHAR(40)  NOT NULL UNIQUE,
    directory_domain VARCHAR(128) NOT NULL,
    domain_hint      VARCHAR(128),
    ref_id           BIGINT,
    ref_id_str       VARCHAR(128),
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS directory_registrations_domain_idx
    ON directory_registrations (lower(directory_domain));`

const selectColumns = `SELECT id, client_id, client_secret, tenant_id, directory_domain,
	COALESCE(domain_hint, ''), ref_id, ref_id_str, created_at FROM directory_registrations`

type Repository struct {
	db *pgxpool.Pool
}

var _ = directory.Repository(&Repository{})

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) IsRegistered(ctx context.Context, domain string) (bool, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "is_directory_registered_sql")
	defer span.End()

	domain = directory.NormalizeDomain(domain)
	if domain == "" {
		return false, nil
	}

	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM directory_registrations WHERE lower(directory_domain) = $1);`, domain,
	).Scan(&exists)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("querying directory registration: %w", err)
	}

	return exists, nil
}

func (r *Repository) FindByDomain(ctx context.Context, domain string) (directory.Registration, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "find_directory_by_domain_sql")
	defer span.End()

	domain = directory.NormalizeDomain(domain)
	if domain == "" {
		return directory.Registration{}, serviceerr.ErrNotFound
	}

	span.SetAttributes(attribute.String("directory.domain", domain))

	reg, err := r.get(ctx, span, selectColumns+` WHERE lower(directory_domain) = $1;`, domain)
	if err != nil {
		return directory.Registration{}, err
	}

	return reg, nil
}

func (r *Repository) FindByTenantID(ctx context.Context, tenantID string) (directory.Registration, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "find_directory_by_tenant_sql")
	defer span.End()

	reg, err := r.get(ctx, span, selectColumns+` WHERE tenant_id = $1;`, tenantID)
	if err != nil {
		return directory.Registration{}, err
	}

	return reg, nil
}

func (r *Repository) get(ctx context.Context, span trace.Span, query string, arg string) (directory.Registration, error) {
	var reg directory.Registration

	err := r.db.QueryRow(ctx, query, arg).Scan(
		&reg.ID, &reg.ClientID, &reg.ClientSecret, &reg.TenantID, &reg.DirectoryDomain,
		&reg.DomainHint, &reg.RefID, &reg.RefIDStr, &reg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return directory.Registration{}, serviceerr.ErrNotFound
		}

		span.RecordError(err)
		return directory.Registration{}, fmt.Errorf("scanning rows: %w", err)
	}

	return reg, nil
}

func (r *Repository) Register(ctx context.Context, reg directory.Registration) (directory.Registration, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "register_directory_sql")
	defer span.End()

	reg, err := directory.Prepare(reg)
	if err != nil {
		return directory.Registration{}, err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		span.RecordError(err)
		return directory.Registration{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO directory_registrations
			(client_id, client_secret, tenant_id, directory_domain, domain_hint, ref_id, ref_id_str)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
			RETURNING id, created_at;`,
		reg.ClientID, reg.ClientSecret, reg.TenantID, reg.DirectoryDomain, reg.DomainHint, reg.RefID, reg.RefIDStr,
	).Scan(&reg.ID, &reg.CreatedAt)
	if err != nil {
		span.RecordError(err)
		if err, ok := handlePgError(err, reg.DirectoryDomain, reg.TenantID); ok {
			return directory.Registration{}, err
		}

		return directory.Registration{}, fmt.Errorf("inserting into directory_registrations: %w", err)
	}

	err = tx.Commit(ctx)
	if err != nil {
		span.RecordError(err)
		return directory.Registration{}, fmt.Errorf("committing transaction: %w", err)
	}

	return reg, nil
}

func (r *Repository) InitSchema(ctx context.Context) error {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "init_directory_schema_sql")
	defer span.End()

	if _, err := r.db.Exec(ctx, Schema); err != nil {
		span.RecordError(err)
		return fmt.Errorf("creating directory schema: %w", err)
	}

	return nil
}
