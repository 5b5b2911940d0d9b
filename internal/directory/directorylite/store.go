// Package directorylite stores registrations in an embedded SQLite database.
// It serves single node deployments and local development.
package directorylite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/openkcm/directory-auth/internal/directory"
	"github.com/openkcm/directory-auth/internal/serviceerr"
)

const schema = `
CREATE TABLE IF NOT EXISTS directory_registrations (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    client_id        TEXT NOT NULL,
    client_secret    TEXT NOT NULL,
    tenant_id        TEXT NOT NULL UNIQUE,
    directory_domain TEXT NOT NULL COLLATE NOCASE UNIQUE,
    domain_hint      TEXT,
    ref_id           INTEGER,
    ref_id_str       TEXT,
    created_at       INTEGER NOT NULL
);`

const selectColumns = `SELECT id, client_id, client_secret, tenant_id, directory_domain,
	COALESCE(domain_hint, ''), ref_id, ref_id_str, created_at FROM directory_registrations`

type Store struct {
	db *sql.DB
}

var _ = directory.Repository(&Store{})

// Open opens the database named by dsn, e.g. "file:directory.db" or
// "file::memory:". The schema is not created; call InitSchema.
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite dsn is required")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection serialises writers and keeps in-memory
	// databases alive across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating directory schema: %w", err)
	}
	return nil
}

func (s *Store) IsRegistered(ctx context.Context, domain string) (bool, error) {
	_, err := s.FindByDomain(ctx, domain)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, serviceerr.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Store) FindByDomain(ctx context.Context, domain string) (directory.Registration, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "find_directory_by_domain_sqlite")
	defer span.End()

	domain = directory.NormalizeDomain(domain)
	if domain == "" {
		return directory.Registration{}, serviceerr.ErrNotFound
	}

	reg, err := s.get(ctx, selectColumns+` WHERE directory_domain = ?`, domain)
	if err != nil {
		span.RecordError(err)
		return directory.Registration{}, err
	}
	return reg, nil
}

func (s *Store) FindByTenantID(ctx context.Context, tenantID string) (directory.Registration, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "find_directory_by_tenant_sqlite")
	defer span.End()

	reg, err := s.get(ctx, selectColumns+` WHERE tenant_id = ?`, tenantID)
	if err != nil {
		span.RecordError(err)
		return directory.Registration{}, err
	}
	return reg, nil
}

func (s *Store) get(ctx context.Context, query, arg string) (directory.Registration, error) {
	var (
		reg       directory.Registration
		refID     sql.NullInt64
		refIDStr  sql.NullString
		createdAt int64
	)

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&reg.ID, &reg.ClientID, &reg.ClientSecret, &reg.TenantID, &reg.DirectoryDomain,
		&reg.DomainHint, &refID, &refIDStr, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return directory.Registration{}, serviceerr.ErrNotFound
		}
		return directory.Registration{}, fmt.Errorf("scanning rows: %w", err)
	}

	if refID.Valid {
		reg.RefID = &refID.Int64
	}
	if refIDStr.Valid {
		reg.RefIDStr = &refIDStr.String
	}
	reg.CreatedAt = time.UnixMilli(createdAt).UTC()

	return reg, nil
}

func (s *Store) Register(ctx context.Context, reg directory.Registration) (directory.Registration, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "register_directory_sqlite")
	defer span.End()

	reg, err := directory.Prepare(reg)
	if err != nil {
		return directory.Registration{}, err
	}

	reg.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO directory_registrations
			(client_id, client_secret, tenant_id, directory_domain, domain_hint, ref_id, ref_id_str, created_at)
			VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?)`,
		reg.ClientID, reg.ClientSecret, reg.TenantID, reg.DirectoryDomain, reg.DomainHint,
		reg.RefID, reg.RefIDStr, reg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		span.RecordError(err)
		if conflict, ok := uniqueViolation(err, reg); ok {
			return directory.Registration{}, conflict
		}
		return directory.Registration{}, fmt.Errorf("inserting into directory_registrations: %w", err)
	}

	reg.ID, err = res.LastInsertId()
	if err != nil {
		return directory.Registration{}, fmt.Errorf("reading inserted id: %w", err)
	}

	return reg, nil
}

func uniqueViolation(err error, reg directory.Registration) (error, bool) {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code() != sqlite3lib.SQLITE_CONSTRAINT_UNIQUE {
		return err, false
	}

	if strings.Contains(err.Error(), "directory_registrations.directory_domain") {
		return serviceerr.Conflict("directory domain %s is already registered", reg.DirectoryDomain), true
	}

	return serviceerr.Conflict("tenant %s is already registered", reg.TenantID), true
}
