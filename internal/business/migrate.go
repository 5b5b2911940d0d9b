package business

import (
	"context"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/pressly/goose/v3"
	"github.com/samber/oops"

	// Register pgx driver
	_ "github.com/jackc/pgx/v5/stdlib"

	slogctx "github.com/veqryn/slog-context"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/openkcm/directory-auth/internal/config"
	migrations "github.com/openkcm/directory-auth/sql"
)

// MigrateMain brings the directory schema up to date. Postgres is migrated
// with goose; the sqlite backend creates its schema directly and the static
// backend has none.
func MigrateMain(ctx context.Context, cfg *config.Config) error {
	switch cfg.Directory.Backend {
	case config.DirectoryBackendPostgres:
		return migratePostgres(ctx, cfg)
	case config.DirectoryBackendSQLite:
		repo, closeFn, err := openDirectoryBackend(ctx, cfg)
		if err != nil {
			return fmt.Errorf("opening sqlite directory: %w", err)
		}
		defer closeFn()

		return repo.InitSchema(ctx)
	default:
		slogctx.Info(ctx, "Nothing to migrate", "backend", cfg.Directory.Backend)
		return nil
	}
}

func migratePostgres(ctx context.Context, cfg *config.Config) error {
	const dialect = "pgx"
	dbSystemName := semconv.DBSystemNamePostgreSQL

	connStr, err := config.MakeConnStr(cfg.Database)
	if err != nil {
		return fmt.Errorf("making connection string from config: %w", err)
	}

	db, err := otelsql.Open(dialect, connStr, otelsql.WithAttributes(dbSystemName))
	if err != nil {
		return oops.In("main").Wrapf(err, "opening DB connection")
	}
	defer db.Close()

	reg, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(dbSystemName))
	if err != nil {
		return fmt.Errorf("registering db stats metrics: %w", err)
	}

	defer func() {
		if err := reg.Unregister(); err != nil {
			slogctx.Error(ctx, "failed to unregister db stats metrics", "error", err)
		}
	}()

	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	return nil
}
