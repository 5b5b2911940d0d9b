package business

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/directory-auth/internal/business/server"
	"github.com/openkcm/directory-auth/internal/config"
	"github.com/openkcm/directory-auth/internal/directory"
	"github.com/openkcm/directory-auth/internal/directory/directorylite"
	"github.com/openkcm/directory-auth/internal/directory/directorysql"
	"github.com/openkcm/directory-auth/internal/directory/directorystatic"
	"github.com/openkcm/directory-auth/internal/directory/seed"
	"github.com/openkcm/directory-auth/internal/login"
	"github.com/openkcm/directory-auth/internal/session"
	"github.com/openkcm/directory-auth/internal/session/sessionmem"
	"github.com/openkcm/directory-auth/internal/session/sessionvalkey"
)

// Main starts the public and, when enabled, the admin API server.
func Main(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	directories, closeDirectories, err := openDirectory(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening the directory: %w", err)
	}
	defer closeDirectories()

	services, closeServices, err := initServices(ctx, cfg, directories)
	if err != nil {
		return fmt.Errorf("initialising the login services: %w", err)
	}
	defer closeServices()

	// errChan is used to capture the first error and shutdown the servers.
	errChan := make(chan error, 2)

	// wg is used to wait for all servers to shutdown.
	var wg sync.WaitGroup

	wg.Go(func() {
		errChan <- server.StartHTTPServer(ctx, cfg, services)
	})

	if cfg.Admin.IsEnabled() {
		wg.Go(func() {
			errChan <- server.StartAdminServer(ctx, cfg, directories)
		})
	}

	// wait for any error to initiate the shutdown
	if err := <-errChan; err != nil {
		slogctx.Error(ctx, "Shutting down servers", "error", err)
	}
	cancel()

	// wait for all servers to shutdown
	wg.Wait()

	return nil
}

func initServices(ctx context.Context, cfg *config.Config, directories directory.Repository) (server.Services, func(), error) {
	sessions, closeSessions, err := openSessions(ctx, cfg)
	if err != nil {
		return server.Services{}, nil, fmt.Errorf("opening the session store: %w", err)
	}

	auditLogger, err := otlpaudit.NewLogger(&cfg.Audit)
	if err != nil {
		closeSessions()
		return server.Services{}, nil, fmt.Errorf("creating audit logger: %w", err)
	}

	resolver := directory.NewResolver(directories)

	flow, err := login.NewFlow(resolver, &cfg.Login, &http.Client{}, auditLogger)
	if err != nil {
		closeSessions()
		return server.Services{}, nil, fmt.Errorf("creating login flow: %w", err)
	}

	return server.Services{
		Flow:     flow,
		Resolver: resolver,
		Sessions: sessions,
	}, closeSessions, nil
}

// openDirectory opens the configured registration store, creates its schema
// and applies the seed file when configured.
func openDirectory(ctx context.Context, cfg *config.Config) (directory.Repository, func(), error) {
	repo, closeFn, err := openDirectoryBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Directory.InitSchema {
		if err := repo.InitSchema(ctx); err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("initialising the directory schema: %w", err)
		}
	}

	if cfg.Directory.SeedFile != "" {
		regs, err := seed.LoadFile(cfg.Directory.SeedFile)
		if err != nil {
			closeFn()
			return nil, nil, err
		}

		n, err := seed.Apply(ctx, repo, regs)
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("applying seed file: %w", err)
		}
		slogctx.Info(ctx, "Applied directory seed file", "file", cfg.Directory.SeedFile, "registered", n)
	}

	return repo, closeFn, nil
}

func openDirectoryBackend(ctx context.Context, cfg *config.Config) (directory.Repository, func(), error) {
	switch cfg.Directory.Backend {
	case config.DirectoryBackendPostgres:
		pool, err := newPgxPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return directorysql.NewRepository(pool), pool.Close, nil
	case config.DirectoryBackendSQLite:
		store, err := directorylite.Open(cfg.Directory.SQLiteDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.DirectoryBackendStatic:
		secret, err := config.LoadStaticSecret(cfg.Directory.Static)
		if err != nil {
			return nil, nil, err
		}

		repo, err := directorystatic.NewRepository(ctx, directory.Registration{
			ClientID:        cfg.Directory.Static.ClientID,
			ClientSecret:    secret,
			TenantID:        cfg.Directory.Static.TenantID,
			DirectoryDomain: cfg.Directory.Static.DirectoryDomain,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("configuring the static directory: %w", err)
		}
		return repo, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown directory backend %q", cfg.Directory.Backend)
	}
}

func newPgxPool(ctx context.Context, db config.Database) (*pgxpool.Pool, error) {
	connStr, err := config.MakeConnStr(db)
	if err != nil {
		return nil, fmt.Errorf("making dsn from config: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("initialising pgxpool connection: %w", err)
	}

	return pool, nil
}

func openSessions(_ context.Context, cfg *config.Config) (session.Repository, func(), error) {
	switch cfg.Sessions.Backend {
	case config.SessionBackendMemory:
		return sessionmem.NewRepository(), func() {}, nil
	case config.SessionBackendValKey:
		client, err := newValkeyClient(cfg.ValKey)
		if err != nil {
			return nil, nil, err
		}
		return sessionvalkey.NewRepository(client, cfg.ValKey.Prefix), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.Sessions.Backend)
	}
}

func newValkeyClient(cfg config.ValKey) (valkey.Client, error) {
	valkeyHost, err := commoncfg.LoadValueFromSourceRef(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("loading valkey host: %w", err)
	}

	if len(valkeyHost) == 0 {
		return nil, errors.New("valkey host is required")
	}

	valkeyUsername, err := commoncfg.LoadValueFromSourceRef(cfg.User)
	if err != nil {
		return nil, fmt.Errorf("loading valkey username: %w", err)
	}

	valkeyPassword, err := commoncfg.LoadValueFromSourceRef(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("loading valkey password: %w", err)
	}

	valkeyClient, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{string(valkeyHost)},
		Username:    string(valkeyUsername),
		Password:    string(valkeyPassword),
	})
	if err != nil {
		return nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	return valkeyClient, nil
}
