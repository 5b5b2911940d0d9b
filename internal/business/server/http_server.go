package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/directory-auth/internal/config"
	"github.com/openkcm/directory-auth/internal/directory"
	"github.com/openkcm/directory-auth/internal/login"
	"github.com/openkcm/directory-auth/internal/middleware/baseurl"
	"github.com/openkcm/directory-auth/internal/randsrc"
	"github.com/openkcm/directory-auth/internal/session"
)

// Services are the dependencies of the public API.
type Services struct {
	Flow     *login.Flow
	Resolver *directory.Resolver
	Sessions session.Repository
	// SessionIDs defaults to crypto/rand backed identifiers.
	SessionIDs SessionIDSource
}

func newPublicRouter(cfg *config.Config, m *meters, svc Services) http.Handler {
	ids := svc.SessionIDs
	if ids == nil {
		ids = randsrc.Source{}
	}

	lh := &loginHandler{
		flow:        svc.Flow,
		sessions:    svc.Sessions,
		ids:         ids,
		cookie:      cfg.Sessions.Cookie,
		duration:    cfg.Sessions.Duration,
		callbackURL: cfg.Login.CallbackURL,
		now:         time.Now,
	}

	trace := func(op string) func(http.Handler) http.Handler {
		return newTraceMiddleware(cfg, m, op)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(baseurl.NewMiddleware(cfg.HTTP.TrustForwardedHeaders))

	r.With(trace("ping")).Get("/ping", pingHandlerFunc)
	r.With(trace("login")).Get("/auth/aad-mt", lh.authenticate)
	r.With(trace("session")).Get("/auth/aad-mt/session", lh.sessionInfo)
	r.With(trace("logout")).Post("/auth/aad-mt/logout", lh.logout)
	r.With(trace("domCheck")).Post("/ms-graph/dom-check", domCheckHandlerFunc(svc.Resolver))

	return r
}

func newAdminRouter(cfg *config.Config, m *meters, repo directory.Repository) http.Handler {
	ah := &adminHandler{repo: repo}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/directories", func(r chi.Router) {
		r.With(newTraceMiddleware(cfg, m, "registerDirectory")).Post("/", ah.register)
		r.With(newTraceMiddleware(cfg, m, "getDirectoryByTenant")).Get("/tenants/{tenantID}", ah.getByTenant)
		r.With(newTraceMiddleware(cfg, m, "getDirectoryByDomain")).Get("/domains/{domain}", ah.getByDomain)
	})

	return r
}

// createHTTPServer creates the public http server using the given config.
func createHTTPServer(ctx context.Context, cfg *config.Config, svc Services) (*http.Server, error) {
	m, err := initMeters(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           newPublicRouter(cfg, m, svc),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

// createAdminServer creates the registration API http server.
func createAdminServer(ctx context.Context, cfg *config.Config, repo directory.Repository) (*http.Server, error) {
	m, err := initMeters(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &http.Server{
		Addr:              cfg.Admin.Address,
		Handler:           newAdminRouter(cfg, m, repo),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

// StartHTTPServer serves the public API until ctx is done.
func StartHTTPServer(ctx context.Context, cfg *config.Config, svc Services) error {
	server, err := createHTTPServer(ctx, cfg, svc)
	if err != nil {
		return err
	}

	return serve(ctx, "HTTP Server", server, cfg.HTTP.ShutdownTimeout)
}

// StartAdminServer serves the registration API until ctx is done.
func StartAdminServer(ctx context.Context, cfg *config.Config, repo directory.Repository) error {
	server, err := createAdminServer(ctx, cfg, repo)
	if err != nil {
		return err
	}

	return serve(ctx, "Admin Server", server, cfg.Admin.ShutdownTimeout)
}

func serve(ctx context.Context, component string, server *http.Server, shutdownTimeout time.Duration) error {
	ctx = slogctx.With(ctx, "component", component)
	slogctx.Info(ctx, "Starting a listener", "address", server.Addr)

	// Parse network if the address if provided in the format of network://address.
	// Otherwise use tcp network by default.
	network := "tcp"
	if idx := strings.IndexRune(server.Addr, ':'); idx != -1 && len(server.Addr) > idx+3 && server.Addr[idx:idx+3] == "://" {
		network = server.Addr[:idx]
		server.Addr = server.Addr[idx+3:]
	}

	listener, err := new(net.ListenConfig).Listen(ctx, network, server.Addr)
	if err != nil {
		return oops.In(component).
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	slogctx.Info(ctx, "A listener started", "address", listener.Addr().String())

	go func() {
		slogctx.Info(ctx, "Serving an HTTP server", "address", listener.Addr().String())
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve an HTTP server", "error", err)
		}

		slogctx.Info(ctx, "Stopped an HTTP server")
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In(component).
			WithContext(ctx).
			Wrapf(err, "Failed shutting down HTTP server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}
