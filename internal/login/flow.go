package login

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	slogctx "github.com/veqryn/slog-context"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"

	"github.com/openkcm/directory-auth/internal/config"
	"github.com/openkcm/directory-auth/internal/directory"
	"github.com/openkcm/directory-auth/internal/serviceerr"
	"github.com/openkcm/directory-auth/internal/session"
)

// Step is the state a login is left in after one request.
type Step string

const (
	StepAwaitingCode  Step = "awaiting_code"
	StepAuthenticated Step = "authenticated"
	StepFailed        Step = "failed"
)

// Request carries the inputs of one leg of the login.
type Request struct {
	UserName         string
	Code             string
	State            string
	Redirect         string
	Referer          string
	BaseURL          string
	CallbackURL      string
	Error            string
	ErrorDescription string
}


// Result is the session to store and where to send the browser. The HTTP
// layer stores Session before writing the redirect to Location.
type Result struct {
	Session  session.Session
	Location string
	Step     Step
	// Err is the reason of a failed login.
	Err error
}

type FlowOption func(*Flow)

// WithStateSource replaces the random anti-forgery state source.
func WithStateSource(states StateSource) FlowOption {
	return func(f *Flow) {
		f.authorizer.states = states
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) FlowOption {
	return func(f *Flow) {
		f.now = now
		f.claims.now = now
		f.exchanger.now = now
	}
}

// Flow drives a login through the authorization redirect and the provider
// callback. It holds no per-login state itself; everything lives in the
// session value passed in and returned.
type Flow struct {
	resolver     *directory.Resolver
	authorizer   *AuthorizationRequestBuilder
	exchanger    *CodeExchangeClient
	claims       *ClaimsExtractor
	profiles     *ProfileClient
	materializer *Materializer
	audit        *otlpaudit.AuditLogger

	redirects  RedirectPolicy
	scopes     []string
	pendingTTL time.Duration
	now        func() time.Time

	attempts metric.Int64Counter
}

func NewFlow(
	resolver *directory.Resolver,
	cfg *config.Login,
	httpClient *http.Client,
	auditLogger *otlpaudit.AuditLogger,
	opts ...FlowOption,
) (*Flow, error) {
	endpoints := Endpoints{Scheme: cfg.ProviderScheme, Host: cfg.ProviderHost}

	attempts, err := otel.Meter("directory-auth/login").Int64Counter(
		"login.attempts",
		metric.WithDescription("Finished login attempts by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating login.attempts counter: %w", err)
	}

	f := &Flow{
		resolver:     resolver,
		authorizer:   NewAuthorizationRequestBuilder(endpoints, nil),
		exchanger:    NewCodeExchangeClient(endpoints, httpClient, cfg.Scopes, cfg.ProviderTimeout),
		claims:       NewClaimsExtractor(cfg.SigningAlgorithms, cfg.RefreshTokenLifespan, cfg.ExtendedClaims),
		materializer: NewMaterializer(cfg.FailureRedirectPath),
		audit:        auditLogger,
		redirects:    NewRedirectPolicy(cfg.AllowedRedirectHosts),
		scopes:       cfg.Scopes,
		pendingTTL:   cfg.PendingLoginTTL,
		now:          time.Now,
		attempts:     attempts,
	}

	if cfg.ProfileLookupEnabled() {
		f.profiles = NewProfileClient(cfg.GraphBaseURL, httpClient, cfg.ProviderTimeout)
	}

	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	return f, nil
}

// Authenticate advances the login of sess by one leg. An error is returned
// only when ctx ends; every other failure is a StepFailed result.
func (f *Flow) Authenticate(ctx context.Context, sess session.Session, req Request) (Result, error) {
	switch {
	case req.Error != "":
		err := &serviceerr.ProviderError{ErrorCode: req.Error, ErrorDescription: req.ErrorDescription}
		return f.fail(ctx, sess, err, Destination{BaseURL: req.BaseURL}, pendingUser(sess)), nil
	case req.Code == "":
		return f.start(ctx, sess, req)
	default:
		return f.callback(ctx, sess, req)
	}
}

func (f *Flow) start(ctx context.Context, sess session.Session, req Request) (Result, error) {
	userName := strings.TrimSpace(req.UserName)
	if userName == "" {
		userName = pendingUser(sess)
	}

	ctx = slogctx.With(ctx, "user_name", userName)
	dest := Destination{BaseURL: req.BaseURL, Referrer: f.referrer(ctx, req)}

	reg, err := f.resolver.ResolveFromUserName(ctx, userName)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}

		return f.fail(ctx, sess, err, dest, userName), nil
	}

	location, state, err := f.authorizer.BuildAuthorizationURL(reg, req.CallbackURL, userName, f.scopes)
	if err != nil {
		return f.fail(ctx, sess, err, dest, userName), nil
	}

	next := sess.Unauthenticated().WithPending(session.PendingLogin{
		AntiForgeryState: state,
		UserName:         userName,
		ReferrerURL:      dest.Referrer,
		StartedAt:        f.now(),
	})

	slogctx.Info(ctx, "Redirecting to the identity provider", "tenant_id", reg.TenantID)

	return Result{Session: next, Location: location, Step: StepAwaitingCode}, nil
}

// referrer picks the redirect parameter, then the Referer header, then the
// base URL. Targets rejected by the redirect policy are skipped.
func (f *Flow) referrer(ctx context.Context, req Request) string {
	for _, target := range []string{req.Redirect, req.Referer} {
		if target == "" {
			continue
		}
		if u, ok := f.redirects.Resolve(target, req.BaseURL); ok {
			return u
		}
		slogctx.Warn(ctx, "Ignoring redirect target outside the allowed hosts", "target", target)
	}

	return req.BaseURL
}

func (f *Flow) callback(ctx context.Context, sess session.Session, req Request) (Result, error) {
	dest := Destination{BaseURL: req.BaseURL}
	userName := pendingUser(sess)

	pending := sess.Pending
	if pending == nil || subtle.ConstantTimeCompare([]byte(pending.AntiForgeryState), []byte(req.State)) != 1 {
		return f.fail(ctx, sess, serviceerr.ErrStateMismatch, dest, userName), nil
	}

	if f.pendingTTL > 0 && f.now().After(pending.StartedAt.Add(f.pendingTTL)) {
		err := &serviceerr.Error{Err: serviceerr.CodeStateMismatch, Description: "pending login expired"}
		return f.fail(ctx, sess, err, dest, userName), nil
	}

	ctx = slogctx.With(ctx, "user_name", userName)

	reg, err := f.resolver.ResolveFromUserName(ctx, userName)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}

		return f.fail(ctx, sess, err, dest, userName), nil
	}

	ctx = slogctx.With(ctx, "tenant_id", reg.TenantID)

	tokens, err := f.exchanger.ExchangeCode(ctx, reg, req.Code, req.CallbackURL)
	if err != nil {
		if isContextErr(ctx, err) {
			slogctx.Info(ctx, "Login abandoned during code exchange", "error", err)
			return Result{}, err
		}

		return f.fail(ctx, sess, err, dest, userName), nil
	}

	slogctx.Info(ctx, "Exchanged the auth code for tokens")

	claims, err := f.claims.ExtractClaims(tokens.IDToken)
	if err != nil {
		return f.fail(ctx, sess, err, dest, userName), nil
	}

	if claims.TenantID != reg.TenantID {
		slogctx.Warn(ctx, "ID token tenant differs from the registration", "token_tenant_id", claims.TenantID)
	}

	var profile *session.Profile
	if f.profiles != nil {
		profile, err = f.profiles.FetchProfile(ctx, tokens.AccessToken)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}

			slogctx.Warn(ctx, "Profile lookup failed", "error", err)
			profile = nil
		}
	}

	next, location := f.materializer.ApplySuccess(sess, claims, tokens, profile, dest)

	f.record(ctx, StepAuthenticated)
	f.sendLoginSuccessAudit(ctx, claims.TenantID, claims.SubjectID)

	return Result{Session: next, Location: location, Step: StepAuthenticated}, nil
}

func (f *Flow) fail(ctx context.Context, sess session.Session, err error, dest Destination, userName string) Result {
	next, location := f.materializer.ApplyFailure(ctx, sess, err, dest)

	f.record(ctx, StepFailed)
	code, _ := serviceerr.FailureInfo(err)
	f.sendLoginFailureAudit(ctx, userName, code)

	return Result{Session: next, Location: location, Step: StepFailed, Err: err}
}

func (f *Flow) record(ctx context.Context, step Step) {
	f.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(step))))
}

func (f *Flow) sendLoginSuccessAudit(ctx context.Context, tenantID, objectID string) {
	if f.audit == nil {
		slogctx.Warn(ctx, "audit logger is nil; skipping user login success event")
		return
	}

	metadata, err := otlpaudit.NewEventMetadata("directory auth", tenantID, uuid.NewString())
	if err != nil {
		slogctx.Error(ctx, "creating audit metadata", "error", err)
		return
	}

	event, err := otlpaudit.NewUserLoginSuccessEvent(metadata, objectID, otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.MFATYPE_NONE, otlpaudit.USERTYPE_BUSINESS, objectID)
	if err != nil {
		slogctx.Error(ctx, "creating audit log", "error", err)
		return
	}

	if err := f.audit.SendEvent(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to send audit log for user login success", "error", err)
		return
	}
	slogctx.Debug(ctx, "sent audit log for user login success")
}

func (f *Flow) sendLoginFailureAudit(ctx context.Context, userName, reason string) {
	if f.audit == nil {
		slogctx.Warn(ctx, "audit logger is nil; skipping user login failure event")
		return
	}

	objectID := userName
	if objectID == "" {
		objectID = "anonymous"
	}

	domain, err := directory.DomainFromUserName(userName)
	if err != nil {
		domain = "unknown"
	}

	metadata, err := otlpaudit.NewEventMetadata("directory auth", domain, uuid.NewString())
	if err != nil {
		slogctx.Error(ctx, "creating audit metadata", "error", err)
		return
	}

	event, err := otlpaudit.NewUserLoginFailureEvent(metadata, objectID, otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.FailReason(reason), objectID)
	if err != nil {
		slogctx.Error(ctx, "creating audit log", "error", err)
		return
	}

	if err := f.audit.SendEvent(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to send audit log for user login failure", "error", err)
		return
	}
	slogctx.Debug(ctx, "sent audit log for user login failure")
}

func pendingUser(sess session.Session) string {
	if sess.Pending == nil {
		return ""
	}
	return sess.Pending.UserName
}

func isContextErr(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled)
}
