package login

import (
	"context"
	"maps"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/directory-auth/internal/serviceerr"
	"github.com/openkcm/directory-auth/internal/session"
)

const (
	// SuccessMarker is appended to the referrer after a successful login.
	SuccessMarker = "s"
	// FailureMarker carries the failure code on the failure redirect.
	FailureMarker = "f"
)

// Destination describes where a finished login goes.
type Destination struct {
	BaseURL  string
	Referrer string
}

func (d Destination) referrerOr(sess session.Session) string {
	if d.Referrer != "" {
		return d.Referrer
	}
	if ref := sess.ReferrerURL(); ref != "" {
		return ref
	}
	return d.BaseURL
}

// Materializer turns the outcome of a login into a new session value and
// the URL the browser is sent to.
type Materializer struct {
	failurePath string
}

func NewMaterializer(failurePath string) *Materializer {
	return &Materializer{failurePath: failurePath}
}

// ApplySuccess returns an authenticated copy of sess and the referrer with
// s=1 appended.
func (m *Materializer) ApplySuccess(sess session.Session, claims Claims, tokens TokenResponse, profile *session.Profile, dest Destination) (session.Session, string) {
	target := dest.referrerOr(sess)

	next := sess.WithoutPending()
	next.Authenticated = true
	next.UserName = claims.PreferredUsername
	next.DisplayName = claims.DisplayName
	next.TenantID = claims.TenantID
	next.SubjectID = claims.SubjectID
	next.AccessToken = tokens.AccessToken
	next.RefreshToken = tokens.RefreshToken
	next.IDToken = tokens.IDToken
	next.AccessTokenExpiry = tokens.Expiry
	next.RefreshTokenExpiry = claims.RefreshTokenExpiry
	next.Extended = maps.Clone(claims.Extended)
	next.Profile = nil
	if profile != nil {
		p := *profile
		next.Profile = &p
	}

	return next, AppendQuery(target, SuccessMarker, "1")
}

// ApplyFailure returns an unauthenticated copy of sess without pending
// login, and the failure URL with f=<code> appended.
func (m *Materializer) ApplyFailure(ctx context.Context, sess session.Session, err error, dest Destination) (session.Session, string) {
	code, description := serviceerr.FailureInfo(err)
	slogctx.Warn(ctx, "Login failed", "error", code, "error_description", description)

	target := dest.referrerOr(sess)
	if m.failurePath != "" {
		target = JoinPath(dest.BaseURL, m.failurePath)
	}

	next := sess.Unauthenticated()
	next.Pending = nil

	return next, AppendQuery(target, FailureMarker, code)
}
