package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/directory-auth/internal/config"
	"github.com/openkcm/directory-auth/internal/login"
	"github.com/openkcm/directory-auth/internal/middleware/baseurl"
	"github.com/openkcm/directory-auth/internal/serviceerr"
	"github.com/openkcm/directory-auth/internal/session"
)

// SessionIDSource generates session identifiers.
type SessionIDSource interface {
	SessionID() string
}

type loginHandler struct {
	flow        *login.Flow
	sessions    session.Repository
	ids         SessionIDSource
	cookie      config.CookieTemplate
	duration    time.Duration
	callbackURL string
	now         func() time.Time
}

// currentSession loads the session named by the cookie. Missing, unknown and
// expired sessions are replaced by a fresh one that was never stored.
func (h *loginHandler) currentSession(ctx context.Context, r *http.Request) (session.Session, error) {
	if c, err := r.Cookie(h.cookie.Name); err == nil && c.Value != "" {
		sess, err := h.sessions.Load(ctx, c.Value)
		switch {
		case err == nil && !sess.Expired(h.now()):
			return sess, nil
		case err == nil, errors.Is(err, serviceerr.ErrNotFound):
			slogctx.Debug(ctx, "Session cookie does not name a live session")
		default:
			return session.Session{}, err
		}
	}

	return session.New(h.ids.SessionID(), h.now().Add(h.duration)), nil
}

// authenticate serves both legs of the login on GET /auth/aad-mt.
func (h *loginHandler) authenticate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, err := h.currentSession(ctx, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	base := requestBaseURL(ctx, r)
	callback := h.callbackURL
	if callback == "" {
		callback = base + r.URL.Path
	}

	q := r.URL.Query()
	res, err := h.flow.Authenticate(ctx, sess, login.Request{
		UserName:         q.Get("userName"),
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Redirect:         q.Get("redirect"),
		Referer:          r.Referer(),
		BaseURL:          base + "/",
		CallbackURL:      callback,
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		slogctx.Info(ctx, "Login request abandoned", "error", err)
		return
	}

	// The session has to be stored before the browser follows the redirect.
	stored, err := h.sessions.Store(ctx, res.Session)
	if err != nil {
		slogctx.Error(ctx, "Failed to store session", "error", err)
		writeError(ctx, w, err)
		return
	}

	http.SetCookie(w, h.cookie.ToCookie(stored.ID))
	http.Redirect(w, r, res.Location, http.StatusFound)
}

type sessionResponse struct {
	UserName           string            `json:"userName"`
	DisplayName        string            `json:"displayName,omitempty"`
	TenantID           string            `json:"tenantId"`
	SubjectID          string            `json:"subjectId"`
	AccessTokenExpiry  time.Time         `json:"accessTokenExpiry"`
	RefreshTokenExpiry time.Time         `json:"refreshTokenExpiry"`
	Profile            *session.Profile  `json:"profile,omitempty"`
	Extended           map[string]string `json:"extended,omitempty"`
}

// sessionInfo serves GET /auth/aad-mt/session. Tokens are never returned.
func (h *loginHandler) sessionInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	c, err := r.Cookie(h.cookie.Name)
	if err != nil || c.Value == "" {
		writeError(ctx, w, serviceerr.ErrUnauthenticated)
		return
	}

	sess, err := h.sessions.Load(ctx, c.Value)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			err = serviceerr.ErrUnauthenticated
		}
		writeError(ctx, w, err)
		return
	}

	if !sess.Authenticated || sess.Expired(h.now()) {
		writeError(ctx, w, serviceerr.ErrUnauthenticated)
		return
	}

	writeJSON(ctx, w, http.StatusOK, sessionResponse{
		UserName:           sess.UserName,
		DisplayName:        sess.DisplayName,
		TenantID:           sess.TenantID,
		SubjectID:          sess.SubjectID,
		AccessTokenExpiry:  sess.AccessTokenExpiry,
		RefreshTokenExpiry: sess.RefreshTokenExpiry,
		Profile:            sess.Profile,
		Extended:           sess.Extended,
	})
}

// logout serves POST /auth/aad-mt/logout.
func (h *loginHandler) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if c, err := r.Cookie(h.cookie.Name); err == nil && c.Value != "" {
		if err := h.sessions.Delete(ctx, c.Value); err != nil {
			writeError(ctx, w, err)
			return
		}
		slogctx.Info(ctx, "Session deleted")
	}

	http.SetCookie(w, h.cookie.ToExpiredCookie())
	w.WriteHeader(http.StatusNoContent)
}

func requestBaseURL(ctx context.Context, r *http.Request) string {
	if u, err := baseurl.FromContext(ctx); err == nil {
		return u
	}
	return baseurl.FromRequest(r, false)
}
