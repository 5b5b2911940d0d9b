// Package baseurl provides utilities to inject and retrieve the base URL
// (scheme and host) of the original request in and from the context.
package baseurl

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Using an unexported type prevents key collisions from other packages.
type contextKey string

// BaseURLKey is the context key used to store the base URL of the original request.
const BaseURLKey contextKey = "base-url"

// NewMiddleware returns an http.Handler middleware that injects the base URL
// of the original *http.Request into the context for later handlers to
// access. Forwarded headers are only honoured when trustForwarded is set.
func NewMiddleware(trustForwarded bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), BaseURLKey, FromRequest(r, trustForwarded))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext is a helper function that retrieves the base URL from the
// context.
func FromContext(ctx context.Context) (string, error) {
	u, ok := ctx.Value(BaseURLKey).(string)
	if !ok {
		return "", errors.New("base url not found in context")
	}
	return u, nil
}

// FromRequest combines scheme and host of r. With trustForwarded the
// X-Forwarded-Proto and X-Forwarded-Host headers set by a proxy win.
func FromRequest(r *http.Request, trustForwarded bool) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	host := r.Host

	if trustForwarded {
		if p := firstValue(r.Header.Get("X-Forwarded-Proto")); p == "http" || p == "https" {
			scheme = p
		}
		if h := firstValue(r.Header.Get("X-Forwarded-Host")); h != "" {
			host = h
		}
	}

	return scheme + "://" + host
}

func firstValue(header string) string {
	v, _, _ := strings.Cut(header, ",")
	return strings.TrimSpace(v)
}
