package login

import (
	"net/url"
	"strings"
)

// AppendQuery adds key=value to the query of rawURL. The existing query and
// fragment are kept as they are.
func AppendQuery(rawURL, key, value string) string {
	pair := url.Values{key: []string{value}}.Encode()

	u, err := url.Parse(rawURL)
	if err != nil {
		base, fragment, hasFragment := strings.Cut(rawURL, "#")
		sep := "?"
		if strings.Contains(base, "?") {
			sep = "&"
		}
		out := base + sep + pair
		if hasFragment {
			out += "#" + fragment
		}
		return out
	}

	if u.RawQuery == "" {
		u.RawQuery = pair
	} else {
		u.RawQuery += "&" + pair
	}

	return u.String()
}

// JoinPath resolves path (starting with '/') against baseURL.
func JoinPath(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + path
}

// RedirectPolicy decides which post-login targets the browser may be sent to.
// A target is accepted when it is a path on the request's own origin, an
// absolute URL on the same host, or an absolute URL on an allowed host.
type RedirectPolicy struct {
	allowed map[string]struct{}
}

func NewRedirectPolicy(allowedHosts []string) RedirectPolicy {
	allowed := make(map[string]struct{}, len(allowedHosts))
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			allowed[h] = struct{}{}
		}
	}

	return RedirectPolicy{allowed: allowed}
}

// Resolve returns target as an absolute URL, or false when the browser must
// not be sent there.
func (p RedirectPolicy) Resolve(target, baseURL string) (string, bool) {
	if strings.HasPrefix(target, "/") {
		// "//host" and "/\host" are scheme relative in browsers.
		if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
			return "", false
		}
		return JoinPath(baseURL, target), true
	}

	u, err := url.Parse(target)
	if err != nil || u.Host == "" || u.User != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}

	if base, err := url.Parse(baseURL); err == nil && strings.EqualFold(base.Host, u.Host) {
		return target, true
	}
	if _, ok := p.allowed[strings.ToLower(u.Hostname())]; ok {
		return target, true
	}

	return "", false
}
