// Package session holds the per-browser session record the login flow reads
// and replaces on each leg.
package session

import (
	"maps"
	"time"
)

// PendingLogin is the state of a login between the authorization redirect
// and the provider callback.
type PendingLogin struct {
	AntiForgeryState string    `json:"antiForgeryState"`
	UserName         string    `json:"userName"`
	ReferrerURL      string    `json:"referrerUrl"`
	StartedAt        time.Time `json:"startedAt"`
}

// Profile is the optional directory profile of the signed in user.
type Profile struct {
	GivenName         string `json:"givenName,omitempty"`
	Surname           string `json:"surname,omitempty"`
	Mail              string `json:"mail,omitempty"`
	PreferredLanguage string `json:"preferredLanguage,omitempty"`
	MobilePhone       string `json:"mobilePhone,omitempty"`
}

// Session is treated as a value: the helpers below return modified copies,
// and a repository only accepts a copy whose Version matches the stored one.
type Session struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`

	Authenticated bool   `json:"authenticated"`
	UserName      string `json:"userName,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	TenantID      string `json:"tenantId,omitempty"`
	SubjectID     string `json:"subjectId,omitempty"`

	AccessToken        string    `json:"accessToken,omitempty"`
	RefreshToken       string    `json:"refreshToken,omitempty"`
	IDToken            string    `json:"idToken,omitempty"`
	AccessTokenExpiry  time.Time `json:"accessTokenExpiry"`
	RefreshTokenExpiry time.Time `json:"refreshTokenExpiry"`

	Profile  *Profile          `json:"profile,omitempty"`
	Extended map[string]string `json:"extended,omitempty"`
	Pending  *PendingLogin     `json:"pending,omitempty"`

	Expiry time.Time `json:"expiry"`
}

// New returns an unauthenticated, never stored session.
func New(id string, expiry time.Time) Session {
	return Session{ID: id, Expiry: expiry}
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	if s.Profile != nil {
		p := *s.Profile
		s.Profile = &p
	}

	if s.Pending != nil {
		p := *s.Pending
		s.Pending = &p
	}

	if s.Extended != nil {
		s.Extended = maps.Clone(s.Extended)
	}

	return s
}

// WithPending returns a copy of s with p as its pending login.
func (s Session) WithPending(p PendingLogin) Session {
	s = s.Clone()
	s.Pending = &p

	return s
}

// WithoutPending returns a copy of s without a pending login.
func (s Session) WithoutPending() Session {
	s = s.Clone()
	s.Pending = nil

	return s
}

// Unauthenticated returns a copy of s with identity and tokens removed.
// The pending login is kept.
func (s Session) Unauthenticated() Session {
	out := New(s.ID, s.Expiry)
	out.Version = s.Version

	if s.Pending != nil {
		p := *s.Pending
		out.Pending = &p
	}

	return out
}

// ReferrerURL returns the referrer of the pending login, if any.
func (s Session) ReferrerURL() string {
	if s.Pending == nil {
		return ""
	}

	return s.Pending.ReferrerURL
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.Expiry.IsZero() && !now.Before(s.Expiry)
}
