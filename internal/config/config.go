// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP  HTTPServer  `yaml:"http"`
	Admin AdminServer `yaml:"admin"`

	Database  Database  `yaml:"database"`
	ValKey    ValKey    `yaml:"valkey"`
	Directory Directory `yaml:"directory"`
	Sessions  Sessions  `yaml:"sessions"`
	Login     Login     `yaml:"login"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
	// TrustForwardedHeaders makes the request base URL follow
	// X-Forwarded-Proto and X-Forwarded-Host. Enable it only behind a proxy
	// that overwrites these headers.
	TrustForwardedHeaders bool `yaml:"trustForwardedHeaders"`
}

// AdminServer hosts the registration API. It must not be exposed publicly.
// A nil Enabled means enabled.
type AdminServer struct {
	Enabled         *bool         `yaml:"enabled"`
	Address         string        `yaml:"address" default:":8081"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

type Database struct {
	Name     string              `yaml:"name"`
	Port     string              `yaml:"port"`
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
}

type ValKey struct {
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
	Prefix   string              `yaml:"prefix" default:"directory-auth"`
}

type DirectoryBackend string

const (
	DirectoryBackendPostgres DirectoryBackend = "postgres"
	DirectoryBackendSQLite   DirectoryBackend = "sqlite"
	DirectoryBackendStatic   DirectoryBackend = "static"
)

type Directory struct {
	Backend DirectoryBackend `yaml:"backend" default:"postgres"`
	// SQLiteDSN is used by the sqlite backend.
	SQLiteDSN string `yaml:"sqliteDSN" default:"file:directory.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"`
	// InitSchema creates the registration table on start when missing.
	InitSchema bool `yaml:"initSchema" default:"false"`
	// SeedFile is an optional YAML file of registrations applied on start.
	SeedFile string             `yaml:"seedFile"`
	Static   StaticRegistration `yaml:"static"`
}

// StaticRegistration is the single registration of the static backend.
type StaticRegistration struct {
	ClientID        string              `yaml:"clientId"`
	ClientSecret    commoncfg.SourceRef `yaml:"clientSecret"`
	TenantID        string              `yaml:"tenantId"`
	DirectoryDomain string              `yaml:"directoryDomain"`
}

type SessionBackend string

const (
	SessionBackendValKey SessionBackend = "valkey"
	SessionBackendMemory SessionBackend = "memory"
)

type Sessions struct {
	Backend  SessionBackend `yaml:"backend" default:"valkey"`
	Duration time.Duration  `yaml:"duration" default:"12h"`
	Cookie   CookieTemplate `yaml:"cookie"`
}

type CookieSameSite string

const (
	CookieSameSiteNone   CookieSameSite = "None"
	CookieSameSiteLax    CookieSameSite = "Lax"
	CookieSameSiteStrict CookieSameSite = "Strict"
)

// CookieTemplate describes the session cookie. A nil Secure or HTTPOnly
// means true.
type CookieTemplate struct {
	Name     string         `yaml:"name" default:"directory-auth-session"`
	MaxAge   int            `yaml:"maxAge"`
	Path     string         `yaml:"path" default:"/"`
	Domain   string         `yaml:"domain"`
	Secure   *bool          `yaml:"secure"`
	HTTPOnly *bool          `yaml:"httpOnly"`
	SameSite CookieSameSite `yaml:"sameSite" default:"Lax"`
}

type Login struct {
	// ProviderScheme is "https" in production; tests point it to "http".
	ProviderScheme string `yaml:"providerScheme" default:"https"`
	ProviderHost   string `yaml:"providerHost" default:"login.microsoftonline.com"`
	GraphBaseURL   string `yaml:"graphBaseURL" default:"https://graph.microsoft.com"`
	// CallbackURL is the redirect_uri sent to the provider. When empty it is
	// derived from the incoming request.
	CallbackURL string `yaml:"callbackURL"`
	// FailureRedirectPath must start with '/'. It is resolved against the
	// request base URL.
	FailureRedirectPath  string        `yaml:"failureRedirectPath"`
	Scopes               []string      `yaml:"scopes"`
	RefreshTokenLifespan time.Duration `yaml:"refreshTokenLifespan" default:"333h36m"`
	ExtendedClaims       bool          `yaml:"extendedClaims" default:"false"`
	ProfileLookup        *bool         `yaml:"profileLookup"` // nil means true
	ProviderTimeout      time.Duration `yaml:"providerTimeout" default:"10s"`
	PendingLoginTTL      time.Duration `yaml:"pendingLoginTTL" default:"10m"`
	SigningAlgorithms    []string      `yaml:"signingAlgorithms"`
	// AllowedRedirectHosts are the hosts besides the request's own that an
	// absolute redirect target may point to.
	AllowedRedirectHosts []string `yaml:"allowedRedirectHosts"`
}

// Boolean toggles that default to true are pointers: the defaults pass of
// commoncfg runs after the file is decoded and cannot tell an explicit false
// from a missing key.

func (a AdminServer) IsEnabled() bool { return boolOr(a.Enabled, true) }

func (ct CookieTemplate) IsSecure() bool { return boolOr(ct.Secure, true) }

func (ct CookieTemplate) IsHTTPOnly() bool { return boolOr(ct.HTTPOnly, true) }

func (l Login) ProfileLookupEnabled() bool { return boolOr(l.ProfileLookup, true) }

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
