package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the values commoncfg cannot express as defaults.
func (c *Config) Validate() error {
	var errs []error

	switch c.Directory.Backend {
	case DirectoryBackendPostgres, DirectoryBackendSQLite, DirectoryBackendStatic:
	default:
		errs = append(errs, fmt.Errorf("unknown directory backend %q", c.Directory.Backend))
	}

	switch c.Sessions.Backend {
	case SessionBackendValKey, SessionBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown session backend %q", c.Sessions.Backend))
	}

	if p := c.Login.FailureRedirectPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("login.failureRedirectPath %q must start with '/'", p))
	}

	if c.Login.ProviderHost == "" {
		errs = append(errs, errors.New("login.providerHost is required"))
	}

	for name, d := range map[string]int64{
		"sessions.duration":          int64(c.Sessions.Duration),
		"login.refreshTokenLifespan": int64(c.Login.RefreshTokenLifespan),
		"login.providerTimeout":      int64(c.Login.ProviderTimeout),
		"login.pendingLoginTTL":      int64(c.Login.PendingLoginTTL),
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	return errors.Join(errs...)
}
