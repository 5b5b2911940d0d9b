package directory

import (
	"log/slog"
	"strings"
	"time"

	"github.com/openkcm/directory-auth/internal/serviceerr"
)

// Column limits of the registration storage.
const (
	MaxClientIDLen        = 128
	MaxClientSecretLen    = 128
	MaxTenantIDLen        = 40
	MaxDirectoryDomainLen = 128
	MaxRefIDStrLen        = 128
)

// Registration is the application registration of one tenant directory.
type Registration struct {
	ID              int64
	ClientID        string
	ClientSecret    string
	TenantID        string
	DirectoryDomain string // lowercase, starts with '@'
	DomainHint      string // DirectoryDomain without the '@'
	RefID           *int64
	RefIDStr        *string
	CreatedAt       time.Time
}

// SetDirectoryDomain normalises and assigns the directory domain and the
// derived domain hint. An empty domain clears both.
func (r *Registration) SetDirectoryDomain(domain string) error {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		r.DirectoryDomain = ""
		r.DomainHint = ""
		return nil
	}

	if !strings.HasPrefix(domain, "@") {
		return serviceerr.Validation("directory domain %q must start with '@'", domain)
	}

	r.DirectoryDomain = NormalizeDomain(domain)
	r.DomainHint = strings.TrimPrefix(r.DirectoryDomain, "@")

	return nil
}

// Validate checks that every required field is set and fits its column.
func (r Registration) Validate() error {
	required := []struct {
		name, value string
		max         int
	}{
		{"client id", r.ClientID, MaxClientIDLen},
		{"client secret", r.ClientSecret, MaxClientSecretLen},
		{"tenant id", r.TenantID, MaxTenantIDLen},
		{"directory domain", r.DirectoryDomain, MaxDirectoryDomainLen},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return serviceerr.Validation("%s is required", f.name)
		}

		if len(f.value) > f.max {
			return serviceerr.Validation("%s exceeds %d characters", f.name, f.max)
		}
	}

	if !strings.HasPrefix(r.DirectoryDomain, "@") {
		return serviceerr.Validation("directory domain %q must start with '@'", r.DirectoryDomain)
	}

	if r.RefIDStr != nil && len(*r.RefIDStr) > MaxRefIDStrLen {
		return serviceerr.Validation("ref id str exceeds %d characters", MaxRefIDStrLen)
	}

	return nil
}

// Prepare validates reg and returns the copy to be written by a store.
func Prepare(reg Registration) (Registration, error) {
	reg.ClientID = strings.TrimSpace(reg.ClientID)
	reg.TenantID = strings.TrimSpace(reg.TenantID)

	if err := reg.SetDirectoryDomain(reg.DirectoryDomain); err != nil {
		return Registration{}, err
	}

	if err := reg.Validate(); err != nil {
		return Registration{}, err
	}

	return reg, nil
}

// LogValue keeps the client secret out of logs.
func (r Registration) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("id", r.ID),
		slog.String("client_id", r.ClientID),
		slog.String("tenant_id", r.TenantID),
		slog.String("directory_domain", r.DirectoryDomain),
	)
}

// NormalizeDomain returns the lookup form of a domain.
func NormalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}
