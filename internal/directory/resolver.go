package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/directory-auth/internal/serviceerr"
)

// Resolver finds the registration responsible for a user identifier.
// It queries the repository on every call.
type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// DomainFromUserName returns everything from the last '@' (inclusive) of
// userName, e.g. "a@b@foo.com" gives "@foo.com".
func DomainFromUserName(userName string) (string, error) {
	userName = strings.TrimSpace(userName)
	if userName == "" {
		return "", serviceerr.ErrInvalidIdentifier
	}

	idx := strings.LastIndex(userName, "@")
	if idx < 0 {
		return "", serviceerr.ErrInvalidIdentifier
	}

	return userName[idx:], nil
}

// ResolveFromUserName returns the registration of the directory userName
// belongs to.
func (r *Resolver) ResolveFromUserName(ctx context.Context, userName string) (Registration, error) {
	domain, err := DomainFromUserName(userName)
	if err != nil {
		return Registration{}, err
	}

	reg, err := r.repo.FindByDomain(ctx, domain)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			slogctx.Info(ctx, "No directory registered for domain", "domain", domain)
			return Registration{}, serviceerr.UnknownDirectory(domain)
		}

		return Registration{}, fmt.Errorf("looking up directory %s: %w", domain, err)
	}

	return reg, nil
}

// IsRegistered reports whether the directory of userName is registered.
func (r *Resolver) IsRegistered(ctx context.Context, userName string) (bool, error) {
	domain, err := DomainFromUserName(userName)
	if err != nil {
		return false, err
	}

	ok, err := r.repo.IsRegistered(ctx, domain)
	if err != nil {
		return false, fmt.Errorf("checking directory %s: %w", domain, err)
	}

	return ok, nil
}
