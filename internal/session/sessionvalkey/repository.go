// Package sessionvalkey stores sessions in valkey.
package sessionvalkey

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/otel"

	"github.com/openkcm/directory-auth/internal/serviceerr"
	"github.com/openkcm/directory-auth/internal/session"
)

const objectTypeSession = "session"

type Repository struct {
	store *store
}

var _ = session.Repository(&Repository{})

func NewRepository(valkeyClient valkey.Client, prefix string) *Repository {
	return &Repository{
		store: newStore(valkeyClient, prefix),
	}
}

func (r *Repository) Load(ctx context.Context, id string) (session.Session, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "load_session_valkey")
	defer span.End()

	var s session.Session
	found, err := r.store.get(ctx, objectTypeSession, id, &s)
	if err != nil {
		span.RecordError(err)
		return session.Session{}, fmt.Errorf("getting session: %w", err)
	}

	if !found {
		return session.Session{}, serviceerr.ErrNotFound
	}

	return s, nil
}

func (r *Repository) Store(ctx context.Context, s session.Session) (session.Session, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "store_session_valkey")
	defer span.End()

	ttl := time.Until(s.Expiry)
	if ttl < time.Millisecond {
		return session.Session{}, serviceerr.Validation("session %s already expired", s.ID)
	}

	next := s.Clone()
	next.Version = s.Version + 1

	swapped, err := r.store.casSet(ctx, objectTypeSession, s.ID, s.Version, next, ttl)
	if err != nil {
		span.RecordError(err)
		return session.Session{}, fmt.Errorf("storing session: %w", err)
	}

	if !swapped {
		return session.Session{}, serviceerr.Conflict("session %s was modified concurrently", s.ID)
	}

	return next, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "delete_session_valkey")
	defer span.End()

	if err := r.store.destroy(ctx, objectTypeSession, id); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting session: %w", err)
	}

	return nil
}
