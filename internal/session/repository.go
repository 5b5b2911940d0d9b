package session

import "context"

// Repository persists sessions.
//
// Store is a compare-and-set: the stored version must equal s.Version (0 for
// a new session), otherwise it fails with serviceerr.ErrConflict. The stored
// copy, with the incremented version, is returned.
type Repository interface {
	Load(ctx context.Context, id string) (Session, error)
	Store(ctx context.Context, s Session) (Session, error)
	Delete(ctx context.Context, id string) error
}
