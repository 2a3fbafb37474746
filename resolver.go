package auth

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// PrincipalLookup reads principals including soft deleted rows
type PrincipalLookup interface {
	GetWithDeleted(ctx context.Context, id uuid.UUID) (*Principal, error)
}

// ActorResolver loads the live principal behind a token subject
type ActorResolver struct {
	store PrincipalLookup
}

// NewActorResolver creates a resolver
func NewActorResolver(store PrincipalLookup) *ActorResolver {
	return &ActorResolver{store: store}
}

// Resolve returns the current principal record for principalID. Deleted
// principals fail with ActorDeleted and unknown ones with ActorNotFound.
// Suspension is left to the caller.
func (r *ActorResolver) Resolve(ctx context.Context, principalID string) (*Principal, error) {
	id, err := uuid.Parse(principalID)
	if err != nil {
		return nil, ErrActorNotFound
	}

	principal, err := r.store.GetWithDeleted(ctx, id)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrActorNotFound
		}
		return nil, storeError(err, "actor.resolve")
	}

	if principal == nil {
		return nil, ErrActorNotFound
	}

	if principal.IsDeleted() {
		return nil, ErrActorDeleted
	}

	return principal, nil
}
