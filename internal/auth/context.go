package auth

import (
	"context"

	"github.com/rpattn/lexsign/internal/domain"

	"github.com/google/uuid"
)

type contextKey string

const actorKey contextKey = "actor"

// ContextWithActor returns a new context that carries the authenticated actor.
func ContextWithActor(ctx context.Context, actor domain.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext retrieves the authenticated actor from the context, if any.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	if ctx == nil {
		return domain.Actor{}, false
	}
	value := ctx.Value(actorKey)
	if value == nil {
		return domain.Actor{}, false
	}
	actor, ok := value.(domain.Actor)
	if !ok {
		return domain.Actor{}, false
	}
	if actor.ID == uuid.Nil {
		return domain.Actor{}, false
	}
	return actor, true
}

// RequireActor returns the authenticated actor or an authorization error.
func RequireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, domain.Reject(domain.ErrAuthorization, "authentication required")
	}
	return actor, nil
}
