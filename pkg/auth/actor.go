package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/santetogo/records-api/internal/model"
)

// Actor is the authenticated user behind the current request.
type Actor struct {
	UserID uuid.UUID
	Role   model.Role
}

type actorKey struct{}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the request actor, if one was attached.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}
