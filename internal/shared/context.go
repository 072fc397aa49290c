package shared

import (
	"context"

	"github.com/google/uuid"
)

// Actor identifies the authenticated caller for a request. It is populated
// by the session middleware at the edge; the core only consumes it.
type Actor struct {
	TenantID    uuid.UUID
	UserID      uuid.UUID
	Permissions []string
}

// HasPermission reports whether the actor carries the named permission.
func (a *Actor) HasPermission(name string) bool {
	if a == nil {
		return false
	}
	for _, p := range a.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorContextKey{}).(*Actor)
	return actor
}
