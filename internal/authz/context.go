package authz

import (
	"context"
	"net/http"

	"github.com/stanstork/invitation-api/internal/models"
)

type contextKey string

const (
	userIDKey    contextKey = "user_id"
	userRolesKey contextKey = "user_roles"
)

// WithIdentity stores the user id and site-level archetypes on the context.
// Every authenticated user holds the user archetype.
func WithIdentity(ctx context.Context, userID int64, roles []models.Archetype) context.Context {
	if userID > 0 {
		ctx = context.WithValue(ctx, userIDKey, userID)
	}
	return context.WithValue(ctx, userRolesKey, ensureUser(roles))
}

func UserID(ctx context.Context) (int64, bool) {
	uid, ok := ctx.Value(userIDKey).(int64)
	if !ok || uid <= 0 {
		return 0, false
	}
	return uid, true
}

func UserIDFromRequest(r *http.Request) (int64, bool) {
	return UserID(r.Context())
}

func Roles(ctx context.Context) ([]models.Archetype, bool) {
	roles, ok := ctx.Value(userRolesKey).([]models.Archetype)
	return roles, ok
}

func RolesFromRequest(r *http.Request) ([]models.Archetype, bool) {
	return Roles(r.Context())
}

func ensureUser(roles []models.Archetype) []models.Archetype {
	out := make([]models.Archetype, 0, len(roles)+1)
	seen := map[models.Archetype]bool{}
	for _, role := range append(roles, models.ArchetypeUser) {
		if seen[role] || !models.IsValidArchetype(role) {
			continue
		}
		seen[role] = true
		out = append(out, role)
	}
	return out
}
