package authz

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/stanstork/invitation-api/internal/apperr"
	"github.com/stanstork/invitation-api/internal/models"
)

// ArchetypeSource reports the archetypes a user holds through course role
// assignments.
type ArchetypeSource interface {
	CourseArchetypes(ctx context.Context, courseID, userID int64) ([]models.Archetype, error)
}

// Checker resolves capabilities from site roles and course role assignments.
type Checker struct {
	source ArchetypeSource
}

func NewChecker(source ArchetypeSource) *Checker {
	return &Checker{source: source}
}

// Can reports whether the identity on ctx holds the capability in the course.
func (c *Checker) Can(ctx context.Context, courseID int64, capability models.Capability) (bool, error) {
	roles, _ := Roles(ctx)
	if models.Allows(roles, capability) {
		return true, nil
	}
	userID, ok := UserID(ctx)
	if !ok {
		return false, nil
	}
	courseRoles, err := c.source.CourseArchetypes(ctx, courseID, userID)
	if err != nil {
		return false, err
	}
	return models.Allows(courseRoles, capability), nil
}

// Require returns ErrPermissionDenied unless the capability is held.
func (c *Checker) Require(ctx context.Context, courseID int64, capability models.Capability) error {
	ok, err := c.Can(ctx, courseID, capability)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(apperr.ErrPermissionDenied, "missing capability %s", capability)
	}
	return nil
}

// RequireCapability guards routes whose course id is the courseID path variable.
func (c *Checker) RequireCapability(capability models.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			courseID, err := strconv.ParseInt(mux.Vars(r)["courseID"], 10, 64)
			if err != nil || courseID <= 0 {
				http.Error(w, "invalid course id", http.StatusBadRequest)
				return
			}
			ok, err := c.Can(r.Context(), courseID, capability)
			if err != nil {
				http.Error(w, "failed to check permissions", http.StatusInternalServerError)
				return
			}
			if !ok {
				http.Error(w, "insufficient permissions", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
