package authz

import (
	"context"
	"net/http"
	"sync"

	"github.com/crewdeck/crewdeck/internal/apperrors"
	"github.com/crewdeck/crewdeck/internal/identity"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type contextKey string

const permissionsContextKey contextKey = "permissions"

// permissionsHolder memoizes one resolution per request. Permissions are never
// cached across requests, so membership changes take effect on the next call.
type permissionsHolder struct {
	resolver *Resolver
	userID   uuid.UUID

	once sync.Once
	set  *PermissionSet
	err  error
}

func (h *permissionsHolder) get(ctx context.Context) (*PermissionSet, error) {
	h.once.Do(func() {
		h.set, h.err = h.resolver.Resolve(ctx, h.userID)
	})
	return h.set, h.err
}

// Gateway injects a lazy, request-scoped permission resolution into the
// context. Handlers read it through Permissions; the first read resolves,
// later reads reuse the same set.
func Gateway(resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := identity.GetUserID(r.Context())
			if userID == uuid.Nil {
				next.ServeHTTP(w, r)
				return
			}

			holder := &permissionsHolder{resolver: resolver, userID: userID}
			ctx := context.WithValue(r.Context(), permissionsContextKey, holder)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Permissions returns the caller's resolved permission set, resolving on first
// use. Returns ErrUnknownUser if the authenticated identity has no user row.
func Permissions(ctx context.Context) (*PermissionSet, error) {
	holder, ok := ctx.Value(permissionsContextKey).(*permissionsHolder)
	if !ok {
		return nil, ErrUnknownUser
	}
	return holder.get(ctx)
}

// WithPermissions returns a context carrying a pre-resolved set. Used by tests.
func WithPermissions(ctx context.Context, set *PermissionSet) context.Context {
	holder := &permissionsHolder{}
	holder.once.Do(func() {})
	holder.set = set
	return context.WithValue(ctx, permissionsContextKey, holder)
}

// RequireSuperAdmin is middleware that requires the platform super-admin role.
func RequireSuperAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		perms, err := Permissions(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to resolve permissions")
			apperrors.WriteUnauthorized(w, r, "Unauthorized")
			return
		}
		if !perms.IsSuperAdmin() {
			log.Warn().
				Str("user_id", perms.UserID.String()).
				Str("system_role", string(perms.SystemRole)).
				Msg("RBAC: super admin required")
			apperrors.WriteForbidden(w, r, "Insufficient permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}
