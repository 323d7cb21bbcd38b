package authz

import (
	"errors"
	"net/http"

	"github.com/crewdeck/crewdeck/internal/apperrors"
	"github.com/rs/zerolog/log"
)

// HandleMyPermissions handles GET /api/v1/me/permissions
func HandleMyPermissions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		perms, err := Permissions(r.Context())
		if err != nil {
			if errors.Is(err, ErrUnknownUser) {
				apperrors.WriteUnauthorized(w, r, "Unknown user")
				return
			}
			log.Error().Err(err).Msg("Failed to resolve permissions")
			apperrors.WriteServiceUnavailable(w, r, "Failed to resolve permissions")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"permissions": perms,
		})
	}
}
