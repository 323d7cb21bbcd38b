package audit

import (
	"net/http"
	"strconv"

	"github.com/crewdeck/crewdeck/internal/apperrors"
	"github.com/crewdeck/crewdeck/internal/authz"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// HandleListByCompany handles GET /api/v1/companies/{company_id}/audit
func HandleListByCompany(reader *Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		companyID, err := uuid.Parse(chi.URLParam(r, "company_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid company ID")
			return
		}

		perms, err := authz.Permissions(ctx)
		if err != nil {
			apperrors.WriteServiceUnavailable(w, r, "Permission resolution unavailable")
			return
		}
		if !perms.CanManageCompany(companyID) {
			apperrors.WriteForbidden(w, r, "Insufficient permissions")
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, _ = strconv.Atoi(raw)
		}

		items, err := reader.ListByCompany(ctx, companyID, limit)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list audit log")
			apperrors.WriteInternalError(w, r, "Failed to list audit log")
			return
		}
		if items == nil {
			items = []ListItem{}
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"events": items,
		})
	}
}
