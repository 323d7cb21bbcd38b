package companies

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/crewdeck/crewdeck/internal/apperrors"
	"github.com/crewdeck/crewdeck/internal/audit"
	"github.com/crewdeck/crewdeck/internal/authz"
	"github.com/crewdeck/crewdeck/internal/identity"
	"github.com/crewdeck/crewdeck/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type CompanyCreateRequest struct {
	Name        string     `json:"name"`
	Industry    string     `json:"industry"`
	PlanTier    string     `json:"plan_tier"`
	MaxSeats    int        `json:"max_seats"`
	OwnerUserID *uuid.UUID `json:"owner_user_id,omitempty"`
}

type MemberAddRequest struct {
	UserID uuid.UUID         `json:"user_id"`
	Role   authz.CompanyRole `json:"role"`
}

type SeatsUpdateRequest struct {
	MaxSeats int `json:"max_seats"`
}

type CompanyResponse struct {
	ID                 uuid.UUID          `json:"id"`
	Name               string             `json:"name"`
	Industry           string             `json:"industry"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	CreatedAt          string             `json:"created_at"`
}

type CompanyListItemResponse struct {
	CompanyResponse
	Role authz.CompanyRole `json:"role,omitempty"`
}

type SubscriptionResponse struct {
	PlanTier     string `json:"plan_tier"`
	MaxSeats     int    `json:"max_seats"`
	UsedSeats    int    `json:"used_seats"`
	BillingCycle string `json:"billing_cycle"`
	PeriodStart  string `json:"period_start"`
}

func toCompanyResponse(c Company) CompanyResponse {
	return CompanyResponse{
		ID:                 c.ID,
		Name:               c.Name,
		Industry:           c.Industry,
		SubscriptionStatus: c.SubscriptionStatus,
		CreatedAt:          c.CreatedAt.Format(time.RFC3339),
	}
}

// HandleCreate handles POST /api/v1/companies. Super admin only; the route is
// guarded by authz.RequireSuperAdmin.
func HandleCreate(service *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := identity.GetUserID(ctx)

		var req CompanyCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		if err := validation.ValidateName(req.Name); err != nil {
			apperrors.WriteBadRequest(w, r, err.Error())
			return
		}
		if req.MaxSeats <= 0 {
			apperrors.WriteBadRequest(w, r, "max_seats must be positive")
			return
		}

		company, err := service.CreateWithSubscription(ctx, CreateParams{
			Name:        req.Name,
			Industry:    req.Industry,
			PlanTier:    req.PlanTier,
			MaxSeats:    req.MaxSeats,
			CreatedBy:   userID,
			OwnerUserID: req.OwnerUserID,
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to create company")
			apperrors.WriteInternalError(w, r, "Failed to create company")
			return
		}

		if err := auditor.LogCompanyCreated(ctx, company.ID, userID, company.Name); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"company": toCompanyResponse(*company),
		})
	}
}

// HandleList handles GET /api/v1/companies. Super admins see every company;
// everyone else sees the companies they hold an active membership in, with
// their role attached.
func HandleList(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		perms, err := authz.Permissions(ctx)
		if err != nil {
			apperrors.WriteServiceUnavailable(w, r, "Permission resolution unavailable")
			return
		}

		if perms.IsSuperAdmin() {
			all, err := service.ListAll(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Failed to list companies")
				apperrors.WriteInternalError(w, r, "Failed to list companies")
				return
			}
			out := make([]CompanyListItemResponse, len(all))
			for i, c := range all {
				out[i] = CompanyListItemResponse{CompanyResponse: toCompanyResponse(c)}
			}
			apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
				"companies": out,
			})
			return
		}

		list, err := service.ListByIDs(ctx, perms.CompanyIDs())
		if err != nil {
			log.Error().Err(err).Msg("Failed to list companies")
			apperrors.WriteInternalError(w, r, "Failed to list companies")
			return
		}

		out := make([]CompanyListItemResponse, 0, len(list))
		for _, c := range list {
			role, _ := perms.CompanyRoleFor(c.ID)
			out = append(out, CompanyListItemResponse{CompanyResponse: toCompanyResponse(c), Role: role})
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"companies": out,
		})
	}
}

// HandleListMine handles GET /api/v1/me/companies. Same membership-scoped view
// for everyone; super admins resolve to the concrete list of all companies.
func HandleListMine(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		perms, err := authz.Permissions(ctx)
		if err != nil {
			apperrors.WriteServiceUnavailable(w, r, "Permission resolution unavailable")
			return
		}

		list, err := service.ListByIDs(ctx, perms.CompanyIDs())
		if err != nil {
			log.Error().Err(err).Msg("Failed to list companies")
			apperrors.WriteInternalError(w, r, "Failed to list companies")
			return
		}

		out := make([]CompanyListItemResponse, 0, len(list))
		for _, c := range list {
			role, _ := perms.CompanyRoleFor(c.ID)
			out = append(out, CompanyListItemResponse{CompanyResponse: toCompanyResponse(c), Role: role})
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"companies": out,
		})
	}
}

// HandleGet handles GET /api/v1/companies/{company_id}
func HandleGet(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		companyID, perms, ok := companyScope(w, r)
		if !ok {
			return
		}
		if !perms.CanAccessCompany(companyID) {
			// Non-members can't probe for company existence.
			apperrors.WriteNotFound(w, r, "Company not found")
			return
		}

		company, err := service.GetByID(ctx, companyID)
		if err != nil {
			if errors.Is(err, ErrCompanyNotFound) {
				apperrors.WriteNotFound(w, r, "Company not found")
				return
			}
			log.Error().Err(err).Msg("Failed to load company")
			apperrors.WriteInternalError(w, r, "Failed to load company")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"company": toCompanyResponse(*company),
		})
	}
}

// HandleListMembers handles GET /api/v1/companies/{company_id}/members
func HandleListMembers(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		companyID, perms, ok := companyScope(w, r)
		if !ok {
			return
		}
		if !perms.CanAccessCompany(companyID) {
			apperrors.WriteNotFound(w, r, "Company not found")
			return
		}

		members, err := service.ListMembers(ctx, companyID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list members")
			apperrors.WriteInternalError(w, r, "Failed to list members")
			return
		}
		if members == nil {
			members = []MemberInfo{}
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"members": members,
		})
	}
}

// HandleAddMember handles POST /api/v1/companies/{company_id}/members.
// Direct addition bypasses the invitation flow but not the seat limit.
func HandleAddMember(service *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actorID := identity.GetUserID(ctx)

		companyID, perms, ok := companyScope(w, r)
		if !ok {
			return
		}
		if !perms.CanManageCompany(companyID) {
			apperrors.WriteForbidden(w, r, "Insufficient permissions")
			return
		}

		var req MemberAddRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if req.UserID == uuid.Nil {
			apperrors.WriteBadRequest(w, r, "user_id is required")
			return
		}
		if req.Role == "" {
			req.Role = authz.CompanyRoleMember
		}

		if err := service.AddMember(ctx, companyID, req.UserID, req.Role); err != nil {
			switch {
			case errors.Is(err, ErrInvalidCompanyRole):
				apperrors.WriteBadRequest(w, r, err.Error())
			case errors.Is(err, ErrAlreadyMember):
				apperrors.WriteConflict(w, r, "User is already an active member")
			case errors.Is(err, ErrSeatLimitReached):
				apperrors.WriteError(w, r, http.StatusConflict, "seat_limit_reached", "Subscription seat limit reached")
			default:
				log.Error().Err(err).Msg("Failed to add member")
				apperrors.WriteInternalError(w, r, "Failed to add member")
			}
			return
		}

		if err := auditor.LogMemberAdded(ctx, companyID, actorID, req.UserID, string(req.Role)); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"added": true,
		})
	}
}

// HandleDeactivateMember handles DELETE /api/v1/companies/{company_id}/members/{user_id}
func HandleDeactivateMember(service *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actorID := identity.GetUserID(ctx)

		companyID, perms, ok := companyScope(w, r)
		if !ok {
			return
		}
		if !perms.CanManageCompany(companyID) {
			apperrors.WriteForbidden(w, r, "Insufficient permissions")
			return
		}

		targetID, err := uuid.Parse(chi.URLParam(r, "user_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid user ID")
			return
		}
		if targetID == actorID {
			apperrors.WriteBadRequest(w, r, "Cannot deactivate your own membership")
			return
		}

		if err := service.DeactivateMember(ctx, companyID, targetID); err != nil {
			if errors.Is(err, ErrMemberNotFound) {
				apperrors.WriteNotFound(w, r, "Member not found")
				return
			}
			log.Error().Err(err).Msg("Failed to deactivate member")
			apperrors.WriteInternalError(w, r, "Failed to deactivate member")
			return
		}

		if err := auditor.LogMemberDeactivated(ctx, companyID, actorID, targetID); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"deactivated": true,
		})
	}
}

// HandleGetSubscription handles GET /api/v1/companies/{company_id}/subscription
func HandleGetSubscription(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		companyID, perms, ok := companyScope(w, r)
		if !ok {
			return
		}
		if !perms.CanManageCompany(companyID) {
			apperrors.WriteForbidden(w, r, "Insufficient permissions")
			return
		}

		sub, err := service.GetActiveSubscription(ctx, companyID)
		if err != nil {
			if errors.Is(err, ErrSubscriptionNotFound) {
				apperrors.WriteNotFound(w, r, "No active subscription")
				return
			}
			log.Error().Err(err).Msg("Failed to load subscription")
			apperrors.WriteInternalError(w, r, "Failed to load subscription")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"subscription": SubscriptionResponse{
				PlanTier:     sub.PlanTier,
				MaxSeats:     sub.MaxSeats,
				UsedSeats:    sub.UsedSeats,
				BillingCycle: sub.BillingCycle,
				PeriodStart:  sub.PeriodStart.Format(time.RFC3339),
			},
		})
	}
}

// HandleUpdateSeats handles PUT /api/v1/companies/{company_id}/subscription
func HandleUpdateSeats(service *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actorID := identity.GetUserID(ctx)

		companyID, perms, ok := companyScope(w, r)
		if !ok {
			return
		}
		if !perms.CanManageCompany(companyID) {
			apperrors.WriteForbidden(w, r, "Insufficient permissions")
			return
		}

		var req SeatsUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if req.MaxSeats <= 0 {
			apperrors.WriteBadRequest(w, r, "max_seats must be positive")
			return
		}

		previous, err := service.GetActiveSubscription(ctx, companyID)
		if err != nil {
			if errors.Is(err, ErrSubscriptionNotFound) {
				apperrors.WriteNotFound(w, r, "No active subscription")
				return
			}
			log.Error().Err(err).Msg("Failed to load subscription")
			apperrors.WriteInternalError(w, r, "Failed to load subscription")
			return
		}

		if err := service.UpdateMaxSeats(ctx, companyID, req.MaxSeats); err != nil {
			switch {
			case errors.Is(err, ErrSubscriptionNotFound):
				apperrors.WriteNotFound(w, r, "No active subscription")
			case errors.Is(err, ErrSeatsBelowUsage):
				apperrors.WriteConflict(w, r, "Cannot reduce seats below current usage")
			default:
				log.Error().Err(err).Msg("Failed to update seats")
				apperrors.WriteInternalError(w, r, "Failed to update seats")
			}
			return
		}

		if err := auditor.LogSeatsUpdated(ctx, companyID, actorID, previous.MaxSeats, req.MaxSeats); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"updated": true,
		})
	}
}

// companyScope parses the company ID path param and resolves the caller's
// permissions. Writes the error response itself on failure.
func companyScope(w http.ResponseWriter, r *http.Request) (uuid.UUID, *authz.PermissionSet, bool) {
	companyID, err := uuid.Parse(chi.URLParam(r, "company_id"))
	if err != nil {
		apperrors.WriteBadRequest(w, r, "Invalid company ID")
		return uuid.Nil, nil, false
	}

	perms, err := authz.Permissions(r.Context())
	if err != nil {
		apperrors.WriteServiceUnavailable(w, r, "Permission resolution unavailable")
		return uuid.Nil, nil, false
	}

	return companyID, perms, true
}
