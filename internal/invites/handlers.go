package invites

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

type CreateRequest struct {
	Email         string             `json:"email"`
	CompanyRole   authz.CompanyRole  `json:"company_role"`
	ProjectID     *uuid.UUID         `json:"project_id,omitempty"`
	ProjectRole   *authz.ProjectRole `json:"project_role,omitempty"`
	CustomMessage string             `json:"custom_message,omitempty"`
}

type CreateResponse struct {
	ID          uuid.UUID          `json:"id"`
	Email       string             `json:"email"`
	CompanyRole authz.CompanyRole  `json:"company_role"`
	ProjectID   *uuid.UUID         `json:"project_id,omitempty"`
	ProjectRole *authz.ProjectRole `json:"project_role,omitempty"`
	Status      Status             `json:"status"`
	ExpiresAt   string             `json:"expires_at"`
	Token       string             `json:"token"`
	AcceptURL   string             `json:"accept_url"`
	EmailSent   bool               `json:"email_sent"`
}

type TokenRequest struct {
	Token string `json:"token"`
}

// canManageInvites decides whether the caller may create the requested
// invitation: company managers always; project managers only for invitations
// targeting their project with the default member company role.
func canManageInvites(perms *authz.PermissionSet, companyID uuid.UUID, req *CreateRequest) bool {
	if perms.CanManageCompany(companyID) {
		return true
	}
	if req.ProjectID == nil || req.CompanyRole != authz.CompanyRoleMember {
		return false
	}
	return perms.CanInviteToProject(*req.ProjectID)
}

// HandleCreate handles POST /api/v1/companies/{company_id}/invites
func HandleCreate(service *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := identity.GetUserID(ctx)

		companyID, err := uuid.Parse(chi.URLParam(r, "company_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid company ID")
			return
		}

		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		if req.CompanyRole == "" {
			req.CompanyRole = authz.CompanyRoleMember
		}
		if err := validation.ValidateCustomMessage(req.CustomMessage); err != nil {
			apperrors.WriteBadRequest(w, r, err.Error())
			return
		}

		perms, err := authz.Permissions(ctx)
		if err != nil {
			apperrors.WriteServiceUnavailable(w, r, "Permission resolution unavailable")
			return
		}
		if !canManageInvites(perms, companyID, &req) {
			apperrors.WriteForbidden(w, r, "Insufficient permissions")
			return
		}

		invite, token, emailSent, err := service.Create(ctx, CreateParams{
			CompanyID:     companyID,
			Email:         req.Email,
			CompanyRole:   req.CompanyRole,
			ProjectID:     req.ProjectID,
			ProjectRole:   req.ProjectRole,
			InvitedBy:     userID,
			CustomMessage: req.CustomMessage,
		})
		if err != nil {
			writeCreateError(w, r, err)
			return
		}

		if err := auditor.LogInviteCreated(ctx, companyID, userID, invite.ID, invite.ProjectID, invite.Email, string(invite.CompanyRole)); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		resp := CreateResponse{
			ID:          invite.ID,
			Email:       invite.Email,
			CompanyRole: invite.CompanyRole,
			ProjectID:   invite.ProjectID,
			ProjectRole: invite.ProjectRole,
			Status:      invite.Status,
			ExpiresAt:   invite.ExpiresAt.Format(time.RFC3339),
			Token:       token,
			AcceptURL:   service.AcceptURL(token),
			EmailSent:   emailSent,
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"invite": resp,
		})
	}
}

func writeCreateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrCompanyNotFound):
		apperrors.WriteNotFound(w, r, "Company not found")
	case errors.Is(err, ErrSeatLimitReached):
		apperrors.WriteError(w, r, http.StatusConflict, "seat_limit_reached", "Subscription seat limit reached")
	case errors.Is(err, ErrDuplicatePending):
		apperrors.WriteConflict(w, r, "A pending invitation already exists for this email")
	case errors.Is(err, ErrProjectNotInCompany),
		errors.Is(err, ErrProjectRoleRequired),
		errors.Is(err, ErrInvalidCompanyRole),
		errors.Is(err, ErrInvalidProjectRole),
		errors.Is(err, validation.ErrInvalidEmail),
		errors.Is(err, validation.ErrEmailTooLong):
		apperrors.WriteBadRequest(w, r, err.Error())
	default:
		log.Error().Err(err).Msg("Failed to create invitation")
		apperrors.WriteInternalError(w, r, "Failed to create invitation")
	}
}

// HandleList handles GET /api/v1/companies/{company_id}/invites
func HandleList(service *Service) http.HandlerFunc {
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

		items, err := service.List(ctx, companyID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list invitations")
			apperrors.WriteInternalError(w, r, "Failed to list invitations")
			return
		}
		if items == nil {
			items = []ListItem{}
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"invites": items,
		})
	}
}

// HandleResend handles POST /api/v1/companies/{company_id}/invites/{invite_id}/resend
func HandleResend(service *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := identity.GetUserID(ctx)

		companyID, err := uuid.Parse(chi.URLParam(r, "company_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid company ID")
			return
		}
		inviteID, err := uuid.Parse(chi.URLParam(r, "invite_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid invite ID")
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

		invite, token, emailSent, err := service.Resend(ctx, companyID, inviteID, userID)
		if err != nil {
			switch {
			case errors.Is(err, ErrInviteNotFound):
				apperrors.WriteNotFound(w, r, "Invitation not found")
			case errors.Is(err, ErrInvalidState):
				apperrors.WriteConflict(w, r, "Invitation has already been resolved")
			case errors.Is(err, ErrDuplicatePending):
				apperrors.WriteConflict(w, r, "A pending invitation already exists for this email")
			default:
				log.Error().Err(err).Msg("Failed to resend invitation")
				apperrors.WriteInternalError(w, r, "Failed to resend invitation")
			}
			return
		}

		if err := auditor.LogInviteResent(ctx, companyID, userID, invite.ID); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"invite": CreateResponse{
				ID:          invite.ID,
				Email:       invite.Email,
				CompanyRole: invite.CompanyRole,
				ProjectID:   invite.ProjectID,
				ProjectRole: invite.ProjectRole,
				Status:      invite.Status,
				ExpiresAt:   invite.ExpiresAt.Format(time.RFC3339),
				Token:       token,
				AcceptURL:   service.AcceptURL(token),
				EmailSent:   emailSent,
			},
		})
	}
}

// HandleCancel handles DELETE /api/v1/companies/{company_id}/invites/{invite_id}
func HandleCancel(service *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := identity.GetUserID(ctx)

		companyID, err := uuid.Parse(chi.URLParam(r, "company_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid company ID")
			return
		}
		inviteID, err := uuid.Parse(chi.URLParam(r, "invite_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid invite ID")
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

		if err := service.Cancel(ctx, companyID, inviteID, userID); err != nil {
			switch {
			case errors.Is(err, ErrInviteNotFound):
				apperrors.WriteNotFound(w, r, "Invitation not found")
			case errors.Is(err, ErrInvalidState):
				apperrors.WriteConflict(w, r, "Invitation has already been resolved")
			default:
				log.Error().Err(err).Msg("Failed to cancel invitation")
				apperrors.WriteInternalError(w, r, "Failed to cancel invitation")
			}
			return
		}

		if err := auditor.LogInviteCancelled(ctx, companyID, userID, inviteID); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"cancelled": true,
		})
	}
}

// HandleAccept handles POST /api/v1/invites/accept
func HandleAccept(service *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ident := identity.Get(ctx)

		var req TokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if req.Token == "" {
			apperrors.WriteBadRequest(w, r, "Token is required")
			return
		}

		result, err := service.Accept(ctx, req.Token, ident.UserID, ident.Email)
		if err != nil {
			writeRedeemError(w, r, err, "accept")
			return
		}

		if err := auditor.LogInviteAccepted(ctx, result.CompanyID, ident.UserID, result.InviteID, result.ProjectID); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"membership": result,
		})
	}
}

// HandleDecline handles POST /api/v1/invites/decline
func HandleDecline(service *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ident := identity.Get(ctx)

		var req TokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if req.Token == "" {
			apperrors.WriteBadRequest(w, r, "Token is required")
			return
		}

		invite, err := service.Decline(ctx, req.Token, ident.UserID, ident.Email)
		if err != nil {
			writeRedeemError(w, r, err, "decline")
			return
		}

		if err := auditor.LogInviteDeclined(ctx, invite.CompanyID, ident.UserID, invite.ID); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"declined": true,
		})
	}
}

// writeRedeemError maps accept/decline failures. Unknown and malformed tokens
// are indistinguishable to the caller. The token itself is never logged.
func writeRedeemError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, ErrInviteNotFound):
		apperrors.WriteNotFound(w, r, "Invitation not found")
	case errors.Is(err, ErrInviteExpired):
		apperrors.WriteGone(w, r, "Invitation has expired")
	case errors.Is(err, ErrInviteAlreadyResolved):
		apperrors.WriteConflict(w, r, "Invitation has already been resolved")
	case errors.Is(err, ErrInviteEmailMismatch):
		apperrors.WriteForbidden(w, r, "Invitation was issued to a different email address")
	case errors.Is(err, ErrSeatLimitReached):
		apperrors.WriteError(w, r, http.StatusConflict, "seat_limit_reached", "Subscription seat limit reached")
	default:
		log.Error().Err(err).Str("op", op).Msg("Failed to redeem invitation")
		apperrors.WriteInternalError(w, r, "Failed to process invitation")
	}
}
