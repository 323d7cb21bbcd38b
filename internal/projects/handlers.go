package projects

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

type ProjectCreateRequest struct {
	Name           string     `json:"name"`
	Address        string     `json:"address"`
	HomeownerName  string     `json:"homeowner_name"`
	HomeownerEmail string     `json:"homeowner_email"`
	HomeownerPhone string     `json:"homeowner_phone"`
	BudgetCents    int64      `json:"budget_cents"`
	StartsOn       *time.Time `json:"starts_on,omitempty"`
	EndsOn         *time.Time `json:"ends_on,omitempty"`
}

type StatusUpdateRequest struct {
	Status Status `json:"status"`
}

type MemberAssignRequest struct {
	UserID uuid.UUID         `json:"user_id"`
	Role   authz.ProjectRole `json:"role"`
}

type ProjectResponse struct {
	ID             uuid.UUID  `json:"id"`
	CompanyID      uuid.UUID  `json:"company_id"`
	Name           string     `json:"name"`
	Address        string     `json:"address"`
	Status         Status     `json:"status"`
	HomeownerName  string     `json:"homeowner_name"`
	HomeownerEmail string     `json:"homeowner_email"`
	HomeownerPhone string     `json:"homeowner_phone"`
	BudgetCents    int64      `json:"budget_cents"`
	StartsOn       *time.Time `json:"starts_on,omitempty"`
	EndsOn         *time.Time `json:"ends_on,omitempty"`
	CreatedAt      string     `json:"created_at"`
}

func toProjectResponse(p Project) ProjectResponse {
	return ProjectResponse{
		ID:             p.ID,
		CompanyID:      p.CompanyID,
		Name:           p.Name,
		Address:        p.Address,
		Status:         p.Status,
		HomeownerName:  p.HomeownerName,
		HomeownerEmail: p.HomeownerEmail,
		HomeownerPhone: p.HomeownerPhone,
		BudgetCents:    p.BudgetCents,
		StartsOn:       p.StartsOn,
		EndsOn:         p.EndsOn,
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
	}
}

// HandleCreate handles POST /api/v1/companies/{company_id}/projects
func HandleCreate(service *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := identity.GetUserID(ctx)

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

		var req ProjectCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if err := validation.ValidateName(req.Name); err != nil {
			apperrors.WriteBadRequest(w, r, err.Error())
			return
		}

		project, err := service.Create(ctx, CreateParams{
			CompanyID:      companyID,
			Name:           req.Name,
			Address:        req.Address,
			HomeownerName:  req.HomeownerName,
			HomeownerEmail: req.HomeownerEmail,
			HomeownerPhone: req.HomeownerPhone,
			BudgetCents:    req.BudgetCents,
			StartsOn:       req.StartsOn,
			EndsOn:         req.EndsOn,
			CreatedBy:      userID,
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to create project")
			apperrors.WriteInternalError(w, r, "Failed to create project")
			return
		}

		if err := auditor.LogProjectCreated(ctx, companyID, project.ID, userID, project.Name); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"project": toProjectResponse(*project),
		})
	}
}

// HandleListByCompany handles GET /api/v1/companies/{company_id}/projects.
// Company managers see every project; other members see only the projects
// they hold a membership in.
func HandleListByCompany(service *Service) http.HandlerFunc {
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
		if !perms.CanAccessCompany(companyID) {
			apperrors.WriteNotFound(w, r, "Company not found")
			return
		}

		var list []Project
		if perms.CanManageCompany(companyID) {
			list, err = service.ListByCompany(ctx, companyID)
		} else {
			list, err = service.ListByIDs(ctx, perms.ProjectIDs())
		}
		if err != nil {
			log.Error().Err(err).Msg("Failed to list projects")
			apperrors.WriteInternalError(w, r, "Failed to list projects")
			return
		}

		// Membership-scoped listings may span companies; keep only this one.
		out := make([]ProjectResponse, 0, len(list))
		for _, p := range list {
			if p.CompanyID == companyID {
				out = append(out, toProjectResponse(p))
			}
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"projects": out,
		})
	}
}

// HandleListMine handles GET /api/v1/me/projects: every project the caller
// holds a permission on, explicit or derived.
func HandleListMine(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		perms, err := authz.Permissions(ctx)
		if err != nil {
			apperrors.WriteServiceUnavailable(w, r, "Permission resolution unavailable")
			return
		}

		list, err := service.ListByIDs(ctx, perms.ProjectIDs())
		if err != nil {
			log.Error().Err(err).Msg("Failed to list projects")
			apperrors.WriteInternalError(w, r, "Failed to list projects")
			return
		}

		out := make([]ProjectResponse, 0, len(list))
		for _, p := range list {
			out = append(out, toProjectResponse(p))
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"projects": out,
		})
	}
}

// HandleGet handles GET /api/v1/projects/{project_id}
func HandleGet(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		projectID, perms, ok := projectScope(w, r)
		if !ok {
			return
		}
		if !perms.CanAccessProject(projectID) {
			apperrors.WriteNotFound(w, r, "Project not found")
			return
		}

		project, err := service.GetByID(ctx, projectID)
		if err != nil {
			if errors.Is(err, ErrProjectNotFound) {
				apperrors.WriteNotFound(w, r, "Project not found")
				return
			}
			log.Error().Err(err).Msg("Failed to load project")
			apperrors.WriteInternalError(w, r, "Failed to load project")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"project": toProjectResponse(*project),
		})
	}
}

// HandleUpdateStatus handles PUT /api/v1/projects/{project_id}/status
func HandleUpdateStatus(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		projectID, perms, ok := projectScope(w, r)
		if !ok {
			return
		}
		if !perms.CanInviteToProject(projectID) {
			// Status changes need the same standing as collaborator management.
			apperrors.WriteForbidden(w, r, "Insufficient permissions")
			return
		}

		var req StatusUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		if err := service.UpdateStatus(ctx, projectID, req.Status); err != nil {
			switch {
			case errors.Is(err, ErrInvalidStatus):
				apperrors.WriteBadRequest(w, r, err.Error())
			case errors.Is(err, ErrProjectNotFound):
				apperrors.WriteNotFound(w, r, "Project not found")
			default:
				log.Error().Err(err).Msg("Failed to update project status")
				apperrors.WriteInternalError(w, r, "Failed to update project status")
			}
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"updated": true,
		})
	}
}

// HandleAssignMember handles POST /api/v1/projects/{project_id}/members.
// Direct assignment is for users who already belong to the owning company;
// outsiders go through the invitation flow.
func HandleAssignMember(service *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actorID := identity.GetUserID(ctx)

		projectID, perms, ok := projectScope(w, r)
		if !ok {
			return
		}
		if !perms.CanInviteToProject(projectID) {
			apperrors.WriteForbidden(w, r, "Insufficient permissions")
			return
		}

		var req MemberAssignRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if req.UserID == uuid.Nil {
			apperrors.WriteBadRequest(w, r, "user_id is required")
			return
		}

		project, err := service.GetByID(ctx, projectID)
		if err != nil {
			if errors.Is(err, ErrProjectNotFound) {
				apperrors.WriteNotFound(w, r, "Project not found")
				return
			}
			log.Error().Err(err).Msg("Failed to load project")
			apperrors.WriteInternalError(w, r, "Failed to load project")
			return
		}

		if err := service.AssignMember(ctx, projectID, req.UserID, req.Role); err != nil {
			switch {
			case errors.Is(err, ErrInvalidProjectRole):
				apperrors.WriteBadRequest(w, r, err.Error())
			case errors.Is(err, ErrNotCompanyMember):
				apperrors.WriteConflict(w, r, "User is not an active member of the owning company")
			default:
				log.Error().Err(err).Msg("Failed to assign project member")
				apperrors.WriteInternalError(w, r, "Failed to assign project member")
			}
			return
		}

		if err := auditor.LogProjectMemberAssigned(ctx, project.CompanyID, projectID, actorID, req.UserID, string(req.Role)); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"assigned": true,
		})
	}
}

// HandleListMembers handles GET /api/v1/projects/{project_id}/members
func HandleListMembers(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		projectID, perms, ok := projectScope(w, r)
		if !ok {
			return
		}
		if !perms.CanAccessProject(projectID) {
			apperrors.WriteNotFound(w, r, "Project not found")
			return
		}

		members, err := service.ListMembers(ctx, projectID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list project members")
			apperrors.WriteInternalError(w, r, "Failed to list project members")
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

func projectScope(w http.ResponseWriter, r *http.Request) (uuid.UUID, *authz.PermissionSet, bool) {
	projectID, err := uuid.Parse(chi.URLParam(r, "project_id"))
	if err != nil {
		apperrors.WriteBadRequest(w, r, "Invalid project ID")
		return uuid.Nil, nil, false
	}

	perms, err := authz.Permissions(r.Context())
	if err != nil {
		apperrors.WriteServiceUnavailable(w, r, "Permission resolution unavailable")
		return uuid.Nil, nil, false
	}

	return projectID, perms, true
}
