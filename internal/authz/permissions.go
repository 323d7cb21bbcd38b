package authz

import "github.com/google/uuid"

// CompanyPermission grants a role within one company.
type CompanyPermission struct {
	CompanyID uuid.UUID   `json:"company_id"`
	Role      CompanyRole `json:"role"`
}

// ProjectPermission grants a role within one project.
type ProjectPermission struct {
	ProjectID uuid.UUID   `json:"project_id"`
	CompanyID uuid.UUID   `json:"company_id"`
	Role      ProjectRole `json:"role"`
}

// PermissionSet is a user's fully resolved authorization scope: their system
// role plus every company and project they may act on. Derived checks are pure
// functions over the set; no further store access happens after resolution.
type PermissionSet struct {
	UserID     uuid.UUID           `json:"user_id"`
	SystemRole SystemRole          `json:"system_role"`
	Companies  []CompanyPermission `json:"company_permissions"`
	Projects   []ProjectPermission `json:"project_permissions"`
}

// IsSuperAdmin reports whether the user holds the platform super-admin role.
func (p *PermissionSet) IsSuperAdmin() bool {
	return p.SystemRole == SystemRoleSuperAdmin
}

// CompanyRoleFor returns the user's role in the given company, if any.
func (p *PermissionSet) CompanyRoleFor(companyID uuid.UUID) (CompanyRole, bool) {
	for _, cp := range p.Companies {
		if cp.CompanyID == companyID {
			return cp.Role, true
		}
	}
	return "", false
}

// ProjectRoleFor returns the user's role in the given project, if any.
func (p *PermissionSet) ProjectRoleFor(projectID uuid.UUID) (ProjectRole, bool) {
	for _, pp := range p.Projects {
		if pp.ProjectID == projectID {
			return pp.Role, true
		}
	}
	return "", false
}

// CanAccessCompany reports whether the user may see the company at all.
func (p *PermissionSet) CanAccessCompany(companyID uuid.UUID) bool {
	if p.IsSuperAdmin() {
		return true
	}
	_, ok := p.CompanyRoleFor(companyID)
	return ok
}

// CanManageCompany reports whether the user may manage company resources:
// super admins always, company admins and project managers within their company.
func (p *PermissionSet) CanManageCompany(companyID uuid.UUID) bool {
	if p.IsSuperAdmin() {
		return true
	}
	role, ok := p.CompanyRoleFor(companyID)
	return ok && role.CanManage()
}

// CanAccessProject reports whether the user may see the project: company-level
// access to the owning company, or a direct project membership.
func (p *PermissionSet) CanAccessProject(projectID uuid.UUID) bool {
	if p.IsSuperAdmin() {
		return true
	}
	for _, pp := range p.Projects {
		if pp.ProjectID == projectID {
			return true
		}
	}
	return false
}

// CanInviteToProject reports whether the user may invite collaborators to the
// project: company managers of the owning company, or the project's own
// project manager.
func (p *PermissionSet) CanInviteToProject(projectID uuid.UUID) bool {
	if p.IsSuperAdmin() {
		return true
	}
	for _, pp := range p.Projects {
		if pp.ProjectID == projectID {
			if pp.Role == ProjectRoleManager {
				return true
			}
			return p.CanManageCompany(pp.CompanyID)
		}
	}
	return false
}

// CompanyIDs returns the IDs of every company in the set.
func (p *PermissionSet) CompanyIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p.Companies))
	for _, cp := range p.Companies {
		ids = append(ids, cp.CompanyID)
	}
	return ids
}

// ProjectIDs returns the IDs of every project in the set.
func (p *PermissionSet) ProjectIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p.Projects))
	for _, pp := range p.Projects {
		ids = append(ids, pp.ProjectID)
	}
	return ids
}
