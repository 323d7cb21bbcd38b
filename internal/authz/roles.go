package authz

// SystemRole is a user's platform-wide role, independent of any company.
type SystemRole string

const (
	SystemRoleSuperAdmin     SystemRole = "super_admin"
	SystemRoleProjectManager SystemRole = "project_manager"
	SystemRoleContractor     SystemRole = "contractor"
	SystemRoleHomeowner      SystemRole = "homeowner"
)

// IsValid reports whether the role is one of the known system roles.
func (r SystemRole) IsValid() bool {
	switch r {
	case SystemRoleSuperAdmin, SystemRoleProjectManager, SystemRoleContractor, SystemRoleHomeowner:
		return true
	}
	return false
}

// CompanyRole is a user's role within one company.
type CompanyRole string

const (
	CompanyRoleAdmin          CompanyRole = "admin"
	CompanyRoleProjectManager CompanyRole = "project_manager"
	CompanyRoleMember         CompanyRole = "member"
)

// IsValid reports whether the role is one of the known company roles.
func (r CompanyRole) IsValid() bool {
	switch r {
	case CompanyRoleAdmin, CompanyRoleProjectManager, CompanyRoleMember:
		return true
	}
	return false
}

// CanManage returns true if the role may manage company resources
// (members, invitations, projects).
func (r CompanyRole) CanManage() bool {
	return r == CompanyRoleAdmin || r == CompanyRoleProjectManager
}

// ProjectRole is a user's role within one project.
type ProjectRole string

const (
	ProjectRoleManager    ProjectRole = "project_manager"
	ProjectRoleContractor ProjectRole = "contractor"
	ProjectRoleHomeowner  ProjectRole = "homeowner"
)

// IsValid reports whether the role is one of the known project roles.
func (r ProjectRole) IsValid() bool {
	switch r {
	case ProjectRoleManager, ProjectRoleContractor, ProjectRoleHomeowner:
		return true
	}
	return false
}
