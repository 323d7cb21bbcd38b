package authz

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRoles_IsValid(t *testing.T) {
	require.True(t, SystemRoleSuperAdmin.IsValid())
	require.True(t, SystemRoleProjectManager.IsValid())
	require.True(t, SystemRoleContractor.IsValid())
	require.True(t, SystemRoleHomeowner.IsValid())
	require.False(t, SystemRole("owner").IsValid())

	require.True(t, CompanyRoleAdmin.IsValid())
	require.True(t, CompanyRoleProjectManager.IsValid())
	require.True(t, CompanyRoleMember.IsValid())
	require.False(t, CompanyRole("").IsValid())

	require.True(t, ProjectRoleManager.IsValid())
	require.True(t, ProjectRoleContractor.IsValid())
	require.True(t, ProjectRoleHomeowner.IsValid())
	require.False(t, ProjectRole("viewer").IsValid())
}

func TestCompanyRole_CanManage(t *testing.T) {
	require.True(t, CompanyRoleAdmin.CanManage())
	require.True(t, CompanyRoleProjectManager.CanManage())
	require.False(t, CompanyRoleMember.CanManage())
}

func TestPermissionSet_CompanyChecks(t *testing.T) {
	companyA := uuid.New()
	companyB := uuid.New()
	stranger := uuid.New()

	set := &PermissionSet{
		UserID:     uuid.New(),
		SystemRole: SystemRoleContractor,
		Companies: []CompanyPermission{
			{CompanyID: companyA, Role: CompanyRoleAdmin},
			{CompanyID: companyB, Role: CompanyRoleMember},
		},
	}

	require.True(t, set.CanAccessCompany(companyA))
	require.True(t, set.CanAccessCompany(companyB))
	require.False(t, set.CanAccessCompany(stranger))

	require.True(t, set.CanManageCompany(companyA))
	require.False(t, set.CanManageCompany(companyB))
	require.False(t, set.CanManageCompany(stranger))

	role, ok := set.CompanyRoleFor(companyB)
	require.True(t, ok)
	require.Equal(t, CompanyRoleMember, role)

	_, ok = set.CompanyRoleFor(stranger)
	require.False(t, ok)
}

func TestPermissionSet_SuperAdminBypassesMembership(t *testing.T) {
	set := &PermissionSet{
		UserID:     uuid.New(),
		SystemRole: SystemRoleSuperAdmin,
	}

	anyCompany := uuid.New()
	anyProject := uuid.New()

	require.True(t, set.CanAccessCompany(anyCompany))
	require.True(t, set.CanManageCompany(anyCompany))
	require.True(t, set.CanAccessProject(anyProject))
	require.True(t, set.CanInviteToProject(anyProject))
}

func TestPermissionSet_ProjectChecks(t *testing.T) {
	company := uuid.New()
	managedProject := uuid.New()
	workedProject := uuid.New()
	otherProject := uuid.New()

	set := &PermissionSet{
		UserID:     uuid.New(),
		SystemRole: SystemRoleContractor,
		Companies: []CompanyPermission{
			{CompanyID: company, Role: CompanyRoleMember},
		},
		Projects: []ProjectPermission{
			{ProjectID: managedProject, CompanyID: company, Role: ProjectRoleManager},
			{ProjectID: workedProject, CompanyID: company, Role: ProjectRoleContractor},
		},
	}

	require.True(t, set.CanAccessProject(managedProject))
	require.True(t, set.CanAccessProject(workedProject))
	require.False(t, set.CanAccessProject(otherProject))

	// Project managers invite; plain contractors in a member-role company don't.
	require.True(t, set.CanInviteToProject(managedProject))
	require.False(t, set.CanInviteToProject(workedProject))
	require.False(t, set.CanInviteToProject(otherProject))
}

func TestPermissionSet_CompanyManagerInvitesViaProjectRow(t *testing.T) {
	company := uuid.New()
	project := uuid.New()

	// A company admin carries a contractor-level project row; the company
	// standing still wins for invitation rights.
	set := &PermissionSet{
		UserID:     uuid.New(),
		SystemRole: SystemRoleProjectManager,
		Companies: []CompanyPermission{
			{CompanyID: company, Role: CompanyRoleAdmin},
		},
		Projects: []ProjectPermission{
			{ProjectID: project, CompanyID: company, Role: ProjectRoleContractor},
		},
	}

	require.True(t, set.CanInviteToProject(project))
}

func TestPermissionSet_DeactivatedUserHasNothing(t *testing.T) {
	set := &PermissionSet{UserID: uuid.New()}

	require.False(t, set.IsSuperAdmin())
	require.False(t, set.CanAccessCompany(uuid.New()))
	require.False(t, set.CanManageCompany(uuid.New()))
	require.False(t, set.CanAccessProject(uuid.New()))
	require.False(t, set.CanInviteToProject(uuid.New()))
	require.Empty(t, set.CompanyIDs())
	require.Empty(t, set.ProjectIDs())
}

func TestValidProjectPermissions_DropsDanglingMemberships(t *testing.T) {
	activeCompany := uuid.New()
	lapsedCompany := uuid.New()

	keep := ProjectPermission{ProjectID: uuid.New(), CompanyID: activeCompany, Role: ProjectRoleContractor}
	drop := ProjectPermission{ProjectID: uuid.New(), CompanyID: lapsedCompany, Role: ProjectRoleManager}

	valid := ValidProjectPermissions(
		[]CompanyPermission{{CompanyID: activeCompany, Role: CompanyRoleMember}},
		[]ProjectPermission{keep, drop},
	)

	require.Equal(t, []ProjectPermission{keep}, valid)
}

func TestValidProjectPermissions_NoCompanies(t *testing.T) {
	pp := ProjectPermission{ProjectID: uuid.New(), CompanyID: uuid.New(), Role: ProjectRoleHomeowner}
	require.Empty(t, ValidProjectPermissions(nil, []ProjectPermission{pp}))
}
