package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ErrUnknownUser is returned when permissions are resolved for a user that
// does not exist in the store.
var ErrUnknownUser = errors.New("unknown user")

// Resolver computes a user's full permission set from the store.
type Resolver struct {
	pool *pgxpool.Pool
}

// NewResolver creates a new permission resolver
func NewResolver(pool *pgxpool.Pool) *Resolver {
	return &Resolver{pool: pool}
}

// Resolve computes the permission set for a user.
//
// Super admins short-circuit to the concrete list of every company and project
// so downstream code has no special-case branch. Everyone else gets their
// active company memberships, their project memberships (filtered by the
// company-membership validity rule), and a derived manager grant on every
// project of a company they manage.
//
// The whole resolution runs on a single repeatable-read snapshot. A
// connectivity-class store failure is retried once; resolution is a pure read.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID) (*PermissionSet, error) {
	set, err := r.resolveOnce(ctx, userID)
	if err != nil && retryable(err) {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("Permission resolution failed, retrying once")
		set, err = r.resolveOnce(ctx, userID)
	}
	return set, err
}

// retryable reports whether a resolution failure could plausibly succeed on a
// second attempt. Connection loss, timeouts and snapshot conflicts qualify;
// scan and decode failures are deterministic and are not worth repeating.
func retryable(err error) bool {
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exceptions; 40001/40P01 are serialization
		// failures and deadlocks on the repeatable-read snapshot.
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func (r *Resolver) resolveOnce(ctx context.Context, userID uuid.UUID) (*PermissionSet, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var systemRole SystemRole
	var isActive bool
	err = tx.QueryRow(ctx, `
		SELECT system_role, is_active FROM users WHERE id = $1
	`, userID).Scan(&systemRole, &isActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnknownUser
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	// Deactivated users keep their rows for history but resolve to nothing.
	if !isActive {
		log.Debug().Str("user_id", userID.String()).Msg("Resolved permissions for deactivated user")
		return &PermissionSet{UserID: userID}, nil
	}

	set := &PermissionSet{UserID: userID, SystemRole: systemRole}

	if systemRole == SystemRoleSuperAdmin {
		if err := r.resolveSuperAdmin(ctx, tx, set); err != nil {
			return nil, err
		}
		return set, tx.Commit(ctx)
	}

	companyRows, err := tx.Query(ctx, `
		SELECT company_id, company_role
		FROM company_memberships
		WHERE user_id = $1 AND is_active
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load company memberships: %w", err)
	}
	defer companyRows.Close()

	for companyRows.Next() {
		var cp CompanyPermission
		if err := companyRows.Scan(&cp.CompanyID, &cp.Role); err != nil {
			return nil, fmt.Errorf("failed to scan company membership: %w", err)
		}
		set.Companies = append(set.Companies, cp)
	}
	if err := companyRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating company memberships: %w", err)
	}
	companyRows.Close()

	projectRows, err := tx.Query(ctx, `
		SELECT pm.project_id, p.company_id, pm.project_role
		FROM project_memberships pm
		INNER JOIN projects p ON p.id = pm.project_id
		WHERE pm.user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project memberships: %w", err)
	}
	defer projectRows.Close()

	var projectMemberships []ProjectPermission
	for projectRows.Next() {
		var pp ProjectPermission
		if err := projectRows.Scan(&pp.ProjectID, &pp.CompanyID, &pp.Role); err != nil {
			return nil, fmt.Errorf("failed to scan project membership: %w", err)
		}
		projectMemberships = append(projectMemberships, pp)
	}
	if err := projectRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project memberships: %w", err)
	}
	projectRows.Close()

	set.Projects = ValidProjectPermissions(set.Companies, projectMemberships)

	if err := r.resolveManagedProjects(ctx, tx, set); err != nil {
		return nil, err
	}

	return set, tx.Commit(ctx)
}

// ValidProjectPermissions filters project memberships down to those backed by
// an active company membership in the owning company. A project membership
// that outlives its company membership grants no access.
func ValidProjectPermissions(companies []CompanyPermission, projects []ProjectPermission) []ProjectPermission {
	active := make(map[uuid.UUID]bool, len(companies))
	for _, cp := range companies {
		active[cp.CompanyID] = true
	}

	var valid []ProjectPermission
	for _, pp := range projects {
		if active[pp.CompanyID] {
			valid = append(valid, pp)
		}
	}
	return valid
}

// resolveSuperAdmin expands the super-admin short circuit into the concrete
// list of all companies and projects.
func (r *Resolver) resolveSuperAdmin(ctx context.Context, tx pgx.Tx, set *PermissionSet) error {
	companyRows, err := tx.Query(ctx, `SELECT id FROM companies`)
	if err != nil {
		return fmt.Errorf("failed to list companies: %w", err)
	}
	defer companyRows.Close()

	for companyRows.Next() {
		var companyID uuid.UUID
		if err := companyRows.Scan(&companyID); err != nil {
			return fmt.Errorf("failed to scan company: %w", err)
		}
		set.Companies = append(set.Companies, CompanyPermission{CompanyID: companyID, Role: CompanyRoleAdmin})
	}
	if err := companyRows.Err(); err != nil {
		return fmt.Errorf("error iterating companies: %w", err)
	}
	companyRows.Close()

	projectRows, err := tx.Query(ctx, `SELECT id, company_id FROM projects`)
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}
	defer projectRows.Close()

	for projectRows.Next() {
		var pp ProjectPermission
		if err := projectRows.Scan(&pp.ProjectID, &pp.CompanyID); err != nil {
			return fmt.Errorf("failed to scan project: %w", err)
		}
		pp.Role = ProjectRoleManager
		set.Projects = append(set.Projects, pp)
	}
	return projectRows.Err()
}

// resolveManagedProjects grants a derived manager permission on every project
// of a company the user manages, so project-level checks stay pure functions
// over the set. Explicit project memberships take precedence.
func (r *Resolver) resolveManagedProjects(ctx context.Context, tx pgx.Tx, set *PermissionSet) error {
	var managed []uuid.UUID
	for _, cp := range set.Companies {
		if cp.Role.CanManage() {
			managed = append(managed, cp.CompanyID)
		}
	}
	if len(managed) == 0 {
		return nil
	}

	seen := make(map[uuid.UUID]bool, len(set.Projects))
	for _, pp := range set.Projects {
		seen[pp.ProjectID] = true
	}

	rows, err := tx.Query(ctx, `
		SELECT id, company_id FROM projects WHERE company_id = ANY($1)
	`, managed)
	if err != nil {
		return fmt.Errorf("failed to list managed projects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pp ProjectPermission
		if err := rows.Scan(&pp.ProjectID, &pp.CompanyID); err != nil {
			return fmt.Errorf("failed to scan managed project: %w", err)
		}
		if seen[pp.ProjectID] {
			continue
		}
		pp.Role = ProjectRoleManager
		set.Projects = append(set.Projects, pp)
	}
	return rows.Err()
}
