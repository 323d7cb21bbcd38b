package projects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crewdeck/crewdeck/internal/authz"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrProjectNotFound is returned when a project is not found
	ErrProjectNotFound = errors.New("project not found")

	// ErrInvalidProjectRole is returned when a project role is not recognized
	ErrInvalidProjectRole = errors.New("invalid project role")

	// ErrInvalidStatus is returned when a project status is not recognized
	ErrInvalidStatus = errors.New("invalid project status")

	// ErrNotCompanyMember is returned when assigning a user who holds no
	// active membership in the project's company
	ErrNotCompanyMember = errors.New("user is not an active member of the owning company")
)

// Service provides project-related operations
type Service struct {
	pool *pgxpool.Pool
}

// NewService creates a new project service
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

const projectColumns = `id, company_id, name, address, status, homeowner_name, homeowner_email,
	homeowner_phone, budget_cents, starts_on, ends_on, created_by_user_id, created_at, updated_at`

func scanProject(row pgx.Row) (*Project, error) {
	var p Project
	err := row.Scan(
		&p.ID,
		&p.CompanyID,
		&p.Name,
		&p.Address,
		&p.Status,
		&p.HomeownerName,
		&p.HomeownerEmail,
		&p.HomeownerPhone,
		&p.BudgetCents,
		&p.StartsOn,
		&p.EndsOn,
		&p.CreatedByUserID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	return &p, nil
}

// CreateParams are the inputs for creating a project.
type CreateParams struct {
	CompanyID      uuid.UUID
	Name           string
	Address        string
	HomeownerName  string
	HomeownerEmail string
	HomeownerPhone string
	BudgetCents    int64
	StartsOn       *time.Time
	EndsOn         *time.Time
	CreatedBy      uuid.UUID
}

// Create creates a new project in a company
func (s *Service) Create(ctx context.Context, params CreateParams) (*Project, error) {
	if params.Name == "" {
		return nil, errors.New("project name is required")
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO projects (
		  company_id, name, address, homeowner_name, homeowner_email,
		  homeowner_phone, budget_cents, starts_on, ends_on, created_by_user_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+projectColumns,
		params.CompanyID,
		params.Name,
		params.Address,
		params.HomeownerName,
		params.HomeownerEmail,
		params.HomeownerPhone,
		params.BudgetCents,
		params.StartsOn,
		params.EndsOn,
		params.CreatedBy,
	)

	project, err := scanProject(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return project, nil
}

// GetByID retrieves a project by ID
func (s *Service) GetByID(ctx context.Context, projectID uuid.UUID) (*Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, projectID)
	return scanProject(row)
}

// ListByCompany retrieves all projects belonging to a company
func (s *Service) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]Project, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+projectColumns+` FROM projects WHERE company_id = $1 ORDER BY created_at DESC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project rows: %w", err)
	}
	return out, nil
}

// ListByIDs retrieves the projects with the given IDs.
func (s *Service) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]Project, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+projectColumns+` FROM projects WHERE id = ANY($1) ORDER BY created_at DESC
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project rows: %w", err)
	}
	return out, nil
}

// UpdateStatus moves a project to a new lifecycle stage.
func (s *Service) UpdateStatus(ctx context.Context, projectID uuid.UUID, status Status) error {
	if !status.IsValid() {
		return ErrInvalidStatus
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE projects SET status = $2, updated_at = NOW() WHERE id = $1
	`, projectID, status)
	if err != nil {
		return fmt.Errorf("failed to update project status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// AssignMember creates or updates a user's project membership. The user must
// already hold an active membership in the project's company; project
// memberships never reach across tenants.
func (s *Service) AssignMember(ctx context.Context, projectID, userID uuid.UUID, role authz.ProjectRole) error {
	if !role.IsValid() {
		return ErrInvalidProjectRole
	}

	var isCompanyMember bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
		  SELECT 1
		  FROM company_memberships m
		  INNER JOIN projects p ON p.company_id = m.company_id
		  WHERE p.id = $1 AND m.user_id = $2 AND m.is_active
		)
	`, projectID, userID).Scan(&isCompanyMember)
	if err != nil {
		return fmt.Errorf("failed to check company membership: %w", err)
	}
	if !isCompanyMember {
		return ErrNotCompanyMember
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO project_memberships (project_id, user_id, project_role)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, user_id) DO UPDATE SET project_role = EXCLUDED.project_role, updated_at = NOW()
	`, projectID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to assign project member: %w", err)
	}
	return nil
}

// ListMembers retrieves all members of a project
func (s *Service) ListMembers(ctx context.Context, projectID uuid.UUID) ([]MemberInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pm.user_id, u.email, u.name, pm.project_role, pm.created_at
		FROM project_memberships pm
		INNER JOIN users u ON pm.user_id = u.id
		WHERE pm.project_id = $1
		ORDER BY pm.created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list project members: %w", err)
	}
	defer rows.Close()

	var members []MemberInfo
	for rows.Next() {
		var member MemberInfo
		if err := rows.Scan(&member.UserID, &member.Email, &member.Name, &member.Role, &member.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project member rows: %w", err)
	}
	return members, nil
}
