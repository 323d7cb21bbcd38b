package projects

import (
	"time"

	"github.com/crewdeck/crewdeck/internal/authz"
	"github.com/google/uuid"
)

// Status is a project's lifecycle stage.
type Status string

const (
	StatusPlanning  Status = "planning"
	StatusActive    Status = "active"
	StatusOnHold    Status = "on_hold"
	StatusCompleted Status = "completed"
)

// IsValid reports whether the status is one of the known project statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPlanning, StatusActive, StatusOnHold, StatusCompleted:
		return true
	}
	return false
}

// Project represents a unit of work owned by exactly one company
type Project struct {
	ID              uuid.UUID     `db:"id"`
	CompanyID       uuid.UUID     `db:"company_id"`
	Name            string        `db:"name"`
	Address         string        `db:"address"`
	Status          Status        `db:"status"`
	HomeownerName   string        `db:"homeowner_name"`
	HomeownerEmail  string        `db:"homeowner_email"`
	HomeownerPhone  string        `db:"homeowner_phone"`
	BudgetCents     int64         `db:"budget_cents"`
	StartsOn        *time.Time    `db:"starts_on"`
	EndsOn          *time.Time    `db:"ends_on"`
	CreatedByUserID uuid.NullUUID `db:"created_by_user_id"`
	CreatedAt       time.Time     `db:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at"`
}

// Membership represents a user's membership in a project. A user may belong to
// several projects within the same company, each with an independent role.
type Membership struct {
	ProjectID uuid.UUID         `db:"project_id"`
	UserID    uuid.UUID         `db:"user_id"`
	Role      authz.ProjectRole `db:"project_role"`
	CreatedAt time.Time         `db:"created_at"`
	UpdatedAt time.Time         `db:"updated_at"`
}

// MemberInfo represents a member of a project with their details
type MemberInfo struct {
	UserID    uuid.UUID         `db:"user_id" json:"user_id"`
	Email     string            `db:"email" json:"email"`
	Name      string            `db:"name" json:"name"`
	Role      authz.ProjectRole `db:"project_role" json:"role"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
}
