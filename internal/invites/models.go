package invites

import (
	"errors"
	"time"

	"github.com/crewdeck/crewdeck/internal/authz"
	"github.com/google/uuid"
)

var (
	ErrInviteNotFound        = errors.New("invitation not found")
	ErrInviteExpired         = errors.New("invitation expired")
	ErrInviteAlreadyResolved = errors.New("invitation already resolved")
	ErrInviteEmailMismatch   = errors.New("invitation email does not match user")
	ErrInvalidState          = errors.New("invitation is not in a resendable or cancellable state")
	ErrDuplicatePending      = errors.New("a pending invitation already exists for this target")
	ErrSeatLimitReached      = errors.New("subscription seat limit reached")
	ErrInvalidCompanyRole    = errors.New("invalid company role")
	ErrInvalidProjectRole    = errors.New("invalid project role")
	ErrProjectRoleRequired   = errors.New("project role is required when a project is targeted")
	ErrProjectNotInCompany   = errors.New("project does not belong to the company")
)

// Status is an invitation's lifecycle state. Pending transitions to exactly
// one of the four terminal states; terminal states are absorbing.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// IsValid reports whether the status is one of the known invitation statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDeclined, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the status is absorbing.
func (s Status) IsTerminal() bool {
	return s.IsValid() && s != StatusPending
}

// CanTransitionTo reports whether a stored status may move to next.
// Expired is reachable from pending only by the passage of time; a lapsed
// invitation may still be reissued (back to pending) or cancelled, because
// expiry is a derived condition, not a resolution.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next.IsTerminal()
	case StatusExpired:
		return next == StatusPending || next == StatusCancelled
	}
	return false
}

// Invitation is a time-bounded, tokenized offer to join a company and
// optionally one of its projects.
type Invitation struct {
	ID              uuid.UUID          `db:"id"`
	CompanyID       uuid.UUID          `db:"company_id"`
	ProjectID       *uuid.UUID         `db:"project_id"`
	Email           string             `db:"email"`
	CompanyRole     authz.CompanyRole  `db:"company_role"`
	ProjectRole     *authz.ProjectRole `db:"project_role"`
	InvitedByUserID uuid.UUID          `db:"invited_by_user_id"`
	CustomMessage   string             `db:"custom_message"`
	Status          Status             `db:"status"`
	ExpiresAt       time.Time          `db:"expires_at"`
	CreatedAt       time.Time          `db:"created_at"`
	UpdatedAt       time.Time          `db:"updated_at"`
}

// EffectiveStatus derives the observable status at the given instant. A
// stored pending invitation whose deadline has passed reads as expired; the
// stored row is only rewritten by the periodic sweep.
func (i *Invitation) EffectiveStatus(now time.Time) Status {
	if i.Status == StatusPending && now.After(i.ExpiresAt) {
		return StatusExpired
	}
	return i.Status
}

// ListItem is an invitation as presented in company-scoped listings.
type ListItem struct {
	ID          uuid.UUID          `json:"id"`
	Email       string             `json:"email"`
	CompanyRole authz.CompanyRole  `json:"company_role"`
	ProjectID   *uuid.UUID         `json:"project_id,omitempty"`
	ProjectRole *authz.ProjectRole `json:"project_role,omitempty"`
	Status      Status             `json:"status"`
	ExpiresAt   time.Time          `json:"expires_at"`
	CreatedAt   time.Time          `json:"created_at"`
	InvitedBy   string             `json:"invited_by"`
}
