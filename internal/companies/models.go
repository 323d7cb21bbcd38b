package companies

import (
	"time"

	"github.com/crewdeck/crewdeck/internal/authz"
	"github.com/google/uuid"
)

// SubscriptionStatus is a company's billing standing.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusTrial     SubscriptionStatus = "trial"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// IsValid reports whether the status is one of the known subscription statuses.
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusTrial, StatusPastDue, StatusCancelled:
		return true
	}
	return false
}

// Company represents a tenant in the system
type Company struct {
	ID                 uuid.UUID          `db:"id"`
	Name               string             `db:"name"`
	Industry           string             `db:"industry"`
	SubscriptionStatus SubscriptionStatus `db:"subscription_status"`
	Settings           map[string]any     `db:"settings"`
	CreatedByUserID    uuid.NullUUID      `db:"created_by_user_id"`
	CreatedAt          time.Time          `db:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at"`
}

// Subscription is a company's seat-capacity record. Every company has exactly
// one active subscription; used seats never exceed max seats.
type Subscription struct {
	ID                 uuid.UUID  `db:"id"`
	CompanyID          uuid.UUID  `db:"company_id"`
	PlanTier           string     `db:"plan_tier"`
	MaxSeats           int        `db:"max_seats"`
	UsedSeats          int        `db:"used_seats"`
	BillingCycle       string     `db:"billing_cycle"`
	PriceCents         int64      `db:"price_cents"`
	PeriodStart        time.Time  `db:"period_start"`
	PeriodEnd          *time.Time `db:"period_end"`
	ExternalInvoiceRef *string    `db:"external_invoice_ref"`
	IsActive           bool       `db:"is_active"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

// HasFreeSeat reports whether at least one seat is unoccupied.
func (s *Subscription) HasFreeSeat() bool {
	return s.UsedSeats < s.MaxSeats
}

// Membership represents a user's membership in a company. Memberships are
// deactivated rather than deleted to preserve audit history.
type Membership struct {
	CompanyID uuid.UUID         `db:"company_id"`
	UserID    uuid.UUID         `db:"user_id"`
	Role      authz.CompanyRole `db:"company_role"`
	IsActive  bool              `db:"is_active"`
	CreatedAt time.Time         `db:"created_at"`
	UpdatedAt time.Time         `db:"updated_at"`
}

// MemberInfo represents a member of a company with their details
type MemberInfo struct {
	UserID    uuid.UUID         `db:"user_id" json:"user_id"`
	Email     string            `db:"email" json:"email"`
	Name      string            `db:"name" json:"name"`
	Role      authz.CompanyRole `db:"company_role" json:"role"`
	IsActive  bool              `db:"is_active" json:"is_active"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
}
