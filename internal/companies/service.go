package companies

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/crewdeck/crewdeck/internal/authz"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrCompanyNotFound is returned when a company is not found
	ErrCompanyNotFound = errors.New("company not found")

	// ErrInvalidCompanyRole is returned when a company role is not recognized
	ErrInvalidCompanyRole = errors.New("invalid company role")

	// ErrAlreadyMember is returned when a user already holds an active membership
	ErrAlreadyMember = errors.New("user is already an active member of this company")

	// ErrMemberNotFound is returned when a membership does not exist
	ErrMemberNotFound = errors.New("member not found")

	// ErrSeatLimitReached is returned when the company has no free subscription seat
	ErrSeatLimitReached = errors.New("subscription seat limit reached")

	// ErrSubscriptionNotFound is returned when a company has no active subscription
	ErrSubscriptionNotFound = errors.New("active subscription not found")

	// ErrSeatsBelowUsage is returned when a capacity change would drop below current usage
	ErrSeatsBelowUsage = errors.New("max seats cannot be lower than seats in use")
)

// Service provides company, membership and subscription-seat operations.
// Permission checks happen at the gateway; the service trusts its callers.
type Service struct {
	pool *pgxpool.Pool
}

// NewService creates a new company service
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

const companyColumns = "id, name, industry, subscription_status, settings, created_by_user_id, created_at, updated_at"

func scanCompany(row pgx.Row) (*Company, error) {
	var c Company
	var settingsRaw []byte
	err := row.Scan(&c.ID, &c.Name, &c.Industry, &c.SubscriptionStatus, &settingsRaw, &c.CreatedByUserID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCompanyNotFound
		}
		return nil, fmt.Errorf("failed to scan company: %w", err)
	}

	c.Settings = map[string]any{}
	if len(settingsRaw) > 0 {
		_ = json.Unmarshal(settingsRaw, &c.Settings)
	}
	return &c, nil
}

// GetByID retrieves a company by ID
func (s *Service) GetByID(ctx context.Context, companyID uuid.UUID) (*Company, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, companyID)
	return scanCompany(row)
}

// ListAll retrieves every company. Only reachable by super admins.
func (s *Service) ListAll(ctx context.Context) ([]Company, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+companyColumns+` FROM companies ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	var out []Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating company rows: %w", err)
	}
	return out, nil
}

// ListByIDs retrieves the companies with the given IDs.
func (s *Service) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]Company, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = ANY($1) ORDER BY created_at DESC`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	var out []Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating company rows: %w", err)
	}
	return out, nil
}

// CreateParams are the inputs for creating a company with its subscription.
type CreateParams struct {
	Name        string
	Industry    string
	PlanTier    string
	MaxSeats    int
	CreatedBy   uuid.UUID
	OwnerUserID *uuid.UUID // optional: seeded as an admin member, consuming one seat
}

// CreateWithSubscription creates a company, its single active subscription and
// optionally an initial admin membership in one transaction.
func (s *Service) CreateWithSubscription(ctx context.Context, params CreateParams) (*Company, error) {
	if params.Name == "" {
		return nil, errors.New("company name is required")
	}
	if params.MaxSeats <= 0 {
		return nil, errors.New("max seats must be positive")
	}
	if params.PlanTier == "" {
		params.PlanTier = "starter"
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	createdBy := uuid.NullUUID{UUID: params.CreatedBy, Valid: params.CreatedBy != uuid.Nil}

	company, err := scanCompany(tx.QueryRow(ctx, `
		INSERT INTO companies (name, industry, subscription_status, created_by_user_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+companyColumns,
		params.Name, params.Industry, StatusTrial, createdBy))
	if err != nil {
		return nil, fmt.Errorf("failed to create company: %w", err)
	}

	usedSeats := 0
	if params.OwnerUserID != nil {
		usedSeats = 1
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO company_subscriptions (company_id, plan_tier, max_seats, used_seats)
		VALUES ($1, $2, $3, $4)
	`, company.ID, params.PlanTier, params.MaxSeats, usedSeats); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	if params.OwnerUserID != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO company_memberships (company_id, user_id, company_role)
			VALUES ($1, $2, $3)
		`, company.ID, *params.OwnerUserID, authz.CompanyRoleAdmin); err != nil {
			return nil, fmt.Errorf("failed to create owner membership: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return company, nil
}

// ListMembers retrieves all members of a company, active and deactivated.
func (s *Service) ListMembers(ctx context.Context, companyID uuid.UUID) ([]MemberInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.user_id, u.email, u.name, m.company_role, m.is_active, m.created_at
		FROM company_memberships m
		INNER JOIN users u ON m.user_id = u.id
		WHERE m.company_id = $1
		ORDER BY m.created_at ASC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []MemberInfo
	for rows.Next() {
		var member MemberInfo
		err := rows.Scan(
			&member.UserID,
			&member.Email,
			&member.Name,
			&member.Role,
			&member.IsActive,
			&member.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member rows: %w", err)
	}

	return members, nil
}

// AddMember adds a user directly to a company, consuming a subscription seat.
// Reactivating a deactivated membership also consumes a seat.
func (s *Service) AddMember(ctx context.Context, companyID, targetUserID uuid.UUID, role authz.CompanyRole) error {
	if !role.IsValid() {
		return ErrInvalidCompanyRole
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var isActive bool
	err = tx.QueryRow(ctx, `
		SELECT is_active
		FROM company_memberships
		WHERE company_id = $1 AND user_id = $2
		FOR UPDATE
	`, companyID, targetUserID).Scan(&isActive)
	exists := true
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to load membership: %w", err)
		}
		exists = false
	}
	if exists && isActive {
		return ErrAlreadyMember
	}

	// Capacity is enforced here, not at lookup time: the guarded update fails
	// when the company is at max_seats.
	tag, err := tx.Exec(ctx, `
		UPDATE company_subscriptions
		SET used_seats = used_seats + 1, updated_at = NOW()
		WHERE company_id = $1 AND is_active AND used_seats < max_seats
	`, companyID)
	if err != nil {
		return fmt.Errorf("failed to consume seat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSeatLimitReached
	}

	if exists {
		if _, err := tx.Exec(ctx, `
			UPDATE company_memberships
			SET is_active = TRUE, company_role = $3, updated_at = NOW()
			WHERE company_id = $1 AND user_id = $2
		`, companyID, targetUserID, role); err != nil {
			return fmt.Errorf("failed to reactivate membership: %w", err)
		}
	} else {
		if _, err := tx.Exec(ctx, `
			INSERT INTO company_memberships (company_id, user_id, company_role)
			VALUES ($1, $2, $3)
		`, companyID, targetUserID, role); err != nil {
			return fmt.Errorf("failed to create membership: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// DeactivateMember soft-deletes a membership and releases its seat.
// The membership row is preserved for audit history; project membership rows
// survive but grant nothing once the company membership is inactive.
func (s *Service) DeactivateMember(ctx context.Context, companyID, targetUserID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE company_memberships
		SET is_active = FALSE, updated_at = NOW()
		WHERE company_id = $1 AND user_id = $2 AND is_active
	`, companyID, targetUserID)
	if err != nil {
		return fmt.Errorf("failed to deactivate membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}

	if _, err := tx.Exec(ctx, `
		UPDATE company_subscriptions
		SET used_seats = used_seats - 1, updated_at = NOW()
		WHERE company_id = $1 AND is_active AND used_seats > 0
	`, companyID); err != nil {
		return fmt.Errorf("failed to release seat: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetActiveSubscription retrieves a company's single active subscription.
func (s *Service) GetActiveSubscription(ctx context.Context, companyID uuid.UUID) (*Subscription, error) {
	var sub Subscription
	err := s.pool.QueryRow(ctx, `
		SELECT id, company_id, plan_tier, max_seats, used_seats, billing_cycle, price_cents,
		       period_start, period_end, external_invoice_ref, is_active, created_at, updated_at
		FROM company_subscriptions
		WHERE company_id = $1 AND is_active
	`, companyID).Scan(
		&sub.ID,
		&sub.CompanyID,
		&sub.PlanTier,
		&sub.MaxSeats,
		&sub.UsedSeats,
		&sub.BillingCycle,
		&sub.PriceCents,
		&sub.PeriodStart,
		&sub.PeriodEnd,
		&sub.ExternalInvoiceRef,
		&sub.IsActive,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return &sub, nil
}

// HasFreeSeat reports whether the company currently has an unoccupied seat.
// This is a check-only read; acceptance and direct-add re-check capacity with
// a guarded update inside their own transactions.
func (s *Service) HasFreeSeat(ctx context.Context, companyID uuid.UUID) (bool, error) {
	sub, err := s.GetActiveSubscription(ctx, companyID)
	if err != nil {
		return false, err
	}
	return sub.HasFreeSeat(), nil
}

// UpdateMaxSeats changes subscription capacity. Shrinking below current usage
// is rejected rather than clamped.
func (s *Service) UpdateMaxSeats(ctx context.Context, companyID uuid.UUID, maxSeats int) error {
	if maxSeats <= 0 {
		return errors.New("max seats must be positive")
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE company_subscriptions
		SET max_seats = $2, updated_at = NOW()
		WHERE company_id = $1 AND is_active AND used_seats <= $2
	`, companyID, maxSeats)
	if err != nil {
		return fmt.Errorf("failed to update max seats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, subErr := s.GetActiveSubscription(ctx, companyID); subErr != nil {
			return subErr
		}
		return ErrSeatsBelowUsage
	}

	return nil
}
