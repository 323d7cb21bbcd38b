package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/crewdeck/crewdeck/internal/authz"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidSystemRole is returned when a system role is not recognized
	ErrInvalidSystemRole = errors.New("invalid system role")
)

// Service provides user-related operations
type Service struct {
	pool *pgxpool.Pool
}

// NewService creates a new user service
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

const userColumns = "id, email, name, system_role, is_active, created_at, updated_at"

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.SystemRole, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// GetByEmail retrieves a user by email (case-insensitive; emails are stored lowercased)
func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email))
	return scanUser(row)
}

// EnsureInTx provisions the identity-provider account inside the caller's
// transaction. First sight of an account creates a local row with the default
// system role; a known account is left untouched.
func EnsureInTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, email string) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO users (id, email)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, userID, normalizeEmail(email)); err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

// SetSystemRole updates a user's system role. Used by the admin CLI.
func (s *Service) SetSystemRole(ctx context.Context, email string, role authz.SystemRole) (*User, error) {
	if !role.IsValid() {
		return nil, ErrInvalidSystemRole
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE users
		SET system_role = $2, updated_at = NOW()
		WHERE email = $1
		RETURNING `+userColumns, normalizeEmail(email), role)
	return scanUser(row)
}

// Deactivate soft-deletes a user. The row is kept for audit history.
func (s *Service) Deactivate(ctx context.Context, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
