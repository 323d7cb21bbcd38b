package users

import (
	"time"

	"github.com/crewdeck/crewdeck/internal/authz"
	"github.com/google/uuid"
)

// User mirrors an identity-provider account. Users are never deleted, only
// deactivated.
type User struct {
	ID         uuid.UUID        `db:"id"`
	Email      string           `db:"email"`
	Name       string           `db:"name"`
	SystemRole authz.SystemRole `db:"system_role"`
	IsActive   bool             `db:"is_active"`
	CreatedAt  time.Time        `db:"created_at"`
	UpdatedAt  time.Time        `db:"updated_at"`
}
