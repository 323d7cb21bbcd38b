package authz

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestRetryable(t *testing.T) {
	// Connectivity-class failures get the one retry.
	require.True(t, retryable(&pgconn.PgError{Code: "08006"}))
	require.True(t, retryable(&pgconn.PgError{Code: "08000"}))
	require.True(t, retryable(&pgconn.PgError{Code: "40001"}))
	require.True(t, retryable(&pgconn.PgError{Code: "40P01"}))

	// Wrapping must not hide the server error code.
	wrapped := fmt.Errorf("failed to load company memberships: %w", &pgconn.PgError{Code: "08006"})
	require.True(t, retryable(wrapped))

	// Deterministic failures are final on the first attempt.
	require.False(t, retryable(ErrUnknownUser))
	require.False(t, retryable(&pgconn.PgError{Code: "23505"}))
	require.False(t, retryable(&pgconn.PgError{Code: "42703"}))
	require.False(t, retryable(errors.New("failed to scan company membership: cannot decode")))
	require.False(t, retryable(fmt.Errorf("failed to load user: %w", errors.New("unexpected column"))))
}
