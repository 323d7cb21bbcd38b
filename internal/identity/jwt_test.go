package identity

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSignAndValidateToken(t *testing.T) {
	userID := uuid.New()
	secret := "test-secret"

	token, err := SignToken(userID, "Crew@Example.com", secret, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken(token, secret)
	require.NoError(t, err)
	require.Equal(t, userID, claims.UserID)
	require.Equal(t, "crew@example.com", claims.Email)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	token, err := SignToken(uuid.New(), "a@example.com", "secret-one", time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken(token, "secret-two")
	require.Error(t, err)
}

func TestValidateToken_Expired(t *testing.T) {
	token, err := SignToken(uuid.New(), "a@example.com", "test-secret", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(token, "test-secret")
	require.Error(t, err)
}

func TestValidateToken_Garbage(t *testing.T) {
	_, err := ValidateToken("not-a-token", "test-secret")
	require.Error(t, err)
}
