package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeEmail(t *testing.T) {
	got, err := NormalizeEmail("  Dana.PM@Example.COM ")
	require.NoError(t, err)
	require.Equal(t, "dana.pm@example.com", got)
}

func TestNormalizeEmail_Invalid(t *testing.T) {
	for _, in := range []string{"", "plainaddress", "@example.com", "a@b", "two@@example.com", "spaces in@example.com"} {
		_, err := NormalizeEmail(in)
		require.ErrorIs(t, err, ErrInvalidEmail, in)
	}
}

func TestNormalizeEmail_TooLong(t *testing.T) {
	_, err := NormalizeEmail(strings.Repeat("a", 250) + "@example.com")
	require.ErrorIs(t, err, ErrEmailTooLong)
}

func TestValidateName(t *testing.T) {
	require.NoError(t, ValidateName("Acme Builders"))
	require.ErrorIs(t, ValidateName("   "), ErrNameRequired)
	require.ErrorIs(t, ValidateName(strings.Repeat("x", 201)), ErrNameTooLong)
}

func TestValidateCustomMessage(t *testing.T) {
	require.NoError(t, ValidateCustomMessage(""))
	require.NoError(t, ValidateCustomMessage("Welcome aboard!"))
	require.Error(t, ValidateCustomMessage(strings.Repeat("m", 1001)))
}
