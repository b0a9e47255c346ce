package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	req := require.New(t)

	hash, err := HashPassword("Sup3r-secret")
	req.NoError(err)
	req.NotEqual("Sup3r-secret", hash)

	req.True(CheckPassword("Sup3r-secret", hash))
	req.False(CheckPassword("Sup3r-secret!", hash))
	req.False(CheckPassword("", hash))
}

func TestValidatePassword(t *testing.T) {
	valid := []string{"Sup3r-secret", "Abcdef1!", "p@ssW0rd PLUS"}
	for _, password := range valid {
		require.NoError(t, ValidatePassword(password), password)
	}

	invalid := []string{
		"",          // empty
		"Ab1!xyz",   // too short
		"abcdefg1!", // no upper
		"ABCDEFG1!", // no lower
		"Abcdefgh!", // no digit
		"Abcdefgh1", // no special
	}
	for _, password := range invalid {
		require.ErrorIs(t, ValidatePassword(password), ErrWeakPassword, password)
	}
}
