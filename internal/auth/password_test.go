package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword(t *testing.T) {
	t.Run("Hash password successfully", func(t *testing.T) {
		hash, err := HashPassword("MySecurePassword123")
		require.NoError(t, err)
		assert.NotEqual(t, "MySecurePassword123", hash)

		cost, err := bcrypt.Cost([]byte(hash))
		require.NoError(t, err)
		assert.Equal(t, BcryptCost, cost)
	})

	t.Run("Hash is salted", func(t *testing.T) {
		hash1, err := HashPassword("MySecurePassword123")
		require.NoError(t, err)
		hash2, err := HashPassword("MySecurePassword123")
		require.NoError(t, err)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("Hash over the bcrypt limit fails", func(t *testing.T) {
		_, err := HashPassword(strings.Repeat("a", 73))
		assert.Error(t, err)
	})
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("MySecurePassword123")
	require.NoError(t, err)

	assert.NoError(t, VerifyPassword("MySecurePassword123", hash))
	assert.Equal(t, bcrypt.ErrMismatchedHashAndPassword, VerifyPassword("mysecurepassword123", hash))
	assert.Error(t, VerifyPassword("MySecurePassword123", "invalid-hash"))
	assert.Error(t, VerifyPassword("MySecurePassword123", ""))
}

func TestValidatePasswordStrength(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  string
	}{
		{"Valid", "MyPassword123", ""},
		{"Exactly 8 characters", "Passwor1", ""},
		{"Too short", "Pass1", "at least 8 characters"},
		{"Empty", "", "at least 8 characters"},
		{"Too long", strings.Repeat("a1", 37), "at most 72 bytes"},
		{"Missing number", "MyPassword", "at least one number"},
		{"Missing letter", "12345678", "at least one letter"},
		{"Only special characters", "!@#$%^&*()", "at least one number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePasswordStrength(tt.password)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
