package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHash(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{name: "regular password", password: "password123"},
		{name: "special chars", password: "p@ssw0rd!@#$%^&*()"},
		{name: "cyrillic", password: "пароль-надёжный"},
		{name: "too short", password: "short", wantErr: ErrTooShort},
		{name: "too long", password: strings.Repeat("a", 73), wantErr: ErrTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := GetHash(tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, hash)
			assert.NoError(t, CompareHash(hash, tt.password))
		})
	}
}

func TestCompareHash(t *testing.T) {
	hash, err := GetHash("correct_password")
	require.NoError(t, err)

	assert.ErrorIs(t, CompareHash(hash, "wrong_password"), ErrMismatch)
	assert.ErrorIs(t, CompareHash(hash, ""), ErrMismatch)

	err = CompareHash("not-a-bcrypt-hash", "correct_password")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMismatch)
}

func TestGetHash_Salted(t *testing.T) {
	h1, err := GetHash("password1")
	require.NoError(t, err)
	h2, err := GetHash("password1")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
