package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	token, err := GenerateToken("s3cret", "ci-runner", RoleViewer, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken("s3cret", token)
	require.NoError(t, err)
	assert.Equal(t, "ci-runner", claims.Subject)
	assert.Equal(t, RoleViewer, claims.Role)
}

func TestValidate_WrongSecret(t *testing.T) {
	token, err := GenerateToken("s3cret", "ci-runner", RoleViewer, time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken("other", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidate_Expired(t *testing.T) {
	token, err := GenerateToken("s3cret", "ci-runner", RoleAdmin, -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken("s3cret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGenerate_Rejects(t *testing.T) {
	_, err := GenerateToken("", "x", RoleViewer, time.Hour)
	assert.ErrorIs(t, err, ErrNoSecret)

	_, err = GenerateToken("s3cret", "x", "root", time.Hour)
	assert.Error(t, err)

	_, err = ValidateToken("", "whatever")
	assert.ErrorIs(t, err, ErrNoSecret)
}
