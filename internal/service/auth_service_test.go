package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/traveltour/important-info-api/internal/models"
	appErrors "github.com/traveltour/important-info-api/pkg/errors"
)

func TestAuthServiceValidateTokenRoundTrip(t *testing.T) {
	service := NewAuthService(zap.NewNop(), AuthConfig{Secret: "test-secret", Issuer: "main-api"})

	token, err := service.IssueToken("u-1", models.RoleStudent, "s@example.com", "Student One", time.Minute)
	require.NoError(t, err)

	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, models.RoleStudent, claims.Role)
}

func TestAuthServiceValidateTokenWrongSecret(t *testing.T) {
	issuer := NewAuthService(zap.NewNop(), AuthConfig{Secret: "secret-a"})
	verifier := NewAuthService(zap.NewNop(), AuthConfig{Secret: "secret-b"})

	token, err := issuer.IssueToken("u-1", models.RoleAdmin, "a@example.com", "Admin", time.Minute)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceValidateTokenExpired(t *testing.T) {
	service := NewAuthService(zap.NewNop(), AuthConfig{Secret: "test-secret"})

	token, err := service.IssueToken("u-1", models.RoleStudent, "s@example.com", "Student One", -time.Minute)
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	require.Error(t, err)
}
