package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starlight-labs/starshop/internal/config"
	"github.com/starlight-labs/starshop/internal/lib/jwt"
	"github.com/starlight-labs/starshop/internal/lib/password"
)

func newTestAuth(t *testing.T) *AuthService {
	t.Helper()
	hash, err := password.GetHash("correct horse")
	require.NoError(t, err)

	operator := config.Operator{OperatorName: "admin", PasswordHash: hash}
	return NewAuthService(operator, jwt.NewJWTMaker("test-secret", time.Hour))
}

func TestLoginAndValidate(t *testing.T) {
	svc := newTestAuth(t)

	token, err := svc.Login(context.Background(), "admin", "correct horse")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	operator, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "admin", operator)
}

func TestLogin_WrongPassword(t *testing.T) {
	svc := newTestAuth(t)

	_, err := svc.Login(context.Background(), "admin", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_UnknownOperator(t *testing.T) {
	svc := newTestAuth(t)

	_, err := svc.Login(context.Background(), "mallory", "correct horse")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateToken_Garbage(t *testing.T) {
	svc := newTestAuth(t)

	_, err := svc.ValidateToken(context.Background(), "not-a-token")
	require.Error(t, err)
}
