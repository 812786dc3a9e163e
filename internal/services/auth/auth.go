// Package services содержит аутентификацию операторов. Учётная запись
// оператора задаётся конфигом: пар логин-пароль мало, и хранить их
// в базе нет смысла.
package services

import (
	"context"
	"errors"

	"github.com/starlight-labs/starshop/internal/config"
	"github.com/starlight-labs/starshop/internal/lib/jwt"
	"github.com/starlight-labs/starshop/internal/lib/password"
)

// ErrInvalidCredentials возвращается при неверном логине или пароле.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthService проверяет учётные данные оператора и выдает JWT.
type AuthService struct {
	operator config.Operator
	jwtMaker jwt.Maker
}

// NewAuthService создает новый экземпляр AuthService.
func NewAuthService(operator config.Operator, jwtMaker jwt.Maker) *AuthService {
	return &AuthService{
		operator: operator,
		jwtMaker: jwtMaker,
	}
}

// Login проверяет пароль оператора и генерирует JWT.
func (s *AuthService) Login(_ context.Context, operatorName, rawPassword string) (string, error) {
	if operatorName != s.operator.OperatorName {
		return "", ErrInvalidCredentials
	}
	if err := password.CompareHash(s.operator.PasswordHash, rawPassword); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.jwtMaker.GenerateToken(operatorName)
}

// ValidateToken проверяет JWT и возвращает имя оператора.
func (s *AuthService) ValidateToken(_ context.Context, token string) (string, error) {
	claims, err := s.jwtMaker.ParseToken(token)
	if err != nil {
		return "", err
	}
	return claims.Operator, nil
}
