// Package jwt реализует выпуск и разбор JWT токенов операторской сессии.
//
// Токен выдаётся после входа оператора и предъявляется всем защищённым
// конечным точкам движка (заказы, bulk-операции, whitelist).
package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OperatorClaims описывает данные оператора, хранящиеся в JWT.
type OperatorClaims struct {
	Operator             string `json:"operator"` // Имя оператора
	jwt.RegisteredClaims        // Встроенные стандартные claims JWT (ExpiresAt, IssuedAt и пр.)
}

// Maker описывает интерфейс для генерации и парсинга операторских токенов.
type Maker interface {
	// GenerateToken выпускает токен для оператора.
	GenerateToken(operator string) (string, error)
	// ParseToken возвращает *OperatorClaims, если токен корректен.
	ParseToken(tokenStr string) (*OperatorClaims, error)
}

// MakerImpl реализует интерфейс Maker с использованием секретного ключа
// и времени жизни токена (TTL).
type MakerImpl struct {
	secretKey string        // Секретный ключ для подписи токенов.
	tokenTTL  time.Duration // Время жизни токена.
}

// NewJWTMaker создаёт новый экземпляр MakerImpl на основе секретного ключа и TTL.
func NewJWTMaker(secretKey string, ttl time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey: secretKey,
		tokenTTL:  ttl,
	}
}
