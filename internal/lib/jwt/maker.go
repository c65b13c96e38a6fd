// Package jwt выпускает и проверяет bearer-токены провайдера идентификации.
//
// Субъект токена (sub) — ID аккаунта. Роль в токене носит справочный
// характер: административные права всегда проверяются по записи аккаунта.
package jwt

import (
	"time"
)

// Maker описывает генерацию и разбор токенов.
type Maker interface {
	GenerateToken(accountID, email, role string) (string, error)
	ParseToken(tokenStr string) (*CustomClaims, error)
}

// MakerImpl подписывает токены HMAC-SHA256 секретным ключом.
type MakerImpl struct {
	secretKey string        // Секретный ключ для подписи токенов.
	tokenTTL  time.Duration // Время жизни токена.
	issuer    string
}

// NewJWTMaker создаёт MakerImpl на основе секретного ключа и TTL.
func NewJWTMaker(secretKey string, ttl time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey: secretKey,
		tokenTTL:  ttl,
		issuer:    "hwid-licensing",
	}
}
