package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken — токен не прошёл проверку.
var ErrInvalidToken = errors.New("invalid token")

// CustomClaims описывает данные, хранящиеся в JWT.
type CustomClaims struct {
	Email                string `json:"email"`
	Role                 string `json:"role"`
	jwt.RegisteredClaims        // Subject — ID аккаунта
}

// AccountID возвращает ID аккаунта из субъекта токена.
func (c *CustomClaims) AccountID() string {
	return c.Subject
}

// GenerateToken создаёт подписанный токен для аккаунта.
func (j *MakerImpl) GenerateToken(accountID, email, role string) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.secretKey))
}

// ParseToken проверяет подпись, алгоритм, срок и субъект токена.
func (j *MakerImpl) ParseToken(tokenStr string) (*CustomClaims, error) {
	const op = "jwt.ParseToken"
	token, err := jwt.ParseWithClaims(tokenStr, &CustomClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(j.secretKey), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}
	return claims, nil
}
