// Package password хэширует пароли учётных записей bcrypt и проверяет их.
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinLength — минимальная длина пароля.
const MinLength = 8

var (
	// ErrMismatch — пароль не соответствует хэшу.
	ErrMismatch = errors.New("password mismatch")
	// ErrTooShort — пароль короче MinLength.
	ErrTooShort = fmt.Errorf("password must be at least %d characters", MinLength)
	// ErrTooLong — пароль длиннее, чем принимает bcrypt.
	ErrTooLong = errors.New("password must be at most 72 bytes")
)

// Validate проверяет длину пароля перед хэшированием.
func Validate(password string) error {
	if len([]rune(password)) < MinLength {
		return ErrTooShort
	}
	if len(password) > 72 {
		return ErrTooLong
	}
	return nil
}

// GetHash возвращает bcrypt-хэш пароля.
func GetHash(password string) (string, error) {
	const op = "password.GetHash"
	if err := Validate(password); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return string(hashedPassword), nil
}

// CompareHash сравнивает bcrypt-хэш с введённым паролем.
// Несовпадение возвращается как ErrMismatch.
func CompareHash(originalHash, externalPassword string) error {
	const op = "password.CompareHash"
	err := bcrypt.CompareHashAndPassword([]byte(originalHash), []byte(externalPassword))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return fmt.Errorf("%s: %w", op, ErrMismatch)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
