package models

import "time"

// Identity — учётная запись провайдера идентификации: логин и хэш пароля.
// Запись аккаунта ссылается на неё по ID.
type Identity struct {
	ID           string    // Уникальный идентификатор (UUID)
	Email        string    // Электронная почта, уникальна
	PasswordHash string    // Хэш пароля
	CreatedAt    time.Time // Дата создания
}
