// Package storage содержит общие ошибки хранилищ аккаунтов и белого списка.
// Реализации лежат в подпакетах repository (PostgreSQL) и memory.
package storage

import (
	"errors"

	"github.com/magabrotheeeer/hwid-licensing/internal/licensing"
)

var (
	// ErrAccountNotFound — запись аккаунта не найдена.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists — запись аккаунта с таким ID уже существует.
	ErrAccountExists = errors.New("account already exists")
	// ErrIdentityNotFound — учётная запись провайдера идентификации не найдена.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrEmailTaken — электронная почта уже занята.
	ErrEmailTaken = errors.New("email already taken")
	// ErrAllowedHwidNotFound — отпечатка нет в белом списке.
	ErrAllowedHwidNotFound = errors.New("allowed hwid not found")
)

// AsLicensing переводит ошибку хранилища в ошибку лицензирования.
// Ошибки лицензирования возвращаются как есть; отсутствие записи становится
// KindNotFound, остальное считается сбоем хранилища.
func AsLicensing(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := licensing.AsError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrAccountNotFound):
		return licensing.NotFound("account not found")
	case errors.Is(err, ErrAllowedHwidNotFound):
		return licensing.NotFound("hwid is not in the allow-list")
	}
	return licensing.Storage(err)
}
