package licensing

import (
	"errors"
	"fmt"
	"time"
)

// Kind — машинно-читаемый тип ошибки, по которому ветвятся вызывающие стороны.
type Kind string

const (
	KindNotFound              Kind = "NOT_FOUND"
	KindNotEntitled           Kind = "NOT_ENTITLED"
	KindAlreadyBound          Kind = "ALREADY_BOUND"
	KindLimitReached          Kind = "LIMIT_REACHED"
	KindCooldownActive        Kind = "COOLDOWN_ACTIVE"
	KindInvalidArgument       Kind = "INVALID_ARGUMENT"
	KindUnauthorized          Kind = "UNAUTHORIZED"
	KindIdentityProviderError Kind = "IDENTITY_PROVIDER_ERROR"
	KindStorageError          Kind = "STORAGE_ERROR"
)

// Error — ошибка лицензирования. Сравнение через errors.Is идёт по Kind,
// поэтому errors.Is(err, ErrCooldownActive) верно для любого остатка кулдауна.
type Error struct {
	Kind              Kind
	Message           string
	CooldownRemaining time.Duration // только для KindCooldownActive
	Err               error         // внутренняя причина, наружу не отдаётся
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is сравнивает ошибки по Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Expected сообщает, является ли ошибка ожидаемым исходом политики,
// который не нужно логировать как исключительный.
func (e *Error) Expected() bool {
	return e.Kind != KindStorageError && e.Kind != KindIdentityProviderError
}

// Сигнальные значения для errors.Is.
var (
	ErrNotFound              = &Error{Kind: KindNotFound, Message: "account not found"}
	ErrNotEntitled           = &Error{Kind: KindNotEntitled, Message: "no active subscription"}
	ErrAlreadyBound          = &Error{Kind: KindAlreadyBound, Message: "hwid is already set, use the change endpoint instead"}
	ErrLimitReached          = &Error{Kind: KindLimitReached, Message: "hwid change limit reached, contact support for a reset"}
	ErrCooldownActive        = &Error{Kind: KindCooldownActive, Message: "hwid change is on cooldown"}
	ErrInvalidArgument       = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
	ErrUnauthorized          = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrIdentityProviderError = &Error{Kind: KindIdentityProviderError, Message: "identity provider error"}
	ErrStorageError          = &Error{Kind: KindStorageError, Message: "internal error"}
)

// InvalidArgument создаёт ошибку KindInvalidArgument с сообщением.
func InvalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized создаёт ошибку KindUnauthorized с сообщением.
func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

// NotFound создаёт ошибку KindNotFound с сообщением.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Storage оборачивает сбой хранилища. Детали остаются только в Err.
func Storage(err error) *Error {
	return &Error{Kind: KindStorageError, Message: "internal error", Err: err}
}

// IdentityProvider оборачивает сбой провайдера идентификации.
func IdentityProvider(msg string, err error) *Error {
	return &Error{Kind: KindIdentityProviderError, Message: msg, Err: err}
}

// Cooldown создаёт ошибку KindCooldownActive с оставшимся временем.
func Cooldown(remaining time.Duration) *Error {
	return &Error{Kind: KindCooldownActive, Message: ErrCooldownActive.Message, CooldownRemaining: remaining}
}

// AsError извлекает *Error из цепочки; ok == false для посторонних ошибок.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf возвращает Kind ошибки; посторонние ошибки считаются KindStorageError.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindStorageError
}
