// Package response содержит вспомогательные типы и функции для формирования
// унифицированных JSON‑ответов HTTP‑обработчиков: успешных ответов, ошибок
// лицензирования с машинно-читаемым типом и сообщений валидации.
package response

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/hwid-licensing/internal/licensing"
)

// Response описывает стандартную структуру JSON‑ответа сервера.
// Поле Status — статус запроса ("OK" или "Error").
// Поле Error — текст ошибки (опционально, при неуспехе).
// Поле Data — данные ответа (опционально, при успехе).
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// ErrorResponse — тело ответа с ошибкой. Kind — машинно-читаемый тип,
// по которому ветвится клиент; CooldownRemaining задан только для COOLDOWN_ACTIVE.
type ErrorResponse struct {
	Status            string `json:"status" example:"Error"`
	Error             string `json:"error" example:"hwid change is on cooldown"`
	Kind              string `json:"kind,omitempty" example:"COOLDOWN_ACTIVE"`
	CooldownRemaining *int64 `json:"cooldownRemaining,omitempty" example:"604799000"`
}

const (
	// StatusOK — значение статуса для успешного ответа.
	StatusOK = "OK"
	// StatusError — значение статуса для ответа с ошибкой.
	StatusError = "Error"
)

// StatusOKWithData возвращает успешный Response с переданными данными.
func StatusOKWithData(data any) Response {
	return Response{
		Status: StatusOK,
		Data:   data,
	}
}

// Error возвращает ErrorResponse с переданным сообщением.
func Error(msg string) ErrorResponse {
	return ErrorResponse{
		Status: StatusError,
		Error:  msg,
	}
}

var kindStatus = map[licensing.Kind]int{
	licensing.KindNotFound:              http.StatusNotFound,
	licensing.KindNotEntitled:           http.StatusForbidden,
	licensing.KindAlreadyBound:          http.StatusConflict,
	licensing.KindLimitReached:          http.StatusForbidden,
	licensing.KindCooldownActive:        http.StatusTooManyRequests,
	licensing.KindInvalidArgument:       http.StatusBadRequest,
	licensing.KindUnauthorized:          http.StatusForbidden,
	licensing.KindIdentityProviderError: http.StatusBadRequest,
	licensing.KindStorageError:          http.StatusInternalServerError,
}

// StatusFor возвращает HTTP-статус для типа ошибки.
func StatusFor(kind licensing.Kind) int {
	if code, ok := kindStatus[kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// LicensingError формирует тело ответа для ошибки. Посторонние ошибки
// отдаются как STORAGE_ERROR без деталей.
func LicensingError(err error) (int, ErrorResponse) {
	e, ok := licensing.AsError(err)
	if !ok {
		e = licensing.ErrStorageError
	}
	body := ErrorResponse{
		Status: StatusError,
		Error:  e.Message,
		Kind:   string(e.Kind),
	}
	if e.Kind == licensing.KindCooldownActive {
		ms := e.CooldownRemaining.Milliseconds()
		body.CooldownRemaining = &ms
	}
	return StatusFor(e.Kind), body
}

// WriteError пишет ошибку лицензирования в ответ. Для COOLDOWN_ACTIVE
// дополнительно выставляется Retry-After в секундах.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	code, body := LicensingError(err)
	if body.CooldownRemaining != nil {
		seconds := int64(math.Ceil(float64(*body.CooldownRemaining) / 1000))
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}
	render.Status(r, code)
	render.JSON(w, r, body)
}

// ValidationError формирует Response со статусом Error на основе ошибок валидации.
// Каждое нарушение формируется в человеко‑читаемый текст, объединённый через запятую.
func ValidationError(errs validator.ValidationErrors) ErrorResponse {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "email":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be a valid email", err.Field()))
		case "min":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be at least %s", err.Field(), err.Param()))
		case "max":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be at most %s", err.Field(), err.Param()))
		case "oneof":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be one of [%s]", err.Field(), err.Param()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not a valid", err.Field()))
		}
	}
	return ErrorResponse{
		Status: StatusError,
		Error:  strings.Join(errsMsgs, ", "),
		Kind:   string(licensing.KindInvalidArgument),
	}
}
