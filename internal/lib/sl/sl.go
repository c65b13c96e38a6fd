// Package sl содержит вспомогательные функции для работы с логгером slog.
// Основная цель — единообразно формировать структурированные поля лога
// для ошибок и операций лицензирования.
package sl

import "log/slog"

// Err возвращает slog.Attr с ключом "error" и значением текста ошибки.
//
// Пример:
//
//	log.Error("failed to load account", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Account возвращает атрибут с идентификатором аккаунта.
func Account(id string) slog.Attr {
	return slog.String("account_id", id)
}

// Kind возвращает атрибут с машинно-читаемым типом ошибки лицензирования.
func Kind(kind string) slog.Attr {
	return slog.String("kind", kind)
}
