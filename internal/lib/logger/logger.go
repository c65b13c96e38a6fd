// Package logger создаёт slog.Logger по окружению запуска.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/magabrotheeeer/hwid-licensing/internal/config"
)

// New возвращает текстовый логгер с уровнем Debug для local
// и JSON-логгер для dev и prod.
func New(env string) *slog.Logger {
	return newWithWriter(env, os.Stdout)
}

func newWithWriter(env string, w io.Writer) *slog.Logger {
	switch env {
	case config.EnvLocal:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case config.EnvDev:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
}
