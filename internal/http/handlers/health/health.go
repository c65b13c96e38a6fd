// Package health отдаёт состояние сервиса для проверок балансировщика.
package health

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/hwid-licensing/internal/http/response"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/sl"
)

// Pinger проверяет доступность зависимости.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler проверяет зависимости и отвечает 200 или 503.
type Handler struct {
	log    *slog.Logger
	checks map[string]Pinger
}

// New создает Handler. checks может быть пустым.
func New(log *slog.Logger, checks map[string]Pinger) *Handler {
	return &Handler{log: log, checks: checks}
}

// ServeHTTP godoc
// @Summary Проверка состояния
// @Tags Health
// @Produce json
// @Success 200 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /health [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"

	status := make(map[string]string, len(h.checks)+1)
	healthy := true
	for name, p := range h.checks {
		if err := p.Ping(r.Context()); err != nil {
			h.log.Warn("dependency unavailable", slog.String("op", op), slog.String("dependency", name), sl.Err(err))
			status[name] = "unavailable"
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	if healthy {
		status["status"] = "ok"
		render.JSON(w, r, response.StatusOKWithData(status))
		return
	}
	status["status"] = "degraded"
	render.Status(r, http.StatusServiceUnavailable)
	render.JSON(w, r, response.Response{Status: response.StatusError, Error: "dependency unavailable", Data: status})
}
