// Package stream реализует подписку панели администратора на поток событий лицензий.
package stream

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/hwid-licensing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/hwid-licensing/internal/http/response"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/sl"
)

// Gate проверяет, что инициатор имеет административную роль.
type Gate interface {
	RequireElevated(ctx context.Context, actorID string) error
}

// Stream подключает websocket-клиента к рассылке событий.
type Stream interface {
	ServeWS(w http.ResponseWriter, r *http.Request) error
}

// Handler обрабатывает подключения к потоку событий.
type Handler struct {
	log    *slog.Logger
	gate   Gate
	stream Stream
}

// New создает Handler.
func New(log *slog.Logger, gate Gate, stream Stream) *Handler {
	return &Handler{log: log, gate: gate, stream: stream}
}

// ServeHTTP godoc
// @Summary Поток событий лицензий
// @Description Websocket: после фиксации изменений присылает события models.LicenseEvent. Токен можно передать в параметре access_token.
// @Tags Admin
// @Security BearerAuth
// @Param access_token query string false "JWT для браузерных клиентов"
// @Success 101 "Switching Protocols"
// @Failure 401 {object} response.ErrorResponse
// @Failure 403 {object} response.ErrorResponse
// @Router /admin/events [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.stream"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	actorID, err := middlewarectx.ResolveAccountID(r.Context(), "")
	if err == nil {
		err = h.gate.RequireElevated(r.Context(), actorID)
	}
	if err != nil {
		log.Info("event stream denied", sl.Err(err))
		response.WriteError(w, r, err)
		return
	}

	if err = h.stream.ServeWS(w, r); err != nil {
		// Upgrader уже записал ответ с ошибкой.
		log.Warn("websocket upgrade failed", sl.Err(err))
		return
	}
	log.Info("event stream subscribed", slog.String("actor_id", actorID))
}
