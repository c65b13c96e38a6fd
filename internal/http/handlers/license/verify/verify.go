// Package verify реализует публичную проверку отпечатка устройства для клиентского ПО.
package verify

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/hwid-licensing/internal/http/dto"
	"github.com/magabrotheeeer/hwid-licensing/internal/http/response"
	"github.com/magabrotheeeer/hwid-licensing/internal/services/license"
)

// Service проверяет отпечаток.
type Service interface {
	Verify(ctx context.Context, raw string) (license.Verification, error)
}

// View — тело ответа. ExpiresAt в миллисекундах; null — бессрочно или не авторизован.
type View struct {
	Fingerprint string `json:"fingerprint"`
	Authorized  bool   `json:"authorized"`
	Source      string `json:"source" example:"account"`
	ExpiresAt   *int64 `json:"expiresAt"`
}

// Handler обрабатывает запросы проверки.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Проверка HWID
// @Description Сообщает, разрешена ли работа клиента на устройстве: по белому списку или по аккаунту с активной подпиской.
// @Tags License
// @Produce json
// @Param hwid query string true "Сырой HWID или отпечаток"
// @Success 200 {object} response.Response{data=View}
// @Failure 400 {object} response.ErrorResponse
// @Failure 429 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /license/verify [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.license.verify"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	res, err := h.service.Verify(r.Context(), r.URL.Query().Get("hwid"))
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	log.Debug("verification served", slog.Bool("authorized", res.Authorized))
	render.JSON(w, r, response.StatusOKWithData(View{
		Fingerprint: res.Fingerprint,
		Authorized:  res.Authorized,
		Source:      res.Source,
		ExpiresAt:   dto.Millis(res.ExpiresAt),
	}))
}
