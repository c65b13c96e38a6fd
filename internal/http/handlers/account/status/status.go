// Package status реализует HTTP-обработчик состояния лицензии текущего аккаунта.
package status

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/hwid-licensing/internal/http/dto"
	"github.com/magabrotheeeer/hwid-licensing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/hwid-licensing/internal/http/response"
	"github.com/magabrotheeeer/hwid-licensing/internal/services/license"
)

// Service возвращает состояние лицензии аккаунта.
type Service interface {
	Status(ctx context.Context, accountID string) (license.AccountStatus, error)
}

// View — тело ответа. CooldownRemaining в миллисекундах.
type View struct {
	Account           dto.Account `json:"account"`
	Entitled          bool        `json:"entitled"`
	RemainingChanges  int         `json:"remainingChanges"`
	CooldownRemaining int64       `json:"cooldownRemaining"`
}

// Handler обрабатывает запросы состояния аккаунта.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Состояние лицензии
// @Description Возвращает запись аккаунта, наличие подписки, остаток смен HWID и кулдауна.
// @Tags Account
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=View}
// @Failure 401 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /account [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.account.status"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	accountID, err := middlewarectx.ResolveAccountID(r.Context(), "")
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	st, err := h.service.Status(r.Context(), accountID)
	if err != nil {
		log.Info("status lookup failed", slog.String("account_id", accountID))
		response.WriteError(w, r, err)
		return
	}

	render.JSON(w, r, response.StatusOKWithData(View{
		Account:           dto.FromAccount(st.Account),
		Entitled:          st.Entitled,
		RemainingChanges:  st.RemainingChanges,
		CooldownRemaining: st.CooldownRemaining.Milliseconds(),
	}))
}
