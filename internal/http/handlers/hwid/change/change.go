// Package change реализует HTTP-обработчик смены привязанного HWID.
package change

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/hwid-licensing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/hwid-licensing/internal/http/response"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/hwid-licensing/internal/licensing"
	"github.com/magabrotheeeer/hwid-licensing/internal/services/license"
)

// Request — тело запроса привязки. AccountID необязателен и должен совпадать
// с субъектом токена.
type Request struct {
	AccountID     string `json:"accountId,omitempty"`
	CandidateHwid string `json:"candidateHwid" validate:"required,max=1024"`
}

// Service описывает смену HWID.
type Service interface {
	ChangeHwid(ctx context.Context, accountID, candidate string) (license.ChangeResult, error)
}

// Handler обрабатывает запросы смены HWID.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Смена HWID
// @Description Заменяет привязанный отпечаток с учётом лимита смен и кулдауна.
// @Tags HWID
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body Request true "Сырой HWID или отпечаток"
// @Success 200 {object} response.Response{data=license.ChangeResult}
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Failure 403 {object} response.ErrorResponse "NOT_ENTITLED, LIMIT_REACHED или чужой accountId"
// @Failure 404 {object} response.ErrorResponse
// @Failure 429 {object} response.ErrorResponse "COOLDOWN_ACTIVE, выставляется Retry-After"
// @Failure 422 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /hwid/change [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.hwid.change"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Info("failed to decode request body", sl.Err(err))
		response.WriteError(w, r, licensing.InvalidArgument("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			log.Info("validation failed", sl.Err(err))
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, response.ValidationError(verrs))
			return
		}
		log.Info("invalid request", sl.Err(err))
		response.WriteError(w, r, licensing.InvalidArgument("invalid request"))
		return
	}

	accountID, err := middlewarectx.ResolveAccountID(r.Context(), req.AccountID)
	if err != nil {
		log.Info("account id mismatch", sl.Err(err))
		response.WriteError(w, r, err)
		return
	}

	res, err := h.service.ChangeHwid(r.Context(), accountID, req.CandidateHwid)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	log.Info("hwid changed", sl.Account(accountID))
	render.JSON(w, r, response.StatusOKWithData(res))
}
