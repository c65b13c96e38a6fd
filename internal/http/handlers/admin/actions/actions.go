// Package actions реализует HTTP-обработчик административных команд.
//
// Все команды приходят на один маршрут и различаются полем action.
// Инициатором считается субъект токена; actingAdminId, если передан,
// должен с ним совпадать. Права проверяются сервисом по записи аккаунта.
package actions

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/hwid-licensing/internal/http/dto"
	"github.com/magabrotheeeer/hwid-licensing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/hwid-licensing/internal/http/response"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/hwid-licensing/internal/licensing"
	"github.com/magabrotheeeer/hwid-licensing/internal/models"
	"github.com/magabrotheeeer/hwid-licensing/internal/services/admin"
	"github.com/magabrotheeeer/hwid-licensing/internal/services/allowlist"
)

// Request — тело административной команды. Используются только поля,
// относящиеся к action.
type Request struct {
	Action          string `json:"action" validate:"required"`
	ActingAdminID   string `json:"actingAdminId,omitempty"`
	TargetAccountID string `json:"targetAccountId,omitempty"`

	Days             int                `json:"days,omitempty"`
	SubscriptionType *string            `json:"subscriptionType,omitempty"`
	Hwid             *string            `json:"hwid,omitempty"`
	Role             *string            `json:"role,omitempty"`
	PurchaseDate     dto.OptionalMillis `json:"purchaseDate" swaggertype:"integer"`
	ExpirationDate   dto.OptionalMillis `json:"expirationDate" swaggertype:"integer"`

	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`

	Fingerprint string `json:"fingerprint,omitempty"`
	Amount      int    `json:"amount,omitempty"`
	Unit        string `json:"unit,omitempty"`
	Active      *bool  `json:"active,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Result — тело успешного ответа.
type Result struct {
	Result any `json:"result"`
}

// Service выполняет административные команды.
type Service interface {
	Execute(ctx context.Context, cmd admin.Command) (any, error)
}

// Handler обрабатывает административные команды.
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
// @Summary Административная команда
// @Description Выполняет команду: resetHwidCounter, extendExpiration, assignSubscription, setHwid, editAccount, createAccount, addAllowedHwid, setAllowedHwidActive, removeAllowedHwid, listAllowedHwids, listAccounts, getAccount.
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body Request true "Команда"
// @Success 200 {object} response.Response{data=Result}
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Failure 403 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /admin/actions [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.actions"

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

	actorID, err := middlewarectx.ResolveAccountID(r.Context(), req.ActingAdminID)
	if err != nil {
		log.Info("acting admin mismatch", sl.Err(err))
		response.WriteError(w, r, err)
		return
	}

	log = log.With(slog.String("action", req.Action), slog.String("actor_id", actorID))
	result, err := h.service.Execute(r.Context(), toCommand(actorID, req))
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	log.Info("admin action completed")
	render.JSON(w, r, response.StatusOKWithData(Result{Result: view(result)}))
}

func toCommand(actorID string, req Request) admin.Command {
	cmd := admin.Command{
		Action:      admin.Action(req.Action),
		ActorID:     actorID,
		TargetID:    req.TargetAccountID,
		Days:        req.Days,
		Fingerprint: req.Fingerprint,
		Amount:      req.Amount,
		Unit:        allowlist.Unit(req.Unit),
		Active:      req.Active,
		Limit:       req.Limit,
		Offset:      req.Offset,
	}
	if req.Hwid != nil {
		cmd.Hwid = *req.Hwid
	}
	if req.SubscriptionType != nil {
		cmd.SubscriptionType = models.SubscriptionType(*req.SubscriptionType)
	}

	switch cmd.Action {
	case admin.ActionEditAccount:
		patch := models.AccountPatch{
			Hwid:           req.Hwid,
			PurchaseDate:   req.PurchaseDate.NullableTime(),
			ExpirationDate: req.ExpirationDate.NullableTime(),
		}
		if req.Role != nil {
			role := models.Role(*req.Role)
			patch.Role = &role
		}
		if req.SubscriptionType != nil {
			subType := models.SubscriptionType(*req.SubscriptionType)
			patch.SubscriptionType = &subType
		}
		cmd.Patch = patch
	case admin.ActionCreateAccount:
		na := models.NewAccount{
			Email:            req.Email,
			Password:         req.Password,
			SubscriptionType: cmd.SubscriptionType,
			ExpirationDate:   dto.FromMillis(req.ExpirationDate.Value),
			Hwid:             cmd.Hwid,
		}
		if req.Role != nil {
			na.Role = models.Role(*req.Role)
		}
		cmd.NewAccount = na
	}
	return cmd
}

func view(result any) any {
	switch v := result.(type) {
	case *models.Account:
		return dto.FromAccount(v)
	case []*models.Account:
		return dto.FromAccounts(v)
	case *models.AllowedHwid:
		return dto.FromAllowedHwid(v)
	case []*models.AllowedHwid:
		return dto.FromAllowedHwids(v)
	default:
		return v
	}
}
