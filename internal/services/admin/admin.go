// Package admin выполняет привилегированные операции над записями аккаунтов
// и белым списком. Пользовательская политика привязки HWID здесь не
// применяется; права проверяются по роли, записанной в аккаунте инициатора.
package admin

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/hwid-licensing/internal/events"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/hwid-licensing/internal/licensing"
	"github.com/magabrotheeeer/hwid-licensing/internal/metrics"
	"github.com/magabrotheeeer/hwid-licensing/internal/models"
	"github.com/magabrotheeeer/hwid-licensing/internal/services/allowlist"
	"github.com/magabrotheeeer/hwid-licensing/internal/storage"
)

// AccountRepository описывает доступ к записям аккаунтов.
type AccountRepository interface {
	CreateAccount(ctx context.Context, acc *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	UpdateAccount(ctx context.Context, id string, fn func(acc *models.Account) error) (*models.Account, error)
	ListAccounts(ctx context.Context, limit, offset int) ([]*models.Account, error)
}

// IdentityVerifier создаёт и удаляет учётные записи провайдера идентификации.
type IdentityVerifier interface {
	CreateIdentity(ctx context.Context, email, password string) (string, error)
	DeleteIdentity(ctx context.Context, id string) error
}

// Allowlist — операции с белым списком отпечатков.
type Allowlist interface {
	Add(ctx context.Context, raw string, amount int, unit allowlist.Unit) (*models.AllowedHwid, error)
	SetActive(ctx context.Context, fingerprint string, active bool) error
	Remove(ctx context.Context, fingerprint string) error
	List(ctx context.Context) ([]*models.AllowedHwid, error)
}

// DefaultListLimit ограничивает listAccounts без явного лимита.
const DefaultListLimit = 100

// Command — административная команда. Используются только поля,
// относящиеся к Action.
type Command struct {
	Action   Action
	ActorID  string
	TargetID string

	Days             int
	SubscriptionType models.SubscriptionType
	Hwid             string
	Patch            models.AccountPatch
	NewAccount       models.NewAccount

	Fingerprint string
	Amount      int
	Unit        allowlist.Unit
	Active      *bool // обязательно для setAllowedHwidActive

	Limit  int
	Offset int
}

// Service — сервис административных операций.
type Service struct {
	log        *slog.Logger
	accounts   AccountRepository
	identities IdentityVerifier
	allowlist  Allowlist
	access     AccessPolicy
	notifier   events.Notifier
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithAccessPolicy задаёт таблицу возможностей ролей.
func WithAccessPolicy(p AccessPolicy) Option {
	return func(s *Service) { s.access = p }
}

// WithNotifier задаёт получателя событий.
func WithNotifier(n events.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New создаёт Service.
func New(log *slog.Logger, accounts AccountRepository, identities IdentityVerifier, list Allowlist, opts ...Option) *Service {
	s := &Service{
		log:        log,
		accounts:   accounts,
		identities: identities,
		allowlist:  list,
		access:     DefaultAccessPolicy(),
		notifier:   events.Nop{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute выполняет команду и возвращает результат действия.
func (s *Service) Execute(ctx context.Context, cmd Command) (any, error) {
	switch cmd.Action {
	case ActionResetHwidCounter:
		return s.ResetHwidCounter(ctx, cmd.ActorID, cmd.TargetID)
	case ActionExtendExpiration:
		return s.ExtendExpiration(ctx, cmd.ActorID, cmd.TargetID, cmd.Days)
	case ActionAssignSubscription:
		return s.AssignSubscription(ctx, cmd.ActorID, cmd.TargetID, cmd.SubscriptionType)
	case ActionSetHwid:
		return s.SetHwid(ctx, cmd.ActorID, cmd.TargetID, cmd.Hwid)
	case ActionEditAccount:
		return s.EditAccount(ctx, cmd.ActorID, cmd.TargetID, cmd.Patch)
	case ActionCreateAccount:
		return s.CreateAccount(ctx, cmd.ActorID, cmd.NewAccount)
	case ActionAddAllowedHwid:
		return s.AddAllowedHwid(ctx, cmd.ActorID, cmd.Hwid, cmd.Amount, cmd.Unit)
	case ActionSetAllowedHwidActive:
		if cmd.Active == nil {
			return nil, licensing.InvalidArgument("active is required for %s", cmd.Action)
		}
		return nil, s.SetAllowedHwidActive(ctx, cmd.ActorID, cmd.Fingerprint, *cmd.Active)
	case ActionRemoveAllowedHwid:
		return nil, s.RemoveAllowedHwid(ctx, cmd.ActorID, cmd.Fingerprint)
	case ActionListAllowedHwids:
		return s.ListAllowedHwids(ctx, cmd.ActorID)
	case ActionListAccounts:
		return s.ListAccounts(ctx, cmd.ActorID, cmd.Limit, cmd.Offset)
	case ActionGetAccount:
		return s.GetAccount(ctx, cmd.ActorID, cmd.TargetID)
	default:
		return nil, licensing.InvalidArgument("unknown action %q", cmd.Action)
	}
}

// ResetHwidCounter безусловно обнуляет счётчик смен HWID и дату последней смены.
func (s *Service) ResetHwidCounter(ctx context.Context, actorID, targetID string) (*models.Account, error) {
	return s.update(ctx, actorID, targetID, ActionResetHwidCounter, func(_ *models.Account, acc *models.Account, _ time.Time) error {
		acc.HwidChangeCount = 0
		acc.LastHwidChangeDate = nil
		return nil
	})
}

// ExtendExpiration продлевает подписку на days суток.
func (s *Service) ExtendExpiration(ctx context.Context, actorID, targetID string, days int) (*models.Account, error) {
	return s.update(ctx, actorID, targetID, ActionExtendExpiration, func(_ *models.Account, acc *models.Account, now time.Time) error {
		exp, err := licensing.Extend(acc, days, now)
		if err != nil {
			return err
		}
		acc.ExpirationDate = &exp
		return nil
	})
}

// AssignSubscription назначает подписку, заменяя прежний срок.
func (s *Service) AssignSubscription(ctx context.Context, actorID, targetID string, subType models.SubscriptionType) (*models.Account, error) {
	return s.update(ctx, actorID, targetID, ActionAssignSubscription, func(_ *models.Account, acc *models.Account, now time.Time) error {
		grant, err := licensing.Assign(subType, now)
		if err != nil {
			return err
		}
		grant.Apply(acc)
		return nil
	})
}

// SetHwid записывает значение HWID как есть; пустая строка снимает привязку.
func (s *Service) SetHwid(ctx context.Context, actorID, targetID, value string) (*models.Account, error) {
	return s.update(ctx, actorID, targetID, ActionSetHwid, func(_ *models.Account, acc *models.Account, _ time.Time) error {
		acc.Hwid = value
		return nil
	})
}

// EditAccount применяет произвольное изменение записи в обход политики.
// Переход на lifetime очищает дату окончания, если она не задана явно.
func (s *Service) EditAccount(ctx context.Context, actorID, targetID string, patch models.AccountPatch) (*models.Account, error) {
	return s.update(ctx, actorID, targetID, ActionEditAccount, func(actor *models.Account, acc *models.Account, _ time.Time) error {
		if patch.Role != nil {
			role := *patch.Role
			if !role.Valid() {
				return licensing.InvalidArgument("unknown role %q", role)
			}
			if role != acc.Role && (role.Elevated() || acc.Role.Elevated()) && !s.access.CanGrant(actor.Role) {
				return licensing.Unauthorized("changing administrative roles is not permitted for this role")
			}
			acc.Role = role
		}
		if patch.SubscriptionType != nil {
			subType, ok := models.ParseSubscriptionType(string(*patch.SubscriptionType))
			if !ok {
				return licensing.InvalidArgument("unknown subscription type %q", *patch.SubscriptionType)
			}
			acc.SubscriptionType = subType
			if subType == models.SubscriptionLifetime {
				acc.ExpirationDate = nil
			}
		}
		if patch.Hwid != nil {
			acc.Hwid = *patch.Hwid
		}
		if patch.PurchaseDate.Set {
			acc.PurchaseDate = patch.PurchaseDate.Time
		}
		if patch.ExpirationDate.Set {
			acc.ExpirationDate = patch.ExpirationDate.Time
		}
		return nil
	})
}

// CreateAccount создаёт учётную запись и запись аккаунта. Если запись
// аккаунта сохранить не удалось, учётная запись удаляется.
func (s *Service) CreateAccount(ctx context.Context, actorID string, req models.NewAccount) (*models.Account, error) {
	const op = "admin.CreateAccount"
	log := s.log.With(slog.String("op", op), slog.String("actor_id", actorID))

	actor, err := s.authorize(ctx, actorID, ActionCreateAccount)
	if err != nil {
		return nil, s.finish(log, ActionCreateAccount, err)
	}

	acc, err := s.newAccount(actor, req)
	if err != nil {
		return nil, s.finish(log, ActionCreateAccount, err)
	}

	id, err := s.identities.CreateIdentity(ctx, acc.Email, req.Password)
	if err != nil {
		if _, ok := licensing.AsError(err); !ok {
			err = licensing.IdentityProvider("identity creation failed", err)
		}
		return nil, s.finish(log, ActionCreateAccount, err)
	}
	acc.ID = id

	if err = s.accounts.CreateAccount(ctx, acc); err != nil {
		if derr := s.identities.DeleteIdentity(ctx, id); derr != nil {
			log.Error("failed to roll back identity", sl.Account(id), sl.Err(derr))
		}
		return nil, s.finish(log, ActionCreateAccount, err)
	}

	log.Info("account created", sl.Account(id), slog.String("role", string(acc.Role)))
	s.finish(log, ActionCreateAccount, nil)
	s.notifier.Notify(ctx, models.LicenseEvent{
		Type:           models.EventAccountCreated,
		AccountID:      acc.ID,
		Email:          acc.Email,
		Fingerprint:    acc.Hwid,
		Action:         string(ActionCreateAccount),
		ActorID:        actorID,
		ExpirationDate: acc.ExpirationDate,
		At:             acc.CreatedAt,
	})
	return acc, nil
}

func (s *Service) newAccount(actor *models.Account, req models.NewAccount) (*models.Account, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return nil, licensing.InvalidArgument("email and password are required")
	}

	role := req.Role
	if role == "" {
		role = models.RoleUser
	}
	if !role.Valid() {
		return nil, licensing.InvalidArgument("unknown role %q", role)
	}
	if role.Elevated() && !s.access.CanGrant(actor.Role) {
		return nil, licensing.Unauthorized("granting administrative roles is not permitted for this role")
	}

	subType, ok := models.ParseSubscriptionType(string(req.SubscriptionType))
	if !ok {
		return nil, licensing.InvalidArgument("unknown subscription type %q", req.SubscriptionType)
	}

	now := s.now().UTC()
	acc := &models.Account{
		Email:            strings.ToLower(email),
		Role:             role,
		CreatedAt:        now,
		SubscriptionType: subType,
		Hwid:             req.Hwid,
	}
	if subType != models.SubscriptionNone {
		acc.PurchaseDate = models.TimePtr(now)
	}
	if req.ExpirationDate != nil && subType != models.SubscriptionLifetime {
		acc.ExpirationDate = models.TimePtr(*req.ExpirationDate)
	}
	return acc, nil
}

// GetAccount возвращает запись аккаунта.
func (s *Service) GetAccount(ctx context.Context, actorID, targetID string) (*models.Account, error) {
	log := s.log.With(slog.String("op", "admin.GetAccount"), slog.String("actor_id", actorID))
	if _, err := s.authorize(ctx, actorID, ActionGetAccount); err != nil {
		return nil, s.finish(log, ActionGetAccount, err)
	}
	if targetID == "" {
		return nil, s.finish(log, ActionGetAccount, licensing.InvalidArgument("target account id is required"))
	}
	acc, err := s.accounts.GetAccount(ctx, targetID)
	if err != nil {
		return nil, s.finish(log, ActionGetAccount, err)
	}
	s.finish(log, ActionGetAccount, nil)
	return acc, nil
}

// ListAccounts возвращает аккаунты постранично.
func (s *Service) ListAccounts(ctx context.Context, actorID string, limit, offset int) ([]*models.Account, error) {
	log := s.log.With(slog.String("op", "admin.ListAccounts"), slog.String("actor_id", actorID))
	if _, err := s.authorize(ctx, actorID, ActionListAccounts); err != nil {
		return nil, s.finish(log, ActionListAccounts, err)
	}
	if limit < 0 || offset < 0 {
		return nil, s.finish(log, ActionListAccounts, licensing.InvalidArgument("limit and offset must not be negative"))
	}
	if limit == 0 {
		limit = DefaultListLimit
	}
	accounts, err := s.accounts.ListAccounts(ctx, limit, offset)
	if err != nil {
		return nil, s.finish(log, ActionListAccounts, err)
	}
	s.finish(log, ActionListAccounts, nil)
	return accounts, nil
}

// AddAllowedHwid добавляет отпечаток в белый список на заданный срок.
func (s *Service) AddAllowedHwid(ctx context.Context, actorID, raw string, amount int, unit allowlist.Unit) (*models.AllowedHwid, error) {
	log := s.log.With(slog.String("op", "admin.AddAllowedHwid"), slog.String("actor_id", actorID))
	if _, err := s.authorize(ctx, actorID, ActionAddAllowedHwid); err != nil {
		return nil, s.finish(log, ActionAddAllowedHwid, err)
	}
	entry, err := s.allowlist.Add(ctx, raw, amount, unit)
	if err != nil {
		return nil, s.finish(log, ActionAddAllowedHwid, err)
	}
	log.Info("allow-list entry added", slog.String("fingerprint", entry.Fingerprint))
	s.finish(log, ActionAddAllowedHwid, nil)
	return entry, nil
}

// SetAllowedHwidActive включает или отключает запись белого списка.
func (s *Service) SetAllowedHwidActive(ctx context.Context, actorID, fingerprint string, active bool) error {
	log := s.log.With(slog.String("op", "admin.SetAllowedHwidActive"), slog.String("actor_id", actorID))
	if _, err := s.authorize(ctx, actorID, ActionSetAllowedHwidActive); err != nil {
		return s.finish(log, ActionSetAllowedHwidActive, err)
	}
	if err := s.allowlist.SetActive(ctx, fingerprint, active); err != nil {
		return s.finish(log, ActionSetAllowedHwidActive, err)
	}
	return s.finish(log, ActionSetAllowedHwidActive, nil)
}

// RemoveAllowedHwid удаляет запись белого списка.
func (s *Service) RemoveAllowedHwid(ctx context.Context, actorID, fingerprint string) error {
	log := s.log.With(slog.String("op", "admin.RemoveAllowedHwid"), slog.String("actor_id", actorID))
	if _, err := s.authorize(ctx, actorID, ActionRemoveAllowedHwid); err != nil {
		return s.finish(log, ActionRemoveAllowedHwid, err)
	}
	if err := s.allowlist.Remove(ctx, fingerprint); err != nil {
		return s.finish(log, ActionRemoveAllowedHwid, err)
	}
	return s.finish(log, ActionRemoveAllowedHwid, nil)
}

// ListAllowedHwids возвращает белый список.
func (s *Service) ListAllowedHwids(ctx context.Context, actorID string) ([]*models.AllowedHwid, error) {
	log := s.log.With(slog.String("op", "admin.ListAllowedHwids"), slog.String("actor_id", actorID))
	if _, err := s.authorize(ctx, actorID, ActionListAllowedHwids); err != nil {
		return nil, s.finish(log, ActionListAllowedHwids, err)
	}
	entries, err := s.allowlist.List(ctx)
	if err != nil {
		return nil, s.finish(log, ActionListAllowedHwids, err)
	}
	s.finish(log, ActionListAllowedHwids, nil)
	return entries, nil
}

type mutation func(actor *models.Account, acc *models.Account, now time.Time) error

// update проверяет права инициатора и атомарно применяет mutate к записи цели.
func (s *Service) update(ctx context.Context, actorID, targetID string, action Action, mutate mutation) (*models.Account, error) {
	log := s.log.With(
		slog.String("op", "admin."+string(action)),
		slog.String("actor_id", actorID),
		sl.Account(targetID),
	)

	actor, err := s.authorize(ctx, actorID, action)
	if err != nil {
		return nil, s.finish(log, action, err)
	}
	if targetID == "" {
		return nil, s.finish(log, action, licensing.InvalidArgument("target account id is required"))
	}

	var now time.Time
	acc, err := s.accounts.UpdateAccount(ctx, targetID, func(acc *models.Account) error {
		now = s.now()
		return mutate(actor, acc, now)
	})
	if err != nil {
		return nil, s.finish(log, action, err)
	}

	log.Info("account updated")
	s.finish(log, action, nil)
	s.notifier.Notify(ctx, models.LicenseEvent{
		Type:           models.EventAccountUpdated,
		AccountID:      acc.ID,
		Email:          acc.Email,
		Fingerprint:    acc.Hwid,
		Action:         string(action),
		ActorID:        actorID,
		ExpirationDate: acc.ExpirationDate,
		At:             now,
	})
	return acc, nil
}

// authorize загружает запись инициатора и сверяет его роль с таблицей возможностей.
func (s *Service) authorize(ctx context.Context, actorID string, action Action) (*models.Account, error) {
	if actorID == "" {
		return nil, licensing.Unauthorized("acting admin id is required")
	}
	actor, err := s.accounts.GetAccount(ctx, actorID)
	if err != nil {
		if licensing.KindOf(storage.AsLicensing(err)) == licensing.KindNotFound {
			return nil, licensing.Unauthorized("acting account not found")
		}
		return nil, err
	}
	if !s.access.CanRun(actor.Role, action) {
		return nil, licensing.Unauthorized("role is not permitted to perform this action")
	}
	return actor, nil
}

// RequireElevated проверяет, что аккаунт инициатора имеет административную роль.
// Используется для подписки на поток событий.
func (s *Service) RequireElevated(ctx context.Context, actorID string) error {
	if actorID == "" {
		return licensing.Unauthorized("acting admin id is required")
	}
	actor, err := s.accounts.GetAccount(ctx, actorID)
	if err != nil {
		lerr := storage.AsLicensing(err)
		if licensing.KindOf(lerr) == licensing.KindNotFound {
			return licensing.Unauthorized("acting account not found")
		}
		return lerr
	}
	if !actor.Role.Elevated() {
		return licensing.Unauthorized("administrative role required")
	}
	return nil
}

// finish учитывает исход в метриках и логирует непредвиденные сбои.
func (s *Service) finish(log *slog.Logger, action Action, err error) error {
	op := "admin." + string(action)
	if err == nil {
		s.metrics.ObserveOperation(op, "ok")
		return nil
	}
	lerr := storage.AsLicensing(err)
	e, _ := licensing.AsError(lerr)
	if e.Expected() {
		log.Info("admin action rejected", sl.Kind(string(e.Kind)), slog.String("reason", e.Message))
	} else {
		log.Error("admin action failed", sl.Err(err))
	}
	s.metrics.ObserveOperation(op, string(e.Kind))
	return lerr
}
