// Package license выполняет пользовательские операции с привязкой HWID:
// первичную привязку, смену и проверку отпечатка клиентским ПО.
// Каждая изменяющая операция выполняется как одно атомарное чтение-проверка-запись
// записи аккаунта в хранилище.
package license

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/hwid-licensing/internal/events"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/hwid"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/hwid-licensing/internal/licensing"
	"github.com/magabrotheeeer/hwid-licensing/internal/metrics"
	"github.com/magabrotheeeer/hwid-licensing/internal/models"
	"github.com/magabrotheeeer/hwid-licensing/internal/storage"
)

// AccountRepository описывает доступ к записям аккаунтов.
type AccountRepository interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	// UpdateAccount атомарно применяет fn к записи. Ошибка fn отменяет запись
	// и возвращается без изменений.
	UpdateAccount(ctx context.Context, id string, fn func(acc *models.Account) error) (*models.Account, error)
	ListAccountsByHwid(ctx context.Context, fingerprint string) ([]*models.Account, error)
}

// AllowlistLookup ищет отпечаток в белом списке. Если записи нет, возвращает nil без ошибки.
type AllowlistLookup interface {
	Lookup(ctx context.Context, fingerprint string) (*models.AllowedHwid, error)
}

// Источники, по которым отпечаток признан допустимым.
const (
	SourceAllowlist = "allowlist"
	SourceAccount   = "account"
	SourceNone      = "none"
)

// SetupResult — результат первичной привязки.
type SetupResult struct {
	Fingerprint string `json:"fingerprint"`
}

// ChangeResult — результат смены HWID.
type ChangeResult struct {
	Fingerprint      string `json:"fingerprint"`
	RemainingChanges int    `json:"remainingChanges"`
}

// AccountStatus — состояние лицензии аккаунта для личного кабинета.
type AccountStatus struct {
	Account           *models.Account
	Entitled          bool
	RemainingChanges  int
	CooldownRemaining time.Duration
}

// Verification — результат проверки отпечатка.
type Verification struct {
	Fingerprint string
	Authorized  bool
	Source      string
	ExpiresAt   *time.Time // nil — бессрочно или не авторизован
}

// Service — сервис пользовательских операций с лицензией.
type Service struct {
	log       *slog.Logger
	accounts  AccountRepository
	allowlist AllowlistLookup
	policy    licensing.Policy
	notifier  events.Notifier
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithPolicy подменяет политику привязки.
func WithPolicy(p licensing.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithAllowlist подключает белый список к проверке отпечатков.
func WithAllowlist(a AllowlistLookup) Option {
	return func(s *Service) { s.allowlist = a }
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
func New(log *slog.Logger, accounts AccountRepository, opts ...Option) *Service {
	s := &Service{
		log:      log,
		accounts: accounts,
		policy:   licensing.DefaultPolicy(),
		notifier: events.Nop{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetupHwid привязывает первый HWID к аккаунту.
func (s *Service) SetupHwid(ctx context.Context, accountID, candidate string) (SetupResult, error) {
	const op = "license.SetupHwid"
	log := s.log.With(slog.String("op", op), sl.Account(accountID))

	fp, err := fingerprint(candidate)
	if err != nil {
		return SetupResult{}, s.finish(log, op, err)
	}

	var now time.Time
	acc, err := s.accounts.UpdateAccount(ctx, accountID, func(acc *models.Account) error {
		now = s.now()
		if err := s.policy.CheckSetup(acc, now); err != nil {
			return err
		}
		s.policy.ApplySetup(acc, fp)
		return nil
	})
	if err != nil {
		return SetupResult{}, s.finish(log, op, err)
	}

	log.Info("hwid bound")
	s.finish(log, op, nil)
	s.notifier.Notify(ctx, models.LicenseEvent{
		Type:        models.EventHwidSetup,
		AccountID:   acc.ID,
		Email:       acc.Email,
		Fingerprint: fp,
		At:          now,
	})
	return SetupResult{Fingerprint: fp}, nil
}

// ChangeHwid заменяет привязанный HWID с учётом лимита смен и кулдауна.
func (s *Service) ChangeHwid(ctx context.Context, accountID, candidate string) (ChangeResult, error) {
	const op = "license.ChangeHwid"
	log := s.log.With(slog.String("op", op), sl.Account(accountID))

	fp, err := fingerprint(candidate)
	if err != nil {
		return ChangeResult{}, s.finish(log, op, err)
	}

	var now time.Time
	acc, err := s.accounts.UpdateAccount(ctx, accountID, func(acc *models.Account) error {
		now = s.now()
		if err := s.policy.CheckChange(acc, now); err != nil {
			return err
		}
		s.policy.ApplyChange(acc, fp, now)
		return nil
	})
	if err != nil {
		return ChangeResult{}, s.finish(log, op, err)
	}

	remaining := s.policy.RemainingChanges(acc)
	log.Info("hwid changed", slog.Int("remaining_changes", remaining))
	s.finish(log, op, nil)
	s.notifier.Notify(ctx, models.LicenseEvent{
		Type:        models.EventHwidChanged,
		AccountID:   acc.ID,
		Email:       acc.Email,
		Fingerprint: fp,
		At:          now,
	})
	return ChangeResult{Fingerprint: fp, RemainingChanges: remaining}, nil
}

// Status возвращает текущее состояние лицензии аккаунта.
func (s *Service) Status(ctx context.Context, accountID string) (AccountStatus, error) {
	const op = "license.Status"
	acc, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return AccountStatus{}, s.fail(s.log.With(slog.String("op", op), sl.Account(accountID)), err)
	}
	now := s.now()
	return AccountStatus{
		Account:           acc,
		Entitled:          licensing.IsEntitled(acc, now),
		RemainingChanges:  s.policy.RemainingChanges(acc),
		CooldownRemaining: s.policy.CooldownRemaining(acc, now),
	}, nil
}

// Verify проверяет, разрешена ли работа клиента на устройстве с данным HWID.
// Отпечаток допустим, если он есть в белом списке (активен и не истёк)
// или привязан к аккаунту с действующей подпиской.
func (s *Service) Verify(ctx context.Context, raw string) (Verification, error) {
	const op = "license.Verify"
	log := s.log.With(slog.String("op", op))

	fp, err := fingerprint(raw)
	if err != nil {
		return Verification{}, err
	}
	now := s.now()
	result := Verification{Fingerprint: fp, Source: SourceNone}

	if s.allowlist != nil {
		entry, err := s.allowlist.Lookup(ctx, fp)
		if err != nil {
			return Verification{}, s.fail(log, err)
		}
		if entry != nil && entry.Usable(now) {
			result.Authorized = true
			result.Source = SourceAllowlist
			result.ExpiresAt = entry.ExpiresAt
		}
	}

	if !result.Authorized {
		accounts, err := s.accounts.ListAccountsByHwid(ctx, fp)
		if err != nil {
			return Verification{}, s.fail(log, err)
		}
		for _, acc := range accounts {
			if !licensing.IsEntitled(acc, now) {
				continue
			}
			result.Authorized = true
			result.Source = SourceAccount
			if acc.SubscriptionType == models.SubscriptionLifetime {
				result.ExpiresAt = nil
				break
			}
			if result.ExpiresAt == nil || acc.ExpirationDate.After(*result.ExpiresAt) {
				result.ExpiresAt = acc.ExpirationDate
			}
		}
	}

	s.metrics.ObserveVerification(result.Source)
	log.Debug("fingerprint verified",
		slog.String("fingerprint", fp),
		slog.Bool("authorized", result.Authorized),
		slog.String("source", result.Source))
	return result, nil
}

func fingerprint(candidate string) (string, error) {
	if strings.TrimSpace(candidate) == "" {
		return "", licensing.InvalidArgument("candidate hwid is required")
	}
	return hwid.Normalize(candidate), nil
}

// finish учитывает исход операции в метриках и возвращает ошибку,
// приведённую к ошибке лицензирования.
func (s *Service) finish(log *slog.Logger, op string, err error) error {
	if err == nil {
		s.metrics.ObserveOperation(op, "ok")
		return nil
	}
	lerr := s.fail(log, err)
	s.metrics.ObserveOperation(op, string(licensing.KindOf(lerr)))
	return lerr
}

// fail пишет непредвиденные сбои на уровне Error, исходы политики на уровне Info.
func (s *Service) fail(log *slog.Logger, err error) error {
	lerr := storage.AsLicensing(err)
	e, _ := licensing.AsError(lerr)
	if e.Expected() {
		log.Info("request rejected", sl.Kind(string(e.Kind)), slog.String("reason", e.Message))
	} else {
		log.Error("operation failed", sl.Err(err))
	}
	return lerr
}
