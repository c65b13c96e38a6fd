// Package scheduler выполняет фоновое обслуживание: отключает истёкшие
// записи белого списка и предупреждает владельцев о скором окончании подписки.
// Обе задачи идемпотентны и не влияют на проверку прав, которая всегда
// считается по текущей дате окончания.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/hwid-licensing/internal/config"
	"github.com/magabrotheeeer/hwid-licensing/internal/events"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/hwid-licensing/internal/models"
)

// AccountRepository ищет аккаунты с истекающей подпиской.
type AccountRepository interface {
	FindSubscriptionsExpiringBetween(ctx context.Context, from, to time.Time) ([]*models.Account, error)
}

// AllowlistSweeper отключает истёкшие записи белого списка.
type AllowlistSweeper interface {
	DeactivateExpired(ctx context.Context) (int, error)
}

// Service — планировщик фоновых задач.
type Service struct {
	log      *slog.Logger
	accounts AccountRepository
	sweeper  AllowlistSweeper
	notifier events.Notifier
	cfg      config.Scheduler
	now      func() time.Time
}

// New создаёт Service.
func New(log *slog.Logger, accounts AccountRepository, sweeper AllowlistSweeper, notifier events.Notifier, cfg config.Scheduler) *Service {
	return &Service{
		log:      log,
		accounts: accounts,
		sweeper:  sweeper,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock подменяет источник текущего времени.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Run запускает обе задачи сразу и затем по расписанию до отмены ctx.
func (s *Service) Run(ctx context.Context) error {
	s.runSweep(ctx)
	s.runNotice(ctx)

	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()
	notice := time.NewTicker(s.cfg.NoticeInterval)
	defer notice.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-sweep.C:
			s.runSweep(ctx)
		case <-notice.C:
			s.runNotice(ctx)
		}
	}
}

// SweepAllowlist отключает истёкшие записи белого списка.
func (s *Service) SweepAllowlist(ctx context.Context) (int, error) {
	return s.sweeper.DeactivateExpired(ctx)
}

// NotifyExpiring публикует уведомления для подписок, истекающих в интервале
// [now+NoticeWindow, now+NoticeWindow+NoticeInterval). Соседние запуски не
// пересекаются, поэтому каждый аккаунт получает одно уведомление.
func (s *Service) NotifyExpiring(ctx context.Context) (int, error) {
	const op = "scheduler.NotifyExpiring"
	now := s.now()
	from := now.Add(s.cfg.NoticeWindow)
	to := from.Add(s.cfg.NoticeInterval)

	accounts, err := s.accounts.FindSubscriptionsExpiringBetween(ctx, from, to)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, acc := range accounts {
		if !acc.SubscriptionType.Fixed() || acc.ExpirationDate == nil {
			continue
		}
		s.notifier.Notify(ctx, models.LicenseEvent{
			Type:           models.EventSubscriptionExpiring,
			AccountID:      acc.ID,
			Email:          acc.Email,
			ExpirationDate: acc.ExpirationDate,
			At:             now,
		})
		sent++
	}
	s.log.Debug("expiring subscriptions processed", slog.String("op", op), slog.Int("count", sent))
	return sent, nil
}

func (s *Service) runSweep(ctx context.Context) {
	s.log.Info("starting allow-list sweep")
	n, err := s.SweepAllowlist(ctx)
	if err != nil {
		s.log.Error("failed to deactivate expired hwids", sl.Err(err))
		return
	}
	if n == 0 {
		s.log.Info("no expired hwids found")
		return
	}
	s.log.Info("expired hwids deactivated", slog.Int("count", n))
}

func (s *Service) runNotice(ctx context.Context) {
	s.log.Info("starting search for expiring subscriptions")
	n, err := s.NotifyExpiring(ctx)
	if err != nil {
		s.log.Error("failed to find expiring subscriptions", sl.Err(err))
		return
	}
	if n == 0 {
		s.log.Info("no expiring subscriptions found")
		return
	}
	s.log.Info("found expiring subscriptions", slog.Int("count", n))
}
