// Package allowlist ведёт белый список отпечатков, который напрямую
// проверяет лицензируемое клиентское ПО. Список независим от поля HWID
// аккаунта и не синхронизируется с ним.
package allowlist

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/hwid-licensing/internal/cache"
	"github.com/magabrotheeeer/hwid-licensing/internal/events"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/hwid"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/hwid-licensing/internal/licensing"
	"github.com/magabrotheeeer/hwid-licensing/internal/metrics"
	"github.com/magabrotheeeer/hwid-licensing/internal/models"
	"github.com/magabrotheeeer/hwid-licensing/internal/storage"
)

// Repository описывает хранилище белого списка.
type Repository interface {
	UpsertAllowedHwid(ctx context.Context, entry models.AllowedHwid) error
	GetAllowedHwid(ctx context.Context, fingerprint string) (*models.AllowedHwid, error)
	SetAllowedHwidActive(ctx context.Context, fingerprint string, active bool) error
	RemoveAllowedHwid(ctx context.Context, fingerprint string) error
	ListAllowedHwids(ctx context.Context) ([]*models.AllowedHwid, error)
	DeactivateExpiredHwids(ctx context.Context, now time.Time) ([]string, error)
}

// Cache описывает кэш результатов проверки.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// cachedEntry хранит и положительный, и отрицательный результат поиска.
type cachedEntry struct {
	Found bool                `json:"found"`
	Entry *models.AllowedHwid `json:"entry,omitempty"`
}

// Service управляет белым списком.
type Service struct {
	log      *slog.Logger
	repo     Repository
	cache    Cache
	cacheTTL time.Duration
	notifier events.Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithCache включает кэширование проверок на ttl.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
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
func New(log *slog.Logger, repo Repository, opts ...Option) *Service {
	s := &Service{
		log:      log,
		repo:     repo,
		notifier: events.Nop{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add нормализует HWID и добавляет его в список с активным статусом.
// Существующая запись перезаписывается новым сроком.
func (s *Service) Add(ctx context.Context, raw string, amount int, unit Unit) (*models.AllowedHwid, error) {
	const op = "allowlist.Add"
	if strings.TrimSpace(raw) == "" {
		return nil, licensing.InvalidArgument("hwid is required")
	}
	now := s.now()
	expiresAt, err := ExpiresAt(now, amount, unit)
	if err != nil {
		return nil, err
	}
	entry := models.AllowedHwid{
		Fingerprint: hwid.Normalize(raw),
		Active:      true,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}
	if err = s.repo.UpsertAllowedHwid(ctx, entry); err != nil {
		return nil, s.fail(op, err)
	}
	s.invalidate(ctx, entry.Fingerprint)
	s.publish(ctx, entry.Fingerprint, "add")
	return &entry, nil
}

// SetActive включает или отключает запись.
func (s *Service) SetActive(ctx context.Context, fingerprint string, active bool) error {
	const op = "allowlist.SetActive"
	fingerprint = strings.ToLower(strings.TrimSpace(fingerprint))
	if err := s.repo.SetAllowedHwidActive(ctx, fingerprint, active); err != nil {
		return s.fail(op, err)
	}
	s.invalidate(ctx, fingerprint)
	action := "deactivate"
	if active {
		action = "activate"
	}
	s.publish(ctx, fingerprint, action)
	return nil
}

// Remove удаляет запись.
func (s *Service) Remove(ctx context.Context, fingerprint string) error {
	const op = "allowlist.Remove"
	fingerprint = strings.ToLower(strings.TrimSpace(fingerprint))
	if err := s.repo.RemoveAllowedHwid(ctx, fingerprint); err != nil {
		return s.fail(op, err)
	}
	s.invalidate(ctx, fingerprint)
	s.publish(ctx, fingerprint, "remove")
	return nil
}

// List возвращает весь список.
func (s *Service) List(ctx context.Context) ([]*models.AllowedHwid, error) {
	entries, err := s.repo.ListAllowedHwids(ctx)
	if err != nil {
		return nil, s.fail("allowlist.List", err)
	}
	return entries, nil
}

// Lookup возвращает запись по отпечатку или nil, если её нет.
// Результат, включая отсутствие записи, кэшируется.
func (s *Service) Lookup(ctx context.Context, fingerprint string) (*models.AllowedHwid, error) {
	const op = "allowlist.Lookup"
	key := cache.AllowlistKey(fingerprint)

	if s.cache != nil {
		var cached cachedEntry
		found, err := s.cache.Get(ctx, key, &cached)
		switch {
		case err != nil:
			s.metrics.ObserveCacheLookup("error")
			s.log.Warn("allow-list cache read failed", slog.String("op", op), sl.Err(err))
		case found:
			s.metrics.ObserveCacheLookup("hit")
			return cached.Entry, nil
		default:
			s.metrics.ObserveCacheLookup("miss")
		}
	}

	entry, err := s.repo.GetAllowedHwid(ctx, fingerprint)
	if err != nil && !isNotFound(err) {
		return nil, s.fail(op, err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, cachedEntry{Found: entry != nil, Entry: entry}, s.cacheTTL); err != nil {
			s.log.Warn("allow-list cache write failed", slog.String("op", op), sl.Err(err))
		}
	}
	return entry, nil
}

// DeactivateExpired отключает записи с истёкшим сроком и возвращает их число.
// Повторный вызов безопасен.
func (s *Service) DeactivateExpired(ctx context.Context) (int, error) {
	const op = "allowlist.DeactivateExpired"
	fingerprints, err := s.repo.DeactivateExpiredHwids(ctx, s.now())
	if err != nil {
		return 0, s.fail(op, err)
	}
	for _, fp := range fingerprints {
		s.invalidate(ctx, fp)
		s.publish(ctx, fp, "expire")
	}
	return len(fingerprints), nil
}

func (s *Service) invalidate(ctx context.Context, fingerprint string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, cache.AllowlistKey(fingerprint)); err != nil {
		s.log.Warn("allow-list cache invalidation failed", slog.String("fingerprint", fingerprint), sl.Err(err))
	}
}

func (s *Service) publish(ctx context.Context, fingerprint, action string) {
	s.notifier.Notify(ctx, models.LicenseEvent{
		Type:        models.EventAllowlistUpdated,
		Fingerprint: fingerprint,
		Action:      action,
		At:          s.now(),
	})
}

func (s *Service) fail(op string, err error) error {
	lerr := storage.AsLicensing(err)
	if e, ok := licensing.AsError(lerr); ok && !e.Expected() {
		s.log.Error("allow-list operation failed", slog.String("op", op), sl.Err(err))
	}
	return lerr
}

func isNotFound(err error) bool {
	return licensing.KindOf(storage.AsLicensing(err)) == licensing.KindNotFound
}
