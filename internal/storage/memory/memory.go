// Package memory реализует хранилище в памяти процесса. Используется
// в тестах и для локального запуска без PostgreSQL. Изменение аккаунта
// сериализуется мьютексом, заведённым на каждый ID аккаунта.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/magabrotheeeer/hwid-licensing/internal/models"
	"github.com/magabrotheeeer/hwid-licensing/internal/storage"
)

// Storage — хранилище аккаунтов, учётных записей и белого списка в памяти.
type Storage struct {
	mu         sync.RWMutex
	accounts   map[string]*models.Account
	identities map[string]*models.Identity
	byEmail    map[string]string
	allowlist  map[string]*models.AllowedHwid

	locks keyedMutex
}

// New создаёт пустое хранилище.
func New() *Storage {
	return &Storage{
		accounts:   make(map[string]*models.Account),
		identities: make(map[string]*models.Identity),
		byEmail:    make(map[string]string),
		allowlist:  make(map[string]*models.AllowedHwid),
		locks:      keyedMutex{locks: make(map[string]*refMutex)},
	}
}

// CreateAccount сохраняет новую запись аккаунта.
func (s *Storage) CreateAccount(ctx context.Context, acc *models.Account) error {
	const op = "memory.CreateAccount"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acc.ID]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAccountExists)
	}
	s.accounts[acc.ID] = acc.Clone()
	return nil
}

// GetAccount возвращает копию записи аккаунта.
func (s *Storage) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	const op = "memory.GetAccount"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
	}
	return acc.Clone(), nil
}

// UpdateAccount выполняет чтение, fn и запись под мьютексом аккаунта.
// Если fn вернула ошибку, запись не меняется.
func (s *Storage) UpdateAccount(ctx context.Context, id string, fn func(acc *models.Account) error) (*models.Account, error) {
	const op = "memory.UpdateAccount"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	acc, err := s.GetAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = fn(acc); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
	}
	s.accounts[id] = acc.Clone()
	return acc, nil
}

// ListAccounts возвращает аккаунты постранично, новые первыми.
func (s *Storage) ListAccounts(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memory.ListAccounts: %w", err)
	}
	all := s.filterAccounts(func(*models.Account) bool { return true })
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

// ListAccountsByHwid возвращает аккаунты, привязанные к отпечатку.
func (s *Storage) ListAccountsByHwid(ctx context.Context, fingerprint string) ([]*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memory.ListAccountsByHwid: %w", err)
	}
	return s.filterAccounts(func(a *models.Account) bool {
		return fingerprint != "" && a.Hwid == fingerprint
	}), nil
}

// FindSubscriptionsExpiringBetween находит срочные подписки, истекающие в интервале [from, to).
func (s *Storage) FindSubscriptionsExpiringBetween(ctx context.Context, from, to time.Time) ([]*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memory.FindSubscriptionsExpiringBetween: %w", err)
	}
	return s.filterAccounts(func(a *models.Account) bool {
		return a.SubscriptionType.Fixed() && a.ExpirationDate != nil &&
			!a.ExpirationDate.Before(from) && a.ExpirationDate.Before(to)
	}), nil
}

func (s *Storage) filterAccounts(keep func(*models.Account) bool) []*models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.Account
	for _, acc := range s.accounts {
		if keep(acc) {
			result = append(result, acc.Clone())
		}
	}
	return result
}

// CreateIdentity сохраняет учётную запись и возвращает её ID.
func (s *Storage) CreateIdentity(ctx context.Context, identity models.Identity) (string, error) {
	const op = "memory.CreateIdentity"
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[identity.Email]; ok {
		return "", fmt.Errorf("%s: %w", op, storage.ErrEmailTaken)
	}
	v := identity
	s.identities[identity.ID] = &v
	s.byEmail[identity.Email] = identity.ID
	return identity.ID, nil
}

// GetIdentityByEmail возвращает учётную запись по электронной почте.
func (s *Storage) GetIdentityByEmail(ctx context.Context, email string) (*models.Identity, error) {
	const op = "memory.GetIdentityByEmail"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrIdentityNotFound)
	}
	v := *s.identities[id]
	return &v, nil
}

// DeleteIdentity удаляет учётную запись вместе с записью аккаунта.
func (s *Storage) DeleteIdentity(ctx context.Context, id string) error {
	const op = "memory.DeleteIdentity"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrIdentityNotFound)
	}
	delete(s.byEmail, identity.Email)
	delete(s.identities, id)
	delete(s.accounts, id)
	return nil
}

// UpsertAllowedHwid добавляет или обновляет запись белого списка.
func (s *Storage) UpsertAllowedHwid(ctx context.Context, entry models.AllowedHwid) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory.UpsertAllowedHwid: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.allowlist[entry.Fingerprint]; ok {
		entry.CreatedAt = existing.CreatedAt
	}
	v := entry
	s.allowlist[entry.Fingerprint] = &v
	return nil
}

// GetAllowedHwid возвращает запись белого списка по отпечатку.
func (s *Storage) GetAllowedHwid(ctx context.Context, fingerprint string) (*models.AllowedHwid, error) {
	const op = "memory.GetAllowedHwid"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.allowlist[fingerprint]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrAllowedHwidNotFound)
	}
	v := *entry
	return &v, nil
}

// SetAllowedHwidActive включает или отключает запись белого списка.
func (s *Storage) SetAllowedHwidActive(ctx context.Context, fingerprint string, active bool) error {
	const op = "memory.SetAllowedHwidActive"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.allowlist[fingerprint]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAllowedHwidNotFound)
	}
	entry.Active = active
	return nil
}

// RemoveAllowedHwid удаляет запись белого списка.
func (s *Storage) RemoveAllowedHwid(ctx context.Context, fingerprint string) error {
	const op = "memory.RemoveAllowedHwid"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.allowlist[fingerprint]; !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAllowedHwidNotFound)
	}
	delete(s.allowlist, fingerprint)
	return nil
}

// ListAllowedHwids возвращает весь белый список, новые записи первыми.
func (s *Storage) ListAllowedHwids(ctx context.Context) ([]*models.AllowedHwid, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memory.ListAllowedHwids: %w", err)
	}

	s.mu.RLock()
	result := make([]*models.AllowedHwid, 0, len(s.allowlist))
	for _, entry := range s.allowlist {
		v := *entry
		result = append(result, &v)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Fingerprint < result[j].Fingerprint
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// DeactivateExpiredHwids отключает активные записи с истёкшим сроком.
func (s *Storage) DeactivateExpiredHwids(ctx context.Context, now time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memory.DeactivateExpiredHwids: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var result []string
	for fp, entry := range s.allowlist {
		if entry.Active && entry.Expired(now) {
			entry.Active = false
			result = append(result, fp)
		}
	}
	sort.Strings(result)
	return result, nil
}
