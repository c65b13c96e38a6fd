package licensing

import (
	"time"

	"github.com/magabrotheeeer/hwid-licensing/internal/models"
)

const (
	// MaxHwidChanges — число смен HWID, доступных без сброса администратором.
	MaxHwidChanges = 3
	// HwidCooldown — минимальный интервал между сменами HWID.
	HwidCooldown = 7 * Day
)

// Policy — политика привязки HWID.
type Policy struct {
	MaxChanges int
	Cooldown   time.Duration
}

// DefaultPolicy возвращает политику со значениями по умолчанию.
func DefaultPolicy() Policy {
	return Policy{MaxChanges: MaxHwidChanges, Cooldown: HwidCooldown}
}

// CheckSetup проверяет, допустима ли первичная привязка HWID.
func (p Policy) CheckSetup(acc *models.Account, now time.Time) error {
	if !IsEntitled(acc, now) {
		return ErrNotEntitled
	}
	if acc.Hwid != "" {
		return ErrAlreadyBound
	}
	return nil
}

// ApplySetup записывает первичную привязку. Счётчик и дата смены не меняются.
func (p Policy) ApplySetup(acc *models.Account, fingerprint string) {
	acc.Hwid = fingerprint
}

// CheckChange проверяет, допустима ли смена HWID. Порядок проверок
// фиксирован: подписка, наличие привязки, лимит, кулдаун.
func (p Policy) CheckChange(acc *models.Account, now time.Time) error {
	if !IsEntitled(acc, now) {
		return ErrNotEntitled
	}
	if acc.Hwid == "" {
		return InvalidArgument("hwid is not set yet, use the setup endpoint instead")
	}
	if acc.HwidChangeCount >= p.MaxChanges {
		return ErrLimitReached
	}
	if remaining := p.CooldownRemaining(acc, now); remaining > 0 {
		return Cooldown(remaining)
	}
	return nil
}

// ApplyChange записывает смену HWID.
func (p Policy) ApplyChange(acc *models.Account, fingerprint string, now time.Time) {
	acc.Hwid = fingerprint
	acc.HwidChangeCount++
	acc.LastHwidChangeDate = models.TimePtr(now)
}

// RemainingChanges возвращает число оставшихся смен HWID.
func (p Policy) RemainingChanges(acc *models.Account) int {
	return max(0, p.MaxChanges-acc.HwidChangeCount)
}

// CooldownRemaining возвращает остаток кулдауна или 0, если смена уже доступна.
func (p Policy) CooldownRemaining(acc *models.Account, now time.Time) time.Duration {
	if acc.LastHwidChangeDate == nil {
		return 0
	}
	elapsed := now.Sub(*acc.LastHwidChangeDate)
	if elapsed >= p.Cooldown {
		return 0
	}
	return p.Cooldown - elapsed
}
