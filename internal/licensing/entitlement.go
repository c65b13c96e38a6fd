// Package licensing реализует конечный автомат лицензирования: оценку
// подписки, политику привязки HWID и типизированные ошибки. Пакет не
// зависит от хранилища и транспорта; текущее время передаётся явно.
package licensing

import (
	"time"

	"github.com/magabrotheeeer/hwid-licensing/internal/models"
)

// Day — длительность одних суток, используемая во всех расчётах сроков.
const Day = 24 * time.Hour

var fixedTerms = map[models.SubscriptionType]time.Duration{
	models.SubscriptionOneMonth:    30 * Day,
	models.SubscriptionThreeMonths: 90 * Day,
}

// IsEntitled сообщает, даёт ли подписка аккаунта право на использование на момент now.
func IsEntitled(acc *models.Account, now time.Time) bool {
	switch acc.SubscriptionType {
	case models.SubscriptionLifetime:
		return true
	case models.SubscriptionOneMonth, models.SubscriptionThreeMonths:
		return acc.ExpirationDate != nil && acc.ExpirationDate.After(now)
	default:
		return false
	}
}

// Extend возвращает новую дату окончания: продление суммируется с будущей
// датой и отсчитывается от now для истёкшей или отсутствующей.
func Extend(acc *models.Account, days int, now time.Time) (time.Time, error) {
	if days <= 0 {
		return time.Time{}, InvalidArgument("days must be a positive integer, got %d", days)
	}
	base := now
	if acc.ExpirationDate != nil && acc.ExpirationDate.After(now) {
		base = *acc.ExpirationDate
	}
	return base.Add(time.Duration(days) * Day), nil
}

// Grant — поля, которые выставляет назначение подписки.
type Grant struct {
	SubscriptionType models.SubscriptionType
	PurchaseDate     time.Time
	ExpirationDate   *time.Time
}

// Assign вычисляет новую подписку. Срок полностью заменяется, а не суммируется.
func Assign(subType models.SubscriptionType, now time.Time) (Grant, error) {
	switch subType {
	case models.SubscriptionLifetime:
		return Grant{SubscriptionType: subType, PurchaseDate: now}, nil
	case models.SubscriptionOneMonth, models.SubscriptionThreeMonths:
		exp := now.Add(fixedTerms[subType])
		return Grant{SubscriptionType: subType, PurchaseDate: now, ExpirationDate: &exp}, nil
	default:
		return Grant{}, InvalidArgument("cannot assign subscription type %q", subType)
	}
}

// Apply записывает выданную подписку в аккаунт.
func (g Grant) Apply(acc *models.Account) {
	acc.SubscriptionType = g.SubscriptionType
	purchase := g.PurchaseDate
	acc.PurchaseDate = &purchase
	if g.ExpirationDate != nil {
		exp := *g.ExpirationDate
		acc.ExpirationDate = &exp
	} else {
		acc.ExpirationDate = nil
	}
}
