package allowlist

import (
	"time"

	"github.com/magabrotheeeer/hwid-licensing/internal/licensing"
)

// Unit — единица срока действия записи белого списка.
type Unit string

const (
	UnitSeconds  Unit = "seconds"
	UnitMinutes  Unit = "minutes"
	UnitHours    Unit = "hours"
	UnitDays     Unit = "days"
	UnitWeeks    Unit = "weeks"
	UnitMonths   Unit = "months"
	UnitLifetime Unit = "lifetime"
)

var unitDurations = map[Unit]time.Duration{
	UnitSeconds: time.Second,
	UnitMinutes: time.Minute,
	UnitHours:   time.Hour,
	UnitDays:    licensing.Day,
	UnitWeeks:   7 * licensing.Day,
}

// ExpiresAt вычисляет дату окончания. Для lifetime возвращает nil,
// месяцы отсчитываются по календарю.
func ExpiresAt(now time.Time, amount int, unit Unit) (*time.Time, error) {
	if unit == UnitLifetime {
		return nil, nil
	}
	if amount <= 0 {
		return nil, licensing.InvalidArgument("amount must be a positive integer, got %d", amount)
	}
	if unit == UnitMonths {
		t := now.AddDate(0, amount, 0)
		return &t, nil
	}
	d, ok := unitDurations[unit]
	if !ok {
		return nil, licensing.InvalidArgument("unknown duration unit %q", unit)
	}
	t := now.Add(time.Duration(amount) * d)
	return &t, nil
}
