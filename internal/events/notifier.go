// Package events доставляет зафиксированные события лицензий подписчикам:
// в RabbitMQ и подключённым по websocket администраторам. Доставка идёт
// после фиксации изменения и не влияет на его результат.
package events

import (
	"context"

	"github.com/magabrotheeeer/hwid-licensing/internal/models"
)

// Notifier получает событие после фиксации изменения.
type Notifier interface {
	Notify(ctx context.Context, event models.LicenseEvent)
}

// Multi рассылает событие всем получателям по очереди.
type Multi []Notifier

// Notify реализует Notifier.
func (m Multi) Notify(ctx context.Context, event models.LicenseEvent) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, event)
		}
	}
}

// Nop игнорирует события.
type Nop struct{}

// Notify реализует Notifier.
func (Nop) Notify(context.Context, models.LicenseEvent) {}
