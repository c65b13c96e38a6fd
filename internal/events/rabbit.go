package events

import (
	"context"
	"log/slog"

	"github.com/magabrotheeeer/hwid-licensing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/hwid-licensing/internal/models"
)

// RabbitPublisher публикует события в exchange с ключом, равным типу события.
type RabbitPublisher struct {
	ch       rabbitmq.Channel
	exchange string
	log      *slog.Logger
}

// NewRabbitPublisher создаёт RabbitPublisher.
func NewRabbitPublisher(ch rabbitmq.Channel, exchange string, log *slog.Logger) *RabbitPublisher {
	return &RabbitPublisher{ch: ch, exchange: exchange, log: log}
}

// Notify реализует Notifier. Ошибка публикации только логируется.
func (p *RabbitPublisher) Notify(_ context.Context, event models.LicenseEvent) {
	if err := rabbitmq.PublishMessage(p.ch, p.exchange, string(event.Type), event); err != nil {
		p.log.Error("failed to publish license event",
			slog.String("type", string(event.Type)), sl.Account(event.AccountID), sl.Err(err))
	}
}
