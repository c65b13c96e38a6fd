// Package sender собирает процесс, который читает события лицензий
// из RabbitMQ и отправляет письма владельцам аккаунтов.
package sender

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/hwid-licensing/internal/config"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/smtp"
	senderservice "github.com/magabrotheeeer/hwid-licensing/internal/services/sender"
)

// App — приложение рассылки уведомлений.
type App struct {
	conn          *amqp.Connection
	ch            *amqp.Channel
	queue         string
	workers       int
	senderService *senderservice.Service
	logger        *slog.Logger
}

// New подключается к RabbitMQ и готовит транспорт SMTP.
func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.MaxRetries, cfg.RabbitMQ.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	ch, err := rabbitmq.SetupChannel(conn, cfg.RabbitMQ.Exchange, rabbitmq.LicenseQueues(cfg.RabbitMQ.Queue))
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Error("failed to close connection", slog.Any("err", closeErr))
		}
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	transport := smtp.NewTransport(cfg.SMTP, logger)

	return &App{
		conn:          conn,
		ch:            ch,
		queue:         cfg.RabbitMQ.Queue,
		workers:       cfg.RabbitMQ.Workers,
		senderService: senderservice.New(logger, transport),
		logger:        logger,
	}, nil
}

// Run потребляет очередь событий до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	err := rabbitmq.ConsumerMessage(ctx, a.logger, a.ch, a.queue, a.workers, a.senderService.HandleEvent)
	if err != nil {
		a.logger.Error("failed to start consumer", slog.String("queue", a.queue), slog.Any("err", err))
	}

	if err == nil {
		<-ctx.Done()
	}
	a.logger.Info("sender service shutting down gracefully")

	if closeErr := a.ch.Close(); closeErr != nil {
		a.logger.Error("failed to close channel", slog.Any("err", closeErr))
	}
	if closeErr := a.conn.Close(); closeErr != nil {
		a.logger.Error("failed to close connection", slog.Any("err", closeErr))
	}
	return err
}
