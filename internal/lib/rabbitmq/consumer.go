package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/hwid-licensing/internal/lib/sl"
)

// Acknowledger — подтверждение доставки.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Handler обрабатывает тело сообщения. Ошибка возвращает сообщение в очередь.
type Handler func(body []byte) error

// ConsumerMessage запускает потребителя очереди queueName. Одновременно
// обрабатывается не больше workers сообщений. Функция возвращается сразу;
// чтение прекращается при отмене ctx или закрытии канала.
func ConsumerMessage(ctx context.Context, log *slog.Logger, ch *amqp.Channel, queueName string, workers int, handler Handler) error {
	const op = "rabbitmq.ConsumerMessage"
	delivery, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	sem := make(chan struct{}, max(workers, 1))
	go func() {
		for {
			select {
			case d, ok := <-delivery:
				if !ok {
					return
				}
				sem <- struct{}{}
				go func(d amqp.Delivery) {
					defer func() { <-sem }()
					handleDelivery(log, d.Body, d, handler)
				}(d)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func handleDelivery(log *slog.Logger, body []byte, ack Acknowledger, handler Handler) {
	if err := handler(body); err != nil {
		log.Warn("message handling failed, requeueing", sl.Err(err))
		if nackErr := ack.Nack(false, true); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
		return
	}
	if ackErr := ack.Ack(false); ackErr != nil {
		log.Error("failed to ack message", sl.Err(ackErr))
	}
}
