// Package scheduler собирает процесс фоновых задач: отключение истёкших
// записей белого списка и предупреждения об окончании подписки.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/hwid-licensing/internal/cache"
	"github.com/magabrotheeeer/hwid-licensing/internal/config"
	"github.com/magabrotheeeer/hwid-licensing/internal/events"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/hwid-licensing/internal/services/allowlist"
	schedulerservice "github.com/magabrotheeeer/hwid-licensing/internal/services/scheduler"
	"github.com/magabrotheeeer/hwid-licensing/internal/storage/repository"
)

// App представляет приложение планировщика.
type App struct {
	schedulerService *schedulerservice.Service
	closers          []func() error
	logger           *slog.Logger
}

func waitForDB(db *repository.Storage) error {
	for range 10 {
		err := repository.CheckDatabaseReady(db)
		if err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр приложения планировщика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{logger: logger}

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.MaxRetries, cfg.RabbitMQ.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	a.closers = append(a.closers, conn.Close)

	ch, err := rabbitmq.SetupChannel(conn, cfg.RabbitMQ.Exchange, rabbitmq.LicenseQueues(cfg.RabbitMQ.Queue))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	a.closers = append([]func() error{ch.Close}, a.closers...)

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	if err = waitForDB(db); err != nil {
		a.close()
		return nil, err
	}

	publisher := events.NewRabbitPublisher(ch, cfg.RabbitMQ.Exchange, logger)
	listOpts := []allowlist.Option{allowlist.WithNotifier(publisher)}
	if cfg.AddressRedis != "" {
		cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("cache not initialized: %w", err)
		}
		a.closers = append(a.closers, cacheRedis.Close)
		listOpts = append(listOpts, allowlist.WithCache(cacheRedis, cfg.AllowlistTTL))
	}
	list := allowlist.New(logger, db, listOpts...)

	a.schedulerService = schedulerservice.New(logger, db, list, publisher, cfg.Scheduler)
	a.watchConnection(conn)
	return a, nil
}

func (a *App) watchConnection(conn *amqp.Connection) {
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err, ok := <-closed; ok && err != nil {
			a.logger.Error("RabbitMQ connection lost", slog.String("reason", err.Reason))
		}
	}()
}

// Run запускает планировщик и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	err := a.schedulerService.Run(ctx)
	a.logger.Info("shutting down scheduler service")
	a.close()
	return err
}

func (a *App) close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Error("failed to close resource", sl.Err(err))
		}
	}
	a.closers = nil
}
