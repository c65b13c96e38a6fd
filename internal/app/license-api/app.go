package licenseapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/magabrotheeeer/hwid-licensing/internal/cache"
	"github.com/magabrotheeeer/hwid-licensing/internal/config"
	"github.com/magabrotheeeer/hwid-licensing/internal/events"
	"github.com/magabrotheeeer/hwid-licensing/internal/grpc/server"
	"github.com/magabrotheeeer/hwid-licensing/internal/http/handlers/health"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/jwt"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/hwid-licensing/internal/licensing"
	"github.com/magabrotheeeer/hwid-licensing/internal/metrics"
	"github.com/magabrotheeeer/hwid-licensing/internal/migrations"
	"github.com/magabrotheeeer/hwid-licensing/internal/services/admin"
	"github.com/magabrotheeeer/hwid-licensing/internal/services/allowlist"
	"github.com/magabrotheeeer/hwid-licensing/internal/services/identity"
	"github.com/magabrotheeeer/hwid-licensing/internal/services/license"
	"github.com/magabrotheeeer/hwid-licensing/internal/services/scheduler"
	"github.com/magabrotheeeer/hwid-licensing/internal/storage/memory"
	"github.com/magabrotheeeer/hwid-licensing/internal/storage/repository"
)

const shutdownTimeout = 15 * time.Second

// backend — хранилище, которое нужно всем сервисам приложения.
type backend interface {
	license.AccountRepository
	admin.AccountRepository
	identity.Repository
	allowlist.Repository
	scheduler.AccountRepository
}

// App — процесс API лицензирования: HTTP, gRPC и рассылка событий.
type App struct {
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcAddr   string
	hub        *events.Hub
	scheduler  *scheduler.Service // только для хранилища в памяти
	closers    []func() error
}

// New создаёт приложение и его зависимости.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{logger: logger, grpcAddr: cfg.GRPCServer.Address}
	checks := make(map[string]health.Pinger)

	store, err := a.openStorage(cfg, checks)
	if err != nil {
		a.close()
		return nil, err
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	a.hub = events.NewHub(logger, originChecker(cfg.CORS.AllowedOrigins))
	notifier := events.Multi{a.hub}

	if cfg.RabbitMQ.URL != "" {
		publisher, err := a.openPublisher(cfg.RabbitMQ)
		if err != nil {
			a.close()
			return nil, err
		}
		notifier = append(notifier, publisher)
	}

	listOpts := []allowlist.Option{allowlist.WithNotifier(notifier), allowlist.WithMetrics(m)}
	if cfg.AddressRedis != "" {
		redisCache, err := cache.InitServer(ctx, cfg.RedisConnection)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("cache not initialized: %w", err)
		}
		a.closers = append(a.closers, redisCache.Close)
		checks["redis"] = redisCache
		listOpts = append(listOpts, allowlist.WithCache(redisCache, cfg.AllowlistTTL))
	}
	list := allowlist.New(logger, store, listOpts...)

	policy := licensing.Policy{MaxChanges: cfg.Licensing.MaxHwidChanges, Cooldown: cfg.Licensing.HwidCooldown}
	licenseService := license.New(logger, store,
		license.WithPolicy(policy),
		license.WithAllowlist(list),
		license.WithNotifier(notifier),
		license.WithMetrics(m),
	)

	identityService := identity.New(logger, store, jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL))
	if cfg.Admin.BootstrapEmail != "" {
		if err = identityService.EnsureAdmin(ctx, cfg.Admin.BootstrapEmail, cfg.Admin.BootstrapPassword); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to bootstrap admin: %w", err)
		}
	}

	access, err := admin.NewAccessPolicy(cfg.Admin.ActionRoles, cfg.Admin.RoleGrantRoles)
	if err != nil {
		a.close()
		return nil, err
	}
	adminService := admin.New(logger, store, identityService, list,
		admin.WithAccessPolicy(access),
		admin.WithNotifier(notifier),
		admin.WithMetrics(m),
	)

	if cfg.StorageDriver == "memory" {
		// Отдельный процесс планировщика не видит память этого процесса.
		a.scheduler = scheduler.New(logger, store, list, notifier, cfg.Scheduler)
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, Deps{
		Identity:  identityService,
		License:   licenseService,
		Admin:     adminService,
		Hub:       a.hub,
		Metrics:   m,
		Health:    checks,
		CORS:      cfg.CORS,
		RateLimit: cfg.RateLimit,
	})
	a.httpServer = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	a.grpcServer = grpc.NewServer(
		grpc.ConnectionTimeout(cfg.GRPCServer.Timeout),
		grpc.ChainUnaryInterceptor(server.LoggingInterceptor(logger)),
	)
	server.Register(a.grpcServer, server.NewLicenseServer(licenseService, logger))
	healthServer := grpchealth.NewServer()
	healthServer.SetServingStatus(server.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(a.grpcServer, healthServer)

	return a, nil
}

func (a *App) openStorage(cfg *config.Config, checks map[string]health.Pinger) (backend, error) {
	if cfg.StorageDriver == "memory" {
		a.logger.Warn("using in-memory storage, data is lost on restart")
		return memory.New(), nil
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	checks["storage"] = db
	return db, nil
}

func (a *App) openPublisher(cfg config.RabbitMQ) (events.Notifier, error) {
	conn, err := rabbitmq.Connect(cfg.URL, cfg.MaxRetries, cfg.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	a.closers = append(a.closers, conn.Close)

	ch, err := rabbitmq.SetupChannel(conn, cfg.Exchange, rabbitmq.LicenseQueues(cfg.Queue))
	if err != nil {
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	// Канал закрывается раньше соединения.
	a.closers = append([]func() error{ch.Close}, a.closers...)
	a.watchConnection(conn)
	return events.NewRabbitPublisher(ch, cfg.Exchange, a.logger), nil
}

func (a *App) watchConnection(conn *amqp.Connection) {
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err, ok := <-closed; ok && err != nil {
			a.logger.Error("RabbitMQ connection lost, events are not published", slog.String("reason", err.Reason))
		}
	}()
}

// Run обслуживает HTTP и gRPC до отмены ctx, затем останавливает их.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		a.logger.Info("HTTP server starting on", slog.String("address", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", a.grpcAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		a.logger.Info("gRPC server starting on", slog.String("address", a.grpcAddr))
		if err = a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	if a.scheduler != nil {
		g.Go(func() error {
			return a.scheduler.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down servers gracefully")
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.grpcServer.GracefulStop()
		return a.httpServer.Shutdown(timeoutCtx)
	})

	err := g.Wait()
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
