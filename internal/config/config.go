// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Окружения запуска.
const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	StorageDriver           string `yaml:"storage_driver" env:"STORAGE_DRIVER" env-default:"postgres"`
	MigrationsPath          string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	GRPCServer              GRPCServer `yaml:"grpc_server"`
	RabbitMQ                RabbitMQ   `yaml:"rabbitmq"`
	SMTP                    SMTP       `yaml:"smtp"`
	Licensing               Licensing  `yaml:"licensing"`
	Admin                   Admin      `yaml:"admin"`
	Scheduler               Scheduler  `yaml:"scheduler"`
	CORS                    CORS       `yaml:"cors"`
	RateLimit               RateLimit  `yaml:"rate_limit"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env:"HTTP_ADDRESS" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDRESS"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user" env:"REDIS_USER"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
	AllowlistTTL time.Duration `yaml:"allowlist_ttl" env-default:"5m"`
}

// JWTToken структура для работы с jwt-токеном
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY" env-required:"true"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// GRPCServer настройки gRPC-сервиса проверки лицензий.
type GRPCServer struct {
	Address string        `yaml:"address" env:"GRPC_ADDRESS" env-default:":50051"`
	Timeout time.Duration `yaml:"timeout" env-default:"5s"`
}

// RabbitMQ настройки брокера событий лицензий.
type RabbitMQ struct {
	URL        string        `yaml:"url" env:"RABBITMQ_URL"`
	Exchange   string        `yaml:"exchange" env-default:"license"`
	Queue      string        `yaml:"queue" env-default:"license.notifications"`
	MaxRetries int           `yaml:"max_retries" env-default:"5"`
	RetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
	Workers    int           `yaml:"workers" env-default:"10"`
}

// SMTP настройки почтового сервера.
type SMTP struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     string `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	User     string `yaml:"user" env:"SMTP_USER"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
}

// Licensing параметры политики привязки HWID.
type Licensing struct {
	MaxHwidChanges int           `yaml:"max_hwid_changes" env:"MAX_HWID_CHANGES" env-default:"3"`
	HwidCooldown   time.Duration `yaml:"hwid_cooldown" env:"HWID_COOLDOWN" env-default:"168h"`
}

// Admin настройки административного доступа.
// ActionRoles переопределяет роли, которым разрешено действие; пустая таблица
// разрешает все действия ролям moderator и admin.
type Admin struct {
	ActionRoles       map[string][]string `yaml:"action_roles"`
	RoleGrantRoles    []string            `yaml:"role_grant_roles" env-default:"admin"`
	BootstrapEmail    string              `yaml:"bootstrap_email" env:"ADMIN_BOOTSTRAP_EMAIL"`
	BootstrapPassword string              `yaml:"bootstrap_password" env:"ADMIN_BOOTSTRAP_PASSWORD"`
}

// Scheduler настройки фоновых задач.
type Scheduler struct {
	SweepInterval  time.Duration `yaml:"sweep_interval" env-default:"1h"`
	NoticeInterval time.Duration `yaml:"notice_interval" env-default:"12h"`
	NoticeWindow   time.Duration `yaml:"notice_window" env-default:"72h"`
}

// CORS настройки для панели управления.
type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:"*"`
}

// RateLimit настройки ограничителя запросов.
type RateLimit struct {
	RPS   float64 `yaml:"rps" env-default:"10"`
	Burst int     `yaml:"burst" env-default:"20"`
}

// Load читает конфиг из файла path с переопределением из окружения.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("file: %s - does not exist", path)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad загружает .env (если есть), затем конфиг по пути из CONFIG_PATH.
func MustLoad() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("cannot load .env: %s", err)
	}
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case "postgres":
		if c.StorageConnectionString == "" {
			return errors.New("storage_connection_string is required for postgres storage")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage_driver %q", c.StorageDriver)
	}
	if c.Licensing.MaxHwidChanges < 0 {
		return errors.New("licensing.max_hwid_changes must not be negative")
	}
	if c.Licensing.HwidCooldown < 0 {
		return errors.New("licensing.hwid_cooldown must not be negative")
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"StorageDriver: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"GRPCServer:\n"+
			"  Address: %s\n"+
			"Licensing:\n"+
			"  MaxHwidChanges: %d\n"+
			"  HwidCooldown: %s\n",
		c.Env,
		c.StorageDriver,
		c.AddressRedis,
		c.DB,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.GRPCServer.Address,
		c.Licensing.MaxHwidChanges,
		c.Licensing.HwidCooldown,
	)
}
