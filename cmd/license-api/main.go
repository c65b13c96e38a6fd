// Package main HWID Licensing API
//
// @title           HWID Licensing API
// @version         1.0
// @description     Привязка лицензий к устройствам, административное управление аккаунтами и проверка HWID

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	licenseapi "github.com/magabrotheeeer/hwid-licensing/internal/app/license-api"
	"github.com/magabrotheeeer/hwid-licensing/internal/config"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/logger"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	log := logger.New(cfg.Env)

	log.Info("starting license-api", slog.String("env", cfg.Env))
	log.Debug("config loaded", slog.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := licenseapi.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize app", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		log.Error("app stopped with error", sl.Err(err))
		os.Exit(1)
	}

	log.Info("license-api stopped gracefully")
}
