// Команда license-check проверяет HWID через gRPC-сервис лицензий.
//
//	license-check -addr localhost:50051 -hwid <сырой HWID или отпечаток>
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/magabrotheeeer/hwid-licensing/internal/config"
	"github.com/magabrotheeeer/hwid-licensing/internal/grpc/client"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/logger"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/sl"
)

func main() {
	addr := flag.String("addr", "localhost:50051", "gRPC address of license-api")
	hwid := flag.String("hwid", "", "hardware id or fingerprint to check")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	flag.Parse()

	log := logger.New(config.EnvLocal)
	if *hwid == "" {
		log.Error("hwid flag is required")
		os.Exit(2)
	}

	c, err := client.NewLicenseClient(*addr)
	if err != nil {
		log.Error("failed to create client", sl.Err(err))
		os.Exit(1)
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Error("failed to close client", sl.Err(err))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	res, err := c.Verify(ctx, *hwid)
	if err != nil {
		log.Error("verify failed", sl.Err(err))
		os.Exit(1)
	}

	log.Info("verify result",
		slog.String("fingerprint", res.Fingerprint),
		slog.Bool("authorized", res.Authorized),
		slog.String("source", res.Source),
	)
	if res.ExpiresAt != nil {
		fmt.Println(res.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if !res.Authorized {
		os.Exit(3)
	}
}
