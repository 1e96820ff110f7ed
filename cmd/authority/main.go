// Command authority runs the off-chain fulfillment authority daemon. It
// holds the signing key, watches the coordinator for pending requests, and
// submits fulfillment proofs.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/R3E-Network/randomness_layer/internal/authority"
	"github.com/R3E-Network/randomness_layer/internal/config"
	"github.com/R3E-Network/randomness_layer/pkg/protocol"
	"github.com/R3E-Network/randomness_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	log := logger.NewDefault("authority")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Errorf("load config: %v", err)
		os.Exit(1)
	}
	if cfg.Authority.SigningKey == "" {
		log.Error("RL_AUTHORITY_SIGNING_KEY is required")
		os.Exit(1)
	}

	signer, err := authority.NewSigner(cfg.Authority.SigningKey)
	if err != nil {
		log.Errorf("load signing key: %v", err)
		os.Exit(1)
	}

	var pub protocol.Identity
	copy(pub[:], signer.Public())
	log.Info("fulfillment authority starting",
		"public_key", pub.String(),
		"coordinator", cfg.Authority.CoordinatorURL,
	)

	worker := authority.NewWorker(authority.Config{
		Signer:         signer,
		CoordinatorURL: cfg.Authority.CoordinatorURL,
		PollInterval:   cfg.Authority.PollInterval,
		SweepSchedule:  cfg.Authority.SweepSchedule,
		Log:            log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("worker: %v", err)
		os.Exit(1)
	}
}
